// Package condition compiles boolean alert expressions over quote fields,
// indicator outputs and bar history into evaluatable predicates.
//
// Expressions combine comparisons ("rsi < 30"), crossovers
// ("sma_20 crosses_above sma_50") and lookbacks ("volume was > 1M yesterday")
// with "and", "or" and parentheses. Numeric literals accept K, M and B
// suffixes, and bracketed offsets index bars back in time ("close[1]").
package condition

import (
	"fmt"
	"strings"

	"github.com/marketflow/tvstream/types"
)

// Condition is a compiled expression. It is immutable and safe for
// concurrent evaluation.
type Condition struct {
	text       string
	root       node
	indicators map[string][]int
	lookback   int
}

// Parse compiles an expression. Errors wrap types.ErrInvalidCondition and
// name the offending position.
func Parse(expr string) (*Condition, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", types.ErrInvalidCondition)
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, p.errorf(tok, "unexpected %q after expression", tok.text)
	}

	req := newRequirements()
	root.collect(req)

	return &Condition{
		text:       trimmed,
		root:       root,
		indicators: req.indicatorPeriods(),
		lookback:   req.lookback,
	}, nil
}

// String returns the expression as it was parsed.
func (c *Condition) String() string {
	return c.text
}

// RequiredIndicators reports the indicator families the expression reads,
// with the sorted periods referenced per family. Fields without an explicit
// period imply DefaultPeriod.
func (c *Condition) RequiredIndicators() map[string][]int {
	out := make(map[string][]int, len(c.indicators))
	for family, periods := range c.indicators {
		out[family] = append([]int(nil), periods...)
	}
	return out
}

// RequiredLookback reports how many bars of history beyond the current one
// the expression can reach. Crossovers need one, "volume was > 1M yesterday"
// also needs one, and explicit offsets add up with lookback keywords.
func (c *Condition) RequiredLookback() int {
	return c.lookback
}

// Evaluate runs the expression against a snapshot of current values and an
// optional per-field history table, each series ordered oldest to newest with
// the current bar last. Missing fields and NaN samples make the enclosing
// clause false rather than failing.
func (c *Condition) Evaluate(values map[string]float64, history map[string][]float64) bool {
	return c.root.eval(input{values: values, history: history})
}
