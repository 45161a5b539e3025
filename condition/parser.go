package condition

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/marketflow/tvstream/types"
)

// Grammar, loosest binding first:
//
//	expression = and { "or" and }
//	and        = primary { "and" primary }
//	primary    = "(" expression ")" | clause
//	clause     = operand compareOp operand
//	           | operand ("crosses" | "crosses_above" | "crosses_below") operand
//	           | operand "was" compareOp operand timeKeyword
//	operand    = NUMBER | FIELD [ "[" NUMBER "]" ]
//
// Keywords are case-insensitive.
type parser struct {
	tokens []token
	pos    int
}

var reservedWords = map[string]struct{}{
	"and":           {},
	"or":            {},
	"was":           {},
	"crosses":       {},
	"crosses_above": {},
	"crosses_below": {},
	"yesterday":     {},
}

var daysAgoRegex = regexp.MustCompile(`^([1-5])_days?_ago$`)

// lookbackOffset translates a time keyword into a bar offset. Daily bars are
// assumed, so a week is five sessions.
func lookbackOffset(word string) (int, bool) {
	switch w := strings.ToLower(word); {
	case w == "yesterday":
		return 1, true
	case w == "1_week_ago":
		return 5, true
	default:
		if m := daysAgoRegex.FindStringSubmatch(w); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n, true
		}
	}
	return 0, false
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

// acceptWord consumes the next token when it is the given keyword.
func (p *parser) acceptWord(word string) bool {
	tok := p.peek()
	if tok.kind == tokenWord && strings.EqualFold(tok.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) accept(kind tokenKind) bool {
	if p.peek().kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(tok token, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s at position %d", types.ErrInvalidCondition, msg, tok.pos)
}

func (p *parser) parseExpression() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptWord("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.acceptWord("and") {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	if p.accept(tokenLeftParen) {
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if !p.accept(tokenRightParen) {
			return nil, p.errorf(p.peek(), "expected %q", ")")
		}
		return inner, nil
	}
	return p.parseClause()
}

func (p *parser) parseClause() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	switch {
	case tok.kind == tokenCompare:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return comparisonNode{left: left, op: compareOp(tok.text), right: right}, nil

	case p.acceptWord("crosses_above"):
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return crossoverNode{left: left, dir: crossAbove, right: right}, nil

	case p.acceptWord("crosses_below"):
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return crossoverNode{left: left, dir: crossBelow, right: right}, nil

	case p.acceptWord("crosses"):
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return crossoverNode{left: left, dir: crossAny, right: right}, nil

	case p.acceptWord("was"):
		opTok := p.next()
		if opTok.kind != tokenCompare {
			return nil, p.errorf(opTok, "expected comparison operator after %q", "was")
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		whenTok := p.next()
		if whenTok.kind != tokenWord {
			return nil, p.errorf(whenTok, "expected time keyword such as %q", "yesterday")
		}
		offset, ok := lookbackOffset(whenTok.text)
		if !ok {
			return nil, p.errorf(whenTok, "unknown time keyword %q", whenTok.text)
		}
		return lookbackNode{left: left, op: compareOp(opTok.text), right: right, offset: offset}, nil
	}

	if tok.kind == tokenEOF {
		return nil, p.errorf(tok, "unexpected end of expression")
	}
	return nil, p.errorf(tok, "expected comparison, crossover or %q after operand", "was")
}

func (p *parser) parseOperand() (operand, error) {
	tok := p.next()
	switch tok.kind {
	case tokenNumber:
		return literalOperand(tok.value), nil

	case tokenWord:
		name := strings.ToLower(tok.text)
		if _, reserved := reservedWords[name]; reserved {
			return nil, p.errorf(tok, "unexpected keyword %q", tok.text)
		}
		field := fieldOperand{name: name}
		if p.accept(tokenLeftBracket) {
			offTok := p.next()
			if offTok.kind != tokenNumber || offTok.value < 0 || offTok.value != math.Trunc(offTok.value) {
				return nil, p.errorf(offTok, "offset must be a non-negative integer")
			}
			if !p.accept(tokenRightBracket) {
				return nil, p.errorf(p.peek(), "expected %q", "]")
			}
			field.offset = int(offTok.value)
		}
		return field, nil
	}

	if tok.kind == tokenEOF {
		return nil, p.errorf(tok, "unexpected end of expression")
	}
	return nil, p.errorf(tok, "expected a field name or number, got %q", tok.text)
}
