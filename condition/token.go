package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marketflow/tvstream/types"
)

type tokenKind int

const (
	tokenNumber tokenKind = iota
	tokenWord
	tokenCompare
	tokenLeftParen
	tokenRightParen
	tokenLeftBracket
	tokenRightBracket
	tokenEOF
)

// token is one lexical unit of a condition expression. Words keep their raw
// spelling; keyword and alias matching happens later, case-insensitively.
type token struct {
	kind  tokenKind
	text  string
	value float64 // populated for tokenNumber, suffix applied
	pos   int     // byte offset into the expression, for error messages
}

// literal suffixes multiply the parsed number. ex.: 1M -> 1000000
var literalSuffixes = map[byte]float64{
	'k': 1e3, 'K': 1e3,
	'm': 1e6, 'M': 1e6,
	'b': 1e9, 'B': 1e9,
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isWordStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// tokenize splits an expression into tokens. Time keywords such as
// "2_days_ago" begin with a digit, so a number that runs into word characters
// is re-scanned as a word.
func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokenLeftParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRightParen, text: ")", pos: i})
			i++
		case c == '[':
			tokens = append(tokens, token{kind: tokenLeftBracket, text: "[", pos: i})
			i++
		case c == ']':
			tokens = append(tokens, token{kind: tokenRightBracket, text: "]", pos: i})
			i++

		case c == '>' || c == '<':
			op := string(c)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
			}
			tokens = append(tokens, token{kind: tokenCompare, text: op, pos: i})
			i += len(op)

		case c == '=' || c == '!':
			if i+1 >= len(expr) || expr[i+1] != '=' {
				return nil, fmt.Errorf("%w: unexpected %q at position %d", types.ErrInvalidCondition, string(c), i)
			}
			tokens = append(tokens, token{kind: tokenCompare, text: string(c) + "=", pos: i})
			i += 2

		case isDigit(c) || c == '.' || (c == '-' && i+1 < len(expr) && (isDigit(expr[i+1]) || expr[i+1] == '.')):
			tok, next, err := scanNumberOrWord(expr, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next

		case isWordStart(c):
			start := i
			for i < len(expr) && isWordChar(expr[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: expr[start:i], pos: start})

		default:
			return nil, fmt.Errorf("%w: unexpected %q at position %d", types.ErrInvalidCondition, string(c), i)
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, text: "", pos: len(expr)})
	return tokens, nil
}

// scanNumberOrWord reads a numeric literal with its optional K/M/B suffix. A
// digit run that continues into word characters ("1_week_ago") is a word
// instead.
func scanNumberOrWord(expr string, start int) (token, int, error) {
	i := start
	if expr[i] == '-' {
		i++
	}
	digits := i
	for i < len(expr) && (isDigit(expr[i]) || expr[i] == '.') {
		i++
	}

	// a suffix letter ends the literal only when nothing word-like follows
	if i < len(expr) {
		if mult, ok := literalSuffixes[expr[i]]; ok && (i+1 >= len(expr) || !isWordChar(expr[i+1])) {
			value, err := strconv.ParseFloat(expr[start:i], 64)
			if err != nil {
				return token{}, 0, fmt.Errorf("%w: bad number %q at position %d", types.ErrInvalidCondition, expr[start:i+1], start)
			}
			return token{kind: tokenNumber, text: expr[start : i+1], value: value * mult, pos: start}, i + 1, nil
		}

		if isWordChar(expr[i]) {
			if strings.ContainsRune(expr[digits:i], '.') || expr[start] == '-' {
				return token{}, 0, fmt.Errorf("%w: unexpected %q at position %d", types.ErrInvalidCondition, string(expr[i]), i)
			}
			for i < len(expr) && isWordChar(expr[i]) {
				i++
			}
			return token{kind: tokenWord, text: expr[start:i], pos: start}, i, nil
		}
	}

	value, err := strconv.ParseFloat(expr[start:i], 64)
	if err != nil {
		return token{}, 0, fmt.Errorf("%w: bad number %q at position %d", types.ErrInvalidCondition, expr[start:i], start)
	}
	return token{kind: tokenNumber, text: expr[start:i], value: value, pos: start}, i, nil
}
