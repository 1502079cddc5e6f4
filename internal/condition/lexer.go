package condition

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenTrue
	tokenFalse
	tokenOp
	tokenAnd
	tokenOr
	tokenLParen
	tokenRParen
)

// token is a single lexeme of a condition together with its byte offset.
type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func (t token) String() string {
	if t.kind == tokenEOF {
		return "end of expression"
	}
	return strconv.Quote(t.text)
}

// lex splits src into tokens. Anything outside the grammar (arithmetic,
// strings, calls, unary operators) is rejected here so that the parser only
// ever sees a closed set of lexemes.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(src) || src[i+1] != c {
				return nil, syntaxError(i, fmt.Sprintf("unexpected character %q", c))
			}
			kind := tokenAnd
			if c == '|' {
				kind = tokenOr
			}
			tokens = append(tokens, token{kind: kind, text: src[i : i+2], pos: i})
			i += 2
		case c == '>' || c == '<' || c == '=' || c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenOp, text: src[i : i+2], pos: i})
				i += 2
				continue
			}
			if c == '=' || c == '!' {
				return nil, syntaxError(i, fmt.Sprintf("unexpected character %q", c))
			}
			tokens = append(tokens, token{kind: tokenOp, text: src[i : i+1], pos: i})
			i++
		case isDigit(c) || c == '-' || c == '.':
			start := i
			if c == '-' {
				i++
			}
			digits := 0
			for i < len(src) && isDigit(src[i]) {
				i++
				digits++
			}
			if i < len(src) && src[i] == '.' {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
					digits++
				}
			}
			if digits == 0 {
				return nil, syntaxError(start, "malformed number")
			}
			if i < len(src) && isIdentChar(src[i]) {
				return nil, syntaxError(start, "malformed number")
			}
			text := src[start:i]
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, syntaxError(start, "malformed number")
			}
			tokens = append(tokens, token{kind: tokenNumber, text: text, num: num, pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentChar(src[i]) {
				i++
			}
			text := src[start:i]
			kind := tokenIdent
			switch text {
			case "true":
				kind = tokenTrue
			case "false":
				kind = tokenFalse
			}
			tokens = append(tokens, token{kind: kind, text: text, pos: start})
		default:
			return nil, syntaxError(i, fmt.Sprintf("unexpected character %q", c))
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(src)})
	return tokens, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
