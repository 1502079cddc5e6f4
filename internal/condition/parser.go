package condition

import (
	"fmt"
	"strings"
)

// maxDepth bounds parenthesis nesting.
const maxDepth = 32

// Parse compiles src into an Expr. Every identifier must be present in allow
// and compared against a literal of its kind:
//
//	expr := and ( "||" and )*
//	and  := cmp ( "&&" cmp )*
//	cmp  := IDENT OP literal | "(" expr ")" | "true" | "false"
//	OP   := ">=" | "<=" | ">" | "<" | "==" | "!="
//
// Boolean identifiers only support "==" and "!=".
func Parse(src string, allow Allowlist) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, syntaxError(0, "empty condition")
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := parser{tokens: tokens, allow: allow}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, syntaxError(tok.pos, fmt.Sprintf("unexpected %s", tok))
	}

	return expr, nil
}

type parser struct {
	tokens []token
	pos    int
	depth  int
	allow  Allowlist
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

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tokenTrue:
		return constExpr(true), nil
	case tokenFalse:
		return constExpr(false), nil
	case tokenLParen:
		p.depth++
		if p.depth > maxDepth {
			return nil, syntaxError(tok.pos, "nesting too deep")
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokenRParen {
			return nil, syntaxError(closing.pos, fmt.Sprintf("expected \")\", got %s", closing))
		}
		p.depth--
		return inner, nil
	case tokenIdent:
		return p.parseComparison(tok)
	default:
		return nil, syntaxError(tok.pos, fmt.Sprintf("expected identifier, got %s", tok))
	}
}

func (p *parser) parseComparison(ident token) (Expr, error) {
	kind, ok := p.allow[ident.text]
	if !ok {
		return nil, &Error{Pos: ident.pos, Msg: fmt.Sprintf("%q is not an allowed variable", ident.text), Err: ErrUnknownIdentifier}
	}

	opTok := p.next()
	if opTok.kind != tokenOp {
		return nil, syntaxError(opTok.pos, fmt.Sprintf("expected comparator after %q, got %s", ident.text, opTok))
	}
	op := operator(opTok.text)

	lit := p.next()
	switch kind {
	case KindNumber:
		if lit.kind != tokenNumber {
			return nil, mismatch(lit, ident.text, kind)
		}
		return comparison{name: ident.text, kind: kind, op: op, literal: Number(lit.num)}, nil
	default:
		if lit.kind != tokenTrue && lit.kind != tokenFalse {
			return nil, mismatch(lit, ident.text, kind)
		}
		if op != opEq && op != opNe {
			return nil, &Error{Pos: opTok.pos, Msg: fmt.Sprintf("%q only supports == and !=", ident.text), Err: ErrTypeMismatch}
		}
		return comparison{name: ident.text, kind: kind, op: op, literal: Bool(lit.kind == tokenTrue)}, nil
	}
}

func mismatch(lit token, name string, kind Kind) error {
	switch lit.kind {
	case tokenNumber, tokenTrue, tokenFalse:
		return &Error{Pos: lit.pos, Msg: fmt.Sprintf("%q is a %s, got %s", name, kind, lit), Err: ErrTypeMismatch}
	default:
		return syntaxError(lit.pos, fmt.Sprintf("expected literal, got %s", lit))
	}
}
