package condition

import "fmt"

// Expr is a compiled condition. Eval is pure and safe for concurrent use.
type Expr interface {
	Eval(frame Frame) (bool, error)
	String() string
}

type operator string

const (
	opGe operator = ">="
	opLe operator = "<="
	opGt operator = ">"
	opLt operator = "<"
	opEq operator = "=="
	opNe operator = "!="
)

type constExpr bool

func (c constExpr) Eval(Frame) (bool, error) {
	return bool(c), nil
}

func (c constExpr) String() string {
	return fmt.Sprint(bool(c))
}

type comparison struct {
	name    string
	kind    Kind
	op      operator
	literal Value
}

func (c comparison) Eval(frame Frame) (bool, error) {
	v, ok := frame[c.name]
	if !ok {
		v = Value{Kind: c.kind}
	}
	if v.Kind != c.kind {
		return false, fmt.Errorf("%w: %q is %s, want %s", ErrFrameKind, c.name, v.Kind, c.kind)
	}

	if c.kind == KindBool {
		if c.op == opEq {
			return v.Bool == c.literal.Bool, nil
		}
		return v.Bool != c.literal.Bool, nil
	}

	a, b := v.Num, c.literal.Num
	switch c.op {
	case opGe:
		return a >= b, nil
	case opLe:
		return a <= b, nil
	case opGt:
		return a > b, nil
	case opLt:
		return a < b, nil
	case opEq:
		return a == b, nil
	default:
		return a != b, nil
	}
}

func (c comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.name, c.op, c.literal)
}

type andExpr struct {
	left, right Expr
}

func (e andExpr) Eval(frame Frame) (bool, error) {
	l, err := e.left.Eval(frame)
	if err != nil || !l {
		return false, err
	}
	return e.right.Eval(frame)
}

func (e andExpr) String() string {
	return fmt.Sprintf("(%s && %s)", e.left, e.right)
}

type orExpr struct {
	left, right Expr
}

func (e orExpr) Eval(frame Frame) (bool, error) {
	l, err := e.left.Eval(frame)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return e.right.Eval(frame)
}

func (e orExpr) String() string {
	return fmt.Sprintf("(%s || %s)", e.left, e.right)
}

// Identifiers returns the distinct variable names referenced by expr in
// order of first appearance.
func Identifiers(expr Expr) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case comparison:
			if !seen[n.name] {
				seen[n.name] = true
				names = append(names, n.name)
			}
		case andExpr:
			walk(n.left)
			walk(n.right)
		case orExpr:
			walk(n.left)
			walk(n.right)
		}
	}
	walk(expr)
	return names
}
