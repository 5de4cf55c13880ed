package filter

import (
	"fmt"
	"strings"

	"github.com/zmcp/odata-client/internal/edm"
)

// Property references a property path; "/" separates segments.
func Property(path string) Node {
	return PropertyPath{Segments: strings.Split(path, "/")}
}

// Value wraps an already typed primitive. A nil p is the null literal.
func Value(p *edm.Primitive) Node {
	return Literal{Value: p}
}

// Lit wraps a native Go value using its natural EDM type (see edm.FromGo).
// A value with no EDM mapping yields a node that Validate reports and
// uri.Builder.Filter rejects; use Value for explicit typing.
func Lit(v any) Node {
	if v == nil {
		return Null()
	}
	p, err := edm.FromGo(v)
	if err != nil {
		return badLiteral{err: fmt.Errorf("filter: literal: %w", err)}
	}
	return Literal{Value: p}
}

// Null is the null literal.
func Null() Node {
	return Literal{}
}

func binary(op BinaryOp, l, r Node) Node {
	return Binary{Op: op, Left: l, Right: r}
}

func Eq(l, r Node) Node { return binary(OpEq, l, r) }
func Ne(l, r Node) Node { return binary(OpNe, l, r) }
func Lt(l, r Node) Node { return binary(OpLt, l, r) }
func Gt(l, r Node) Node { return binary(OpGt, l, r) }
func Le(l, r Node) Node { return binary(OpLe, l, r) }
func Ge(l, r Node) Node { return binary(OpGe, l, r) }

func And(l, r Node) Node { return binary(OpAnd, l, r) }
func Or(l, r Node) Node { return binary(OpOr, l, r) }

// AndAll folds nodes left to right with "and". It returns nil for no nodes.
func AndAll(nodes ...Node) Node { return fold(OpAnd, nodes) }

// OrAll folds nodes left to right with "or". It returns nil for no nodes.
func OrAll(nodes ...Node) Node { return fold(OpOr, nodes) }

func fold(op BinaryOp, nodes []Node) Node {
	var out Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if out == nil {
			out = n
			continue
		}
		out = binary(op, out, n)
	}
	return out
}

func Not(n Node) Node { return Unary{Op: OpNot, Operand: n} }
func Negate(n Node) Node { return Unary{Op: OpNegate, Operand: n} }

func Add(l, r Node) Node { return binary(OpAdd, l, r) }
func Sub(l, r Node) Node { return binary(OpSub, l, r) }
func Mul(l, r Node) Node { return binary(OpMul, l, r) }
func Div(l, r Node) Node { return binary(OpDiv, l, r) }
func Mod(l, r Node) Node { return binary(OpMod, l, r) }

// Func invokes a function by name. The typed helpers below cover the
// canonical OData v3 set.
func Func(name string, args ...Node) Node {
	return Call{Name: name, Args: append([]Node(nil), args...)}
}

func StartsWith(s, prefix Node) Node { return Func("startswith", s, prefix) }
func EndsWith(s, suffix Node) Node { return Func("endswith", s, suffix) }

// SubstringOf tests whether needle occurs in s; OData v3 puts the needle first.
func SubstringOf(needle, s Node) Node { return Func("substringof", needle, s) }

func IndexOf(s, needle Node) Node { return Func("indexof", s, needle) }
func Concat(a, b Node) Node { return Func("concat", a, b) }
func ToUpper(s Node) Node { return Func("toupper", s) }
func ToLower(s Node) Node { return Func("tolower", s) }
func Length(s Node) Node { return Func("length", s) }
func Trim(s Node) Node { return Func("trim", s) }

func Replace(s, find, with Node) Node { return Func("replace", s, find, with) }

// Substring takes an optional length.
func Substring(s, start Node, length ...Node) Node {
	return Func("substring", append([]Node{s, start}, length...)...)
}

func Year(n Node) Node { return Func("year", n) }
func Month(n Node) Node { return Func("month", n) }
func Day(n Node) Node { return Func("day", n) }
func Hour(n Node) Node { return Func("hour", n) }
func Minute(n Node) Node { return Func("minute", n) }
func Second(n Node) Node { return Func("second", n) }

func Round(n Node) Node { return Func("round", n) }
func Floor(n Node) Node { return Func("floor", n) }
func Ceiling(n Node) Node { return Func("ceiling", n) }

// IsOf tests the type of n, or of the current instance when n is omitted.
func IsOf(typeName string, n ...Node) Node {
	return Func("isof", append(append([]Node(nil), n...), Lit(typeName))...)
}

// Cast converts n, or the current instance when n is omitted.
func Cast(typeName string, n ...Node) Node {
	return Func("cast", append(append([]Node(nil), n...), Lit(typeName))...)
}

func GeoDistance(a, b Node) Node { return Func("geo.distance", a, b) }
func GeoLength(n Node) Node { return Func("geo.length", n) }
func GeoIntersects(a, b Node) Node { return Func("geo.intersects", a, b) }
