// Package filter builds $filter expressions as immutable trees and
// renders them to OData v3 infix text.
package filter

import (
	"strings"

	"github.com/zmcp/odata-client/internal/edm"
)

// Node is a filter expression. Nodes are values and never change after
// construction; builders always return new nodes.
type Node interface {
	String() string
	precedence() int
	isNode()
}

// Operator precedence, lowest binding first.
const (
	precOr = iota + 1
	precAnd
	precEquality
	precRelational
	precAdditive
	precMultiplicative
	precUnary
	precPrimary
)

// BinaryOp is an infix operator keyword.
type BinaryOp string

const (
	OpEq  BinaryOp = "eq"
	OpNe  BinaryOp = "ne"
	OpLt  BinaryOp = "lt"
	OpGt  BinaryOp = "gt"
	OpLe  BinaryOp = "le"
	OpGe  BinaryOp = "ge"
	OpAnd BinaryOp = "and"
	OpOr  BinaryOp = "or"
	OpAdd BinaryOp = "add"
	OpSub BinaryOp = "sub"
	OpMul BinaryOp = "mul"
	OpDiv BinaryOp = "div"
	OpMod BinaryOp = "mod"
)

var binaryPrecedence = map[BinaryOp]int{
	OpOr:  precOr,
	OpAnd: precAnd,
	OpEq:  precEquality,
	OpNe:  precEquality,
	OpLt:  precRelational,
	OpGt:  precRelational,
	OpLe:  precRelational,
	OpGe:  precRelational,
	OpAdd: precAdditive,
	OpSub: precAdditive,
	OpMul: precMultiplicative,
	OpDiv: precMultiplicative,
	OpMod: precMultiplicative,
}

// UnaryOp is a prefix operator.
type UnaryOp string

const (
	OpNot    UnaryOp = "not"
	OpNegate UnaryOp = "-"
)

// Literal is a constant. A nil Value renders as null.
type Literal struct {
	Value *edm.Primitive
}

func (Literal) isNode() {}
func (Literal) precedence() int { return precPrimary }
func (l Literal) String() string { return edm.Literal(l.Value) }

// badLiteral stands in for a Go value Lit could not convert.
type badLiteral struct {
	err error
}

func (badLiteral) isNode()         {}
func (badLiteral) precedence() int { return precPrimary }
func (badLiteral) String() string  { return "<invalid literal>" }

// PropertyPath names a property, possibly through navigation or complex
// members ("Address/City").
type PropertyPath struct {
	Segments []string
}

func (PropertyPath) isNode() {}
func (PropertyPath) precedence() int { return precPrimary }
func (p PropertyPath) String() string { return strings.Join(p.Segments, "/") }

// Unary applies a prefix operator.
type Unary struct {
	Op      UnaryOp
	Operand Node
}

func (Unary) isNode() {}
func (Unary) precedence() int { return precUnary }

func (u Unary) String() string {
	operand := u.Operand.String()
	wrap := u.Operand.precedence() < precUnary
	if u.Op == OpNegate {
		wrap = wrap || u.Operand.precedence() == precUnary || strings.HasPrefix(operand, "-")
		if wrap {
			return "-(" + operand + ")"
		}
		return "-" + operand
	}
	if wrap {
		return string(u.Op) + " (" + operand + ")"
	}
	return string(u.Op) + " " + operand
}

// Binary applies an infix operator.
type Binary struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (Binary) isNode() {}

func (b Binary) precedence() int { return binaryPrecedence[b.Op] }

// String parenthesises only where precedence or left associativity
// would otherwise change the tree.
func (b Binary) String() string {
	prec := b.precedence()
	left, right := b.Left.String(), b.Right.String()
	if b.Left.precedence() < prec {
		left = "(" + left + ")"
	}
	if b.Right.precedence() <= prec {
		right = "(" + right + ")"
	}
	return left + " " + string(b.Op) + " " + right
}

// Call is a canonical function invocation such as startswith(Name,'A').
type Call struct {
	Name string
	Args []Node
}

func (Call) isNode() {}
func (Call) precedence() int { return precPrimary }

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Name + "(" + strings.Join(args, ",") + ")"
}

// Validate returns the first literal in n that could not be converted to
// an EDM value. It performs no schema checks.
func Validate(n Node) error {
	switch n := n.(type) {
	case badLiteral:
		return n.err
	case Unary:
		return Validate(n.Operand)
	case Binary:
		if err := Validate(n.Left); err != nil {
			return err
		}
		return Validate(n.Right)
	case Call:
		for _, a := range n.Args {
			if err := Validate(a); err != nil {
				return err
			}
		}
	}
	return nil
}

// Render returns the infix text of n. No schema validation happens here.
func Render(n Node) string {
	if n == nil {
		return ""
	}
	return n.String()
}
