// Package goexpr evaluates user-defined real and complex expressions over
// single points or dense sample grids.
//
// A Context holds named variables and user functions. The Simplifier expands
// variables, inlines non-recursive functions and folds constants; the
// Evaluator substitutes bound values; the Sampler drives both across 1-D and
// 2-D grids, optionally split over parallel workers.
//
// Subtraction and division are not node kinds: Sub and Div build
// Add(a, Mul(-1, b)) and Mul(a, Pow(b, -1)).
package goexpr

import (
	"fmt"
	"sort"
	"strings"
)

// ============================================================
// Core Interface
// ============================================================

// Expr is a node of an expression tree. The set of node types is closed:
// *Atom, *Add, *Mul, *Pow, *Unary and *Call. Trees are never mutated after
// construction, so subtrees may be shared between results.
type Expr interface {
	String() string
	LaTeX() string
	Equal(other Expr) bool
	exprType() string
	toJSON() map[string]interface{}
}

func unknownNode(e Expr) string { return fmt.Sprintf("goexpr: unknown node type %T", e) }

// ============================================================
// Atom — a Term in the tree
// ============================================================

type Atom struct{ term Term }

func T(t Term) *Atom             { return &Atom{term: t} }
func N(f float64) *Atom          { return T(Real(f)) }
func C(re, im float64) *Atom     { return T(Complex(re, im)) }
func S(name string) *Atom        { return T(Variable(name)) }
func (a *Atom) Term() Term       { return a.term }
func (a *Atom) String() string   { return a.term.String() }
func (a *Atom) exprType() string { return "atom" }
func (a *Atom) Equal(other Expr) bool {
	o, ok := other.(*Atom)
	return ok && a.term.Equal(o.term)
}

func (a *Atom) LaTeX() string {
	switch {
	case a.term.IsVariable() && a.term.name == "pi":
		return "\\pi"
	case a.term.IsVariable() && len(a.term.name) > 1:
		return "\\mathrm{" + a.term.name + "}"
	}
	return a.term.String()
}

// ============================================================
// Add — sum of terms
// ============================================================

type Add struct{ terms []Expr }

// AddOf builds a raw sum. It does not simplify; a single term is returned
// as is and an empty sum is 0.
func AddOf(terms ...Expr) Expr {
	switch len(terms) {
	case 0:
		return N(0)
	case 1:
		return terms[0]
	}
	return &Add{terms: terms}
}

func (a *Add) Terms() []Expr    { return a.terms }
func (a *Add) exprType() string { return "add" }

func (a *Add) String() string {
	var sb strings.Builder
	for i, t := range a.terms {
		if i == 0 {
			sb.WriteString(t.String())
			continue
		}
		if inner, ok := negated(t); ok {
			sb.WriteString(" - ")
			sb.WriteString(wrapIf(inner, isAdd(inner)))
			continue
		}
		sb.WriteString(" + ")
		sb.WriteString(t.String())
	}
	return sb.String()
}

func (a *Add) LaTeX() string {
	parts := make([]string, len(a.terms))
	for i, t := range a.terms {
		parts[i] = t.LaTeX()
	}
	return strings.Join(parts, " + ")
}

func (a *Add) Equal(other Expr) bool {
	o, ok := other.(*Add)
	return ok && equalAll(a.terms, o.terms)
}

// ============================================================
// Mul — product of factors
// ============================================================

type Mul struct{ factors []Expr }

// MulOf builds a raw product. A single factor is returned as is and an empty
// product is 1.
func MulOf(factors ...Expr) Expr {
	switch len(factors) {
	case 0:
		return N(1)
	case 1:
		return factors[0]
	}
	return &Mul{factors: factors}
}

func (m *Mul) Factors() []Expr  { return m.factors }
func (m *Mul) exprType() string { return "mul" }

func (m *Mul) String() string {
	var num, den []string
	for _, f := range m.factors {
		if d, ok := inverted(f); ok {
			den = append(den, wrapIf(d, isComposite(d)))
			continue
		}
		num = append(num, wrapIf(f, isAdd(f)))
	}
	if len(num) == 0 {
		num = []string{"1"}
	}
	if len(num) == 2 && num[0] == "-1" {
		num = []string{"-" + num[1]}
	}
	s := strings.Join(num, "*")
	if len(den) > 0 {
		s += " / " + strings.Join(den, " / ")
	}
	return s
}

func (m *Mul) LaTeX() string {
	parts := make([]string, len(m.factors))
	for i, f := range m.factors {
		if isAdd(f) {
			parts[i] = "\\left(" + f.LaTeX() + "\\right)"
		} else {
			parts[i] = f.LaTeX()
		}
	}
	return strings.Join(parts, " \\cdot ")
}

func (m *Mul) Equal(other Expr) bool {
	o, ok := other.(*Mul)
	return ok && equalAll(m.factors, o.factors)
}

// ============================================================
// Pow — base^exponent
// ============================================================

type Pow struct{ base, exp Expr }

func PowOf(base, exp Expr) *Pow { return &Pow{base: base, exp: exp} }
func (p *Pow) Base() Expr       { return p.base }
func (p *Pow) Exponent() Expr   { return p.exp }
func (p *Pow) exprType() string { return "pow" }

func (p *Pow) String() string {
	return wrapIf(p.base, isComposite(p.base) || isNegativeAtom(p.base)) +
		"^" + wrapIf(p.exp, isComposite(p.exp) || isNegativeAtom(p.exp))
}

func (p *Pow) LaTeX() string {
	base := p.base.LaTeX()
	if isComposite(p.base) {
		base = "\\left(" + base + "\\right)"
	}
	return base + "^{" + p.exp.LaTeX() + "}"
}

func (p *Pow) Equal(other Expr) bool {
	o, ok := other.(*Pow)
	return ok && p.base.Equal(o.base) && p.exp.Equal(o.exp)
}

// ============================================================
// Unary — transcendental and sign functions
// ============================================================

// UnaryKind names a single-argument built-in function.
type UnaryKind uint8

const (
	OpNeg UnaryKind = iota
	OpInv
	OpAbs
	OpLn
	OpSin
	OpCos
	OpTan
	OpSinh
	OpCosh
	OpTanh
	OpAsin
	OpAcos
	OpAtan
	OpAsinh
	OpAcosh
	OpAtanh
	numUnaryKinds
)

var unaryNames = [numUnaryKinds]string{
	OpNeg: "neg", OpInv: "inv", OpAbs: "abs", OpLn: "ln",
	OpSin: "sin", OpCos: "cos", OpTan: "tan",
	OpSinh: "sinh", OpCosh: "cosh", OpTanh: "tanh",
	OpAsin: "asin", OpAcos: "acos", OpAtan: "atan",
	OpAsinh: "asinh", OpAcosh: "acosh", OpAtanh: "atanh",
}

func (k UnaryKind) String() string {
	if k < numUnaryKinds {
		return unaryNames[k]
	}
	return fmt.Sprintf("UnaryKind(%d)", uint8(k))
}

// ParseUnaryKind maps a function name such as "sin" to its kind.
func ParseUnaryKind(name string) (UnaryKind, bool) {
	for k, n := range unaryNames {
		if n == name {
			return UnaryKind(k), true
		}
	}
	return 0, false
}

// UnaryKinds lists every built-in unary function.
func UnaryKinds() []UnaryKind {
	ks := make([]UnaryKind, numUnaryKinds)
	for i := range ks {
		ks[i] = UnaryKind(i)
	}
	return ks
}

type Unary struct {
	kind UnaryKind
	arg  Expr
}

func UnaryOf(k UnaryKind, arg Expr) *Unary {
	if k >= numUnaryKinds {
		panic("goexpr: unknown unary kind " + k.String())
	}
	return &Unary{kind: k, arg: arg}
}

func AbsOf(arg Expr) *Unary   { return UnaryOf(OpAbs, arg) }
func LnOf(arg Expr) *Unary    { return UnaryOf(OpLn, arg) }
func SinOf(arg Expr) *Unary   { return UnaryOf(OpSin, arg) }
func CosOf(arg Expr) *Unary   { return UnaryOf(OpCos, arg) }
func TanOf(arg Expr) *Unary   { return UnaryOf(OpTan, arg) }
func SinhOf(arg Expr) *Unary  { return UnaryOf(OpSinh, arg) }
func CoshOf(arg Expr) *Unary  { return UnaryOf(OpCosh, arg) }
func TanhOf(arg Expr) *Unary  { return UnaryOf(OpTanh, arg) }
func AsinOf(arg Expr) *Unary  { return UnaryOf(OpAsin, arg) }
func AcosOf(arg Expr) *Unary  { return UnaryOf(OpAcos, arg) }
func AtanOf(arg Expr) *Unary  { return UnaryOf(OpAtan, arg) }
func AsinhOf(arg Expr) *Unary { return UnaryOf(OpAsinh, arg) }
func AcoshOf(arg Expr) *Unary { return UnaryOf(OpAcosh, arg) }
func AtanhOf(arg Expr) *Unary { return UnaryOf(OpAtanh, arg) }

func (u *Unary) Kind() UnaryKind  { return u.kind }
func (u *Unary) Arg() Expr        { return u.arg }
func (u *Unary) exprType() string { return "func" }

func (u *Unary) String() string {
	switch u.kind {
	case OpNeg:
		return "-" + wrapIf(u.arg, isComposite(u.arg))
	case OpInv:
		return "1 / " + wrapIf(u.arg, isComposite(u.arg))
	case OpAbs:
		return "|" + u.arg.String() + "|"
	}
	return u.kind.String() + "(" + u.arg.String() + ")"
}

func (u *Unary) LaTeX() string {
	arg := u.arg.LaTeX()
	switch u.kind {
	case OpNeg:
		return "-\\left(" + arg + "\\right)"
	case OpInv:
		return "\\frac{1}{" + arg + "}"
	case OpAbs:
		return "\\left|" + arg + "\\right|"
	case OpSin, OpCos, OpTan, OpSinh, OpCosh, OpTanh, OpLn:
		return "\\" + u.kind.String() + "\\left(" + arg + "\\right)"
	case OpAsin, OpAcos, OpAtan:
		return "\\arc" + u.kind.String()[1:] + "\\left(" + arg + "\\right)"
	}
	return "\\operatorname{" + u.kind.String() + "}\\left(" + arg + "\\right)"
}

func (u *Unary) Equal(other Expr) bool {
	o, ok := other.(*Unary)
	return ok && u.kind == o.kind && u.arg.Equal(o.arg)
}

// ============================================================
// Call — user function application
// ============================================================

type Call struct {
	name string
	args []Expr
}

func CallOf(name string, args ...Expr) *Call { return &Call{name: name, args: args} }
func (c *Call) Name() string                 { return c.name }
func (c *Call) Args() []Expr                 { return c.args }
func (c *Call) exprType() string             { return "call" }

func (c *Call) String() string {
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		parts[i] = a.String()
	}
	return c.name + "(" + strings.Join(parts, ", ") + ")"
}

func (c *Call) LaTeX() string {
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		parts[i] = a.LaTeX()
	}
	return "\\operatorname{" + c.name + "}\\left(" + strings.Join(parts, ", ") + "\\right)"
}

func (c *Call) Equal(other Expr) bool {
	o, ok := other.(*Call)
	return ok && c.name == o.name && equalAll(c.args, o.args)
}

// ============================================================
// Desugaring helpers
// ============================================================

func Neg(a Expr) Expr    { return MulOf(N(-1), a) }
func Inv(a Expr) Expr    { return PowOf(a, N(-1)) }
func Sub(a, b Expr) Expr { return AddOf(a, Neg(b)) }
func Div(a, b Expr) Expr { return MulOf(a, Inv(b)) }

// ============================================================
// Tree utilities
// ============================================================

// OrderNum is the sort key used inside commutative nodes: 0 for a numeric
// term, 1 for a variable and 2 for any composite node.
func OrderNum(e Expr) int {
	if a, ok := e.(*Atom); ok {
		if a.term.IsConst() {
			return 0
		}
		return 1
	}
	return 2
}

// Walk visits e and its descendants in pre-order until fn returns false.
func Walk(e Expr, fn func(Expr) bool) {
	if !fn(e) {
		return
	}
	switch v := e.(type) {
	case *Atom:
	case *Add:
		for _, t := range v.terms {
			Walk(t, fn)
		}
	case *Mul:
		for _, f := range v.factors {
			Walk(f, fn)
		}
	case *Pow:
		Walk(v.base, fn)
		Walk(v.exp, fn)
	case *Unary:
		Walk(v.arg, fn)
	case *Call:
		for _, a := range v.args {
			Walk(a, fn)
		}
	default:
		panic(unknownNode(e))
	}
}

// FreeSymbols returns the names of every variable referenced in e.
func FreeSymbols(e Expr) map[string]struct{} {
	out := map[string]struct{}{}
	Walk(e, func(n Expr) bool {
		if a, ok := n.(*Atom); ok && a.term.IsVariable() {
			out[a.term.name] = struct{}{}
		}
		return true
	})
	return out
}

// Calls returns the names of every user function called in e.
func Calls(e Expr) map[string]struct{} {
	out := map[string]struct{}{}
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*Call); ok {
			out[c.name] = struct{}{}
		}
		return true
	})
	return out
}

// IsConst reports whether e is a numeric Atom.
func IsConst(e Expr) bool {
	a, ok := e.(*Atom)
	return ok && a.term.IsConst()
}

// MustConst returns the numeric term of e, panicking if e is not a constant.
func MustConst(e Expr) Term {
	a, ok := e.(*Atom)
	if !ok {
		panic(fmt.Sprintf("goexpr: %s is not a constant", e))
	}
	return a.term.MustConst()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalAll(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func isAdd(e Expr) bool {
	_, ok := e.(*Add)
	return ok
}

func isComposite(e Expr) bool {
	_, ok := e.(*Atom)
	return !ok
}

func isNegativeAtom(e Expr) bool {
	a, ok := e.(*Atom)
	return ok && a.term.Kind() == KindReal && a.term.Float64() < 0
}

func wrapIf(e Expr, cond bool) string {
	if cond {
		return "(" + e.String() + ")"
	}
	return e.String()
}

// negated reports whether e prints as a subtraction, returning the operand.
func negated(e Expr) (Expr, bool) {
	switch v := e.(type) {
	case *Mul:
		if a, ok := v.factors[0].(*Atom); ok && a.term.IsNegOne() {
			return MulOf(v.factors[1:]...), true
		}
	case *Unary:
		if v.kind == OpNeg {
			return v.arg, true
		}
	}
	return nil, false
}

// inverted reports whether e prints as a divisor, returning the operand.
func inverted(e Expr) (Expr, bool) {
	switch v := e.(type) {
	case *Pow:
		if a, ok := v.exp.(*Atom); ok && a.term.IsNegOne() {
			return v.base, true
		}
	case *Unary:
		if v.kind == OpInv {
			return v.arg, true
		}
	}
	return nil, false
}
