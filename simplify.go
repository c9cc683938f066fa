package goexpr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/hashicorp/go-set/v3"
)

// ============================================================
// Simplifier
// ============================================================

var (
	// ErrValueCycle is returned when expanding a variable or inlining a
	// function leads back to itself. Context.Check reports these up front.
	ErrValueCycle = errors.New("goexpr: value cycle")
	// ErrUnknownTarget is returned when the variable to simplify or sample is
	// not declared.
	ErrUnknownTarget = errors.New("goexpr: unknown variable")
)

// Pass is an extra rewrite run after identity elimination. Passes must be
// pure, must leave already simplified input unchanged when they have nothing
// to do, and must not undo each other: the pipeline repeats until the tree
// stops changing.
type Pass func(Expr) Expr

// Simplifier rewrites an expression against a Context: variables are
// expanded, non-recursive functions inlined, and the result is flattened,
// constant-folded and stripped of identity elements.
type Simplifier struct {
	logger *slog.Logger
	passes []Pass
}

type SimplifierOption func(*Simplifier)

// WithPasses appends extension passes to the pipeline.
func WithPasses(p ...Pass) SimplifierOption {
	return func(s *Simplifier) { s.passes = append(s.passes, p...) }
}

func WithSimplifierLogger(l *slog.Logger) SimplifierOption {
	return func(s *Simplifier) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSimplifier(opts ...SimplifierOption) *Simplifier {
	s := &Simplifier{logger: discardLogger()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var defaultSimplifier = NewSimplifier()

// Simplify runs the default Simplifier. Names listed in free are left
// unexpanded even when the Context binds them.
func Simplify(e Expr, c *Context, free ...string) (Expr, map[string]*Func, error) {
	return defaultSimplifier.Simplify(e, c, free...)
}

// SimplifyVar simplifies the expression bound to name with the default
// Simplifier.
func SimplifyVar(c *Context, name string, free ...string) (Expr, map[string]*Func, error) {
	return defaultSimplifier.SimplifyVar(c, name, free...)
}

func (s *Simplifier) SimplifyVar(c *Context, name string, free ...string) (Expr, map[string]*Func, error) {
	e, ok := c.Var(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownTarget, name)
	}
	return s.Simplify(e, c, free...)
}

// Simplify returns the simplified expression together with the recursive
// functions it still depends on. Calling a function the Context does not
// declare panics; run Context.Check first.
func (s *Simplifier) Simplify(e Expr, c *Context, free ...string) (Expr, map[string]*Func, error) {
	r := &rewriter{
		c:         c,
		free:      set.From(free),
		expanding: set.New[string](4),
		inlining:  set.New[string](4),
		memo:      map[string]Expr{},
	}
	out, err := r.expandVars(e)
	if err != nil {
		return nil, nil, err
	}
	s.trace("expand variables", out)
	if out, err = r.inline(out); err != nil {
		return nil, nil, err
	}
	s.trace("inline functions", out)

	// Identity elimination can expose new constants one level up, so the
	// stages repeat until a round leaves the tree unchanged.
	for round := 1; ; round++ {
		next := flatten(out)
		next = reduceConst(next)
		next = eliminateIdentities(next)
		for _, p := range s.passes {
			next = p(next)
		}
		if identical(next, out) {
			break
		}
		out = next
		s.trace(fmt.Sprintf("round %d", round), out)
	}
	return out, neededRecursive(out, c), nil
}

func (s *Simplifier) trace(stage string, e Expr) {
	s.logger.Debug("simplify", slog.String("stage", stage), slog.Any("expr", exprValue{e}))
}

// exprValue defers rendering an expression until a log record is emitted.
type exprValue struct{ e Expr }

func (v exprValue) LogValue() slog.Value { return slog.StringValue(v.e.String()) }

// neededRecursive collects the recursive functions reachable from e through
// calls and through the global variables their bodies use.
func neededRecursive(e Expr, c *Context) map[string]*Func {
	out := map[string]*Func{}
	visited := set.New[symbolRef](8)
	var stack []symbolRef
	for _, name := range sortedKeys(Calls(e)) {
		stack = append(stack, symbolRef{symFunc, name})
	}
	for _, name := range sortedKeys(FreeSymbols(e)) {
		if _, ok := c.vars[name]; ok {
			stack = append(stack, symbolRef{symVar, name})
		}
	}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visited.Insert(ref) {
			continue
		}
		if f, ok := c.funcs[ref.name]; ok && ref.kind == symFunc && f.Recursive {
			out[ref.name] = f.clone()
		}
		stack = append(stack, c.dependencies(ref)...)
	}
	return out
}

// ============================================================
// Stage 1 and 2: variable expansion and function inlining
// ============================================================

type rewriter struct {
	c         *Context
	free      *set.Set[string]
	expanding *set.Set[string]
	inlining  *set.Set[string]
	memo      map[string]Expr
}

func (r *rewriter) expandVars(e Expr) (Expr, error) {
	return r.substitute(e, nil)
}

// substitute replaces parameters from bound simultaneously and expands every
// other variable the Context declares, except free names. Parameters shadow
// globals of the same name.
func (r *rewriter) substitute(e Expr, bound map[string]Expr) (Expr, error) {
	switch v := e.(type) {
	case *Atom:
		if !v.term.IsVariable() {
			return v, nil
		}
		name := v.term.name
		if arg, ok := bound[name]; ok {
			return arg, nil
		}
		return r.expandGlobal(v)
	case *Add:
		terms, err := r.substituteAll(v.terms, bound)
		if err != nil {
			return nil, err
		}
		return &Add{terms: terms}, nil
	case *Mul:
		factors, err := r.substituteAll(v.factors, bound)
		if err != nil {
			return nil, err
		}
		return &Mul{factors: factors}, nil
	case *Pow:
		base, err := r.substitute(v.base, bound)
		if err != nil {
			return nil, err
		}
		exp, err := r.substitute(v.exp, bound)
		if err != nil {
			return nil, err
		}
		return &Pow{base: base, exp: exp}, nil
	case *Unary:
		arg, err := r.substitute(v.arg, bound)
		if err != nil {
			return nil, err
		}
		return &Unary{kind: v.kind, arg: arg}, nil
	case *Call:
		args, err := r.substituteAll(v.args, bound)
		if err != nil {
			return nil, err
		}
		return &Call{name: v.name, args: args}, nil
	default:
		panic(unknownNode(e))
	}
}

func (r *rewriter) substituteAll(es []Expr, bound map[string]Expr) ([]Expr, error) {
	out := make([]Expr, len(es))
	for i, e := range es {
		s, err := r.substitute(e, bound)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (r *rewriter) expandGlobal(v *Atom) (Expr, error) {
	name := v.term.name
	val, ok := r.c.vars[name]
	if !ok || r.free.Contains(name) {
		return v, nil
	}
	if done, ok := r.memo[name]; ok {
		return done, nil
	}
	if !r.expanding.Insert(name) {
		return nil, fmt.Errorf("%w: variable %q", ErrValueCycle, name)
	}
	out, err := r.substitute(val, nil)
	r.expanding.Remove(name)
	if err != nil {
		return nil, err
	}
	r.memo[name] = out
	return out, nil
}

// inline replaces calls to non-recursive functions by their bodies.
// Arguments of recursive calls are still inlined.
func (r *rewriter) inline(e Expr) (Expr, error) {
	switch v := e.(type) {
	case *Atom:
		return v, nil
	case *Add:
		terms, err := r.inlineAll(v.terms)
		if err != nil {
			return nil, err
		}
		return &Add{terms: terms}, nil
	case *Mul:
		factors, err := r.inlineAll(v.factors)
		if err != nil {
			return nil, err
		}
		return &Mul{factors: factors}, nil
	case *Pow:
		base, err := r.inline(v.base)
		if err != nil {
			return nil, err
		}
		exp, err := r.inline(v.exp)
		if err != nil {
			return nil, err
		}
		return &Pow{base: base, exp: exp}, nil
	case *Unary:
		arg, err := r.inline(v.arg)
		if err != nil {
			return nil, err
		}
		return &Unary{kind: v.kind, arg: arg}, nil
	case *Call:
		return r.inlineCall(v)
	default:
		panic(unknownNode(e))
	}
}

func (r *rewriter) inlineAll(es []Expr) ([]Expr, error) {
	out := make([]Expr, len(es))
	for i, e := range es {
		s, err := r.inline(e)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (r *rewriter) inlineCall(call *Call) (Expr, error) {
	f, ok := r.c.funcs[call.name]
	if !ok {
		panic(fmt.Sprintf("goexpr: undeclared function %q", call.name))
	}
	args, err := r.inlineAll(call.args)
	if err != nil {
		return nil, err
	}
	if f.Recursive {
		return &Call{name: call.name, args: args}, nil
	}
	if len(args) != f.Arity() {
		panic(fmt.Sprintf("goexpr: function %q takes %d argument(s), got %d", f.Name, f.Arity(), len(args)))
	}
	if !r.inlining.Insert(f.Name) {
		return nil, fmt.Errorf("%w: function %q", ErrValueCycle, f.Name)
	}
	defer r.inlining.Remove(f.Name)

	bound := make(map[string]Expr, len(args))
	for i, p := range f.Params {
		bound[p] = args[i]
	}
	body, err := r.substitute(f.Body, bound)
	if err != nil {
		return nil, err
	}
	return r.inline(body)
}

// ============================================================
// Stage 3: flattening
// ============================================================

func flatten(e Expr) Expr {
	switch v := e.(type) {
	case *Atom:
		return v
	case *Add:
		var terms []Expr
		for _, t := range v.terms {
			t = flatten(t)
			if inner, ok := t.(*Add); ok {
				terms = append(terms, inner.terms...)
			} else {
				terms = append(terms, t)
			}
		}
		return &Add{terms: terms}
	case *Mul:
		var factors []Expr
		for _, f := range v.factors {
			f = flatten(f)
			if inner, ok := f.(*Mul); ok {
				factors = append(factors, inner.factors...)
			} else {
				factors = append(factors, f)
			}
		}
		return &Mul{factors: factors}
	case *Pow:
		return &Pow{base: flatten(v.base), exp: flatten(v.exp)}
	case *Unary:
		return &Unary{kind: v.kind, arg: flatten(v.arg)}
	case *Call:
		args := make([]Expr, len(v.args))
		for i, a := range v.args {
			args[i] = flatten(a)
		}
		return &Call{name: v.name, args: args}
	default:
		panic(unknownNode(e))
	}
}

// ============================================================
// Stage 4 and 5: ordering and constant reduction
// ============================================================

// sortOperands orders commutative operands by OrderNum, breaking ties
// between variables by name. Composite operands keep their relative order.
func sortOperands(es []Expr) []Expr {
	out := make([]Expr, len(es))
	copy(out, es)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := OrderNum(out[i]), OrderNum(out[j])
		if oi != oj {
			return oi < oj
		}
		if oi == 1 {
			return out[i].(*Atom).term.name < out[j].(*Atom).term.name
		}
		return false
	})
	return out
}

// foldOperands sorts the operands and folds the leading constants with op.
// It returns the single folded atom when every operand is constant.
func foldOperands(es []Expr, op func(a, b Term) Term) (Expr, []Expr) {
	ops := make([]Expr, len(es))
	for i, e := range es {
		ops[i] = reduceConst(e)
	}
	ops = sortOperands(ops)
	cutoff := 0
	for cutoff < len(ops) && IsConst(ops[cutoff]) {
		cutoff++
	}
	if cutoff == 0 {
		return nil, ops
	}
	acc := MustConst(ops[0])
	for _, o := range ops[1:cutoff] {
		acc = op(acc, MustConst(o))
	}
	if cutoff == len(ops) {
		return T(acc), nil
	}
	return nil, append([]Expr{T(acc)}, ops[cutoff:]...)
}

func reduceConst(e Expr) Expr {
	switch v := e.(type) {
	case *Atom:
		return v
	case *Add:
		folded, rest := foldOperands(v.terms, Term.Add)
		if folded != nil {
			return folded
		}
		return &Add{terms: rest}
	case *Mul:
		folded, rest := foldOperands(v.factors, Term.Mul)
		if folded != nil {
			return folded
		}
		return &Mul{factors: rest}
	case *Pow:
		base, exp := reduceConst(v.base), reduceConst(v.exp)
		if IsConst(base) && IsConst(exp) {
			return T(MustConst(base).Pow(MustConst(exp)))
		}
		return &Pow{base: base, exp: exp}
	case *Unary:
		arg := reduceConst(v.arg)
		if IsConst(arg) {
			return T(MustConst(arg).Apply(v.kind))
		}
		return &Unary{kind: v.kind, arg: arg}
	case *Call:
		args := make([]Expr, len(v.args))
		for i, a := range v.args {
			args[i] = reduceConst(a)
		}
		return &Call{name: v.name, args: args}
	default:
		panic(unknownNode(e))
	}
}

// ============================================================
// Stage 6: identity elimination
// ============================================================

// eliminateIdentities assumes constants were reduced, so an identity element
// can only be the first operand of a sum or product.
func eliminateIdentities(e Expr) Expr {
	switch v := e.(type) {
	case *Atom:
		return v
	case *Add:
		terms := eliminateAll(v.terms)
		if a, ok := terms[0].(*Atom); ok && a.term.IsZero() {
			terms = terms[1:]
		}
		return AddOf(terms...)
	case *Mul:
		factors := eliminateAll(v.factors)
		if a, ok := factors[0].(*Atom); ok && a.term.IsOne() {
			factors = factors[1:]
		}
		return MulOf(factors...)
	case *Pow:
		base, exp := eliminateIdentities(v.base), eliminateIdentities(v.exp)
		switch {
		case isTerm(base, Term.IsZero):
			return N(0)
		case isTerm(exp, Term.IsZero):
			return N(1)
		case isTerm(base, Term.IsOne):
			return N(1)
		case isTerm(exp, Term.IsOne):
			return base
		}
		return &Pow{base: base, exp: exp}
	case *Unary:
		return &Unary{kind: v.kind, arg: eliminateIdentities(v.arg)}
	case *Call:
		return &Call{name: v.name, args: eliminateAll(v.args)}
	default:
		panic(unknownNode(e))
	}
}

func eliminateAll(es []Expr) []Expr {
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = eliminateIdentities(e)
	}
	return out
}

func isTerm(e Expr, pred func(Term) bool) bool {
	a, ok := e.(*Atom)
	return ok && pred(a.term)
}

// identical is structural equality that also matches NaN constants, used to
// detect the simplification fixpoint.
func identical(a, b Expr) bool {
	switch x := a.(type) {
	case *Atom:
		y, ok := b.(*Atom)
		if !ok || x.term.kind != y.term.kind || x.term.name != y.term.name {
			return false
		}
		return sameFloat(real(x.term.z), real(y.term.z)) && sameFloat(imag(x.term.z), imag(y.term.z))
	case *Add:
		y, ok := b.(*Add)
		return ok && identicalAll(x.terms, y.terms)
	case *Mul:
		y, ok := b.(*Mul)
		return ok && identicalAll(x.factors, y.factors)
	case *Pow:
		y, ok := b.(*Pow)
		return ok && identical(x.base, y.base) && identical(x.exp, y.exp)
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.kind == y.kind && identical(x.arg, y.arg)
	case *Call:
		y, ok := b.(*Call)
		return ok && x.name == y.name && identicalAll(x.args, y.args)
	default:
		panic(unknownNode(a))
	}
}

func identicalAll(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !identical(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameFloat(a, b float64) bool { return a == b || (math.IsNaN(a) && math.IsNaN(b)) }

// ============================================================
// Extension passes
// ============================================================

// ExpandSmallPowers rewrites x^n for integer n in [2, 5] as a product of n
// copies of x; a complex n with a zero imaginary part qualifies too. It is
// not part of the default pipeline; add it with WithPasses when evaluation
// speed matters more than compact output.
func ExpandSmallPowers(e Expr) Expr {
	switch v := e.(type) {
	case *Atom:
		return v
	case *Add:
		return &Add{terms: mapExprs(v.terms, ExpandSmallPowers)}
	case *Mul:
		return &Mul{factors: mapExprs(v.factors, ExpandSmallPowers)}
	case *Pow:
		base := ExpandSmallPowers(v.base)
		if a, ok := v.exp.(*Atom); ok && a.term.IsConst() && imag(a.term.z) == 0 {
			n := real(a.term.z)
			if n >= 2 && n <= 5 && n == math.Trunc(n) {
				factors := make([]Expr, int(n))
				for i := range factors {
					factors[i] = base
				}
				return &Mul{factors: factors}
			}
		}
		return &Pow{base: base, exp: ExpandSmallPowers(v.exp)}
	case *Unary:
		return &Unary{kind: v.kind, arg: ExpandSmallPowers(v.arg)}
	case *Call:
		return &Call{name: v.name, args: mapExprs(v.args, ExpandSmallPowers)}
	default:
		panic(unknownNode(e))
	}
}

func mapExprs(es []Expr, fn func(Expr) Expr) []Expr {
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = fn(e)
	}
	return out
}
