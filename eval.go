package goexpr

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================
// Evaluator
// ============================================================

// ErrBudgetExceeded is returned when an evaluation nests deeper than
// MaxDepth or visits more than MaxSteps nodes, which in practice means a
// recursive function that does not terminate.
var ErrBudgetExceeded = errors.New("goexpr: evaluation exceeded budget")

const (
	DefaultMaxDepth = 10_000
	DefaultMaxSteps = 10_000_000

	// cancellation is polled every cancelEvery node visits.
	cancelEvery = 1 << 12
)

// Evaluator reduces an expression to a Term by substituting the values bound
// in a Context. It keeps no state between calls and is safe for concurrent
// use as long as each goroutine passes its own Context.
type Evaluator struct {
	// MaxDepth bounds nested function calls and variable lookups.
	MaxDepth int
	// MaxSteps bounds the number of nodes visited by one evaluation.
	MaxSteps int
}

func NewEvaluator() *Evaluator {
	return &Evaluator{MaxDepth: DefaultMaxDepth, MaxSteps: DefaultMaxSteps}
}

var defaultEvaluator = NewEvaluator()

// Evaluate reduces e with the default budget. ok is false when a variable or
// function cannot be resolved, or when the budget runs out.
func Evaluate(e Expr, c *Context) (Term, bool) {
	t, ok, err := defaultEvaluator.Evaluate(context.Background(), e, c)
	return t, ok && err == nil
}

// EvaluateVar evaluates the expression bound to name.
func (ev *Evaluator) EvaluateVar(ctx context.Context, c *Context, name string) (Term, bool, error) {
	e, ok := c.Var(name)
	if !ok {
		return Term{}, false, nil
	}
	return ev.Evaluate(ctx, e, c)
}

// Evaluate reduces e to a constant. A reference that cannot be resolved is
// reported as ok == false with a nil error; err is set only when the budget
// is exceeded or ctx is done. Numeric domain problems are not errors: they
// surface as NaN or Inf in the result.
func (ev *Evaluator) Evaluate(ctx context.Context, e Expr, c *Context) (Term, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	st := &evalState{ctx: ctx, c: c, maxDepth: ev.MaxDepth, maxSteps: ev.MaxSteps}
	if st.maxDepth <= 0 {
		st.maxDepth = DefaultMaxDepth
	}
	if st.maxSteps <= 0 {
		st.maxSteps = DefaultMaxSteps
	}
	return st.eval(e, nil, 0)
}

type evalState struct {
	ctx      context.Context
	c        *Context
	maxDepth int
	maxSteps int
	steps    int
}

func (st *evalState) tick(depth int) error {
	st.steps++
	if st.steps > st.maxSteps {
		return fmt.Errorf("%w: more than %d steps", ErrBudgetExceeded, st.maxSteps)
	}
	if depth > st.maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrBudgetExceeded, st.maxDepth)
	}
	if st.steps%cancelEvery == 0 {
		return st.ctx.Err()
	}
	return nil
}

// eval walks e. scope holds the arguments of the innermost function call;
// anything else resolves through the Context's globals.
func (st *evalState) eval(e Expr, scope map[string]Term, depth int) (Term, bool, error) {
	if err := st.tick(depth); err != nil {
		return Term{}, false, err
	}
	switch v := e.(type) {
	case *Atom:
		if v.term.IsConst() {
			return v.term, true, nil
		}
		return st.lookup(v.term.name, scope, depth)
	case *Add:
		return st.fold(v.terms, scope, depth, Term.Add)
	case *Mul:
		return st.fold(v.factors, scope, depth, Term.Mul)
	case *Pow:
		base, ok, err := st.eval(v.base, scope, depth)
		if !ok || err != nil {
			return Term{}, false, err
		}
		exp, ok, err := st.eval(v.exp, scope, depth)
		if !ok || err != nil {
			return Term{}, false, err
		}
		return base.Pow(exp), true, nil
	case *Unary:
		arg, ok, err := st.eval(v.arg, scope, depth)
		if !ok || err != nil {
			return Term{}, false, err
		}
		return arg.Apply(v.kind), true, nil
	case *Call:
		return st.call(v, scope, depth)
	default:
		panic(unknownNode(e))
	}
}

func (st *evalState) lookup(name string, scope map[string]Term, depth int) (Term, bool, error) {
	if t, ok := scope[name]; ok {
		return t, true, nil
	}
	bound, ok := st.c.vars[name]
	if !ok {
		return Term{}, false, nil
	}
	return st.eval(bound, nil, depth+1)
}

func (st *evalState) fold(es []Expr, scope map[string]Term, depth int, op func(a, b Term) Term) (Term, bool, error) {
	acc, ok, err := st.eval(es[0], scope, depth)
	if !ok || err != nil {
		return Term{}, false, err
	}
	for _, e := range es[1:] {
		t, ok, err := st.eval(e, scope, depth)
		if !ok || err != nil {
			return Term{}, false, err
		}
		acc = op(acc, t)
	}
	return acc, true, nil
}

// call evaluates the arguments, then the body with each parameter bound to
// its argument. Parameters shadow globals of the same name.
func (st *evalState) call(c *Call, scope map[string]Term, depth int) (Term, bool, error) {
	f, ok := st.c.funcs[c.name]
	if !ok || f.Arity() != len(c.args) {
		return Term{}, false, nil
	}
	inner := make(map[string]Term, len(f.Params))
	for i, a := range c.args {
		t, ok, err := st.eval(a, scope, depth)
		if !ok || err != nil {
			return Term{}, false, err
		}
		inner[f.Params[i]] = t
	}
	return st.eval(f.Body, inner, depth+1)
}
