package goexpr

import (
	"math"
	"sort"
	"sync/atomic"
)

// ============================================================
// Func — user-defined function
// ============================================================

// Func is a user-defined function. Recursive is a declaration-time
// annotation; only functions marked recursive may reach themselves through
// the call graph.
type Func struct {
	Name      string
	Params    []string
	Body      Expr
	Recursive bool
}

func (f *Func) Arity() int { return len(f.Params) }

func (f *Func) clone() *Func {
	params := make([]string, len(f.Params))
	copy(params, f.Params)
	return &Func{Name: f.Name, Params: params, Body: f.Body, Recursive: f.Recursive}
}

func (f *Func) String() string {
	s := "fn "
	if f.Recursive {
		s += "(recursive) "
	}
	return s + CallOf(f.Name, paramAtoms(f.Params)...).String() + " = " + f.Body.String()
}

func paramAtoms(params []string) []Expr {
	out := make([]Expr, len(params))
	for i, p := range params {
		out[i] = S(p)
	}
	return out
}

// ============================================================
// Context — symbol table
// ============================================================

// Context is the symbol table of one program: named variables bound to
// expressions and named functions. A Context is not safe for concurrent
// mutation; give each goroutine its own Clone.
type Context struct {
	vars  map[string]Expr
	funcs map[string]*Func
	gen   uint64
}

// NewContext returns a Context with pi, e and the imaginary unit i bound.
func NewContext() *Context {
	c := &Context{vars: map[string]Expr{}, funcs: map[string]*Func{}}
	c.DefVar("e", N(math.E))
	c.DefVar("pi", N(math.Pi))
	c.DefVar("i", C(0, 1))
	return c
}

// DefVar declares or overwrites a variable.
func (c *Context) DefVar(name string, val Expr) *Context {
	c.vars[name] = val
	c.gen = generations.Add(1)
	return c
}

// DefFunc declares or overwrites a function.
func (c *Context) DefFunc(name string, recursive bool, params []string, body Expr) *Context {
	ps := make([]string, len(params))
	copy(ps, params)
	c.funcs[name] = &Func{Name: name, Params: ps, Body: body, Recursive: recursive}
	c.gen = generations.Add(1)
	return c
}

// Bind sets a variable to a constant term.
func (c *Context) Bind(name string, t Term) *Context { return c.DefVar(name, T(t)) }

func (c *Context) Var(name string) (Expr, bool) {
	e, ok := c.vars[name]
	return e, ok
}

func (c *Context) Func(name string) (*Func, bool) {
	f, ok := c.funcs[name]
	return f, ok
}

var generations atomic.Uint64

// Generation identifies the current contents of the Context. Every mutation
// of any Context draws a fresh value, so two contexts share a generation only
// when one is an unmodified clone of the other.
func (c *Context) Generation() uint64 { return c.gen }

func (c *Context) VarNames() []string {
	names := make([]string, 0, len(c.vars))
	for n := range c.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Context) FuncNames() []string {
	names := make([]string, 0, len(c.funcs))
	for n := range c.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy. Expression trees are immutable and
// shared; the maps and function records are copied.
func (c *Context) Clone() *Context {
	out := &Context{
		vars:  make(map[string]Expr, len(c.vars)+2),
		funcs: make(map[string]*Func, len(c.funcs)),
		gen:   c.gen,
	}
	for k, v := range c.vars {
		out.vars[k] = v
	}
	for k, f := range c.funcs {
		out.funcs[k] = f.clone()
	}
	return out
}
