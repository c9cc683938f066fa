package goexpr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-set/v3"
)

// ============================================================
// Recursion checker
// ============================================================

// ValidationError collects every declaration problem found in a Context.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "goexpr: " + e.Violations[0]
	}
	return fmt.Sprintf("goexpr: %d invalid declarations:\n\t%s",
		len(e.Violations), strings.Join(e.Violations, "\n\t"))
}

type symbolKind uint8

const (
	symVar symbolKind = iota
	symFunc
)

// symbolRef is a node of the dependency graph between declarations.
type symbolRef struct {
	kind symbolKind
	name string
}

// Check reports every value cycle, every function that reaches itself
// without being declared recursive, and every call to an undeclared function
// or with the wrong number of arguments. An empty result means the Context
// is valid.
func (c *Context) Check() []string {
	var out []string
	for _, name := range c.VarNames() {
		if c.reaches(symbolRef{symVar, name}) {
			out = append(out, fmt.Sprintf("variable %q is defined in terms of itself; variables cannot be recursive", name))
		}
	}
	for _, name := range c.FuncNames() {
		f := c.funcs[name]
		if !f.Recursive && c.reaches(symbolRef{symFunc, name}) {
			out = append(out, fmt.Sprintf("function %q calls itself but is not declared recursive", name))
		}
	}
	for _, name := range c.VarNames() {
		out = append(out, c.checkCalls("variable "+quote(name), c.vars[name])...)
	}
	for _, name := range c.FuncNames() {
		out = append(out, c.checkCalls("function "+quote(name), c.funcs[name].Body)...)
	}
	return out
}

// Validate returns a *ValidationError when Check finds violations.
func (c *Context) Validate() error {
	if v := c.Check(); len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

func quote(s string) string { return fmt.Sprintf("%q", s) }

// dependencies lists the declarations the given one refers to directly.
// Parameters shadow globals inside function bodies.
func (c *Context) dependencies(ref symbolRef) []symbolRef {
	var body Expr
	params := set.New[string](0)
	switch ref.kind {
	case symVar:
		e, ok := c.vars[ref.name]
		if !ok {
			return nil
		}
		body = e
	case symFunc:
		f, ok := c.funcs[ref.name]
		if !ok {
			return nil
		}
		body = f.Body
		params = set.From(f.Params)
	}
	var deps []symbolRef
	for _, name := range sortedKeys(FreeSymbols(body)) {
		if _, ok := c.vars[name]; ok && !params.Contains(name) {
			deps = append(deps, symbolRef{symVar, name})
		}
	}
	for _, name := range sortedKeys(Calls(body)) {
		if _, ok := c.funcs[name]; ok {
			deps = append(deps, symbolRef{symFunc, name})
		}
	}
	return deps
}

// reaches reports whether start can be reached again by following the
// dependency graph from its own direct dependencies.
func (c *Context) reaches(start symbolRef) bool {
	visited := set.New[symbolRef](8)
	stack := c.dependencies(start)
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if ref == start {
			return true
		}
		if !visited.Insert(ref) {
			continue
		}
		stack = append(stack, c.dependencies(ref)...)
	}
	return false
}

func (c *Context) checkCalls(owner string, body Expr) []string {
	var out []string
	Walk(body, func(e Expr) bool {
		call, ok := e.(*Call)
		if !ok {
			return true
		}
		f, ok := c.funcs[call.name]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s calls undeclared function %q", owner, call.name))
		case f.Arity() != len(call.args):
			out = append(out, fmt.Sprintf("%s calls %q with %d argument(s), want %d",
				owner, call.name, len(call.args), f.Arity()))
		}
		return true
	})
	return out
}
