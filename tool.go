package goexpr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ============================================================
// MCP Tool Interface
// ============================================================

type ToolRequest struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

type ToolResponse struct {
	Result interface{} `json:"result,omitempty"`
	LaTeX  string      `json:"latex,omitempty"`
	String string      `json:"string,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// HandleToolCall runs a tool request without a deadline.
func HandleToolCall(req ToolRequest) ToolResponse {
	return HandleToolCallContext(context.Background(), req)
}

// HandleToolCallContext runs a tool request. Every tool except tool_spec
// takes a "declarations" array in the DecodeDeclarations format; sampling
// stops when ctx is done.
func HandleToolCallContext(ctx context.Context, req ToolRequest) ToolResponse {
	fail := func(err error) ToolResponse { return ToolResponse{Error: err.Error()} }

	getContext := func() (*Context, error) {
		v, ok := req.Params["declarations"]
		if !ok {
			return NewContext(), nil
		}
		raw, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("param declarations must be an array")
		}
		return DecodeDeclarations(raw)
	}
	getString := func(key, def string) (string, error) {
		v, ok := req.Params[key]
		if !ok {
			if def == "" {
				return "", fmt.Errorf("missing param: %s", key)
			}
			return def, nil
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("param %s must be a non-empty string", key)
		}
		return s, nil
	}
	getStrings := func(key string) ([]string, error) {
		v, ok := req.Params[key]
		if !ok {
			return nil, nil
		}
		raw, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("param %s must be array", key)
		}
		result := make([]string, len(raw))
		for i, r := range raw {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("param %s[%d] must be string", key, i)
			}
			result[i] = s
		}
		return result, nil
	}
	getNumber := func(key string) (float64, error) {
		v, ok := req.Params[key]
		if !ok {
			return 0, fmt.Errorf("missing param: %s", key)
		}
		f, ok := asFloat(v)
		if !ok {
			return 0, fmt.Errorf("param %s must be a number", key)
		}
		return f, nil
	}
	getInt := func(key string, def int) (int, error) {
		if _, ok := req.Params[key]; !ok && def > 0 {
			return def, nil
		}
		f, err := getNumber(key)
		if err != nil {
			return 0, err
		}
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("param %s must be an integer", key)
		}
		return int(f), nil
	}
	getRange := func(prefix string) (Range, error) {
		start, err := getNumber(prefix + "start")
		if err != nil {
			return Range{}, err
		}
		end, err := getNumber(prefix + "end")
		if err != nil {
			return Range{}, err
		}
		return Range{Start: start, End: end}, nil
	}
	// getTarget resolves either a declared variable name or an inline
	// expression object.
	getTarget := func(c *Context) (Expr, error) {
		if v, ok := req.Params["expr"]; ok {
			m, ok := asObject(v)
			if !ok {
				return nil, fmt.Errorf("param expr must be an expression object")
			}
			return FromJSON(m)
		}
		name, err := getString("target", "")
		if err != nil {
			return nil, err
		}
		e, ok := c.Var(name)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownTarget, name)
		}
		return e, nil
	}
	getSampler := func(c *Context) (*Sampler, error) {
		workers, err := getInt("workers", 1)
		if err != nil {
			return nil, err
		}
		return NewSampler(c, WithWorkers(workers))
	}
	respond := func(e Expr) ToolResponse {
		return ToolResponse{Result: e.toJSON(), LaTeX: e.LaTeX(), String: e.String()}
	}

	switch req.Tool {
	case "check":
		c, err := getContext()
		if err != nil {
			return fail(err)
		}
		violations := c.Check()
		if len(violations) == 0 {
			return ToolResponse{Result: []string{}, String: "ok"}
		}
		return ToolResponse{Result: violations, String: strings.Join(violations, "\n")}

	case "simplify":
		c, err := getContext()
		if err != nil {
			return fail(err)
		}
		if err := c.Validate(); err != nil {
			return fail(err)
		}
		e, err := getTarget(c)
		if err != nil {
			return fail(err)
		}
		free, err := getStrings("free")
		if err != nil {
			return fail(err)
		}
		if err := c.checkExpr(e); err != nil {
			return fail(err)
		}
		out, _, err := Simplify(e, c, free...)
		if err != nil {
			return fail(err)
		}
		return respond(out)

	case "evaluate":
		c, err := getContext()
		if err != nil {
			return fail(err)
		}
		if err := c.Validate(); err != nil {
			return fail(err)
		}
		e, err := getTarget(c)
		if err != nil {
			return fail(err)
		}
		t, ok, err := defaultEvaluator.Evaluate(ctx, e, c)
		if err != nil {
			return fail(err)
		}
		if !ok {
			return ToolResponse{Error: fmt.Sprintf("%s does not evaluate to a constant", e)}
		}
		return respond(T(t))

	case "sample_1d":
		c, err := getContext()
		if err != nil {
			return fail(err)
		}
		target, err := getString("target", "")
		if err != nil {
			return fail(err)
		}
		sweep, err := getString("var", "x")
		if err != nil {
			return fail(err)
		}
		r, err := getRange("")
		if err != nil {
			return fail(err)
		}
		steps, err := getInt("steps", 0)
		if err != nil {
			return fail(err)
		}
		s, err := getSampler(c)
		if err != nil {
			return fail(err)
		}
		samples, err := s.Sample1D(ctx, target, sweep, r, steps)
		if err != nil {
			return fail(err)
		}
		points := make([]interface{}, len(samples))
		for i, p := range samples {
			points[i] = pointJSON(map[string]interface{}{"x": jsonFloat(p.X)}, p.Value, p.OK, p.Err)
		}
		return ToolResponse{Result: points, String: fmt.Sprintf("%d samples of %s", len(points), target)}

	case "sample_2d":
		c, err := getContext()
		if err != nil {
			return fail(err)
		}
		target, err := getString("target", "")
		if err != nil {
			return fail(err)
		}
		xr, err := getRange("x_")
		if err != nil {
			return fail(err)
		}
		xSteps, err := getInt("x_steps", 0)
		if err != nil {
			return fail(err)
		}
		yr, err := getRange("y_")
		if err != nil {
			return fail(err)
		}
		ySteps, err := getInt("y_steps", 0)
		if err != nil {
			return fail(err)
		}
		s, err := getSampler(c)
		if err != nil {
			return fail(err)
		}
		samples, err := s.Sample2D(ctx, target, xr, xSteps, yr, ySteps)
		if err != nil {
			return fail(err)
		}
		points := make([]interface{}, len(samples))
		for i, p := range samples {
			points[i] = pointJSON(map[string]interface{}{"x": jsonFloat(p.X), "y": jsonFloat(p.Y)}, p.Value, p.OK, p.Err)
		}
		return ToolResponse{Result: points, String: fmt.Sprintf("%d samples of %s", len(points), target)}

	case "tool_spec":
		return ToolResponse{Result: ToolSpec(), String: "MCP tool specification"}
	}

	return ToolResponse{Error: fmt.Sprintf("unknown tool: %s", req.Tool)}
}

func pointJSON(p map[string]interface{}, v Term, ok bool, err error) map[string]interface{} {
	p["ok"] = ok
	if ok {
		p["value"] = T(v).toJSON()
	}
	if err != nil {
		p["error"] = err.Error()
	}
	return p
}

// checkExpr reports calls in a free-standing expression that the Context
// cannot resolve, so that simplifying it cannot panic.
func (c *Context) checkExpr(e Expr) error {
	if v := c.checkCalls("expression", e); len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

// ============================================================
// Tool schema
// ============================================================

func ToolSpec() string {
	decl := map[string]string{"declarations": "array"}
	with := func(extra map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range decl {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	tools := []map[string]interface{}{
		ts("check", "Validate declarations: value cycles, undeclared recursion, unknown calls", []string{"declarations"}, decl),
		ts("simplify", "Simplify a declared variable (target) or an expression (expr). Optional free: names left unexpanded", []string{}, with(map[string]string{"target": "string", "expr": "object", "free": "array"})),
		ts("evaluate", "Evaluate a declared variable (target) or an expression (expr) to a constant", []string{}, with(map[string]string{"target": "string", "expr": "object"})),
		ts("sample_1d", "Sample target over var (default x) from start to end in steps", []string{"target", "start", "end", "steps"}, with(map[string]string{"target": "string", "var": "string", "start": "number", "end": "number", "steps": "integer", "workers": "integer"})),
		ts("sample_2d", "Sample target over the x/y grid", []string{"target", "x_start", "x_end", "x_steps", "y_start", "y_end", "y_steps"}, with(map[string]string{"target": "string", "x_start": "number", "x_end": "number", "x_steps": "integer", "y_start": "number", "y_end": "number", "y_steps": "integer", "workers": "integer"})),
		ts("tool_spec", "Return this tool schema", []string{}, map[string]string{}),
	}
	spec := map[string]interface{}{"tools": tools}
	b, _ := json.MarshalIndent(spec, "", "  ")
	return string(b)
}

func ts(name, description string, required []string, props map[string]string) map[string]interface{} {
	properties := map[string]interface{}{}
	for k, typ := range props {
		properties[k] = map[string]interface{}{"type": typ}
	}
	return map[string]interface{}{
		"name":        name,
		"description": description,
		"inputSchema": map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
