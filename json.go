package goexpr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ============================================================
// JSON Serialization
// ============================================================

// Non-finite floats have no JSON literal; they are written as the strings
// "NaN", "+Inf" and "-Inf".
func jsonFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func (a *Atom) toJSON() map[string]interface{} {
	switch a.term.kind {
	case KindReal:
		return map[string]interface{}{"type": "real", "value": jsonFloat(real(a.term.z))}
	case KindComplex:
		return map[string]interface{}{"type": "complex", "re": jsonFloat(real(a.term.z)), "im": jsonFloat(imag(a.term.z))}
	default:
		return map[string]interface{}{"type": "var", "name": a.term.name}
	}
}

func (a *Add) toJSON() map[string]interface{} {
	return map[string]interface{}{"type": "add", "terms": toJSONAll(a.terms)}
}

func (m *Mul) toJSON() map[string]interface{} {
	return map[string]interface{}{"type": "mul", "factors": toJSONAll(m.factors)}
}

func (p *Pow) toJSON() map[string]interface{} {
	return map[string]interface{}{"type": "pow", "base": p.base.toJSON(), "exp": p.exp.toJSON()}
}

func (u *Unary) toJSON() map[string]interface{} {
	return map[string]interface{}{"type": "func", "name": u.kind.String(), "arg": u.arg.toJSON()}
}

func (c *Call) toJSON() map[string]interface{} {
	return map[string]interface{}{"type": "call", "name": c.name, "args": toJSONAll(c.args)}
}

func toJSONAll(es []Expr) []interface{} {
	out := make([]interface{}, len(es))
	for i, e := range es {
		out[i] = e.toJSON()
	}
	return out
}

// Object returns the generic JSON object form of e, as accepted by FromJSON.
func Object(e Expr) map[string]interface{} { return e.toJSON() }

func ToJSON(e Expr) (string, error) {
	b, err := json.Marshal(e.toJSON())
	return string(b), err
}

// ParseJSON decodes a JSON document holding a single expression object.
func ParseJSON(data []byte) (Expr, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding expression: %w", err)
	}
	return FromJSON(m)
}

// FromJSON builds an expression from its generic object form. Besides the
// node types written by ToJSON it accepts the shorthands "sub" and "div"
// (fields "left" and "right") and "neg" and "inv" (field "arg"), which are
// desugared on the way in. Numbers may be given as JSON numbers, YAML
// integers, or strings such as "NaN".
func FromJSON(data map[string]interface{}) (Expr, error) {
	if data == nil {
		return nil, fmt.Errorf("expression must be an object")
	}
	typAny, ok := data["type"]
	if !ok {
		return nil, fmt.Errorf("missing 'type' field")
	}
	typ, ok := typAny.(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("field 'type' must be a non-empty string")
	}

	subExpr := func(field string) (Expr, error) {
		v, ok := data[field]
		if !ok {
			return nil, fmt.Errorf("%s: missing %q", typ, field)
		}
		m, ok := asObject(v)
		if !ok {
			return nil, fmt.Errorf("%s: %q must be an object", typ, field)
		}
		e, err := FromJSON(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", typ, field, err)
		}
		return e, nil
	}

	subExprArray := func(field string) ([]Expr, error) {
		v, ok := data[field]
		if !ok {
			return nil, fmt.Errorf("%s: missing %q", typ, field)
		}
		raw, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%s: %q must be an array", typ, field)
		}
		out := make([]Expr, len(raw))
		for i, it := range raw {
			m, ok := asObject(it)
			if !ok {
				return nil, fmt.Errorf("%s: %q[%d] must be an object", typ, field, i)
			}
			e, err := FromJSON(m)
			if err != nil {
				return nil, fmt.Errorf("%s: %s[%d]: %w", typ, field, i, err)
			}
			out[i] = e
		}
		return out, nil
	}

	subString := func(field string) (string, error) {
		v, ok := data[field]
		if !ok {
			return "", fmt.Errorf("%s: missing %q", typ, field)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("%s: %q must be a non-empty string", typ, field)
		}
		return s, nil
	}

	subNumber := func(field string) (float64, error) {
		v, ok := data[field]
		if !ok {
			return 0, fmt.Errorf("%s: missing %q", typ, field)
		}
		f, ok := asFloat(v)
		if !ok {
			return 0, fmt.Errorf("%s: %q must be a number", typ, field)
		}
		return f, nil
	}

	switch typ {
	case "real":
		f, err := subNumber("value")
		if err != nil {
			return nil, err
		}
		return N(f), nil

	case "complex":
		re, err := subNumber("re")
		if err != nil {
			return nil, err
		}
		im, err := subNumber("im")
		if err != nil {
			return nil, err
		}
		return C(re, im), nil

	case "var":
		name, err := subString("name")
		if err != nil {
			return nil, err
		}
		return S(name), nil

	case "add":
		terms, err := subExprArray("terms")
		if err != nil {
			return nil, err
		}
		return AddOf(terms...), nil

	case "mul":
		factors, err := subExprArray("factors")
		if err != nil {
			return nil, err
		}
		return MulOf(factors...), nil

	case "pow":
		base, err := subExpr("base")
		if err != nil {
			return nil, err
		}
		exp, err := subExpr("exp")
		if err != nil {
			return nil, err
		}
		return PowOf(base, exp), nil

	case "func":
		name, err := subString("name")
		if err != nil {
			return nil, err
		}
		kind, ok := ParseUnaryKind(name)
		if !ok {
			return nil, fmt.Errorf("func: unknown function %q", name)
		}
		arg, err := subExpr("arg")
		if err != nil {
			return nil, err
		}
		return UnaryOf(kind, arg), nil

	case "call":
		name, err := subString("name")
		if err != nil {
			return nil, err
		}
		args, err := subExprArray("args")
		if err != nil {
			return nil, err
		}
		return CallOf(name, args...), nil

	case "sub", "div":
		left, err := subExpr("left")
		if err != nil {
			return nil, err
		}
		right, err := subExpr("right")
		if err != nil {
			return nil, err
		}
		if typ == "sub" {
			return Sub(left, right), nil
		}
		return Div(left, right), nil

	case "neg", "inv":
		arg, err := subExpr("arg")
		if err != nil {
			return nil, err
		}
		if typ == "neg" {
			return Neg(arg), nil
		}
		return Inv(arg), nil
	}
	return nil, fmt.Errorf("unknown expression type: %s", typ)
}

// asObject accepts the map shapes produced by encoding/json and yaml.v3.
func asObject(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// ============================================================
// Declarations
// ============================================================

// DecodeDeclarations builds a Context from a list of declaration objects:
//
//	{"let": "a", "value": <expr>}
//	{"fn": "f", "recursive": false, "params": ["x"], "body": <expr>}
//
// Declarations are applied in order over NewContext, so later ones overwrite
// earlier ones and the built-in constants. The result is not validated.
func DecodeDeclarations(decls []interface{}) (*Context, error) {
	c := NewContext()
	for i, d := range decls {
		m, ok := asObject(d)
		if !ok {
			return nil, fmt.Errorf("declaration %d: must be an object", i)
		}
		if err := decodeDeclaration(c, m); err != nil {
			return nil, fmt.Errorf("declaration %d: %w", i, err)
		}
	}
	return c, nil
}

func decodeDeclaration(c *Context, m map[string]interface{}) error {
	if v, ok := m["let"]; ok {
		name, ok := v.(string)
		if !ok || name == "" {
			return fmt.Errorf("'let' must be a non-empty string")
		}
		val, ok := asObject(m["value"])
		if !ok {
			return fmt.Errorf("let %s: 'value' must be an expression object", name)
		}
		e, err := FromJSON(val)
		if err != nil {
			return fmt.Errorf("let %s: %w", name, err)
		}
		c.DefVar(name, e)
		return nil
	}
	if v, ok := m["fn"]; ok {
		name, ok := v.(string)
		if !ok || name == "" {
			return fmt.Errorf("'fn' must be a non-empty string")
		}
		recursive := false
		if r, ok := m["recursive"]; ok {
			if recursive, ok = r.(bool); !ok {
				return fmt.Errorf("fn %s: 'recursive' must be a boolean", name)
			}
		}
		var params []string
		if p, ok := m["params"]; ok {
			raw, ok := p.([]interface{})
			if !ok {
				return fmt.Errorf("fn %s: 'params' must be an array", name)
			}
			for j, it := range raw {
				s, ok := it.(string)
				if !ok || s == "" {
					return fmt.Errorf("fn %s: params[%d] must be a non-empty string", name, j)
				}
				params = append(params, s)
			}
		}
		body, ok := asObject(m["body"])
		if !ok {
			return fmt.Errorf("fn %s: 'body' must be an expression object", name)
		}
		e, err := FromJSON(body)
		if err != nil {
			return fmt.Errorf("fn %s: %w", name, err)
		}
		c.DefFunc(name, recursive, params, e)
		return nil
	}
	return fmt.Errorf("expected a 'let' or 'fn' key")
}

// EncodeDeclarations is the inverse of DecodeDeclarations. Variables come
// first, then functions, each sorted by name.
func EncodeDeclarations(c *Context) []interface{} {
	var out []interface{}
	for _, name := range c.VarNames() {
		out = append(out, map[string]interface{}{"let": name, "value": c.vars[name].toJSON()})
	}
	for _, name := range c.FuncNames() {
		f := c.funcs[name]
		params := make([]interface{}, len(f.Params))
		for i, p := range f.Params {
			params[i] = p
		}
		out = append(out, map[string]interface{}{
			"fn":        name,
			"recursive": f.Recursive,
			"params":    params,
			"body":      f.Body.toJSON(),
		})
	}
	return out
}
