package goexpr_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	goexpr "github.com/njchilds90/goexpr"
)

// ============================================================
// JSON tests
// ============================================================

func TestToJSON_Shape(t *testing.T) {
	s, err := goexpr.ToJSON(goexpr.AddOf(goexpr.N(1), goexpr.SinOf(x)))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "add",
		"terms": [
			{"type": "real", "value": 1},
			{"type": "func", "name": "sin", "arg": {"type": "var", "name": "x"}}
		]
	}`, s)
}

func TestToJSON_NonFinite(t *testing.T) {
	s, err := goexpr.ToJSON(goexpr.C(math.NaN(), math.Inf(-1)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "complex", "re": "NaN", "im": "-Inf"}`, s)

	back, err := goexpr.ParseJSON([]byte(s))
	require.NoError(t, err)
	z := goexpr.MustConst(back).Complex128()
	assert.True(t, math.IsNaN(real(z)))
	assert.True(t, math.IsInf(imag(z), -1))
}

func TestFromJSON_RoundTrip(t *testing.T) {
	exprs := []goexpr.Expr{
		goexpr.MulOf(goexpr.N(2.5), goexpr.PowOf(x, goexpr.C(1, -1))),
		goexpr.CallOf("f", x, goexpr.AtanhOf(y)),
		goexpr.CallOf("g"),
		goexpr.Div(goexpr.Sub(x, y), goexpr.AbsOf(x)),
	}
	for _, e := range exprs {
		s, err := goexpr.ToJSON(e)
		require.NoError(t, err)
		back, err := goexpr.ParseJSON([]byte(s))
		require.NoError(t, err)
		assert.True(t, e.Equal(back), "%s decoded as %s", e, back)
	}
}

func TestFromJSON_Shorthands(t *testing.T) {
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "div",
		"left": {"type": "sub", "left": {"type": "var", "name": "x"}, "right": {"type": "real", "value": 1}},
		"right": {"type": "neg", "arg": {"type": "var", "name": "y"}}
	}`), &m))
	got, err := goexpr.FromJSON(m)
	require.NoError(t, err)
	want := goexpr.Div(goexpr.Sub(x, goexpr.N(1)), goexpr.Neg(y))
	assert.True(t, want.Equal(got), "got %s", got)
}

func TestFromJSON_Errors(t *testing.T) {
	tests := []struct {
		doc  string
		want string
	}{
		{`{}`, "missing 'type' field"},
		{`{"type": "nope"}`, "unknown expression type: nope"},
		{`{"type": "real"}`, `real: missing "value"`},
		{`{"type": "real", "value": true}`, `real: "value" must be a number`},
		{`{"type": "func", "name": "sec", "arg": {"type": "real", "value": 1}}`, `func: unknown function "sec"`},
		{`{"type": "add", "terms": [{"type": "var"}]}`, `add: terms[0]: var: missing "name"`},
		{`{"type": "pow", "base": 1, "exp": 2}`, `pow: "base" must be an object`},
	}
	for _, tt := range tests {
		_, err := goexpr.ParseJSON([]byte(tt.doc))
		if assert.Error(t, err, tt.doc) {
			assert.Equal(t, tt.want, err.Error())
		}
	}
}

const declarationsYAML = `
- let: k
  value: {type: real, value: 3}
- fn: f
  params: [t]
  body:
    type: mul
    factors:
      - {type: var, name: k}
      - {type: var, name: t}
- fn: g
  recursive: true
  params: [m]
  body: {type: call, name: g, args: [{type: var, name: m}]}
- let: area
  value: {type: call, name: f, args: [{type: var, name: x}]}
`

func TestDecodeDeclarations_YAML(t *testing.T) {
	var decls []interface{}
	require.NoError(t, yaml.Unmarshal([]byte(declarationsYAML), &decls))
	c, err := goexpr.DecodeDeclarations(decls)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, []string{"area", "e", "i", "k", "pi"}, c.VarNames())
	assert.Equal(t, []string{"f", "g"}, c.FuncNames())
	g, _ := c.Func("g")
	assert.True(t, g.Recursive)

	got, _, err := goexpr.SimplifyVar(c, "area", "x")
	require.NoError(t, err)
	assert.Equal(t, "3*x", got.String())
}

func TestDecodeDeclarations_Errors(t *testing.T) {
	tests := []struct {
		decl interface{}
		want string
	}{
		{"a", "declaration 0: must be an object"},
		{map[string]interface{}{"value": 1}, "declaration 0: expected a 'let' or 'fn' key"},
		{map[string]interface{}{"let": "a"}, "declaration 0: let a: 'value' must be an expression object"},
		{map[string]interface{}{"fn": "f", "recursive": "yes", "body": map[string]interface{}{"type": "real", "value": 1}}, "declaration 0: fn f: 'recursive' must be a boolean"},
		{map[string]interface{}{"fn": "f", "params": []interface{}{1}}, "declaration 0: fn f: params[0] must be a non-empty string"},
	}
	for _, tt := range tests {
		_, err := goexpr.DecodeDeclarations([]interface{}{tt.decl})
		if assert.Error(t, err) {
			assert.Equal(t, tt.want, err.Error())
		}
	}
}

func TestEncodeDeclarations_RoundTrip(t *testing.T) {
	c := goexpr.NewContext().
		DefVar("a", goexpr.AddOf(x, goexpr.N(1))).
		DefFunc("f", true, []string{"n"}, goexpr.CallOf("f", goexpr.S("n")))

	data, err := json.Marshal(goexpr.EncodeDeclarations(c))
	require.NoError(t, err)
	var decls []interface{}
	require.NoError(t, json.Unmarshal(data, &decls))
	back, err := goexpr.DecodeDeclarations(decls)
	require.NoError(t, err)

	assert.Equal(t, c.VarNames(), back.VarNames())
	a, _ := back.Var("a")
	assert.Equal(t, "x + 1", a.String())
	f, _ := back.Func("f")
	assert.Equal(t, "fn (recursive) f(n) = f(n)", f.String())
}
