package goexpr

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
)

// ============================================================
// Term — leaf value
// ============================================================

// TermKind identifies the variant held by a Term.
type TermKind uint8

const (
	KindReal TermKind = iota
	KindComplex
	KindVariable
)

func (k TermKind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindComplex:
		return "complex"
	case KindVariable:
		return "variable"
	}
	return "TermKind(" + strconv.Itoa(int(k)) + ")"
}

// Term is a real number, a complex number or a named variable. Terms are
// plain values and safe to copy.
type Term struct {
	kind TermKind
	z    complex128
	name string
}

func Real(f float64) Term             { return Term{kind: KindReal, z: complex(f, 0)} }
func Complex(re, im float64) Term     { return Term{kind: KindComplex, z: complex(re, im)} }
func ComplexOf(z complex128) Term     { return Term{kind: KindComplex, z: z} }
func Variable(name string) Term       { return Term{kind: KindVariable, name: name} }
func (t Term) Kind() TermKind         { return t.kind }
func (t Term) IsConst() bool          { return t.kind != KindVariable }
func (t Term) IsVariable() bool       { return t.kind == KindVariable }
func (t Term) Name() string           { return t.name }
func (t Term) Float64() float64       { return real(t.z) }
func (t Term) Complex128() complex128 { return t.z }

// MustConst returns t unchanged, panicking if it is a Variable.
func (t Term) MustConst() Term {
	if t.kind == KindVariable {
		panic(fmt.Sprintf("goexpr: variable %q is not a constant", t.name))
	}
	return t
}

func (t Term) IsZero() bool {
	return t.IsConst() && t.z == 0
}

func (t Term) IsOne() bool {
	return t.IsConst() && t.z == 1
}

func (t Term) IsNegOne() bool {
	return t.IsConst() && t.z == -1
}

// Equal compares numbers with real to complex promotion and variables by name.
func (t Term) Equal(o Term) bool {
	if t.IsVariable() || o.IsVariable() {
		return t.IsVariable() && o.IsVariable() && t.name == o.name
	}
	if t.kind == KindReal && o.kind == KindReal {
		return real(t.z) == real(o.z)
	}
	return t.z == o.z
}

func (t Term) String() string {
	switch t.kind {
	case KindReal:
		return formatFloat(real(t.z))
	case KindComplex:
		re, im := real(t.z), imag(t.z)
		if re == 0 && !math.Signbit(re) {
			return formatFloat(im) + "i"
		}
		// FormatFloat already signs negative values and +Inf.
		if math.Signbit(im) || math.IsInf(im, 1) {
			return formatFloat(re) + formatFloat(im) + "i"
		}
		return formatFloat(re) + "+" + formatFloat(im) + "i"
	case KindVariable:
		return t.name
	}
	panic("goexpr: unknown term kind " + t.kind.String())
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// ============================================================
// Term arithmetic
// ============================================================

func bothReal(a, b Term) bool { return a.kind == KindReal && b.kind == KindReal }

func (t Term) Add(o Term) Term {
	t.MustConst()
	o.MustConst()
	if bothReal(t, o) {
		return Real(real(t.z) + real(o.z))
	}
	return ComplexOf(t.z + o.z)
}

func (t Term) Mul(o Term) Term {
	t.MustConst()
	o.MustConst()
	if bothReal(t, o) {
		return Real(real(t.z) * real(o.z))
	}
	return ComplexOf(t.z * o.z)
}

// Pow raises t to o. Two reals use math.Pow, so a negative base with a
// fractional exponent yields NaN; otherwise the principal complex branch.
func (t Term) Pow(o Term) Term {
	t.MustConst()
	o.MustConst()
	if bothReal(t, o) {
		return Real(math.Pow(real(t.z), real(o.z)))
	}
	return ComplexOf(cmplx.Pow(t.z, o.z))
}

// Apply evaluates the unary function k on a constant term.
func (t Term) Apply(k UnaryKind) Term {
	t.MustConst()
	if t.kind == KindReal {
		return Real(applyReal(k, real(t.z)))
	}
	if k == OpAbs {
		return Real(cmplx.Abs(t.z))
	}
	return ComplexOf(applyComplex(k, t.z))
}

func applyReal(k UnaryKind, v float64) float64 {
	switch k {
	case OpNeg:
		return -v
	case OpInv:
		return 1 / v
	case OpAbs:
		return math.Abs(v)
	case OpLn:
		return math.Log(v)
	case OpSin:
		return math.Sin(v)
	case OpCos:
		return math.Cos(v)
	case OpTan:
		return math.Tan(v)
	case OpSinh:
		return math.Sinh(v)
	case OpCosh:
		return math.Cosh(v)
	case OpTanh:
		return math.Tanh(v)
	case OpAsin:
		return math.Asin(v)
	case OpAcos:
		return math.Acos(v)
	case OpAtan:
		return math.Atan(v)
	case OpAsinh:
		return math.Asinh(v)
	case OpAcosh:
		return math.Acosh(v)
	case OpAtanh:
		return math.Atanh(v)
	}
	panic("goexpr: unknown unary kind " + k.String())
}

func applyComplex(k UnaryKind, z complex128) complex128 {
	switch k {
	case OpNeg:
		return -z
	case OpInv:
		return 1 / z
	case OpAbs:
		return complex(cmplx.Abs(z), 0)
	case OpLn:
		return cmplx.Log(z)
	case OpSin:
		return cmplx.Sin(z)
	case OpCos:
		return cmplx.Cos(z)
	case OpTan:
		return cmplx.Tan(z)
	case OpSinh:
		return cmplx.Sinh(z)
	case OpCosh:
		return cmplx.Cosh(z)
	case OpTanh:
		return cmplx.Tanh(z)
	case OpAsin:
		return cmplx.Asin(z)
	case OpAcos:
		return cmplx.Acos(z)
	case OpAtan:
		return cmplx.Atan(z)
	case OpAsinh:
		return cmplx.Asinh(z)
	case OpAcosh:
		return cmplx.Acosh(z)
	case OpAtanh:
		return cmplx.Atanh(z)
	}
	panic("goexpr: unknown unary kind " + k.String())
}
