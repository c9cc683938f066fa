package goexpr_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goexpr "github.com/njchilds90/goexpr"
)

// ============================================================
// Sampler tests
// ============================================================

var termCmp = cmp.AllowUnexported(goexpr.Term{})

func TestSampler_Identity1D(t *testing.T) {
	c := goexpr.NewContext().DefVar("y", x)
	s, err := goexpr.NewSampler(c)
	require.NoError(t, err)

	got, err := s.Sample1D(context.Background(), "y", "x", goexpr.Range{Start: -1, End: 1}, 2)
	require.NoError(t, err)
	want := []goexpr.Sample1D{
		{X: -1, Value: goexpr.Real(-1), OK: true},
		{X: 0, Value: goexpr.Real(0), OK: true},
		{X: 1, Value: goexpr.Real(1), OK: true},
	}
	if diff := cmp.Diff(want, got, termCmp); diff != "" {
		t.Errorf("Sample1D mismatch (-want +got):\n%s", diff)
	}
}

func TestSampler_PartitionInvariant(t *testing.T) {
	c := goexpr.NewContext().
		DefVar("k", goexpr.N(2)).
		DefVar("y", goexpr.AddOf(goexpr.MulOf(goexpr.S("k"), x, x), goexpr.SinOf(x)))
	r := goexpr.Range{Start: -3, End: 3}

	serial, err := goexpr.NewSampler(c, goexpr.WithWorkers(1))
	require.NoError(t, err)
	parallel, err := goexpr.NewSampler(c, goexpr.WithWorkers(3))
	require.NoError(t, err)

	want, err := serial.Sample1D(context.Background(), "y", "x", r, 6)
	require.NoError(t, err)
	got, err := parallel.Sample1D(context.Background(), "y", "x", r, 6)
	require.NoError(t, err)
	require.Len(t, got, 7)
	if diff := cmp.Diff(want, got, termCmp); diff != "" {
		t.Errorf("partitioned sweep differs (-serial +parallel):\n%s", diff)
	}
	for k, p := range got {
		assert.Equal(t, float64(k-3), p.X)
	}
}

func TestSampler_MoreWorkersThanPoints(t *testing.T) {
	c := goexpr.NewContext().DefVar("y", goexpr.MulOf(goexpr.N(2), x))
	s, err := goexpr.NewSampler(c, goexpr.WithWorkers(16))
	require.NoError(t, err)
	got, err := s.Sample1D(context.Background(), "y", "x", goexpr.Range{Start: 0, End: 1}, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].Value.Float64())
	assert.Equal(t, 2.0, got[1].Value.Float64())
}

func TestSampler_CustomSweepVariable(t *testing.T) {
	tv := goexpr.S("t")
	c := goexpr.NewContext().DefVar("y", goexpr.AddOf(tv, goexpr.N(10)))
	s, err := goexpr.NewSampler(c)
	require.NoError(t, err)
	got, err := s.Sample1D(context.Background(), "y", "t", goexpr.Range{Start: 0, End: 4}, 4)
	require.NoError(t, err)
	for k, p := range got {
		assert.Equal(t, float64(k), p.X)
		assert.Equal(t, float64(k+10), p.Value.Float64())
	}
}

func TestSampler_Unresolved(t *testing.T) {
	c := goexpr.NewContext().DefVar("out", y)
	s, err := goexpr.NewSampler(c)
	require.NoError(t, err)
	got, err := s.Sample1D(context.Background(), "out", "x", goexpr.Range{Start: 0, End: 1}, 2)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, p := range got {
		assert.False(t, p.OK)
		assert.NoError(t, p.Err)
	}
}

func TestSampler_RecursiveFunctionPerPointBudget(t *testing.T) {
	n := goexpr.S("n")
	c := goexpr.NewContext().
		DefFunc("g", true, []string{"n"}, goexpr.CallOf("g", n)).
		DefVar("y", goexpr.CallOf("g", x))
	s, err := goexpr.NewSampler(c, goexpr.WithEvaluator(&goexpr.Evaluator{MaxDepth: 20, MaxSteps: 1000}))
	require.NoError(t, err)
	got, err := s.Sample1D(context.Background(), "y", "x", goexpr.Range{Start: 0, End: 1}, 1)
	require.NoError(t, err)
	for _, p := range got {
		assert.False(t, p.OK)
		assert.True(t, errors.Is(p.Err, goexpr.ErrBudgetExceeded))
	}
}

func TestSampler_RejectsInvalidContext(t *testing.T) {
	c := goexpr.NewContext().DefVar("a", goexpr.AddOf(goexpr.S("a"), goexpr.N(1)))
	_, err := goexpr.NewSampler(c)
	var verr *goexpr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{`variable "a" is defined in terms of itself; variables cannot be recursive`}, verr.Violations)
}

func TestSampler_InvalidRange(t *testing.T) {
	s, err := goexpr.NewSampler(goexpr.NewContext().DefVar("y", x))
	require.NoError(t, err)
	_, err = s.Sample1D(context.Background(), "y", "x", goexpr.Range{Start: 0, End: 1}, 0)
	assert.ErrorIs(t, err, goexpr.ErrInvalidRange)
	_, err = s.Sample2D(context.Background(), "y", goexpr.Range{Start: 0, End: 1}, 1, goexpr.Range{Start: 0, End: 1}, -1)
	assert.ErrorIs(t, err, goexpr.ErrInvalidRange)
}

func TestSampler_RejectsOversizedSweeps(t *testing.T) {
	c := goexpr.NewContext().DefVar("y", x).DefVar("z", goexpr.AddOf(x, y))
	s, err := goexpr.NewSampler(c, goexpr.WithWorkers(2), goexpr.WithMaxPoints(100))
	require.NoError(t, err)
	ctx, r := context.Background(), goexpr.Range{Start: 0, End: 1}

	tests := []struct {
		name string
		run  func() error
	}{
		{"1d overflow", func() error {
			_, err := s.Sample1D(ctx, "y", "x", r, math.MaxInt)
			return err
		}},
		{"1d over limit", func() error {
			_, err := s.Sample1D(ctx, "y", "x", r, 100)
			return err
		}},
		{"2d overflow", func() error {
			_, err := s.Sample2D(ctx, "z", r, math.MaxInt/2, r, 3)
			return err
		}},
		{"2d x overflow", func() error {
			_, err := s.Sample2D(ctx, "z", r, math.MaxInt, r, 1)
			return err
		}},
		{"2d over limit", func() error {
			_, err := s.Sample2D(ctx, "z", r, 10, r, 9)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), goexpr.ErrInvalidRange)
		})
	}

	got, err := s.Sample1D(ctx, "y", "x", r, 99)
	require.NoError(t, err)
	assert.Len(t, got, 100)
	grid, err := s.Sample2D(ctx, "z", r, 9, r, 9)
	require.NoError(t, err)
	assert.Len(t, grid, 100)
}

func TestSampler_UnknownTarget(t *testing.T) {
	s, err := goexpr.NewSampler(goexpr.NewContext())
	require.NoError(t, err)
	_, err = s.Sample1D(context.Background(), "nope", "x", goexpr.Range{Start: 0, End: 1}, 1)
	assert.ErrorIs(t, err, goexpr.ErrUnknownTarget)
}

func TestSampler_Cancelled(t *testing.T) {
	s, err := goexpr.NewSampler(goexpr.NewContext().DefVar("y", x), goexpr.WithWorkers(2))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sample1D(ctx, "y", "x", goexpr.Range{Start: 0, End: 1}, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampler_Timeout(t *testing.T) {
	n := goexpr.S("n")
	c := goexpr.NewContext().
		DefFunc("g", true, []string{"n"}, goexpr.CallOf("g", n)).
		DefVar("y", goexpr.CallOf("g", x))
	s, err := goexpr.NewSampler(c,
		goexpr.WithTimeout(time.Millisecond),
		goexpr.WithEvaluator(&goexpr.Evaluator{MaxDepth: 1 << 40, MaxSteps: 1 << 40}))
	require.NoError(t, err)
	_, err = s.Sample1D(context.Background(), "y", "x", goexpr.Range{Start: 0, End: 1}, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSampler_IgnoresLaterContextChanges(t *testing.T) {
	c := goexpr.NewContext().DefVar("y", goexpr.AddOf(x, goexpr.N(1)))
	s, err := goexpr.NewSampler(c)
	require.NoError(t, err)
	c.DefVar("y", goexpr.N(99))

	got, err := s.Sample1D(context.Background(), "y", "x", goexpr.Range{Start: 0, End: 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[0].Value.Float64())
}

func TestSampler_Grid(t *testing.T) {
	c := goexpr.NewContext().DefVar("z", goexpr.AddOf(x, y))
	s, err := goexpr.NewSampler(c, goexpr.WithWorkers(2))
	require.NoError(t, err)

	got, err := s.Sample2D(context.Background(), "z",
		goexpr.Range{Start: 0, End: 1}, 1,
		goexpr.Range{Start: 0, End: 2}, 2)
	require.NoError(t, err)
	want := []goexpr.Sample2D{
		{X: 0, Y: 0, Value: goexpr.Real(0), OK: true},
		{X: 0, Y: 1, Value: goexpr.Real(1), OK: true},
		{X: 0, Y: 2, Value: goexpr.Real(2), OK: true},
		{X: 1, Y: 0, Value: goexpr.Real(1), OK: true},
		{X: 1, Y: 1, Value: goexpr.Real(2), OK: true},
		{X: 1, Y: 2, Value: goexpr.Real(3), OK: true},
	}
	if diff := cmp.Diff(want, got, termCmp); diff != "" {
		t.Errorf("Sample2D mismatch (-want +got):\n%s", diff)
	}
}

func TestSampler_GridPartitionInvariant(t *testing.T) {
	c := goexpr.NewContext().
		DefFunc("r", false, []string{"a", "b"}, goexpr.PowOf(goexpr.AddOf(goexpr.MulOf(goexpr.S("a"), goexpr.S("a")), goexpr.MulOf(goexpr.S("b"), goexpr.S("b"))), goexpr.N(0.5))).
		DefVar("z", goexpr.CosOf(goexpr.CallOf("r", x, y)))
	xr, yr := goexpr.Range{Start: -2, End: 2}, goexpr.Range{Start: -1, End: 1}

	serial, err := goexpr.NewSampler(c)
	require.NoError(t, err)
	parallel, err := goexpr.NewSampler(c, goexpr.WithWorkers(4))
	require.NoError(t, err)
	want, err := serial.Sample2D(context.Background(), "z", xr, 8, yr, 5)
	require.NoError(t, err)
	got, err := parallel.Sample2D(context.Background(), "z", xr, 8, yr, 5)
	require.NoError(t, err)
	require.Len(t, got, 9*6)
	if diff := cmp.Diff(want, got, termCmp); diff != "" {
		t.Errorf("partitioned grid differs (-serial +parallel):\n%s", diff)
	}
}

func TestPartition(t *testing.T) {
	tests := []struct {
		n, parts int
		want     []goexpr.IndexRange
	}{
		{7, 3, []goexpr.IndexRange{{Lo: 0, Hi: 3}, {Lo: 3, Hi: 5}, {Lo: 5, Hi: 7}}},
		{6, 3, []goexpr.IndexRange{{Lo: 0, Hi: 2}, {Lo: 2, Hi: 4}, {Lo: 4, Hi: 6}}},
		{2, 5, []goexpr.IndexRange{{Lo: 0, Hi: 1}, {Lo: 1, Hi: 2}}},
		{4, 0, []goexpr.IndexRange{{Lo: 0, Hi: 4}}},
		{0, 3, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, goexpr.Partition(tt.n, tt.parts), "Partition(%d, %d)", tt.n, tt.parts)
	}
}

func TestRange_At(t *testing.T) {
	r := goexpr.Range{Start: -1, End: 1}
	assert.Equal(t, -1.0, r.At(0, 4))
	assert.Equal(t, -0.5, r.At(1, 4))
	assert.Equal(t, 1.0, r.At(4, 4))
}
