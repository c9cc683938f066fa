package goexpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Sampler
// ============================================================

// ErrInvalidRange is returned for a sweep with no steps, a non-finite bound,
// or more points than the Sampler allows.
var ErrInvalidRange = errors.New("goexpr: invalid sample range")

// DefaultMaxPoints bounds the number of points one sampling run may produce.
const DefaultMaxPoints = 1 << 20

var (
	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goexpr",
		Name:      "samples_total",
		Help:      "Sample points evaluated, by outcome.",
	}, []string{"outcome"})

	sampleRunSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "goexpr",
		Name:      "sample_run_duration_seconds",
		Help:      "Wall time of a complete sampling run.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"dimension"})

	simplifyCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goexpr",
		Name:      "simplify_cache_total",
		Help:      "Lookups of simplified sampling targets, by result.",
	}, []string{"result"})
)

var tracer = otel.Tracer("github.com/njchilds90/goexpr")

// Range is a closed interval swept in equal steps.
type Range struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// At returns the k-th of steps+1 evenly spaced points; At(0) is Start and
// At(steps) is End up to rounding.
func (r Range) At(k, steps int) float64 {
	return r.Start + float64(k)*(r.End-r.Start)/float64(steps)
}

func (r Range) check(steps int) error {
	if steps < 1 {
		return fmt.Errorf("%w: steps must be at least 1, got %d", ErrInvalidRange, steps)
	}
	if math.IsNaN(r.Start) || math.IsInf(r.Start, 0) || math.IsNaN(r.End) || math.IsInf(r.End, 0) {
		return fmt.Errorf("%w: bounds must be finite, got [%g, %g]", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// pointCount returns the number of points of a sweep taking steps+1 values
// along each dimension. Counts that overflow int or exceed limit are
// rejected before anything is allocated.
func pointCount(limit int, steps ...int) (int, error) {
	n := 1
	for _, st := range steps {
		if st >= math.MaxInt || n > math.MaxInt/(st+1) {
			return 0, fmt.Errorf("%w: %d steps overflow the point count", ErrInvalidRange, st)
		}
		n *= st + 1
	}
	if n > limit {
		return 0, fmt.Errorf("%w: %d points exceed the limit of %d", ErrInvalidRange, n, limit)
	}
	return n, nil
}

// Sample1D is one point of a one-dimensional sweep. OK is false when the
// target could not be reduced to a constant; Err is set when the point ran
// out of evaluation budget.
type Sample1D struct {
	X     float64
	Value Term
	OK    bool
	Err   error
}

// Sample2D is one point of a grid sweep.
type Sample2D struct {
	X, Y  float64
	Value Term
	OK    bool
	Err   error
}

// IndexRange is the half-open range [Lo, Hi) of sample indices handled by one
// worker.
type IndexRange struct {
	Lo, Hi int
}

func (r IndexRange) Len() int { return r.Hi - r.Lo }

// Partition splits n indices into at most parts contiguous ranges whose
// lengths differ by at most one. Earlier ranges get the extra index.
func Partition(n, parts int) []IndexRange {
	if n <= 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	size, rem := n/parts, n%parts
	out := make([]IndexRange, parts)
	lo := 0
	for i := range out {
		hi := lo + size
		if i < rem {
			hi++
		}
		out[i] = IndexRange{Lo: lo, Hi: hi}
		lo = hi
	}
	return out
}

// Sampler evaluates a target variable over a sweep of one or two free
// variables. It takes a private clone of the Context at construction and is
// safe for concurrent use.
type Sampler struct {
	base       *Context
	simplifier *Simplifier
	evaluator  *Evaluator
	workers    int
	timeout    time.Duration
	maxPoints  int
	cacheSize  int
	cache      *lru.ARCCache
	logger     *slog.Logger
}

type SamplerOption func(*Sampler)

// WithWorkers sets how many partitions the outer sweep is split into.
func WithWorkers(n int) SamplerOption {
	return func(s *Sampler) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithEvaluator(ev *Evaluator) SamplerOption {
	return func(s *Sampler) {
		if ev != nil {
			s.evaluator = ev
		}
	}
}

func WithSimplifier(sm *Simplifier) SamplerOption {
	return func(s *Sampler) {
		if sm != nil {
			s.simplifier = sm
		}
	}
}

// WithCacheSize bounds the number of simplified targets kept.
func WithCacheSize(n int) SamplerOption {
	return func(s *Sampler) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// WithMaxPoints bounds the number of points a single run may produce.
func WithMaxPoints(n int) SamplerOption {
	return func(s *Sampler) {
		if n > 0 {
			s.maxPoints = n
		}
	}
}

// WithTimeout bounds each sampling run. Zero disables the bound.
func WithTimeout(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// NewSampler validates c and returns a Sampler over a private copy of it.
// Later changes to c are not seen by the Sampler.
func NewSampler(c *Context, opts ...SamplerOption) (*Sampler, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s := &Sampler{
		base:       c.Clone(),
		simplifier: defaultSimplifier,
		evaluator:  defaultEvaluator,
		workers:    1,
		maxPoints:  DefaultMaxPoints,
		cacheSize:  DefaultConfig().CacheSize,
		logger:     discardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	cache, err := lru.NewARC(s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating simplify cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Context returns a copy of the declarations the Sampler works on.
func (s *Sampler) Context() *Context { return s.base.Clone() }

type cacheKey struct {
	target string
	free   string
	gen    uint64
}

// simplified returns the target simplified with the given names left free.
func (s *Sampler) simplified(target string, free ...string) (Expr, error) {
	key := cacheKey{target: target, free: strings.Join(free, ","), gen: s.base.Generation()}
	if v, ok := s.cache.Get(key); ok {
		simplifyCacheTotal.WithLabelValues("hit").Inc()
		return v.(Expr), nil
	}
	simplifyCacheTotal.WithLabelValues("miss").Inc()
	e, _, err := s.simplifier.SimplifyVar(s.base, target, free...)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, e)
	return e, nil
}

func (s *Sampler) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, context.CancelFunc, trace.Span) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		return ctx, cancel, span
	}
	return ctx, func() {}, span
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// outcomes tallies sample outcomes locally so a worker touches the metrics
// once.
type outcomes struct{ ok, unresolved, budget int }

func (o *outcomes) record(ok bool, err error) {
	switch {
	case err != nil:
		o.budget++
	case ok:
		o.ok++
	default:
		o.unresolved++
	}
}

func (o *outcomes) flush() {
	samplesTotal.WithLabelValues("ok").Add(float64(o.ok))
	samplesTotal.WithLabelValues("unresolved").Add(float64(o.unresolved))
	samplesTotal.WithLabelValues("budget_exceeded").Add(float64(o.budget))
}

// pointError separates budget failures, which are recorded on the sample,
// from cancellation, which aborts the run.
func pointError(err error) (pointErr, abort error) {
	if err == nil || errors.Is(err, ErrBudgetExceeded) {
		return err, nil
	}
	return nil, err
}

// Sample1D evaluates target at steps+1 evenly spaced values of sweep over r.
// The points are split across the configured workers; each worker binds the
// sweep variable in its own clone of the Context. The result is ordered by x
// and does not depend on the number of workers.
func (s *Sampler) Sample1D(ctx context.Context, target, sweep string, r Range, steps int) (out []Sample1D, err error) {
	ctx, cancel, span := s.start(ctx, "goexpr.Sampler.Sample1D",
		attribute.String("target", target),
		attribute.String("sweep", sweep),
		attribute.Int("steps", steps),
		attribute.Int("workers", s.workers))
	defer cancel()
	defer func() { finish(span, err) }()
	defer func(start time.Time) {
		sampleRunSeconds.WithLabelValues("1d").Observe(time.Since(start).Seconds())
	}(time.Now())

	if err := r.check(steps); err != nil {
		return nil, err
	}
	n, err := pointCount(s.maxPoints, steps)
	if err != nil {
		return nil, err
	}
	e, err := s.simplified(target, sweep)
	if err != nil {
		return nil, err
	}
	parts := Partition(n, s.workers)
	s.logger.Debug("sampling",
		slog.String("target", target),
		slog.String("sweep", sweep),
		slog.Int("points", n),
		slog.Int("partitions", len(parts)),
		slog.Any("expr", exprValue{e}))

	results := make([][]Sample1D, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		local := s.base.Clone()
		g.Go(func() error {
			var tally outcomes
			defer tally.flush()
			chunk := make([]Sample1D, 0, part.Len())
			for k := part.Lo; k < part.Hi; k++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				x := r.At(k, steps)
				local.vars[sweep] = T(Real(x))
				t, ok, err := s.evaluator.Evaluate(gctx, e, local)
				pointErr, err := pointError(err)
				if err != nil {
					return err
				}
				tally.record(ok, pointErr)
				chunk = append(chunk, Sample1D{X: x, Value: t, OK: ok, Err: pointErr})
			}
			results[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sampling %q: %w", target, err)
	}
	out = make([]Sample1D, 0, n)
	for _, chunk := range results {
		out = append(out, chunk...)
	}
	return out, nil
}

// Sample2D evaluates target over the grid spanned by x in xr and y in yr,
// row by row in x. Rows are split across workers; each row binds x in a
// private Context, simplifies once more with only y free, then sweeps y.
func (s *Sampler) Sample2D(ctx context.Context, target string, xr Range, xSteps int, yr Range, ySteps int) (out []Sample2D, err error) {
	ctx, cancel, span := s.start(ctx, "goexpr.Sampler.Sample2D",
		attribute.String("target", target),
		attribute.Int("x_steps", xSteps),
		attribute.Int("y_steps", ySteps),
		attribute.Int("workers", s.workers))
	defer cancel()
	defer func() { finish(span, err) }()
	defer func(start time.Time) {
		sampleRunSeconds.WithLabelValues("2d").Observe(time.Since(start).Seconds())
	}(time.Now())

	if err := xr.check(xSteps); err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	if err := yr.check(ySteps); err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}
	n, err := pointCount(s.maxPoints, xSteps, ySteps)
	if err != nil {
		return nil, err
	}
	e, err := s.simplified(target, "x", "y")
	if err != nil {
		return nil, err
	}
	parts := Partition(xSteps+1, s.workers)
	s.logger.Debug("sampling grid",
		slog.String("target", target),
		slog.Int("points", n),
		slog.Int("partitions", len(parts)),
		slog.Any("expr", exprValue{e}))

	results := make([][]Sample2D, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		local := s.base.Clone()
		g.Go(func() error {
			var tally outcomes
			defer tally.flush()
			chunk := make([]Sample2D, 0, part.Len()*(ySteps+1))
			for k := part.Lo; k < part.Hi; k++ {
				x := xr.At(k, xSteps)
				local.vars["x"] = T(Real(x))
				row, _, err := s.simplifier.Simplify(e, local, "y")
				if err != nil {
					return err
				}
				for j := 0; j <= ySteps; j++ {
					if err := gctx.Err(); err != nil {
						return err
					}
					y := yr.At(j, ySteps)
					local.vars["y"] = T(Real(y))
					t, ok, err := s.evaluator.Evaluate(gctx, row, local)
					pointErr, err := pointError(err)
					if err != nil {
						return err
					}
					tally.record(ok, pointErr)
					chunk = append(chunk, Sample2D{X: x, Y: y, Value: t, OK: ok, Err: pointErr})
				}
			}
			results[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sampling %q: %w", target, err)
	}
	out = make([]Sample2D, 0, n)
	for _, chunk := range results {
		out = append(out, chunk...)
	}
	return out, nil
}
