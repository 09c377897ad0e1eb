package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mistakepatch/api/internal/grading"
)

// Run is the outcome of one consensus run. Exactly one of Raw and Err is set.
type Run struct {
	Index    int
	Raw      []byte
	Err      error
	Duration time.Duration
}

// Runner fans one request out into n independent generations.
type Runner struct {
	Engine  Engine
	Limiter *rate.Limiter // nil = unlimited
	Log     *slog.Logger
}

func NewRunner(engine Engine, rps float64, log *slog.Logger) *Runner {
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return &Runner{Engine: engine, Limiter: lim, Log: log}
}

// Generate issues n runs in parallel. A failed run never cancels its siblings;
// failures come back as Run.Err classified as ProviderRequestFailed.
// Results are indexed by run, not by completion order.
func (r *Runner) Generate(ctx context.Context, req Request, n int) []Run {
	n = max(n, 1)
	runs := make([]Run, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			start := time.Now()
			raw, err := r.once(ctx, req)
			runs[i] = Run{Index: i, Raw: raw, Err: err, Duration: time.Since(start)}
			if err != nil && r.Log != nil {
				r.Log.Warn("generation run failed", "run", i, "engine", r.Engine.Name(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func (r *Runner) once(ctx context.Context, req Request) ([]byte, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return nil, grading.Wrap(grading.KindProviderRequestFailed, err, "rate limiter")
		}
	}
	raw, err := r.Engine.Generate(ctx, req)
	if err != nil {
		return nil, grading.Wrap(grading.KindProviderRequestFailed, err, r.Engine.Name())
	}
	if len(raw) == 0 {
		return nil, grading.Errorf(grading.KindProviderRequestFailed, "%s: empty response", r.Engine.Name())
	}
	return raw, nil
}
