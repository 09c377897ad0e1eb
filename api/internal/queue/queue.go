// Package queue dispatches grading jobs to workers, through Redis when
// configured and an in-process channel otherwise.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"mistakepatch/api/internal/pipeline"
)

var ErrFull = errors.New("queue: full")

// Handler processes one job. Its error is logged, never retried.
type Handler func(ctx context.Context, job pipeline.Job) error

type Queue interface {
	Enqueue(ctx context.Context, job pipeline.Job) error
	Mode() string // "redis" | "background"
}

// Local runs jobs on a fixed pool of goroutines fed by a buffered channel.
type Local struct {
	jobs    chan pipeline.Job
	handler Handler
	log     *slog.Logger
	workers int
	wg      sync.WaitGroup
}

func NewLocal(size, workers int, h Handler, log *slog.Logger) *Local {
	if log == nil {
		log = slog.Default()
	}
	return &Local{
		jobs:    make(chan pipeline.Job, max(size, 1)),
		handler: h,
		log:     log,
		workers: max(workers, 1),
	}
}

func (l *Local) Mode() string { return "background" }

// Enqueue never blocks; a full buffer is reported as ErrFull.
func (l *Local) Enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case l.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

// Start launches the workers; they exit when ctx is done. Wait blocks until they have.
func (l *Local) Start(ctx context.Context) {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-l.jobs:
					run(ctx, l.handler, job, l.log.With("worker", i))
				}
			}
		}()
	}
}

func (l *Local) Wait() { l.wg.Wait() }

func run(ctx context.Context, h Handler, job pipeline.Job, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "analysis_id", job.AnalysisID, "panic", r)
		}
	}()
	if err := h(ctx, job); err != nil {
		log.Error("job failed", "analysis_id", job.AnalysisID, "err", err)
	}
}
