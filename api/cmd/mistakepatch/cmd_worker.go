package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mistakepatch/api/internal/app"
	"mistakepatch/api/internal/metrics"
	"mistakepatch/api/internal/queue"
)

func (c *cli) runWorker(cmd *cobra.Command, _ []string) error {
	if !c.cfg.Redis.Enabled {
		return errors.New("worker needs redis.enabled and redis.url; serve runs jobs in-process otherwise")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()

	rq, err := queue.NewRedis(ctx, c.cfg.Redis.URL, c.cfg.Redis.QueueKey, c.log)
	if err != nil {
		return err
	}
	defer rq.Close()

	// Health and metrics only; jobs arrive through Redis.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{Addr: ":" + c.cfg.HTTP.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := listen(ctx, srv, c.log); err != nil {
			c.log.Error("worker health server", "err", err)
		}
	}()

	c.log.Info("worker consuming", "queue", c.cfg.Redis.QueueKey, "workers", c.cfg.Grading.Workers)
	errCh := make(chan error, c.cfg.Grading.Workers)
	for range c.cfg.Grading.Workers {
		go func() { errCh <- rq.Consume(ctx, a.HandleJob) }()
	}
	var errs []error
	for range c.cfg.Grading.Workers {
		if err := <-errCh; err != nil && !errors.Is(err, ctx.Err()) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
