package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mistakepatch/api/internal/app"
	"mistakepatch/api/internal/handle"
	"mistakepatch/api/internal/queue"
)

const localQueueSize = 64

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()

	var q queue.Queue
	if c.cfg.Redis.Enabled {
		rq, err := queue.NewRedis(ctx, c.cfg.Redis.URL, c.cfg.Redis.QueueKey, c.log)
		if err != nil {
			return err
		}
		defer rq.Close()
		q = rq
	} else {
		lq := queue.NewLocal(localQueueSize, c.cfg.Grading.Workers, a.HandleJob, c.log)
		lq.Start(ctx)
		defer func() {
			stop()
			lq.Wait()
		}()
		q = lq
	}

	h := handle.New(a.Repo, a.Proc, handle.Options{
		Queue:    q,
		Uploads:  &handle.Uploads{Dir: c.cfg.Storage.UploadDir, MaxBytes: c.cfg.Storage.MaxUploadBytes()},
		OCRHints: c.cfg.Grading.EnableOCRHints,
		Log:      c.log,
	})
	mux := http.NewServeMux()
	h.Routes(mux)

	srv := &http.Server{
		Addr:              ":" + c.cfg.HTTP.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.log.Info("mistakepatch api listening", "addr", srv.Addr, "queue_mode", q.Mode())
	return listen(ctx, srv, c.log)
}

// listen serves until ctx is done, then drains for up to 10s.
func listen(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
