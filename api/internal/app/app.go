// Package app wires config into the store, the processor and its providers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"mistakepatch/api/internal/config"
	"mistakepatch/api/internal/llm"
	"mistakepatch/api/internal/llm/gemini"
	"mistakepatch/api/internal/llm/openai"
	"mistakepatch/api/internal/ocr/yandex"
	"mistakepatch/api/internal/pipeline"
	"mistakepatch/api/internal/policy"
	"mistakepatch/api/internal/store"
)

// App is the wiring shared by the CLI and the bot.
type App struct {
	Repo store.Repo
	DB   *sql.DB // nil with the in-memory store
	Proc *pipeline.Processor
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{}
	if dsn := strings.TrimSpace(cfg.Database.URL); dsn != "" {
		db, err := store.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		log.Info("db connected", "dsn", SafeDSNSummary(dsn))
		a.DB, a.Repo = db, store.NewPGRepo(db)
	} else {
		log.Warn("database.url is empty, using the in-memory store")
		a.Repo = store.NewMemory()
	}

	a.Proc = &pipeline.Processor{
		Store:        a.Repo,
		FallbackPath: cfg.Grading.FallbackPath,
		Options:      ProcessorOptions(cfg),
		Log:          log,
	}

	gen, err := newGenerator(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if gen != nil {
		a.Proc.Generator = gen
	}
	if cfg.Yandex.OAuthToken != "" {
		a.Proc.OCR = yandex.New(cfg.Yandex.OAuthToken, cfg.Yandex.FolderID)
	} else {
		log.Warn("yandex.oauth_token is empty, OCR disabled")
	}
	return a, nil
}

// ProcessorOptions maps the grading section onto pipeline options.
func ProcessorOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		RunsRequested: cfg.Grading.ConsensusRuns,
		Thresholds: policy.Thresholds{
			Uncertainty:  cfg.Grading.UncertaintyThreshold,
			MinAgreement: cfg.Grading.ConsensusMinAgreement,
		},
		OCRHints: cfg.Grading.EnableOCRHints,
	}
}

// newGenerator returns nil without error when no provider is usable;
// every job then goes to the fallback payload.
func newGenerator(cfg *config.Config, log *slog.Logger) (*llm.Runner, error) {
	engines := &llm.Engines{}
	if cfg.OpenAI.APIKey != "" {
		engines.OpenAI = openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model, "", cfg.OpenAI.Timeout)
	}
	if cfg.Gemini.APIKey != "" {
		engines.Gemini = gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model)
	}
	eng, err := engines.GetEngine(cfg.Grading.Provider)
	if errors.Is(err, llm.ErrUnavailable) {
		log.Warn("no llm provider configured, grading from the fallback payload", "provider", cfg.Grading.Provider)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Info("llm provider ready", "engine", eng.Name(), "model", eng.GetModel())
	return llm.NewRunner(eng, cfg.Grading.RequestsPerSecond, log), nil
}

// HandleJob is the queue handler.
func (a *App) HandleJob(ctx context.Context, job pipeline.Job) error {
	_, err := a.Proc.Process(ctx, job)
	return err
}

func (a *App) Close() {
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// SafeDSNSummary drops the password for logging.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	out := "host=" + host
	if port != "" {
		out += " port=" + port
	}
	return out + " db=" + strings.TrimPrefix(u.Path, "/") + " user=" + u.User.Username()
}
