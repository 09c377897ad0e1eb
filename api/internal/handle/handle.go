package handle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"mistakepatch/api/internal/metrics"
	"mistakepatch/api/internal/pipeline"
	"mistakepatch/api/internal/queue"
	"mistakepatch/api/internal/store"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Processor runs a job inline when the queue refuses it.
type Processor interface {
	Process(ctx context.Context, job pipeline.Job) (*pipeline.State, error)
}

type Handle struct {
	repo     store.Repo
	queue    queue.Queue // nil = always run in the background
	proc     Processor
	uploads  *Uploads
	ocrHints bool
	log      *slog.Logger
}

type Options struct {
	Queue    queue.Queue
	Uploads  *Uploads
	OCRHints bool
	Log      *slog.Logger
}

func New(repo store.Repo, proc Processor, opt Options) *Handle {
	log := opt.Log
	if log == nil {
		log = slog.Default()
	}
	if opt.Uploads == nil {
		opt.Uploads = &Uploads{Dir: "data/uploads", MaxBytes: 10 << 20}
	}
	return &Handle{
		repo:     repo,
		queue:    opt.Queue,
		proc:     proc,
		uploads:  opt.Uploads,
		ocrHints: opt.OCRHints,
		log:      log,
	}
}

// Routes registers the API on mux.
func (h *Handle) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/analyze", h.Analyze)
	mux.HandleFunc("GET /api/v1/analysis/{id}", h.Analysis)
	mux.HandleFunc("POST /api/v1/annotations", h.Annotate)
	mux.HandleFunc("GET /api/v1/history", h.History)
	if h.uploads != nil {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.uploads.Dir))))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

var (
	errUserMissing = errors.New("X-User-Id header is required")
	errUserInvalid = errors.New("invalid user id: use 1-64 letters, digits, dots, underscores or hyphens")
)

func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if id == "" {
		return "", errUserMissing
	}
	if !userIDPattern.MatchString(id) {
		return "", errUserInvalid
	}
	return id, nil
}

func (h *Handle) Health(w http.ResponseWriter, r *http.Request) {
	mode := "background"
	if h.queue != nil {
		mode = h.queue.Mode()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"queue_mode":       mode,
		"enable_ocr_hints": h.ocrHints,
	})
}
