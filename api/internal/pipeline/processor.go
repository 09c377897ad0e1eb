package pipeline

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/llm"
	"mistakepatch/api/internal/metrics"
	"mistakepatch/api/internal/ocr"
	"mistakepatch/api/internal/store"
	"mistakepatch/api/internal/util"
)

const maxJoinedDetail = 200

// Store is the slice of store.Repo the processor writes through.
type Store interface {
	SetStatus(ctx context.Context, analysisID, status, errorCode string) error
	SaveResult(ctx context.Context, analysisID string, res *grading.Result, fallbackUsed bool, errorCode string) error
	MarkFailed(ctx context.Context, analysisID, errorCode string) error
}

// Generator produces n raw candidates; *llm.Runner implements it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request, n int) []llm.Run
}

type Processor struct {
	Store        Store
	Generator    Generator  // nil = no provider configured, always fallback
	OCR          ocr.Reader // nil = no text, verification has no context
	FallbackPath string
	Options      Options
	Log          *slog.Logger
}

func (p *Processor) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Process grades one job end to end. Only FallbackMissing and PersistenceFailure
// come back as errors; everything else is absorbed into State.ErrorCode.
func (p *Processor) Process(ctx context.Context, job Job) (*State, error) {
	start := time.Now()
	log := p.log().With("analysis_id", job.AnalysisID)

	if err := p.Store.SetStatus(ctx, job.AnalysisID, store.StatusProcessing, ""); err != nil {
		log.Warn("set status processing", "err", err)
	}

	solution := readImage(job.SolutionPath, log)
	var problem []byte
	if job.ProblemPath != "" {
		problem = readImage(job.ProblemPath, log)
	}
	in := p.read(ctx, solution, problem, log)

	st := &State{}
	cands, err := p.candidates(ctx, job, solution, problem, log)
	if err != nil {
		st.FallbackUsed = true
		st.ErrorCode = grading.ErrorCode(err)
		metrics.FallbackTotal.Inc()
		log.Warn("generation unusable, engaging fallback", "error_code", st.ErrorCode)

		fb, ferr := LoadFallback(p.FallbackPath)
		if ferr != nil {
			log.Error("fallback payload missing", "path", p.FallbackPath, "err", ferr)
			if merr := p.Store.MarkFailed(ctx, job.AnalysisID, grading.ErrorCode(ferr)); merr != nil {
				log.Error("mark failed", "err", merr)
			}
			p.finish(start, store.StatusFailed)
			return st, ferr
		}
		cands = []*grading.Result{fb}
	}

	Reconcile(st, cands, in, p.Options, log)

	if err := p.Store.SaveResult(ctx, job.AnalysisID, st.Result, st.FallbackUsed, st.ErrorCode); err != nil {
		log.Error("save result", "err", err)
		if merr := p.Store.MarkFailed(ctx, job.AnalysisID, store.ErrDBWrite); merr != nil {
			log.Error("mark failed", "err", merr)
		}
		p.finish(start, store.StatusFailed)
		return st, grading.Wrap(grading.KindPersistenceFailure, err, "save result")
	}

	if st.Held {
		metrics.HoldTotal.Inc()
	}
	metrics.VerdictTotal.WithLabelValues(string(st.Verdict)).Inc()
	p.finish(start, store.StatusDone)
	log.Info("analysis done",
		"score_total", st.Result.ScoreTotal,
		"mistakes", len(st.Result.Mistakes),
		"verdict", st.Verdict,
		"fallback_used", st.FallbackUsed,
		"runs_used", st.Meta.RunsUsed,
		"elapsed", time.Since(start).String(),
	)
	return st, nil
}

func (p *Processor) finish(start time.Time, status string) {
	metrics.JobDuration.Observe(time.Since(start).Seconds())
	metrics.JobTotal.WithLabelValues(status).Inc()
}

func readImage(path string, log *slog.Logger) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Warn("read image", "path", path, "err", err)
		return nil
	}
	return b
}

// read runs OCR on both images. Failures leave empty pages behind.
func (p *Processor) read(ctx context.Context, solution, problem []byte, log *slog.Logger) Inputs {
	in := Inputs{SolutionImage: solution}
	if problem != nil {
		in.Problem = &ocr.Page{}
	}
	if p.OCR == nil {
		return in
	}
	if len(solution) > 0 {
		page, err := p.OCR.Read(ctx, solution)
		if err != nil {
			log.Warn("ocr solution", "reader", p.OCR.Name(), "err", err)
		} else {
			in.Solution = page
		}
	}
	if len(problem) > 0 {
		page, err := p.OCR.Read(ctx, problem)
		if err != nil {
			log.Warn("ocr problem", "reader", p.OCR.Name(), "err", err)
		} else {
			in.Problem = &page
		}
	}
	return in
}

func llmImage(data []byte) llm.Image {
	mime, _ := util.SniffImageMime(data)
	return llm.Image{Data: data, Mime: mime}
}

func (p *Processor) candidates(ctx context.Context, job Job, solution, problem []byte, log *slog.Logger) ([]*grading.Result, error) {
	if p.Generator == nil {
		return nil, grading.Errorf(grading.KindProviderRequestFailed, "provider unavailable")
	}
	if len(solution) == 0 {
		return nil, grading.Errorf(grading.KindProviderRequestFailed, "solution image unreadable")
	}
	req := llm.Request{
		Solution:      llmImage(solution),
		Subject:       job.Subject,
		HighlightMode: string(job.HighlightMode),
	}
	if len(problem) > 0 {
		img := llmImage(problem)
		req.Problem = &img
	}
	return Candidates(p.Generator.Generate(ctx, req, max(p.Options.RunsRequested, 1)), log)
}

// Candidates normalizes every successful run. With nothing usable it returns
// ProviderRequestFailed when no run produced a payload, AllRunsInvalid otherwise.
func Candidates(runs []llm.Run, log *slog.Logger) ([]*grading.Result, error) {
	if log == nil {
		log = slog.Default()
	}
	var (
		out              []*grading.Result
		failed, invalid  []string
		payloadsReturned int
	)
	for _, r := range runs {
		if r.Err != nil {
			failed = append(failed, r.Err.Error())
			metrics.ConsensusRuns.WithLabelValues("failed").Inc()
			continue
		}
		payloadsReturned++
		res, err := grading.NormalizeJSON(r.Raw)
		if err != nil {
			invalid = append(invalid, err.Error())
			metrics.ConsensusRuns.WithLabelValues("invalid").Inc()
			log.Debug("candidate rejected", "run", r.Index, "err", err)
			continue
		}
		metrics.ConsensusRuns.WithLabelValues("ok").Inc()
		out = append(out, res)
	}
	if len(out) > 0 {
		return out, nil
	}
	if payloadsReturned == 0 {
		return nil, grading.Errorf(grading.KindProviderRequestFailed, "%s", joinDetail(failed))
	}
	return nil, grading.Errorf(grading.KindAllRunsInvalid, "%s", joinDetail(invalid))
}

func joinDetail(parts []string) string {
	s := strings.TrimSpace(strings.Join(parts, "; "))
	if s == "" {
		return "unknown"
	}
	return util.Truncate(s, maxJoinedDetail)
}
