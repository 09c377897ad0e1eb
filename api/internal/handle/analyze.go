package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/pipeline"
	"mistakepatch/api/internal/store"
)

// Meta is the "meta" form field of an analyze request.
type Meta struct {
	Subject       string                `json:"subject"`
	HighlightMode grading.HighlightMode `json:"highlight_mode"`
}

func parseMeta(raw string) (Meta, error) {
	m := Meta{Subject: "math", HighlightMode: grading.ModeTap}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Meta{}, err
	}
	switch m.Subject {
	case "math", "physics":
	default:
		return Meta{}, fmt.Errorf("subject must be math or physics, got %q", m.Subject)
	}
	switch m.HighlightMode {
	case grading.ModeTap, grading.ModeOCRBox, grading.ModeRegionBox:
	default:
		return Meta{}, fmt.Errorf("highlight_mode must be tap, ocr_box or region_box, got %q", m.HighlightMode)
	}
	return m, nil
}

func formFile(r *http.Request, name string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	if fhs := r.MultipartForm.File[name]; len(fhs) > 0 {
		return fhs[0]
	}
	return nil
}

// Analyze accepts the upload, creates the records and dispatches the job.
func (h *Handle) Analyze(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 2*h.uploads.MaxBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "solution_image is required")
		return
	}

	solution := formFile(r, "solution_image")
	if solution == nil {
		writeError(w, http.StatusBadRequest, "solution_image is required")
		return
	}
	solMime, err := checkMime(solution)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	problem := formFile(r, "problem_image")
	var probMime string
	if problem != nil {
		if probMime, err = checkMime(problem); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	meta, err := parseMeta(r.FormValue("meta"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid meta payload: "+err.Error())
		return
	}

	solPath, err := h.uploads.Save(solution, solMime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "solution_image: "+err.Error())
		return
	}
	var probPath string
	if problem != nil {
		if probPath, err = h.uploads.Save(problem, probMime); err != nil {
			h.uploads.Remove(solPath)
			writeError(w, http.StatusBadRequest, "problem_image: "+err.Error())
			return
		}
	}

	ctx := r.Context()
	sid, err := h.repo.CreateSubmission(ctx, store.Submission{
		UserID: uid, Subject: meta.Subject, SolutionPath: solPath, ProblemPath: probPath,
	})
	var aid string
	if err == nil {
		aid, err = h.repo.CreateAnalysis(ctx, sid)
	}
	if err != nil {
		h.uploads.Remove(solPath, probPath)
		writeError(w, http.StatusInternalServerError, "failed to create analysis record: "+err.Error())
		return
	}

	h.dispatch(ctx, pipeline.Job{
		AnalysisID:    aid,
		SubmissionID:  sid,
		UserID:        uid,
		Subject:       meta.Subject,
		HighlightMode: meta.HighlightMode,
		SolutionPath:  solPath,
		ProblemPath:   probPath,
	})

	writeJSON(w, http.StatusOK, map[string]string{"analysis_id": aid, "status": store.StatusQueued})
}

// dispatch prefers the queue and falls back to a background goroutine.
func (h *Handle) dispatch(ctx context.Context, job pipeline.Job) {
	log := h.log.With("analysis_id", job.AnalysisID)
	if h.queue != nil {
		err := h.queue.Enqueue(ctx, job)
		if err == nil {
			return
		}
		log.Warn("enqueue failed, processing in background", "err", err)
	}
	go func() {
		if _, err := h.proc.Process(context.WithoutCancel(ctx), job); err != nil {
			log.Error("background job failed", "err", err)
		}
	}()
}
