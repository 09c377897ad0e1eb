package handle

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/store"
)

type AnalysisResponse struct {
	AnalysisID       string          `json:"analysis_id"`
	SubmissionID     string          `json:"submission_id"`
	Status           string          `json:"status"`
	ProgressStep     string          `json:"progress_step"`
	ProgressPercent  int             `json:"progress_percent"`
	ProgressMessage  string          `json:"progress_message"`
	Subject          string          `json:"subject"`
	SolutionImageURL string          `json:"solution_image_url"`
	ProblemImageURL  *string         `json:"problem_image_url"`
	Result           *grading.Result `json:"result"`
	FallbackUsed     bool            `json:"fallback_used"`
	ErrorCode        *string         `json:"error_code"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type progress struct {
	step    string
	percent int
	message string
}

// progressFor estimates the stage from status and time since the last update.
func progressFor(a *store.Analysis, now time.Time) progress {
	switch a.Status {
	case store.StatusQueued:
		return progress{"upload_complete", 20, "이미지 업로드 완료"}
	case store.StatusProcessing:
		elapsed := max(now.Sub(a.UpdatedAt).Seconds(), 0)
		if elapsed < 3 {
			return progress{"ocr_analyzing", min(58, 35+int(elapsed*8)), "OCR 분석 중"}
		}
		return progress{"ai_grading", min(96, 58+int((elapsed-3)*4)), "AI 채점 중"}
	case store.StatusDone:
		return progress{"completed", 100, "분석 완료"}
	}
	return progress{"failed", 100, "분석 실패"}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handle) Analysis(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.repo.GetAnalysis(r.Context(), r.PathValue("id"), uid)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	p := progressFor(a, time.Now())
	writeJSON(w, http.StatusOK, AnalysisResponse{
		AnalysisID:       a.ID,
		SubmissionID:     a.SubmissionID,
		Status:           a.Status,
		ProgressStep:     p.step,
		ProgressPercent:  p.percent,
		ProgressMessage:  p.message,
		Subject:          a.Subject,
		SolutionImageURL: URL(a.SolutionPath),
		ProblemImageURL:  optional(URL(a.ProblemPath)),
		Result:           a.Result,
		FallbackUsed:     a.FallbackUsed,
		ErrorCode:        optional(a.ErrorCode),
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	})
}

type AnnotationRequest struct {
	AnalysisID string                 `json:"analysis_id" validate:"required"`
	MistakeID  string                 `json:"mistake_id" validate:"required"`
	Mode       grading.HighlightMode  `json:"mode" validate:"oneof=tap ocr_box region_box"`
	Shape      grading.HighlightShape `json:"shape" validate:"omitempty,oneof=circle box"`
	X          *float64               `json:"x" validate:"omitempty,gte=0,lte=1"`
	Y          *float64               `json:"y" validate:"omitempty,gte=0,lte=1"`
	W          *float64               `json:"w" validate:"omitempty,gte=0,lte=1"`
	H          *float64               `json:"h" validate:"omitempty,gte=0,lte=1"`
}

var annotationValidator = validator.New()

// validate defaults an empty shape to circle before checking the tags.
func (req *AnnotationRequest) validate() error {
	if req.Shape == "" {
		req.Shape = grading.ShapeCircle
	}
	if err := annotationValidator.Struct(req); err != nil {
		return fmt.Errorf("invalid annotation: %w", err)
	}
	return nil
}

func (h *Handle) Annotate(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req AnnotationRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	ok, err := h.repo.MistakeExists(ctx, req.AnalysisID, req.MistakeID, uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "mistake not found for this analysis")
		return
	}
	id, err := h.repo.CreateAnnotation(ctx, store.Annotation{
		AnalysisID: req.AnalysisID, MistakeID: req.MistakeID,
		Mode: req.Mode, Shape: req.Shape,
		X: req.X, Y: req.Y, W: req.W, H: req.H,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"annotation_id": id,
		"analysis_id":   req.AnalysisID,
		"mistake_id":    req.MistakeID,
	})
}

func (h *Handle) History(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 5
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 20 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,20]")
			return
		}
		limit = v
	}
	hist, err := h.repo.History(r.Context(), uid, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hist)
}
