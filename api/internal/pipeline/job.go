package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"mistakepatch/api/internal/grading"
)

// Job is the queue payload for one analysis.
type Job struct {
	AnalysisID    string                `json:"analysis_id" validate:"required"`
	SubmissionID  string                `json:"submission_id" validate:"required"`
	UserID        string                `json:"user_id" validate:"required"`
	Subject       string                `json:"subject" validate:"oneof=math physics"`
	HighlightMode grading.HighlightMode `json:"highlight_mode" validate:"oneof=tap ocr_box region_box"`
	SolutionPath  string                `json:"solution_image_path" validate:"required"`
	ProblemPath   string                `json:"problem_image_path,omitempty"`
}

var jobValidator = validator.New()

func (j Job) Validate() error {
	if err := jobValidator.Struct(j); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	return nil
}

// DecodeJob parses and validates a queued payload.
func DecodeJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, j.Validate()
}
