package store

import (
	"context"
	"database/sql"
	"time"

	"mistakepatch/api/internal/grading"
)

var ErrNotFound = sql.ErrNoRows

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// ErrDBWrite is the error code stored when the final result could not be persisted.
const ErrDBWrite = "db_write_failed"

type Submission struct {
	ID           string
	UserID       string
	Subject      string
	SolutionPath string
	ProblemPath  string // "" when no problem image was uploaded
	CreatedAt    time.Time
}

// Analysis is one grading job joined with its submission.
type Analysis struct {
	ID           string
	SubmissionID string
	UserID       string
	Status       string
	Subject      string
	SolutionPath string
	ProblemPath  string
	Result       *grading.Result // nil until done
	FallbackUsed bool
	ErrorCode    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Annotation struct {
	ID         string
	AnalysisID string
	MistakeID  string
	Mode       grading.HighlightMode
	Shape      grading.HighlightShape
	X, Y, W, H *float64
	CreatedAt  time.Time
}

type HistoryItem struct {
	AnalysisID string    `json:"analysis_id"`
	Subject    string    `json:"subject"`
	ScoreTotal *float64  `json:"score_total"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	TopTag     string    `json:"top_tag,omitempty"`
}

type TagCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type History struct {
	Items   []HistoryItem `json:"items"`
	TopTags []TagCount    `json:"top_tags"`
}

// Repo is implemented by PGRepo and Memory. Reads are scoped by user id.
type Repo interface {
	CreateSubmission(ctx context.Context, s Submission) (string, error)
	CreateAnalysis(ctx context.Context, submissionID string) (string, error)
	SetStatus(ctx context.Context, analysisID, status, errorCode string) error
	SaveResult(ctx context.Context, analysisID string, res *grading.Result, fallbackUsed bool, errorCode string) error
	MarkFailed(ctx context.Context, analysisID, errorCode string) error
	GetAnalysis(ctx context.Context, analysisID, userID string) (*Analysis, error)
	MistakeExists(ctx context.Context, analysisID, mistakeID, userID string) (bool, error)
	CreateAnnotation(ctx context.Context, a Annotation) (string, error)
	History(ctx context.Context, userID string, limit int) (*History, error)
}

// overlay stamps stored mistake ids onto res in order and applies the newest
// annotation of each mistake to its highlight.
func overlay(res *grading.Result, mistakeIDs []string, latest map[string]Annotation) {
	if res == nil {
		return
	}
	for i := range res.Mistakes {
		if i >= len(mistakeIDs) {
			break
		}
		m := &res.Mistakes[i]
		m.MistakeID = mistakeIDs[i]
		if a, ok := latest[m.MistakeID]; ok {
			m.Highlight = grading.Highlight{Mode: a.Mode, Shape: a.Shape, X: a.X, Y: a.Y, W: a.W, H: a.H}
		}
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 5
	}
	return min(limit, 20)
}
