package pipeline

import (
	"os"

	"mistakepatch/api/internal/grading"
)

// LoadFallback reads the static payload used when no generation validates.
// Any failure is fatal for the job.
func LoadFallback(path string) (*grading.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, grading.Wrap(grading.KindFallbackMissing, err, "fallback file not readable")
	}
	res, err := grading.NormalizeJSON(raw)
	if err != nil {
		return nil, grading.Wrap(grading.KindFallbackMissing, err, path)
	}
	return res, nil
}
