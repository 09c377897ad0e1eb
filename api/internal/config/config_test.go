package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Grading.ConsensusRuns)
	assert.Equal(t, 0.5, cfg.Grading.ConsensusMinAgreement)
	assert.Equal(t, 0.5, cfg.Grading.UncertaintyThreshold)
	assert.True(t, cfg.Grading.EnableOCRHints)
	assert.Equal(t, "data/fallback_sample_result.json", cfg.Grading.FallbackPath)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 25*time.Second, cfg.OpenAI.Timeout)
	assert.Equal(t, int64(10<<20), cfg.Storage.MaxUploadBytes())
}

func TestLoad_FromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mistakepatch.yaml")
	yaml := `
http:
  port: "9000"
grading:
  consensus_runs: 0
  consensus_min_agreement: 1.7
  provider: Gemini
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("MISTAKEPATCH_GRADING_UNCERTAINTY_THRESHOLD", "0.65")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTP.Port)
	assert.Equal(t, 1, cfg.Grading.ConsensusRuns)
	assert.Equal(t, 1.0, cfg.Grading.ConsensusMinAgreement)
	assert.Equal(t, 0.65, cfg.Grading.UncertaintyThreshold)
	assert.Equal(t, "gemini", cfg.Grading.Provider)
	assert.Equal(t, "k", cfg.Gemini.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsRedisWithoutURL(t *testing.T) {
	t.Setenv("MISTAKEPATCH_REDIS_ENABLED", "true")
	t.Setenv("REDIS_URL", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.url")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
