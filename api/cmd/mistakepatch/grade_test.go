package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mistakepatch/api/internal/grading"
)

const candidate = `{
  "score_total": 6,
  "rubric_scores": {"conditions": 1.5, "modeling": 1.5, "logic": 1, "calculation": 1, "final": 1},
  "mistakes": [{
    "type": "ARITHMETIC_ERROR", "severity": "med", "points_deducted": 1.0,
    "evidence": "양변을 2로 나눈 계산이 틀렸습니다.",
    "fix_instruction": "나눗셈 결과를 검산해 다시 적으세요.",
    "location_hint": "3번째 줄",
    "highlight": {"mode": "tap", "shape": "circle", "x": null, "y": null, "w": null, "h": null}
  }],
  "patch": {"minimal_changes": [{"change": "x=2로 정리", "rationale": "양변을 2로 나눔"}], "patched_solution_brief": "2x+3=7, 2x=4, x=2"},
  "next_checklist": ["나눗셈 검산"],
  "confidence": 0.8,
  "missing_info": [],
  "answer_verdict": "unknown",
  "answer_verdict_reason": "판단 보류"
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGrade_VerifiedCorrectSolution(t *testing.T) {
	dir := t.TempDir()
	c1 := writeFile(t, dir, "c1.json", candidate)
	c2 := writeFile(t, dir, "c2.json", candidate)
	sol := writeFile(t, dir, "solution.txt", "2x+3=7\n2x=4\nx=2")
	prob := writeFile(t, dir, "problem.txt", "2x+3=7")

	out, err := runCLI(t, "grade", "--candidate", c1, "--candidate", c2, "--solution-text", sol, "--problem-text", prob)
	require.NoError(t, err)

	var res grading.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, grading.VerdictCorrect, res.AnswerVerdict)
	assert.GreaterOrEqual(t, res.ScoreTotal, 7.0)
}

func TestGrade_InvalidCandidatesFail(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.json", `{"foo": 1}`)
	_, err := runCLI(t, "grade", "--candidate", bad)
	require.Error(t, err)
	assert.True(t, grading.IsKind(err, grading.KindAllRunsInvalid))

	_, err = runCLI(t, "grade", "--candidate", filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, grading.IsKind(err, grading.KindProviderRequestFailed))
}

func TestGrade_RequiresCandidate(t *testing.T) {
	_, err := runCLI(t, "grade")
	assert.Error(t, err)
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MISTAKEPATCH_DATABASE_URL", "")
	_, err := runCLI(t, "migrate")
	assert.ErrorContains(t, err, "database.url")
}

func TestWorker_RequiresRedis(t *testing.T) {
	t.Setenv("MISTAKEPATCH_REDIS_ENABLED", "false")
	_, err := runCLI(t, "worker")
	assert.ErrorContains(t, err, "redis.enabled")
}
