package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/util"
)

func sampleResult() *grading.Result {
	return &grading.Result{
		ScoreTotal:   7,
		RubricScores: grading.Rubric{Conditions: 2, Modeling: 1.5, Logic: 1.5, Calculation: 1, Final: 1},
		Mistakes: []grading.Mistake{
			{Type: grading.SignError, Severity: grading.SeverityMed, PointsDeducted: 2, Evidence: "[step:s2][rule:RULE_SIGN_CHECK] 근거: 이항 시 부호 반전 누락", FixInstruction: "부호 확인", LocationHint: "2번째 줄", Highlight: grading.Box()},
			{Type: grading.ArithmeticError, Severity: grading.SeverityLow, PointsDeducted: 1, Evidence: "[step:s3][rule:RULE_ARITH_CHECK] 근거: 나눗셈 계산 오류", FixInstruction: "계산 확인", LocationHint: "3번째 줄", Highlight: grading.Box()},
		},
		Patch:               grading.Patch{MinimalChanges: []grading.PatchChange{{Change: "c", Rationale: "r"}}, PatchedSolutionBrief: "b"},
		NextChecklist:       []string{"부호 확인"},
		Confidence:          0.7,
		MissingInfo:         []string{},
		AnswerVerdict:       grading.VerdictIncorrect,
		AnswerVerdictReason: "reason",
	}
}

// stepClock hands out strictly increasing timestamps.
func stepClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func seed(t *testing.T, r Repo, user string) string {
	t.Helper()
	ctx := context.Background()
	sid, err := r.CreateSubmission(ctx, Submission{UserID: user, Subject: "math", SolutionPath: "/tmp/s.png"})
	require.NoError(t, err)
	aid, err := r.CreateAnalysis(ctx, sid)
	require.NoError(t, err)
	return aid
}

func exerciseRepo(t *testing.T, r Repo) {
	ctx := context.Background()
	alice, bob := util.NewID("u"), util.NewID("u")
	aid := seed(t, r, alice)
	assert.True(t, strings.HasPrefix(aid, "a_"))

	got, err := r.GetAnalysis(ctx, aid, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Nil(t, got.Result)

	_, err = r.GetAnalysis(ctx, aid, bob)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.SetStatus(ctx, aid, StatusProcessing, ""))
	require.NoError(t, r.SaveResult(ctx, aid, sampleResult(), true, "analysis_error:AllRunsInvalid"))

	got, err = r.GetAnalysis(ctx, aid, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.True(t, got.FallbackUsed)
	assert.Equal(t, "analysis_error:AllRunsInvalid", got.ErrorCode)
	require.Len(t, got.Result.Mistakes, 2)
	first := got.Result.Mistakes[0]
	assert.True(t, strings.HasPrefix(first.MistakeID, "m_"))
	assert.Equal(t, grading.SignError, first.Type)

	ok, err := r.MistakeExists(ctx, aid, first.MistakeID, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.MistakeExists(ctx, aid, first.MistakeID, bob)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.MistakeExists(ctx, aid, "m_missing", alice)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, x := range []float64{0.2, 0.4} {
		_, err = r.CreateAnnotation(ctx, Annotation{
			AnalysisID: aid, MistakeID: first.MistakeID,
			Mode: grading.ModeRegionBox, Shape: grading.ShapeCircle,
			X: grading.FloatPtr(x), Y: grading.FloatPtr(0.5), W: grading.FloatPtr(0.1), H: grading.FloatPtr(0.1),
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	got, err = r.GetAnalysis(ctx, aid, alice)
	require.NoError(t, err)
	hl := got.Result.Mistakes[0].Highlight
	assert.Equal(t, grading.ModeRegionBox, hl.Mode)
	require.NotNil(t, hl.X)
	assert.InDelta(t, 0.4, *hl.X, 1e-9)

	hist, err := r.History(ctx, alice, 5)
	require.NoError(t, err)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, string(grading.SignError), hist.Items[0].TopTag)
	require.NotNil(t, hist.Items[0].ScoreTotal)
	assert.InDelta(t, 7, *hist.Items[0].ScoreTotal, 1e-9)
	require.Len(t, hist.TopTags, 2)

	require.NoError(t, r.MarkFailed(ctx, aid, ErrDBWrite))
	got, err = r.GetAnalysis(ctx, aid, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ErrDBWrite, got.ErrorCode)
}

func TestMemory_Lifecycle(t *testing.T) {
	m := NewMemory()
	m.now = stepClock()
	exerciseRepo(t, m)
}

func TestMemory_HistoryNewestFirstAndLimited(t *testing.T) {
	m := NewMemory()
	m.now = stepClock()
	var ids []string
	for range 4 {
		ids = append(ids, seed(t, m, "carol"))
	}
	seed(t, m, "dave")

	h, err := m.History(context.Background(), "carol", 3)
	require.NoError(t, err)
	require.Len(t, h.Items, 3)
	assert.Equal(t, ids[3], h.Items[0].AnalysisID)
	assert.Equal(t, ids[1], h.Items[2].AnalysisID)
	assert.Empty(t, h.TopTags)
}

func TestMemory_UnknownAnalysis(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	assert.ErrorIs(t, m.SetStatus(ctx, "a_x", StatusDone, ""), ErrNotFound)
	assert.ErrorIs(t, m.SaveResult(ctx, "a_x", sampleResult(), false, ""), ErrNotFound)
	_, err := m.CreateAnalysis(ctx, "s_x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 5, clampLimit(0))
	assert.Equal(t, 20, clampLimit(50))
	assert.Equal(t, 7, clampLimit(7))
}

// Runs against a real Postgres when MISTAKEPATCH_TEST_DATABASE_URL is set.
func TestPGRepo_Lifecycle(t *testing.T) {
	dsn := os.Getenv("MISTAKEPATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MISTAKEPATCH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))

	exerciseRepo(t, NewPGRepo(db))
}
