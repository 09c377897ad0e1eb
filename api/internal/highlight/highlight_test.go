package highlight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mistakepatch/api/internal/grading"
)

func TestCollapse_MergesSameLineBoxes(t *testing.T) {
	boxes := []grading.LineBox{
		{X: 0.50, Y: 0.30, W: 0.70, H: 0.12},
		{X: 0.51, Y: 0.34, W: 0.72, H: 0.11},
		{X: 0.52, Y: 0.62, W: 0.68, H: 0.12},
	}

	got := Collapse(boxes)

	require.Len(t, got, 2)
	assert.Greater(t, got[0].H, 0.12)
	assert.InDelta(t, 0.51, got[0].X, 1e-9)
	assert.InDelta(t, 0.3175, got[0].Y, 1e-9)
	assert.InDelta(t, 0.72, got[0].W, 1e-9)
	assert.InDelta(t, 0.155, got[0].H, 1e-9)
	assert.Equal(t, boxes[2], got[1])
}

func TestCollapse_SortsAndClamps(t *testing.T) {
	got := Collapse([]grading.LineBox{
		{X: 0.5, Y: 0.8, W: 0.6, H: 0.1},
		{X: 0.5, Y: 0.2, W: 1.4, H: 0.001},
		{X: 0.5, Y: 0.5, W: 0, H: 0.1},
	})

	require.Len(t, got, 2)
	assert.Equal(t, grading.LineBox{X: 0.5, Y: 0.2, W: 1, H: 0.02}, got[0])
	assert.Equal(t, 0.8, got[1].Y)
	assert.Nil(t, Collapse(nil))
}

func TestCollapse_NearFullOverlapSmallGap(t *testing.T) {
	// touching rows of the same width: no vertical overlap, zero gap
	got := Collapse([]grading.LineBox{
		{X: 0.5, Y: 0.25, W: 0.6, H: 0.1},
		{X: 0.5, Y: 0.35, W: 0.6, H: 0.1},
	})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.2, got[0].H, 1e-9)
}

func tagged(step string) grading.Mistake {
	return grading.Mistake{
		Type:      grading.LogicGap,
		Evidence:  grading.FormatProvenance(step, grading.RuleEquivTransform, "식 변형 오류", ""),
		Highlight: grading.Box(),
	}
}

func TestMap_StepIndexAndFallbackCursor(t *testing.T) {
	boxes := []grading.LineBox{
		{X: 0.5, Y: 0.2, W: 0.7, H: 0.1},
		{X: 0.5, Y: 0.4, W: 0.7, H: 0.1},
		{X: 0.5, Y: 0.6, W: 0.7, H: 0.1},
	}
	done := grading.Highlight{
		Mode: grading.ModeTap, Shape: grading.ShapeCircle,
		X: grading.FloatPtr(0.1), Y: grading.FloatPtr(0.1), W: grading.FloatPtr(0.1), H: grading.FloatPtr(0.1),
	}
	untagged := grading.Mistake{Type: grading.SignError, Evidence: "부호 오류", Highlight: grading.Box()}
	res := &grading.Result{Mistakes: []grading.Mistake{
		tagged("s2"),
		untagged,
		{Type: grading.UnitError, Evidence: "단위 누락", Highlight: done},
		untagged,
		tagged("s9"),
		tagged("s0"),
	}}

	filled := Map(res, boxes)

	assert.Equal(t, 5, filled)
	ys := make([]float64, 0, len(res.Mistakes))
	for _, m := range res.Mistakes {
		require.True(t, m.Highlight.Complete())
		ys = append(ys, *m.Highlight.Y)
	}
	// the complete highlight still advances the fallback cursor
	assert.Equal(t, []float64{0.4, 0.2, 0.1, 0.6, 0.6, 0.6}, ys)
	assert.Equal(t, grading.ModeOCRBox, res.Mistakes[1].Highlight.Mode)
	assert.Equal(t, grading.ModeTap, res.Mistakes[2].Highlight.Mode)
}

func TestMap_KeepsTapMode(t *testing.T) {
	boxes := []grading.LineBox{{X: 0.5, Y: 0.3, W: 0.6, H: 0.08}}
	res := &grading.Result{Mistakes: []grading.Mistake{{
		Type:      grading.ArithmeticError,
		Evidence:  "[step:s1] 나눗셈 결과가 틀렸습니다.",
		Highlight: grading.Highlight{Mode: grading.ModeTap, Shape: grading.ShapeCircle},
	}}}

	require.Equal(t, 1, Map(res, boxes))

	h := res.Mistakes[0].Highlight
	assert.Equal(t, grading.ModeTap, h.Mode)
	assert.Equal(t, grading.ShapeCircle, h.Shape)
	require.True(t, h.Complete())
	assert.InDelta(t, 0.5, *h.X, 1e-9)
	assert.InDelta(t, 0.3, *h.Y, 1e-9)
	assert.InDelta(t, 0.6, *h.W, 1e-9)
	assert.InDelta(t, 0.08, *h.H, 1e-9)
}

func TestMap_NoBoxes(t *testing.T) {
	res := &grading.Result{Mistakes: []grading.Mistake{tagged("s1")}}
	assert.Zero(t, Map(res, nil))
	assert.False(t, res.Mistakes[0].Highlight.Complete())
}

func TestRequested(t *testing.T) {
	assert.Equal(t, MinRequested, Requested(&grading.Result{}))
	ms := make([]grading.Mistake, 9)
	assert.Equal(t, 9, Requested(&grading.Result{Mistakes: ms}))
}
