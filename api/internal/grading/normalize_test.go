package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_WrappedAliasesAndStrings(t *testing.T) {
	raw := map[string]any{
		"result": map[string]any{
			"total_score": "7.5",
			"rubric": map[string]any{
				"condition": 1.5, "modeling": "1.5", "logic": 1.5, "cal": 1.5, "final": 1.5,
			},
			"mistakes": []any{
				map[string]any{
					"type":            "sign_error",
					"severity":        "HIGH",
					"points_deducted": "0.5",
					"evidence":        "2번째 줄에서 -3을 이항할 때 부호가 바뀌지 않았습니다.",
					"fix_instruction": "이항할 때 부호를 반대로 바꾸세요.",
					"location_hint":   "2번째 줄",
					"comment":         "dropped",
				},
			},
			"extra": 1,
		},
	}

	res, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, 7.5, res.ScoreTotal)
	assert.Equal(t, 1.5, res.RubricScores.Conditions)
	assert.Equal(t, 1.5, res.RubricScores.Calculation)
	require.Len(t, res.Mistakes, 1)
	m := res.Mistakes[0]
	assert.Equal(t, SignError, m.Type)
	assert.Equal(t, SeverityHigh, m.Severity)
	assert.Equal(t, 1.0, m.PointsDeducted, "high severity floors at 1.0")
	assert.Equal(t, ModeTap, m.Highlight.Mode)
	assert.Equal(t, 0.62, res.Confidence)
	assert.Equal(t, VerdictUnknown, res.AnswerVerdict)
	assert.Equal(t, defaultVerdictText, res.AnswerVerdictReason)
	require.Len(t, res.NextChecklist, 3)
	assert.Equal(t, m.FixInstruction, res.NextChecklist[0])
	require.Len(t, res.Patch.MinimalChanges, 1)
	assert.Equal(t, m.FixInstruction, res.Patch.MinimalChanges[0].Change)
	assert.Empty(t, res.MissingInfo)
}

func TestNormalize_InfersScoreFromDeductions(t *testing.T) {
	raw := map[string]any{
		"mistakes": []any{map[string]any{"type": "bogus", "severity": "med", "points_deducted": 1.2}},
		"patch":    map[string]any{},
	}

	res, err := Normalize(raw)
	require.NoError(t, err)

	assert.InDelta(t, 8.8, res.ScoreTotal, 1e-9)
	assert.InDelta(t, 1.76, res.RubricScores.Final, 1e-9)
	require.Len(t, res.Mistakes, 1)
	assert.Equal(t, LogicGap, res.Mistakes[0].Type)
	assert.Equal(t, "감점 근거가 명확하지 않아 보수적으로 해석했습니다.", res.Mistakes[0].Evidence)
	assert.Equal(t, genericLocation, res.Mistakes[0].LocationHint)
}

func TestNormalize_NoGradingFields(t *testing.T) {
	_, err := Normalize(map[string]any{"foo": "bar"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchemaViolation))

	_, err = Normalize(nil)
	assert.True(t, IsKind(err, KindSchemaViolation))
}

func TestNormalize_IncompleteBoxDegradesToTap(t *testing.T) {
	raw := map[string]any{
		"score_total": 8,
		"mistakes": []any{map[string]any{
			"type":            "FINAL_FORM_ERROR",
			"severity":        "low",
			"points_deducted": 1.5,
			"highlight":       map[string]any{"mode": "ocr_box", "shape": "box", "x": 0.3},
		}},
	}

	res, err := Normalize(raw)
	require.NoError(t, err)

	m := res.Mistakes[0]
	assert.Equal(t, 0.8, m.PointsDeducted, "low severity caps at 0.8")
	assert.Equal(t, ModeTap, m.Highlight.Mode)
	assert.Equal(t, ShapeBox, m.Highlight.Shape)
	assert.Nil(t, m.Highlight.X)
	assert.Equal(t, "최종 답 줄", m.LocationHint)
	assert.InDelta(t, 0.56, res.Confidence, 1e-9)
}

func TestNormalize_HighlightClamped(t *testing.T) {
	raw := map[string]any{
		"score_total": 9,
		"mistakes": []any{map[string]any{
			"type":      "UNIT_ERROR",
			"highlight": map[string]any{"mode": "region_box", "shape": "box", "x": 1.7, "y": -1, "w": 0.001, "h": 0.123456},
		}},
	}

	res, err := Normalize(raw)
	require.NoError(t, err)

	h := res.Mistakes[0].Highlight
	require.True(t, h.Complete())
	assert.Equal(t, ModeRegionBox, h.Mode)
	assert.Equal(t, 1.0, *h.X)
	assert.Equal(t, 0.0, *h.Y)
	assert.Equal(t, 0.02, *h.W)
	assert.Equal(t, 0.1235, *h.H)
}

func TestNormalize_LowConfidenceAddsLegibilityNote(t *testing.T) {
	res, err := Normalize(map[string]any{"score_total": 9.5, "confidence": 0.3, "mistakes": []any{}})
	require.NoError(t, err)

	assert.Equal(t, 0.3, res.Confidence)
	assert.Contains(t, res.MissingInfo, lowLegibilityNote)
	assert.Equal(t, checklistFallbacks, res.NextChecklist)
}

func TestNormalize_HarmonizesAndReconciles(t *testing.T) {
	raw := map[string]any{
		"score_total": 2,
		"mistakes":    []any{map[string]any{"type": "ALGEBRA_ERROR", "severity": "med", "points_deducted": 0.5}},
	}

	res, err := Normalize(raw)
	require.NoError(t, err)

	assert.InDelta(t, 5.75, res.ScoreTotal, 1e-9)
	assert.InDelta(t, 5.75, res.RubricScores.Sum(), 0.011)
}

func TestNormalize_DedupesByFoldedSignature(t *testing.T) {
	mk := func(loc string, pts float64) map[string]any {
		return map[string]any{
			"type": "ARITHMETIC_ERROR", "severity": "med", "points_deducted": pts,
			"fix_instruction": "곱셈 결과를 다시 계산해 확인하세요.", "location_hint": loc,
		}
	}
	raw := map[string]any{
		"score_total": 8,
		"mistakes": []any{
			mk("2번째 줄", 0.5),
			mk("3번째 줄", 0.9),
			map[string]any{"type": "SIGN_ERROR", "severity": "high", "points_deducted": 1.0},
		},
	}

	res, err := Normalize(raw)
	require.NoError(t, err)

	require.Len(t, res.Mistakes, 2)
	assert.Equal(t, SignError, res.Mistakes[0].Type, "high severity sorts first")
	assert.Equal(t, 0.9, res.Mistakes[1].PointsDeducted)
	assert.Equal(t, "3번째 줄", res.Mistakes[1].LocationHint)
}

func TestNormalizeJSON_ProseAroundObject(t *testing.T) {
	res, err := NormalizeJSON([]byte("결과입니다:\n```json\n{\"score_total\": 5, \"answer_verdict\": \"오답\"}\n```"))
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.ScoreTotal)
	assert.Equal(t, VerdictIncorrect, res.AnswerVerdict)

	_, err = NormalizeJSON([]byte("no json here"))
	assert.True(t, IsKind(err, KindSchemaViolation))
}

func TestNormalize_StringifiedWrapper(t *testing.T) {
	raw := map[string]any{"output": `{"score": 6, "confidence": "0.7", "is_correct": true}`}

	res, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, 6.0, res.ScoreTotal)
	assert.Equal(t, 0.6, res.Confidence, "no mistakes below 9 costs 0.1")
	assert.Equal(t, VerdictCorrect, res.AnswerVerdict)
}

func TestToFloat(t *testing.T) {
	_, ok := toFloat(true)
	assert.False(t, ok)
	_, ok = toFloat("NaN")
	assert.False(t, ok)
	v, ok := toFloat(" 1.25 ")
	assert.True(t, ok)
	assert.Equal(t, 1.25, v)
}

func TestValidate_ReportsPath(t *testing.T) {
	res, err := Normalize(map[string]any{"score_total": 5})
	require.NoError(t, err)

	bad := res.Clone()
	bad.ScoreTotal = 11
	err = Validate(bad)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSchemaViolation))
	assert.Contains(t, err.Error(), "score_total")

	bad = res.Clone()
	bad.Mistakes = []Mistake{{Type: "NOPE", Severity: SeverityLow, Evidence: "e", FixInstruction: "f", LocationHint: "l",
		Highlight: Highlight{Mode: ModeTap, Shape: ShapeCircle}}}
	err = Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistake_type")
}
