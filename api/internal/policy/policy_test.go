package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mistakepatch/api/internal/grading"
)

func rubric(c, m, l, calc, f float64) grading.Rubric {
	return grading.Rubric{Conditions: c, Modeling: m, Logic: l, Calculation: calc, Final: f}
}

func threeSteps() []grading.Step {
	return []grading.Step{
		{ID: "s1", Text: "x+1=4", Equation: "x+1=4"},
		{ID: "s2", Text: "x=4+1", Equation: "x=4+1"},
		{ID: "s3", Text: "x=5", Equation: "x=5"},
	}
}

func wrongFinalFinding() grading.Finding {
	return grading.Finding{
		StepID: "s3", Rule: grading.RuleFinalSubstitution, Passed: false,
		Reason:         "최종 답 대입 시 원식이 성립하지 않습니다.",
		Counterexample: "x=5, expected=x=3",
	}
}

func TestHold_ZeroesDeductions(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:   5,
		RubricScores: rubric(1, 1, 1, 1, 1),
		Mistakes: []grading.Mistake{{
			Type: grading.FinalFormError, Severity: grading.SeverityHigh, PointsDeducted: 1.6,
			Evidence: "[step:s3][rule:RULE_FINAL_SUBSTITUTION] 근거: 대입 불일치",
		}},
		NextChecklist: []string{"검산"},
		Confidence:    0.4,
		MissingInfo:   []string{},
	}
	report := &grading.Report{
		Steps:          []grading.Step{{ID: "s1", Text: "x+1=4", Equation: "x+1=4"}},
		ExpectedX:      grading.FloatPtr(3),
		Confidence:     0.2,
		RequiresReview: true,
	}
	meta := grading.ConsensusMeta{RunsRequested: 3, RunsUsed: 3, Agreement: 0.42, ScoreSpread: 1.8}

	held := Hold(res, report, meta, DefaultThresholds())

	require.True(t, held)
	assert.Equal(t, 0.34, res.Confidence)
	assert.Equal(t, 0.0, res.Mistakes[0].PointsDeducted)
	assert.Equal(t, grading.SeverityLow, res.Mistakes[0].Severity)
	assert.Equal(t, "[step:s3][rule:RULE_FINAL_SUBSTITUTION] 근거: 대입 불일치 -> 자동 감점 보류(검토 필요)", res.Mistakes[0].Evidence)
	assert.Equal(t, 8.0, res.ScoreTotal)
	assert.Equal(t, rubric(1.6, 1.6, 1.6, 1.6, 1.6), res.RubricScores)
	assert.Equal(t, []string{"검토 필요: 자동 감점 보류 (confidence=0.34, agreement=0.42)"}, res.MissingInfo)
	assert.Equal(t, reviewChecklist, res.NextChecklist[0])
}

func TestHold_CapsPerfectScore(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:   10,
		RubricScores: rubric(2, 2, 2, 2, 2),
		Mistakes: []grading.Mistake{{
			Type: grading.LogicGap, Severity: grading.SeverityMed, PointsDeducted: 0.5,
			Evidence: "[step:s2][rule:RULE_EQUIV_TRANSFORM] 근거: 확인 불가",
		}},
		NextChecklist: []string{"검토"},
		Confidence:    0.7,
	}
	report := &grading.Report{
		Steps:          []grading.Step{{ID: "s1", Text: "x+1=4", Equation: "x+1=4"}},
		ExpectedX:      grading.FloatPtr(3),
		Confidence:     0.25,
		RequiresReview: true,
	}

	require.True(t, Hold(res, report, grading.ConsensusMeta{Agreement: 0.5}, DefaultThresholds()))
	assert.Equal(t, reviewCeiling, res.ScoreTotal)
	assert.Equal(t, rubric(1.76, 1.76, 1.76, 1.76, 1.76), res.RubricScores)
	assert.LessOrEqual(t, res.ScoreTotal, 8.8)
	assert.GreaterOrEqual(t, res.ScoreTotal, 8.0)
}

func TestHold_InsertsPlaceholderWhenEmpty(t *testing.T) {
	res := &grading.Result{ScoreTotal: 8.5, RubricScores: rubric(1.7, 1.7, 1.7, 1.7, 1.7), Confidence: 0.1}
	report := &grading.Report{ObservedX: grading.FloatPtr(2)}

	require.True(t, Hold(res, report, grading.ConsensusMeta{Agreement: 1}, DefaultThresholds()))
	require.Len(t, res.Mistakes, 1)
	assert.Equal(t, "전체 풀이", res.Mistakes[0].LocationHint)
	assert.Equal(t, "[step:s0][rule:RULE_REVIEW_REQUIRED] 근거: 자동 판정 근거가 부족해 감점을 보류했습니다. -> 자동 감점 보류(검토 필요)", res.Mistakes[0].Evidence)
	assert.Equal(t, []string{reviewChecklist}, res.NextChecklist)
	assert.Equal(t, 8.5, res.ScoreTotal)
}

func TestHold_NotOnVerifiedFailure(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:   9.5,
		RubricScores: rubric(2, 2, 1.8, 1.9, 1.8),
		Mistakes: []grading.Mistake{{
			Type: grading.FinalFormError, Severity: grading.SeverityHigh, PointsDeducted: 1.5,
			Evidence: "[step:s3][rule:RULE_FINAL_SUBSTITUTION] 근거: 대입 불일치 반례: x=5, expected=x=3",
		}},
		NextChecklist: []string{"검산"},
		Confidence:    0.2,
	}
	report := &grading.Report{
		Steps:          threeSteps(),
		Findings:       []grading.Finding{wrongFinalFinding()},
		ExpectedX:      grading.FloatPtr(3),
		ObservedX:      grading.FloatPtr(5),
		Confidence:     0.2,
		RequiresReview: true,
	}

	assert.False(t, Hold(res, report, grading.ConsensusMeta{Agreement: 0.4}, DefaultThresholds()))
	assert.Equal(t, 1.5, res.Mistakes[0].PointsDeducted)
	assert.InDelta(t, 0.24, res.Confidence, 1e-9)
	assert.Equal(t, 9.5, res.ScoreTotal)
}

func TestHold_NotWithoutContext(t *testing.T) {
	res := &grading.Result{ScoreTotal: 4, Mistakes: []grading.Mistake{{PointsDeducted: 1}}, Confidence: 0.1}
	report := &grading.Report{Steps: threeSteps(), RequiresReview: true}

	assert.False(t, Hold(res, report, grading.ConsensusMeta{Agreement: 0.1}, DefaultThresholds()))
	assert.Equal(t, 1.0, res.Mistakes[0].PointsDeducted)
}

func TestCapWrongFinal_ForcesLowScore(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:   9.8,
		RubricScores: rubric(2, 2, 2, 2, 1.8),
		Confidence:   0.85,
	}
	report := &grading.Report{
		Steps:      threeSteps(),
		Findings:   []grading.Finding{wrongFinalFinding()},
		ExpectedX:  grading.FloatPtr(3),
		ObservedX:  grading.FloatPtr(5),
		Confidence: 0.8,
	}

	require.True(t, CapWrongFinal(res, report))
	require.Len(t, res.Mistakes, 1)
	m := res.Mistakes[0]
	assert.Equal(t, grading.FinalFormError, m.Type)
	assert.GreaterOrEqual(t, m.PointsDeducted, 1.8)
	assert.Equal(t, "[step:s3][rule:RULE_FINAL_SUBSTITUTION] 근거: 최종 답 대입 시 원식이 성립하지 않습니다. 반례: x=5, expected=x=3", m.Evidence)
	assert.Equal(t, 7.0, res.ScoreTotal)
	assert.Equal(t, 0.8, res.RubricScores.Final)
	assert.Equal(t, 1.6, res.RubricScores.Logic)
	assert.Equal(t, 0.72, res.Confidence)
}

func TestCapWrongFinal_RaisesExistingMistake(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:   6,
		RubricScores: rubric(1.2, 1.2, 1.2, 1.2, 1.2),
		Mistakes: []grading.Mistake{
			{Type: grading.SignError, PointsDeducted: 0.5},
			{Type: grading.FinalFormError, Severity: grading.SeverityLow, PointsDeducted: 0.4},
		},
		Confidence: 0.5,
	}

	require.True(t, CapWrongFinal(res, &grading.Report{Findings: []grading.Finding{wrongFinalFinding()}}))
	require.Len(t, res.Mistakes, 2)
	assert.Equal(t, grading.SeverityHigh, res.Mistakes[1].Severity)
	assert.Equal(t, 1.8, res.Mistakes[1].PointsDeducted)
	assert.Equal(t, wrongFinalFix, res.Mistakes[1].FixInstruction)
	assert.Equal(t, 5.6, res.ScoreTotal)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestCapWrongFinal_NoFailure(t *testing.T) {
	res := &grading.Result{ScoreTotal: 9.8}
	assert.False(t, CapWrongFinal(res, &grading.Report{Findings: []grading.Finding{{Rule: grading.RuleFinalSubstitution, Passed: true}}}))
	assert.Equal(t, 9.8, res.ScoreTotal)
}

func TestApplyVerdict_IncorrectBand(t *testing.T) {
	res := &grading.Result{ScoreTotal: 9, RubricScores: rubric(1.8, 1.6, 1.4, 1.5, 0.4)}
	report := &grading.Report{
		Findings: []grading.Finding{{
			StepID: "s3", Rule: grading.RuleFinalSubstitution, Passed: false,
			Reason: "최종 답 대입 시 원식 불일치", Counterexample: "x=5, expected=x=3",
		}},
		ExpectedX: grading.FloatPtr(3), ObservedX: grading.FloatPtr(5), Confidence: 0.9,
	}

	assert.Equal(t, grading.VerdictIncorrect, ApplyVerdict(res, report))
	assert.Equal(t, grading.VerdictIncorrect, res.AnswerVerdict)
	assert.Equal(t, "틀림: 최종 답 검증에서 불일치가 확인되었습니다.", res.AnswerVerdictReason)
	assert.LessOrEqual(t, res.ScoreTotal, 7.0)
	assert.InDelta(t, 5.51, res.ScoreTotal, 1e-9)
	assert.LessOrEqual(t, res.RubricScores.Final, 0.8)
}

func TestApplyVerdict_CorrectBand(t *testing.T) {
	res := &grading.Result{ScoreTotal: 6.2, RubricScores: rubric(1.6, 1.5, 1.7, 1.8, 1.9)}
	report := &grading.Report{
		Findings:  []grading.Finding{{StepID: "s3", Rule: grading.RuleFinalSubstitution, Passed: true, Reason: "대입 성립"}},
		ExpectedX: grading.FloatPtr(3), ObservedX: grading.FloatPtr(3), Confidence: 0.9,
	}

	assert.Equal(t, grading.VerdictCorrect, ApplyVerdict(res, report))
	assert.Equal(t, "맞음: 최종 답 검증을 통과했습니다.", res.AnswerVerdictReason)
	assert.GreaterOrEqual(t, res.ScoreTotal, 7.0)
	assert.InDelta(t, 9.475, res.ScoreTotal, 0.006)
	assert.GreaterOrEqual(t, res.RubricScores.Final, 1.2)
}

func TestApplyVerdict_KeepsHigherCorrectScore(t *testing.T) {
	res := &grading.Result{ScoreTotal: 9.9, RubricScores: rubric(1, 1, 1, 1, 1)}
	report := &grading.Report{ExpectedX: grading.FloatPtr(2), ObservedX: grading.FloatPtr(2.01)}

	assert.Equal(t, grading.VerdictCorrect, ApplyVerdict(res, report))
	assert.Equal(t, "맞음: 최종 답이 정답과 일치합니다.", res.AnswerVerdictReason)
	assert.Equal(t, 9.9, res.ScoreTotal)
}

func TestApplyVerdict_TransformCounterexample(t *testing.T) {
	res := &grading.Result{ScoreTotal: 8.8, RubricScores: rubric(1.8, 1.8, 1.5, 1.8, 1.9)}
	report := &grading.Report{
		Steps: threeSteps(),
		Findings: []grading.Finding{{
			StepID: "s2", Rule: grading.RuleEquivTransform, Passed: false,
			Reason: "연속 식 변형 전후의 해가 일치하지 않습니다.", Counterexample: "s1=x=3, s2=x=5",
		}},
		ObservedX:  grading.FloatPtr(5),
		Confidence: 0.85,
	}

	assert.Equal(t, grading.VerdictIncorrect, ApplyVerdict(res, report))
	assert.Contains(t, res.AnswerVerdictReason, "중간 식 변형")
}

func TestApplyVerdict_UnknownWithoutVerification(t *testing.T) {
	res := &grading.Result{ScoreTotal: 2.5, RubricScores: rubric(0.5, 0.5, 0.5, 0.5, 0.5)}

	assert.Equal(t, grading.VerdictUnknown, ApplyVerdict(res, &grading.Report{Confidence: 0.1}))
	assert.Contains(t, res.AnswerVerdictReason, "검증 정보 부족")
	assert.Equal(t, 2.5, res.ScoreTotal)
}

func TestApplyVerdict_DoesNotPromoteUnknownByScore(t *testing.T) {
	res := &grading.Result{ScoreTotal: 9.3, RubricScores: rubric(1.8, 1.8, 1.9, 1.8, 2), AnswerVerdict: grading.VerdictUnknown}

	assert.Equal(t, grading.VerdictUnknown, ApplyVerdict(res, &grading.Report{Confidence: 0.6}))
	assert.Equal(t, 9.3, res.ScoreTotal)
}

func TestApplyVerdict_PreservesExistingIncorrect(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:          5,
		AnswerVerdict:       grading.VerdictIncorrect,
		AnswerVerdictReason: "틀림: 단순식 검산 결과 x=5, 기대값 x=3",
		RubricScores:        rubric(1, 1, 1, 1, 0.8),
	}

	assert.Equal(t, grading.VerdictIncorrect, ApplyVerdict(res, &grading.Report{Confidence: 0.4}))
	assert.Contains(t, res.AnswerVerdictReason, "보조 검산")
	assert.Equal(t, 3.5, res.ScoreTotal)
}

func TestLogicQuality_UsesTransformRatio(t *testing.T) {
	res := &grading.Result{RubricScores: rubric(2, 2, 2, 2, 0)}
	report := &grading.Report{Findings: []grading.Finding{
		{Rule: grading.RuleEquivTransform, Passed: true},
		{Rule: grading.RuleEquivTransform, Passed: false},
	}}
	assert.InDelta(t, 0.825, LogicQuality(res, report), 1e-9)
}

func TestSimpleEquation_Match(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:   6,
		RubricScores: rubric(1.5, 1.5, 1.5, 1.5, 1.5),
		Mistakes: []grading.Mistake{
			{Type: grading.FinalFormError, Severity: grading.SeverityHigh, PointsDeducted: 1},
			{Type: grading.SignError, Severity: grading.SeverityMed, PointsDeducted: 0.5},
		},
		NextChecklist: []string{"검산", "부호"},
		Confidence:    0.5,
	}

	require.True(t, SimpleEquation(res, "2x+3=7", "2x=4\nx=2"))
	assert.Equal(t, 0.2, res.Mistakes[0].PointsDeducted)
	assert.Equal(t, grading.SeverityLow, res.Mistakes[0].Severity)
	assert.Equal(t, "최종 답 x=2는 식과 일치합니다. 표현/검산 보완 위주로 수정하세요.", res.Mistakes[0].Evidence)
	assert.Equal(t, 0.5, res.Mistakes[1].PointsDeducted)
	assert.Equal(t, 2.0, res.RubricScores.Final)
	assert.Equal(t, 1.8, res.RubricScores.Logic)
	assert.Equal(t, 8.8, res.ScoreTotal)
	assert.Equal(t, 0.82, res.Confidence)
	assert.Equal(t, grading.VerdictCorrect, res.AnswerVerdict)
	assert.Equal(t, "맞음: 단순식 검산 결과 x=2 (기대값 x=2)", res.AnswerVerdictReason)
	assert.Equal(t, []string{"정답 확인 완료: x=2. 최종 검산 습관 유지", "부호"}, res.NextChecklist)
}

func TestSimpleEquation_Mismatch(t *testing.T) {
	res := &grading.Result{
		ScoreTotal:    9,
		RubricScores:  rubric(2, 2, 2, 2, 2),
		NextChecklist: []string{"검산"},
		Confidence:    0.9,
	}

	require.True(t, SimpleEquation(res, "x+1=4", "x=5"))
	require.Len(t, res.Mistakes, 1)
	m := res.Mistakes[0]
	assert.Equal(t, grading.FinalFormError, m.Type)
	assert.Equal(t, 2.0, m.PointsDeducted)
	assert.Equal(t, "최종 답이 x=5로 기록됐지만 식 해는 x=3입니다.", m.Evidence)
	assert.Equal(t, 0.4, res.RubricScores.Final)
	assert.Equal(t, 1.0, res.RubricScores.Logic)
	assert.Equal(t, 5.0, res.ScoreTotal)
	assert.Equal(t, 0.58, res.Confidence)
	assert.Equal(t, grading.VerdictIncorrect, res.AnswerVerdict)
	assert.Equal(t, "틀림: 단순식 검산 결과 x=5, 기대값 x=3", res.AnswerVerdictReason)
	assert.Len(t, res.NextChecklist, 3)
}

func TestSimpleEquation_NoSignal(t *testing.T) {
	res := &grading.Result{ScoreTotal: 4}
	assert.False(t, SimpleEquation(res, "삼각형의 넓이를 구하시오", "x=5"))
	assert.False(t, SimpleEquation(res, "x+1=4", "답: 다섯"))
	assert.Equal(t, 4.0, res.ScoreTotal)
}
