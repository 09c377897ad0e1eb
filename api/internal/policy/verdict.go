package policy

import (
	"math"

	"mistakepatch/api/internal/grading"
)

const verdictTolerance = 0.05

// DeriveVerdict reads the verdict off the verifier, strongest signal first:
// a final-substitution counterexample, a passing final substitution, a
// transform counterexample, then the bare expected/observed comparison.
func DeriveVerdict(report *grading.Report) grading.Verdict {
	if report == nil {
		return grading.VerdictUnknown
	}
	if _, ok := report.FailedFinding(grading.RuleFinalSubstitution, true); ok {
		return grading.VerdictIncorrect
	}
	if report.PassedFinding(grading.RuleFinalSubstitution) {
		return grading.VerdictCorrect
	}
	if _, ok := report.FailedFinding(grading.RuleEquivTransform, true); ok {
		return grading.VerdictIncorrect
	}
	if report.ExpectedX != nil && report.ObservedX != nil {
		if math.Abs(*report.ExpectedX-*report.ObservedX) <= verdictTolerance {
			return grading.VerdictCorrect
		}
		return grading.VerdictIncorrect
	}
	return grading.VerdictUnknown
}

// VerdictReason is derived from the same chain as the verdict so the text
// never depends on upstream phrasing.
func VerdictReason(v grading.Verdict, report *grading.Report, usedExisting bool) string {
	bothX := report != nil && report.ExpectedX != nil && report.ObservedX != nil
	switch v {
	case grading.VerdictCorrect:
		switch {
		case usedExisting:
			return "맞음: 보조 검산 기준에서 일치가 확인되었습니다."
		case report.PassedFinding(grading.RuleFinalSubstitution):
			return "맞음: 최종 답 검증을 통과했습니다."
		case bothX:
			return "맞음: 최종 답이 정답과 일치합니다."
		}
		return "맞음: 검증 기준에서 정답으로 판단했습니다."
	case grading.VerdictIncorrect:
		_, finalFailed := report.FailedFinding(grading.RuleFinalSubstitution, false)
		_, equivFailed := report.FailedFinding(grading.RuleEquivTransform, false)
		switch {
		case usedExisting:
			return "틀림: 보조 검산 기준에서 불일치가 확인되었습니다."
		case finalFailed:
			return "틀림: 최종 답 검증에서 불일치가 확인되었습니다."
		case equivFailed:
			return "틀림: 중간 식 변형에서 동치가 깨졌습니다."
		case bothX:
			return "틀림: 최종 답이 정답과 일치하지 않습니다."
		}
		return "틀림: 검증 근거에서 오답 신호가 확인되었습니다."
	}
	return "정오 판단 보류: 검증 정보 부족"
}

// LogicQuality mixes the first four rubric dimensions with the transform pass ratio.
func LogicQuality(res *grading.Result, report *grading.Report) float64 {
	r := res.RubricScores
	rubricQuality := grading.Clamp((r.Conditions+r.Modeling+r.Logic+r.Calculation)/8, 0, 1)
	process, ok := report.PassRatio(grading.RuleEquivTransform)
	if !ok {
		process = rubricQuality
	}
	return grading.Round4(grading.Clamp(0.65*rubricQuality+0.35*process, 0, 1))
}

// ApplyVerdict fixes the verdict and its reason, then moves the score into the
// verdict's band: correct [7,10], incorrect [0,7], unknown unchanged.
// A prior correct/incorrect from the candidate survives only an unknown derivation.
func ApplyVerdict(res *grading.Result, report *grading.Report) grading.Verdict {
	verdict := DeriveVerdict(report)
	usedExisting := false
	if verdict == grading.VerdictUnknown && res.AnswerVerdict != grading.VerdictUnknown && res.AnswerVerdict != "" {
		verdict = res.AnswerVerdict
		usedExisting = true
	}
	res.AnswerVerdict = verdict
	res.AnswerVerdictReason = grading.CleanText(VerdictReason(verdict, report, usedExisting), "정오 판단 정보가 부족합니다.", 120)

	current := res.ScoreTotal
	quality := LogicQuality(res, report)
	var target float64
	switch verdict {
	case grading.VerdictCorrect:
		target = grading.Round2(grading.Clamp(7+3*quality, 7, 10))
		if current >= 7 && current <= 10 && current > target {
			target = current
		}
	case grading.VerdictIncorrect:
		target = grading.Round2(grading.Clamp(7*quality, 0, 7))
		if current < target {
			target = current
		}
	default:
		target = grading.Round2(grading.Clamp(current, 0, 10))
	}

	res.ScoreTotal = target
	res.RubricScores.RescaleTo(target)
	switch verdict {
	case grading.VerdictIncorrect:
		res.RubricScores.Final = min(res.RubricScores.Final, 0.8)
	case grading.VerdictCorrect:
		res.RubricScores.Final = max(res.RubricScores.Final, 1.2)
	}
	return verdict
}
