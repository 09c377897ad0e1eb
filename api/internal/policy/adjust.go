// Package policy turns verifier and consensus signals into the final verdict,
// score band and confidence. Every function mutates the result in place.
package policy

import (
	"fmt"
	"math"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/verify"
)

const (
	wrongFinalCap    = 7.0
	wrongFinalPoints = 1.8
	wrongFinalFix    = "최종 값을 원식에 대입해 성립 여부를 확인한 뒤 정답을 수정하세요."

	simpleTolerance = 0.05
)

func finalMistake(res *grading.Result) *grading.Mistake {
	for i := range res.Mistakes {
		if res.Mistakes[i].Type == grading.FinalFormError {
			return &res.Mistakes[i]
		}
	}
	return nil
}

func prependMistake(res *grading.Result, m grading.Mistake) {
	res.Mistakes = append([]grading.Mistake{m}, res.Mistakes...)
	if len(res.Mistakes) > grading.MaxMistakes {
		res.Mistakes = res.Mistakes[:grading.MaxMistakes]
	}
}

// CapWrongFinal keeps a verified wrong final answer out of the upper band:
// a high FINAL_FORM_ERROR deduction, final ≤0.8, logic ≤1.6, score ≤7 and confidence ≤0.72.
func CapWrongFinal(res *grading.Result, report *grading.Report) bool {
	failure, ok := report.FailedFinding(grading.RuleFinalSubstitution, false)
	if !ok {
		return false
	}
	evidence := grading.FormatProvenance(failure.StepID, failure.Rule, failure.Reason, failure.Counterexample)
	if m := finalMistake(res); m != nil {
		m.Severity = grading.SeverityHigh
		m.PointsDeducted = max(m.PointsDeducted, wrongFinalPoints)
		m.Evidence = evidence
		m.FixInstruction = wrongFinalFix
	} else {
		prependMistake(res, grading.Mistake{
			Type:           grading.FinalFormError,
			Severity:       grading.SeverityHigh,
			PointsDeducted: wrongFinalPoints,
			Evidence:       evidence,
			FixInstruction: wrongFinalFix,
			LocationHint:   "최종 답 줄",
			Highlight:      grading.Box(),
		})
	}

	r := &res.RubricScores
	r.Final = min(r.Final, 0.8)
	r.Logic = min(r.Logic, 1.6)
	res.ScoreTotal = grading.Round2(min(res.ScoreTotal, r.Sum(), wrongFinalCap))
	res.Confidence = grading.Round2(min(res.Confidence, 0.72))
	return true
}

// SimpleEquation compares the textual "ax+b=c" solution of the problem with the
// last x= on the solution sheet. It reports whether either adjustment ran.
func SimpleEquation(res *grading.Result, problemText, solutionText string) bool {
	expected, ok := verify.SolveSimpleX(problemText)
	if !ok {
		return false
	}
	given, ok := verify.LastX(solutionText)
	if !ok {
		return false
	}
	if math.Abs(expected-given) <= simpleTolerance {
		simpleMatch(res, expected, given)
	} else {
		simpleMismatch(res, expected, given)
	}
	return true
}

func simpleMatch(res *grading.Result, expected, given float64) {
	for i := range res.Mistakes {
		m := &res.Mistakes[i]
		if m.Type != grading.FinalFormError && m.Type != grading.ArithmeticError {
			continue
		}
		m.Severity = grading.SeverityLow
		m.PointsDeducted = grading.Round2(grading.Clamp(min(m.PointsDeducted, 0.2), 0, grading.MaxPoints))
		m.Evidence = grading.CleanText(
			fmt.Sprintf("최종 답 x=%s는 식과 일치합니다. 표현/검산 보완 위주로 수정하세요.", grading.FormatNumber(given)),
			"최종 답은 일치하며 표현 보완이 필요합니다.", 240)
	}

	r := &res.RubricScores
	r.Final = grading.MaxDimension
	r.Logic = max(r.Logic, 1.8)
	floor := 9.5
	if len(res.Mistakes) > 0 {
		floor = 8.8
	}
	res.ScoreTotal = grading.Round2(grading.Clamp(max(r.Sum(), floor), 0, grading.MaxScore))
	res.Confidence = grading.Round2(grading.Clamp(max(res.Confidence, 0.82), 0, 1))
	res.AnswerVerdict = grading.VerdictCorrect
	res.AnswerVerdictReason = grading.CleanText(
		fmt.Sprintf("맞음: 단순식 검산 결과 x=%s (기대값 x=%s)", grading.FormatNumber(given), grading.FormatNumber(expected)),
		"맞음: 단순식 검산 결과가 일치합니다.", 120)
	if len(res.NextChecklist) > 0 {
		res.NextChecklist[0] = grading.CleanText(
			fmt.Sprintf("정답 확인 완료: x=%s. 최종 검산 습관 유지", grading.FormatNumber(expected)),
			res.NextChecklist[0], 80)
	}
}

func simpleMismatch(res *grading.Result, expected, given float64) {
	evidence := grading.CleanText(
		fmt.Sprintf("최종 답이 x=%s로 기록됐지만 식 해는 x=%s입니다.", grading.FormatNumber(given), grading.FormatNumber(expected)),
		"최종 답이 식과 일치하지 않습니다.", 240)
	const fix = "이항/계산 후 x 값을 다시 대입해 참/거짓을 검산하세요."

	if m := finalMistake(res); m != nil {
		m.Severity = grading.SeverityHigh
		m.PointsDeducted = grading.Round2(grading.Clamp(max(m.PointsDeducted, 1.5), 0, grading.MaxPoints))
		m.Evidence = evidence
		m.FixInstruction = fix
		m.Highlight.Mode = grading.ModeOCRBox
		m.Highlight.Shape = grading.ShapeBox
	} else {
		prependMistake(res, grading.Mistake{
			Type:           grading.FinalFormError,
			Severity:       grading.SeverityHigh,
			PointsDeducted: grading.MaxPoints,
			Evidence:       evidence,
			FixInstruction: fix,
			LocationHint:   "최종 답 줄",
			Highlight:      grading.Box(),
		})
	}

	r := &res.RubricScores
	r.Final = min(r.Final, 0.4)
	r.Logic = min(r.Logic, 1.0)
	res.ScoreTotal = grading.Round2(grading.Clamp(min(res.ScoreTotal, r.Sum(), 5), 0, grading.MaxScore))
	res.Confidence = grading.Round2(grading.Clamp(min(res.Confidence, 0.58), 0, 1))
	res.AnswerVerdict = grading.VerdictIncorrect
	res.AnswerVerdictReason = grading.CleanText(
		fmt.Sprintf("틀림: 단순식 검산 결과 x=%s, 기대값 x=%s", grading.FormatNumber(given), grading.FormatNumber(expected)),
		"틀림: 단순식 검산 결과가 일치하지 않습니다.", 120)
	res.NextChecklist = []string{
		"최종 답을 원식에 대입해 성립 여부 확인",
		"이항 시 부호/연산 오류 재점검",
		"정답 기재 전 마지막 한 줄 검산",
	}
}
