package policy

import (
	"fmt"

	"mistakepatch/api/internal/grading"
)

// Thresholds are the two tunables of the uncertainty hold.
type Thresholds struct {
	Uncertainty  float64 // blended confidence below this holds deductions
	MinAgreement float64 // consensus agreement below this holds deductions
}

func DefaultThresholds() Thresholds {
	return Thresholds{Uncertainty: 0.5, MinAgreement: 0.5}
}

const (
	reviewCeiling = 8.8
	reviewFloor   = 8.0

	reviewChecklist = "검토 필요 항목 우선 확인: 자동 감점은 보류됨"
)

// Blend combines model, verifier and consensus confidence.
func Blend(model, verifier, agreement float64) float64 {
	return grading.Round2(grading.Clamp(0.5*model+0.3*verifier+0.2*agreement, 0, 1))
}

func criticalFailure(report *grading.Report) bool {
	if report == nil {
		return false
	}
	for _, f := range report.Findings {
		if f.Passed || f.Counterexample == "" {
			continue
		}
		if f.Rule == grading.RuleFinalSubstitution || f.Rule == grading.RuleEquivTransform {
			return true
		}
	}
	return false
}

func holdContext(report *grading.Report) bool {
	return report != nil && (len(report.Findings) > 0 || report.ExpectedX != nil || report.ObservedX != nil)
}

// Hold stores the blended confidence on res and, when the signals are too weak,
// zeroes every deduction and parks the score in the review band [8.0, 8.8].
// A verified counterexample or a total lack of verification context never holds.
func Hold(res *grading.Result, report *grading.Report, meta grading.ConsensusMeta, th Thresholds) bool {
	var verifierConf float64
	requiresReview := false
	if report != nil {
		verifierConf = report.Confidence
		requiresReview = report.RequiresReview
	}
	blended := Blend(res.Confidence, verifierConf, meta.Agreement)
	res.Confidence = blended

	hold := blended < th.Uncertainty || meta.Agreement < th.MinAgreement || requiresReview
	if !hold || criticalFailure(report) || !holdContext(report) {
		return false
	}

	if len(res.Mistakes) == 0 {
		res.Mistakes = []grading.Mistake{reviewPlaceholder()}
	}
	for i := range res.Mistakes {
		m := &res.Mistakes[i]
		p := grading.ParseProvenance(m.Evidence)
		body := p.Reason()
		if body == "" {
			body = "근거 불충분"
		}
		step, rule := p.Step, p.Rule
		if step == "" {
			step = "s0"
		}
		if rule == "" {
			rule = grading.RuleReviewRequired
		}
		m.PointsDeducted = 0
		m.Severity = grading.SeverityLow
		m.Evidence = grading.FormatProvenance(step, rule, grading.CleanText(body+" -> 자동 감점 보류(검토 필요)", grading.HoldReason, 180), "")
	}
	if len(res.Mistakes) > grading.MaxMistakes {
		res.Mistakes = res.Mistakes[:grading.MaxMistakes]
	}

	if res.ScoreTotal > reviewCeiling {
		res.ScoreTotal = reviewCeiling
		res.RubricScores.RescaleTo(reviewCeiling)
	}
	if res.ScoreTotal < reviewFloor {
		res.ScoreTotal = reviewFloor
		floor := grading.Round2(reviewFloor / float64(len(grading.Dimensions)))
		for _, k := range grading.Dimensions {
			res.RubricScores.Set(k, max(res.RubricScores.Get(k), floor))
		}
	}

	res.AddMissingInfo(fmt.Sprintf("검토 필요: 자동 감점 보류 (confidence=%.2f, agreement=%.2f)", blended, meta.Agreement))
	if len(res.NextChecklist) == 0 {
		res.NextChecklist = []string{reviewChecklist}
	} else {
		res.NextChecklist[0] = reviewChecklist
	}
	return true
}

func reviewPlaceholder() grading.Mistake {
	return grading.Mistake{
		Type:           grading.LogicGap,
		Severity:       grading.SeverityLow,
		Evidence:       grading.FormatProvenance("s0", grading.RuleReviewRequired, "자동 판정 근거가 부족해 감점을 보류했습니다.", ""),
		FixInstruction: "핵심 줄의 식 변형을 한 줄씩 확인해 검토하세요.",
		LocationHint:   "전체 풀이",
		Highlight:      grading.Box(),
	}
}
