// Package balance makes the displayed score and the listed deductions derivable
// from each other: score_total = 10 − Σ points_deducted, in tenth-point units.
package balance

import (
	"fmt"
	"sort"

	"mistakepatch/api/internal/evidence"
	"mistakepatch/api/internal/grading"
)

const (
	// deductions at or below this are display-only and are dropped
	displayOnly = 0.04
	gapSlack    = 0.1

	middleLocation = "풀이 중간 구간"
)

type dimension struct {
	key      string
	typ      grading.MistakeType
	rule     string
	label    string
	location string
}

var dimensions = []dimension{
	{"conditions", grading.ConditionMissed, "RULE_RUBRIC_CONDITIONS", "조건 반영", "첫 줄(조건 해석)"},
	{"modeling", grading.DefinitionConfusion, "RULE_RUBRIC_MODELING", "식 세우기", "식 세우는 줄"},
	{"logic", grading.LogicGap, "RULE_RUBRIC_LOGIC", "논리 전개", "중간 전개 줄"},
	{"calculation", grading.ArithmeticError, "RULE_RUBRIC_CALC", "계산", "계산 줄"},
	{"final", grading.FinalFormError, "RULE_RUBRIC_FINAL", "최종 답 검산", "최종 답 줄"},
}

// severityFor maps a deduction onto the band it naturally belongs to.
func severityFor(points float64) grading.Severity {
	switch {
	case points >= 1.2:
		return grading.SeverityHigh
	case points >= 0.6:
		return grading.SeverityMed
	}
	return grading.SeverityLow
}

func sumPoints(ms []grading.Mistake) float64 {
	var s float64
	for _, m := range ms {
		s += m.PointsDeducted
	}
	return s
}

func sortByPoints(ms []grading.Mistake) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].PointsDeducted > ms[j].PointsDeducted })
}

func capMistakes(ms []grading.Mistake) []grading.Mistake {
	if len(ms) > grading.MaxMistakes {
		return ms[:grading.MaxMistakes]
	}
	return ms
}

// Ensure reconciles the score with the deductions.
//
// On a verified-correct answer (verdict correct, no failed finding) nothing is
// synthesized; the score is only capped at 10 − Σ. Otherwise missing deductions
// are synthesized from rubric shortfalls and every entry is redistributed so
// the total lands exactly on 10 − score.
func Ensure(res *grading.Result, report *grading.Report) {
	kept := make([]grading.Mistake, 0, len(res.Mistakes))
	for _, m := range res.Mistakes {
		if m.PointsDeducted > displayOnly {
			kept = append(kept, m)
		}
	}

	if res.AnswerVerdict == grading.VerdictCorrect && !report.AnyFailed() {
		sortByPoints(kept)
		res.Mistakes = capMistakes(kept)
		if len(res.Mistakes) > 0 {
			ceiling := grading.RoundTenth(grading.Clamp(grading.MaxScore-grading.RoundTenth(sumPoints(res.Mistakes)), 0, grading.MaxScore))
			if grading.RoundTenth(res.ScoreTotal) > ceiling {
				res.ScoreTotal = ceiling
			}
		}
		return
	}

	var steps []grading.Step
	if report != nil {
		steps = report.Steps
	}

	score := grading.RoundTenth(grading.Clamp(res.ScoreTotal, 0, grading.MaxScore))
	target := grading.RoundTenth(grading.MaxScore - score)
	gap := grading.Round2(target - grading.Round2(sumPoints(kept)))

	if gap > gapSlack {
		kept = append(kept, rubricGapMistakes(res.RubricScores, steps, gap)...)
		gap = grading.Round2(target - grading.Round2(sumPoints(kept)))
		if gap > gapSlack {
			kept = append(kept, balancingMistake(steps, gap))
		}
	}

	kept = NormalizeToTarget(kept, target)
	sortByPoints(kept)
	res.Mistakes = capMistakes(kept)
	res.ScoreTotal = grading.RoundTenth(grading.MaxScore - grading.RoundTenth(sumPoints(res.Mistakes)))
}

func balancingMistake(steps []grading.Step, gap float64) grading.Mistake {
	step, ok := evidence.InferStep(middleLocation, steps)
	if !ok {
		step = "s1"
	}
	sev := grading.SeverityMed
	if gap >= 1 {
		sev = grading.SeverityHigh
	}
	return grading.Mistake{
		Type:           grading.LogicGap,
		Severity:       sev,
		PointsDeducted: grading.Round2(grading.Clamp(gap, 0.1, grading.MaxPoints)),
		Evidence:       grading.FormatProvenance(step, grading.RuleScoreBalance, "루브릭 총점 대비 누락된 감점 요인 보완", ""),
		FixInstruction: "핵심 논리/계산/최종답 검증을 단계별로 다시 점검하세요.",
		LocationHint:   middleLocation,
		Highlight:      grading.Box(),
	}
}

// rubricGapMistakes spreads gap over the rubric dimensions in proportion to
// how far each falls short of 2.0.
func rubricGapMistakes(r grading.Rubric, steps []grading.Step, gap float64) []grading.Mistake {
	type shortfall struct {
		dim     dimension
		deficit float64
	}
	var (
		short []shortfall
		total float64
	)
	for _, d := range dimensions {
		deficit := grading.Round3(grading.Clamp(grading.MaxDimension-r.Get(d.key), 0, grading.MaxDimension))
		if deficit > 0.05 {
			short = append(short, shortfall{dim: d, deficit: deficit})
			total += deficit
		}
	}
	if len(short) == 0 || total <= 0 {
		return nil
	}

	scale := gap / total
	var out []grading.Mistake
	for i, s := range short {
		points := grading.Round2(grading.Clamp(s.deficit*scale, 0, grading.MaxPoints))
		if points < 0.1 {
			continue
		}
		step := stepForDimension(s.dim.key, steps, i+1)
		out = append(out, grading.Mistake{
			Type:           s.dim.typ,
			Severity:       severityFor(points),
			PointsDeducted: points,
			Evidence:       grading.FormatProvenance(step, s.dim.rule, s.dim.label+" 루브릭 점수 부족으로 감점", ""),
			FixInstruction: s.dim.label + " 관련 줄을 다시 전개해 감점 요인을 수정하세요.",
			LocationHint:   s.dim.location,
			Highlight:      grading.Box(),
		})
	}
	return out
}

// stepForDimension anchors a synthetic deduction on a plausible step. Without
// steps a pseudo id s1..s6 keeps box mapping stable.
func stepForDimension(key string, steps []grading.Step, ordinal int) string {
	n := len(steps)
	if n == 0 {
		return fmt.Sprintf("s%d", min(max(ordinal, 1), 6))
	}
	switch key {
	case "final":
		return steps[n-1].ID
	case "conditions", "modeling":
		return steps[0].ID
	case "calculation":
		return steps[min(n-1, max(1, n/2))].ID
	}
	return steps[min(n-1, max(0, n/2))].ID
}

// ReconcileFromDeductions lowers the score (never raises it) to 10 − Σ deductions,
// rescaling the rubric to match.
func ReconcileFromDeductions(res *grading.Result) bool {
	ceiling := grading.RoundTenth(grading.Clamp(grading.MaxScore-res.DeductionSum(), 0, grading.MaxScore))
	if grading.RoundTenth(res.ScoreTotal) <= ceiling {
		return false
	}
	res.ScoreTotal = ceiling
	res.RubricScores.RescaleTo(ceiling)
	return true
}
