// Package evidence ties every deduction to a verifiable provenance tag.
// Stages run in order Inject → Gate → Dedup and mutate the result in place.
package evidence

import (
	"mistakepatch/api/internal/grading"
)

const (
	finalFix = "최종 값을 원식에 대입해 성립 여부를 확인한 뒤 답을 수정하세요."
	equivFix = "전후 식의 해가 같아지는지 한 줄씩 다시 전개해 수정하세요."
)

// Inject prepends one mistake per failing finding so verified errors always surface.
func Inject(res *grading.Result, report *grading.Report) {
	if report == nil {
		return
	}
	textByStep := make(map[string]string, len(report.Steps))
	for _, s := range report.Steps {
		textByStep[s.ID] = s.Text
	}

	var generated []grading.Mistake
	for _, f := range report.Findings {
		if f.Passed {
			continue
		}
		m := grading.Mistake{
			Type:           grading.LogicGap,
			Severity:       grading.SeverityMed,
			PointsDeducted: 0.5,
			FixInstruction: equivFix,
			Highlight:      grading.Box(),
		}
		if f.Rule == grading.RuleFinalSubstitution {
			m.Type = grading.FinalFormError
			m.Severity = grading.SeverityHigh
			m.PointsDeducted = 1.5
			m.FixInstruction = finalFix
		}
		m.Evidence = grading.FormatProvenance(f.StepID, f.Rule, f.Reason, f.Counterexample)
		m.LocationHint = grading.CleanText(textByStep[f.StepID], f.StepID+" 단계", 120)
		generated = append(generated, m)
	}
	if len(generated) == 0 {
		return
	}

	res.Mistakes = append(generated, res.Mistakes...)
	if len(res.Mistakes) > grading.MaxMistakes {
		res.Mistakes = res.Mistakes[:grading.MaxMistakes]
	}
}
