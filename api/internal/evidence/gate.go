package evidence

import (
	"fmt"
	"sort"
	"strings"

	"mistakepatch/api/internal/grading"
)

const unverifiedReason = "OCR 검증 정보 부족: 모델 감점 근거를 보류 없이 반영"

// minUnverifiedPoints bounds a model deduction we could neither confirm nor refute.
const minUnverifiedPoints = 0.3

// Gate re-stamps every mistake with a canonical provenance tag.
//
// A mistake whose reason is boilerplate is held (zeroed, low) when the verifier
// produced any context; without context the model's deduction is kept but never
// below minUnverifiedPoints. Each such decision leaves a note in missing_info.
func Gate(res *grading.Result, report *grading.Report) {
	hasContext := report.HasContext()
	var steps []grading.Step
	if report != nil {
		steps = report.Steps
	}

	for i := range res.Mistakes {
		m := &res.Mistakes[i]
		p := grading.ParseProvenance(m.Evidence)

		step := p.Step
		if step == "" {
			step, _ = InferStep(m.LocationHint, steps)
		}
		if step == "" {
			step = report.LastStepID()
		}
		rule := p.Rule
		if rule == "" {
			rule = grading.DefaultRule(m.Type)
		}
		reason := p.Reason()
		if reason == "" {
			reason = grading.CleanText(m.Evidence, "", 180)
		}

		if !grading.Actionable(reason) {
			var note string
			if hasContext {
				m.PointsDeducted = 0
				m.Severity = grading.SeverityLow
				reason = grading.HoldReason
				note = fmt.Sprintf("mistake#%d: evidence_gate_hold", i+1)
			} else {
				if m.PointsDeducted <= 0 {
					m.PointsDeducted = minUnverifiedPoints
					m.Severity = grading.SeverityLow
				}
				reason = unverifiedReason
				note = fmt.Sprintf("mistake#%d: evidence_unverified_model", i+1)
			}
			res.AddMissingInfo(note)
		}
		m.Evidence = grading.FormatProvenance(step, rule, reason, "")
	}

	if len(res.Mistakes) > grading.MaxMistakes {
		res.Mistakes = res.Mistakes[:grading.MaxMistakes]
	}
}

// InferStep picks the step a location hint refers to: ordinal keywords first,
// then the best token overlap with step text, then the last step.
// ok is false only when there are no steps.
func InferStep(hint string, steps []grading.Step) (string, bool) {
	if len(steps) == 0 {
		return "", false
	}
	last := steps[len(steps)-1].ID
	h := strings.ToLower(grading.CleanText(hint, "", 120))
	switch {
	case h == "":
		return last, true
	case strings.Contains(h, "마지막"), strings.Contains(h, "최종"):
		return last, true
	case strings.Contains(h, "첫"):
		return steps[0].ID, true
	case strings.Contains(h, "두") && len(steps) >= 2:
		return steps[1].ID, true
	case strings.Contains(h, "세") && len(steps) >= 3:
		return steps[2].ID, true
	}

	hintTokens := grading.Tokens(h)
	if len(hintTokens) == 0 {
		return last, true
	}

	type scored struct {
		score float64
		id    string
	}
	var candidates []scored
	for _, s := range steps {
		tokens := grading.Tokens(s.Text)
		if len(tokens) == 0 {
			continue
		}
		candidates = append(candidates, scored{score: grading.JaccardSets(hintTokens, tokens), id: s.ID})
	}
	if len(candidates) == 0 {
		return last, true
	}
	// ties go to the lexically larger id
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id > candidates[j].id
	})
	return candidates[0].id, true
}
