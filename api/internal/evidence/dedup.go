package evidence

import (
	"sort"

	"mistakepatch/api/internal/grading"
)

// mergeSimilarity is the token-Jaccard above which two reasons are treated as one.
const mergeSimilarity = 0.7

type stepRule struct {
	step, rule string
}

// Dedup collapses mistakes sharing a (step, rule) tag into the higher deduction.
// Distinct reasons are concatenated so no justification is lost.
func Dedup(res *grading.Result) {
	var (
		out   []grading.Mistake
		index = map[stepRule]int{}
	)
	for _, m := range res.Mistakes {
		cur := grading.ParseProvenance(m.Evidence)
		key := stepRule{step: cur.Step, rule: cur.Rule}
		if key.step == "" {
			key.step = "s0"
		}
		if key.rule == "" {
			key.rule = grading.DefaultRule(m.Type)
		}

		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, m)
			continue
		}

		existing := &out[i]
		prev := grading.ParseProvenance(existing.Evidence)
		similar := grading.Jaccard(cur.Reason(), prev.Reason()) >= mergeSimilarity
		severity := existing.Severity.Max(m.Severity)

		if m.PointsDeducted > existing.PointsDeducted {
			evidence := existing.Evidence
			existing.Type = m.Type
			existing.FixInstruction = m.FixInstruction
			existing.LocationHint = m.LocationHint
			existing.Highlight = m.Highlight
			existing.PointsDeducted = m.PointsDeducted
			if similar {
				existing.Evidence = m.Evidence
			} else {
				existing.Evidence = mergedEvidence(key, prev, cur, evidence)
			}
		} else if !similar {
			existing.Evidence = mergedEvidence(key, prev, cur, existing.Evidence)
		}
		existing.Severity = severity
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PointsDeducted != out[j].PointsDeducted {
			return out[i].PointsDeducted > out[j].PointsDeducted
		}
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	if len(out) > grading.MaxMistakes {
		out = out[:grading.MaxMistakes]
	}
	res.Mistakes = out
}

func mergedEvidence(key stepRule, prev, cur grading.Provenance, fallback string) string {
	first, second := prev.Reason(), cur.Reason()
	def := first
	if def == "" {
		def = second
	}
	reason := grading.CleanText(first+" 추가근거: "+second, def, 180)
	if reason == "" {
		return fallback
	}
	step, rule := prev.Step, prev.Rule
	if step == "" {
		step = key.step
	}
	if rule == "" {
		rule = key.rule
	}
	return grading.FormatProvenance(step, rule, reason, "")
}
