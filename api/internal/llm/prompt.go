package llm

import (
	"encoding/json"
	"fmt"
	"sort"

	"mistakepatch/api/internal/grading"
)

const SystemPrompt = `You are MistakePatch, a strict grading assistant for handwritten math/physics solutions.

Core objective:
- Prioritize grading quality and error localization over full tutoring.
- Focus on where points are lost and how to minimally fix them.

Output rules:
- Return ONLY valid JSON that exactly follows the provided schema.
- Do not add markdown, code fences, or extra keys.
- Keep Korean text concise and actionable.

Grading policy:
- Score on a 10-point rubric: conditions, modeling, logic, calculation, final (each 0..2).
- Ensure score_total is consistent with rubric_scores and mistake severities.
- Use mistakes only when there is plausible evidence from the student's work.
- Prefer minimal patch instructions over long explanations.
- Do not provide full final solutions unless needed for a minimal correction.

Verdict policy:
- Set answer_verdict to correct/incorrect/unknown.
- Provide a brief answer_verdict_reason.

Highlight policy:
- Use highlight.mode="tap" when exact region is uncertain.
- Set x/y/w/h to null when you are not confident about exact coordinates.

Confidence policy:
- If handwriting or image quality is low, lower confidence and populate missing_info.
- If critical information is unreadable, avoid over-claiming and mark uncertainty clearly.`

func UserPrompt(req Request) string {
	subject := req.Subject
	if subject == "" {
		subject = "math"
	}
	mode := req.HighlightMode
	if mode == "" {
		mode = string(grading.ModeTap)
	}
	return fmt.Sprintf("subject=%s\nhighlight_mode=%s\nScore with rubric and return mistakes, patch, checklist in Korean.", subject, mode)
}

func num(lo, hi float64) map[string]any {
	return map[string]any{"type": "number", "minimum": lo, "maximum": hi}
}

func str(maxLen int) map[string]any {
	return map[string]any{"type": "string", "maxLength": maxLen}
}

func enum(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func object(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sort.Strings(required)
	return map[string]any{
		"type":                 "object",
		"required":             required,
		"additionalProperties": false,
		"properties":           props,
	}
}

func nullableNumber() map[string]any {
	return map[string]any{"type": []string{"number", "null"}}
}

// ResultSchema is the strict JSON schema a provider is asked to follow.
func ResultSchema() map[string]any {
	types := make([]string, len(grading.MistakeTypes))
	for i, t := range grading.MistakeTypes {
		types[i] = string(t)
	}
	rubric := map[string]any{}
	for _, d := range grading.Dimensions {
		rubric[d] = num(0, grading.MaxDimension)
	}
	mistake := object(map[string]any{
		"type":            enum(types...),
		"severity":        enum("low", "med", "high"),
		"points_deducted": num(0, grading.MaxPoints),
		"evidence":        str(240),
		"fix_instruction": str(240),
		"location_hint":   str(120),
		"highlight": object(map[string]any{
			"mode":  enum("tap", "ocr_box", "region_box"),
			"shape": enum("circle", "box"),
			"x":     nullableNumber(),
			"y":     nullableNumber(),
			"w":     nullableNumber(),
			"h":     nullableNumber(),
		}),
	})
	change := object(map[string]any{"change": str(220), "rationale": str(160)})

	return object(map[string]any{
		"score_total":   num(0, grading.MaxScore),
		"rubric_scores": object(rubric),
		"mistakes":      map[string]any{"type": "array", "minItems": 0, "maxItems": grading.MaxMistakes, "items": mistake},
		"patch": object(map[string]any{
			"minimal_changes":        map[string]any{"type": "array", "minItems": 1, "maxItems": grading.MaxPatchChanges, "items": change},
			"patched_solution_brief": str(600),
		}),
		"next_checklist":        map[string]any{"type": "array", "minItems": 1, "maxItems": grading.MaxChecklist, "items": str(80)},
		"confidence":            num(0, 1),
		"missing_info":          map[string]any{"type": "array", "maxItems": grading.MaxMissingInfo, "items": str(80)},
		"answer_verdict":        enum("correct", "incorrect", "unknown"),
		"answer_verdict_reason": str(120),
	})
}

// SchemaJSON is ResultSchema marshaled once.
var SchemaJSON = func() json.RawMessage {
	b, err := json.Marshal(ResultSchema())
	if err != nil {
		panic(err)
	}
	return b
}()
