package grading

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// --- CANDIDATE NORMALIZER ---------------------------------------------------
// Raw model output is an untyped document (map[string]any straight from
// encoding/json). Normalize is total: it either returns a Result that passed
// Validate or a SchemaViolation; nothing downstream looks at the raw map.

const (
	defaultConfidence = 0.62

	genericEvidence = "근거가 부족해 보완 설명이 필요합니다."
	genericFix      = "핵심 감점 구간을 한 줄씩 다시 전개해 수정하세요."
	genericLocation = "풀이 중간 구간"

	defaultRationale    = "정답 형태를 유지하면서 감점 원인만 최소 수정합니다."
	defaultSeedChange   = "최종 답을 식에 대입해 검산하고 단위/부호를 점검하세요."
	fallbackSeedChange  = "중간 계산/기호를 다시 검토해 감점 포인트를 수정합니다."
	defaultSeedRational = "핵심 오류를 먼저 보정하면 전체 점수 회복 효과가 큽니다."
	defaultBrief        = "핵심 감점 포인트를 최소 수정해 기존 풀이 흐름을 유지합니다."
	defaultVerdictText  = "정오 판단 정보가 부족합니다."
	lowLegibilityNote   = "필기 가독성이 낮아 일부 단계 판단은 보수적으로 처리했습니다."
	lastResortChecklist = "핵심 계산 단계를 다시 확인하세요."
)

var (
	wrapperKeys = []string{"analysis_result", "result", "output", "data", "json", "response"}

	signatureKeys = map[string]struct{}{
		"score_total": {}, "total_score": {}, "score": {}, "final_score": {}, "overall_score": {},
		"scoreTotal": {}, "rubric_scores": {}, "rubric": {}, "rubric_score": {}, "rubricScores": {},
		"mistakes": {}, "patch": {}, "next_checklist": {}, "confidence": {}, "answer_verdict": {},
		"verdict": {}, "is_correct": {},
	}

	topAliases = []struct {
		canonical string
		aliases   []string
	}{
		{"score_total", []string{"total_score", "score", "final_score", "overall_score", "scoreTotal"}},
		{"rubric_scores", []string{"rubric", "rubric_score", "rubricScores"}},
		{"next_checklist", []string{"checklist", "next_steps", "nextChecklist", "review_checklist"}},
		{"answer_verdict", []string{"verdict", "is_correct", "correctness", "answerVerdict"}},
		{"answer_verdict_reason", []string{"verdict_reason", "correctness_reason", "answerVerdictReason"}},
	}

	rubricAliases = map[string]string{"condition": "conditions", "model": "modeling", "cal": "calculation"}

	checklistFallbacks = []string{
		"최종 줄의 단위/기호/부호를 다시 확인하세요.",
		"조건 누락 여부를 체크한 뒤 답을 마무리하세요.",
	}
)

// NormalizeJSON parses raw text (possibly with prose around the object) and normalizes it.
func NormalizeJSON(raw []byte) (*Result, error) {
	obj, ok := ParseJSONObject(string(raw))
	if !ok {
		return nil, Errorf(KindSchemaViolation, "candidate is not a JSON object")
	}
	return Normalize(obj)
}

// Normalize coerces one candidate into the canonical Result.
func Normalize(raw map[string]any) (*Result, error) {
	if raw == nil {
		return nil, Errorf(KindSchemaViolation, "candidate is empty")
	}
	doc := unwrap(raw)
	applyAliases(doc)
	if !hasSignature(doc) {
		return nil, Errorf(KindSchemaViolation, "candidate has no grading fields")
	}

	res := &Result{}
	fillScore(res, doc)
	fillRubric(res, doc)
	fillMistakes(res, doc)
	fillPatch(res, doc)
	fillChecklist(res, doc)
	fillConfidence(res, doc)
	res.AnswerVerdict = ParseVerdict(doc["answer_verdict"])
	res.AnswerVerdictReason = CleanText(asString(doc["answer_verdict_reason"]), defaultVerdictText, 120)
	fillMissingInfo(res, doc)

	harmonizeScoreWithDeductions(res)
	reconcileRubricWithScore(res)
	if res.Confidence < 0.45 {
		res.AddMissingInfo(lowLegibilityNote)
	}

	if err := Validate(res); err != nil {
		return nil, err
	}
	return res, nil
}

// ParseJSONObject tries the whole text, then the outermost {...} span.
func ParseJSONObject(raw string) (map[string]any, bool) {
	text := strings.TrimSpace(stripCodeFences(raw))
	if text == "" {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err == nil && m != nil {
		return m, true
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	m = nil
	if err := json.Unmarshal([]byte(text[start:end+1]), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return s
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		return ParseJSONObject(t)
	}
	return nil, false
}

func looksLikeResult(m map[string]any) bool {
	if _, ok := m["score_total"]; ok {
		return true
	}
	_, r := m["rubric_scores"]
	_, mi := m["mistakes"]
	_, p := m["patch"]
	return r && mi && p
}

func looksLikePartial(m map[string]any) bool {
	n := 0
	for k := range m {
		if _, ok := signatureKeys[k]; ok {
			n++
		}
	}
	return n >= 2
}

func hasSignature(m map[string]any) bool {
	for k := range m {
		if _, ok := signatureKeys[k]; ok {
			return true
		}
	}
	return false
}

// unwrap finds the payload: self, known wrappers (one level deep, lists included), then any value.
func unwrap(data map[string]any) map[string]any {
	if looksLikeResult(data) {
		return copyMap(data)
	}
	for _, key := range wrapperKeys {
		nested, ok := asObject(data[key])
		if !ok {
			continue
		}
		if looksLikeResult(nested) || looksLikePartial(nested) {
			return copyMap(nested)
		}
		for _, child := range nested {
			if obj, ok := asObject(child); ok && looksLikeResult(obj) {
				return copyMap(obj)
			}
			if list, ok := child.([]any); ok {
				for _, item := range list {
					if obj, ok := asObject(item); ok && looksLikeResult(obj) {
						return copyMap(obj)
					}
				}
			}
		}
	}
	for _, v := range data {
		if obj, ok := asObject(v); ok && looksLikeResult(obj) {
			return copyMap(obj)
		}
	}
	return copyMap(data)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func applyAliases(doc map[string]any) {
	for _, a := range topAliases {
		if _, ok := doc[a.canonical]; ok {
			continue
		}
		for _, alias := range a.aliases {
			if v, ok := doc[alias]; ok {
				doc[a.canonical] = v
				break
			}
		}
	}
	if rubric, ok := doc["rubric_scores"].(map[string]any); ok {
		rubric = copyMap(rubric)
		for src, dst := range rubricAliases {
			if _, has := rubric[dst]; has {
				continue
			}
			if v, ok := rubric[src]; ok {
				rubric[dst] = v
			}
		}
		doc["rubric_scores"] = rubric
	}
}

// toFloat accepts JSON numbers and numeric strings; bools and NaN/Inf are rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func fillScore(res *Result, doc map[string]any) {
	score, ok := toFloat(doc["score_total"])
	if !ok {
		score, ok = inferScore(doc)
	}
	if !ok {
		score = 0
	}
	res.ScoreTotal = Clamp(score, 0, MaxScore)
}

// inferScore prefers a complete rubric sum, then 10 minus raw deductions.
func inferScore(doc map[string]any) (float64, bool) {
	if rubric, ok := doc["rubric_scores"].(map[string]any); ok {
		sum, complete := 0.0, true
		for _, k := range Dimensions {
			v, ok := toFloat(rubric[k])
			if !ok {
				complete = false
				break
			}
			sum += v
		}
		if complete {
			return Round2(Clamp(sum, 0, MaxScore)), true
		}
	}
	if list, ok := doc["mistakes"].([]any); ok {
		var deduction float64
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if p, ok := toFloat(m["points_deducted"]); ok {
				deduction += p
			}
		}
		return Round2(Clamp(MaxScore-deduction, 0, MaxScore)), true
	}
	return 0, false
}

func fillRubric(res *Result, doc map[string]any) {
	rubric, _ := doc["rubric_scores"].(map[string]any)
	perBucket := Round2(res.ScoreTotal / 5)
	for _, k := range Dimensions {
		v, ok := toFloat(rubric[k])
		if !ok {
			v = perBucket
		}
		res.RubricScores.Set(k, Round2(Clamp(v, 0, MaxDimension)))
	}
}

func fillMistakes(res *Result, doc map[string]any) {
	list, _ := doc["mistakes"].([]any)
	if len(list) > MaxMistakes {
		list = list[:MaxMistakes]
	}
	out := make([]Mistake, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, normalizeMistake(m))
	}
	res.Mistakes = SortBySeverity(dedupeMistakes(out))
}

func normalizeMistake(m map[string]any) Mistake {
	mtype := ParseMistakeType(asString(m["type"]))
	sev := ParseSeverity(asString(m["severity"]), SeverityMed)

	points, ok := toFloat(m["points_deducted"])
	if !ok {
		points = 0.5
	}
	points = Round2(Clamp(PointsForSeverity(points, sev), 0, MaxPoints))

	return Mistake{
		Type:           mtype,
		Severity:       sev,
		PointsDeducted: points,
		Evidence:       normalizeEvidence(CleanText(asString(m["evidence"]), genericEvidence, 240), mtype),
		FixInstruction: normalizeFix(CleanText(asString(m["fix_instruction"]), genericFix, 240), mtype),
		LocationHint:   normalizeLocation(CleanText(asString(m["location_hint"]), genericLocation, 120), mtype),
		Highlight:      normalizeHighlight(m["highlight"]),
	}
}

// PointsForSeverity ties the deduction to its severity: high ≥1.0, med ≥0.4, low ≤0.8.
func PointsForSeverity(points float64, sev Severity) float64 {
	switch sev {
	case SeverityHigh:
		return math.Max(points, 1.0)
	case SeverityMed:
		return math.Max(points, 0.4)
	}
	return math.Min(points, 0.8)
}

func normalizeHighlight(v any) Highlight {
	raw, _ := v.(map[string]any)
	h := Highlight{
		Mode:  ParseHighlightMode(asString(raw["mode"])),
		Shape: ParseHighlightShape(asString(raw["shape"])),
	}
	coord := func(key string, lo float64) *float64 {
		f, ok := toFloat(raw[key])
		if !ok {
			return nil
		}
		return FloatPtr(Round4(Clamp(f, lo, 1)))
	}
	h.X, h.Y = coord("x", 0), coord("y", 0)
	h.W, h.H = coord("w", 0.02), coord("h", 0.02)
	// a box without all four coordinates points nowhere; degrade to tap
	if h.Mode != ModeTap && !h.Complete() {
		return Highlight{Mode: ModeTap, Shape: h.Shape}
	}
	return h
}

func rawHighlightIncomplete(v any) bool {
	raw, _ := v.(map[string]any)
	mode := ParseHighlightMode(asString(raw["mode"]))
	if mode == ModeTap {
		return false
	}
	for _, k := range []string{"x", "y", "w", "h"} {
		if raw[k] == nil {
			return true
		}
	}
	return false
}

func normalizeEvidence(text string, t MistakeType) string {
	text = strings.TrimSpace(text)
	switch text {
	case genericEvidence, "근거 부족", "검토 필요", "":
	default:
		if utf8.RuneCountInString(text) >= 10 {
			return text
		}
	}
	switch t {
	case FinalFormError:
		return "최종 답이 문제 조건 또는 식 검산 결과와 일치하지 않습니다."
	case SignError:
		return "이항/전개 단계에서 부호 처리 불일치가 보입니다."
	case UnitError:
		return "중간 계산과 최종 답의 단위 표기가 일관되지 않습니다."
	case AlgebraError:
		return "식 전개 또는 약분 과정의 계산 일관성이 부족합니다."
	}
	return "감점 근거가 명확하지 않아 보수적으로 해석했습니다."
}

func normalizeFix(text string, t MistakeType) string {
	text = strings.TrimSpace(text)
	switch text {
	case genericFix, "수정 필요", "다시 풀기":
	default:
		if utf8.RuneCountInString(text) >= 12 {
			return text
		}
	}
	switch t {
	case SignError:
		return "이항과 전개 단계의 부호를 한 줄씩 다시 대조하세요."
	case UnitError:
		return "최종 줄과 중간 계산의 단위를 동일 기준으로 정리하세요."
	case ConditionMissed:
		return "문제 조건을 식 옆에 적고 누락 없이 반영하세요."
	case AlgebraError:
		return "식 전개와 약분을 단계별로 나눠 재계산하세요."
	case FinalFormError:
		return "최종 답을 원식에 다시 대입해 성립 여부를 확인하세요."
	case LogicGap:
		return "단계 간 연결 근거를 한 줄씩 보강하고 점프를 줄이세요."
	}
	return genericFix
}

func normalizeLocation(text string, t MistakeType) string {
	text = strings.TrimSpace(text)
	if text != "" && text != genericLocation && text != "해당 부분" {
		return text
	}
	switch t {
	case FinalFormError:
		return "최종 답 줄"
	case UnitError:
		return "단위 표기 줄"
	case SignError:
		return "이항/부호 처리 줄"
	case ConditionMissed:
		return "초기 조건 정리 줄"
	}
	return genericLocation
}

// dedupeMistakes collapses type|location|fix signatures, keeping the larger deduction.
func dedupeMistakes(in []Mistake) []Mistake {
	out := make([]Mistake, 0, len(in))
	index := map[string]int{}
	for _, m := range in {
		key := string(m.Type) + "|" + Signature(m.LocationHint) + "|" + Signature(m.FixInstruction)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, m)
			continue
		}
		if m.PointsDeducted > out[i].PointsDeducted {
			out[i] = m
		}
	}
	if len(out) > MaxMistakes {
		out = out[:MaxMistakes]
	}
	return out
}

// SortBySeverity orders by (severity, points) descending, stable, capped at 20.
func SortBySeverity(in []Mistake) []Mistake {
	sort.SliceStable(in, func(i, j int) bool {
		ri, rj := in[i].Severity.Rank(), in[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return in[i].PointsDeducted > in[j].PointsDeducted
	})
	if len(in) > MaxMistakes {
		in = in[:MaxMistakes]
	}
	return in
}

func fillPatch(res *Result, doc map[string]any) {
	patch, _ := doc["patch"].(map[string]any)
	changes, _ := patch["minimal_changes"].([]any)
	if len(changes) > MaxPatchChanges {
		changes = changes[:MaxPatchChanges]
	}
	for _, item := range changes {
		c, ok := item.(map[string]any)
		if !ok {
			continue
		}
		change := CleanText(asString(c["change"]), "", 220)
		if change == "" {
			continue
		}
		res.Patch.MinimalChanges = append(res.Patch.MinimalChanges, PatchChange{
			Change:    change,
			Rationale: CleanText(asString(c["rationale"]), defaultRationale, 160),
		})
	}
	if len(res.Patch.MinimalChanges) == 0 {
		seed := defaultSeedChange
		if len(res.Mistakes) > 0 {
			seed = res.Mistakes[0].FixInstruction
		}
		res.Patch.MinimalChanges = []PatchChange{{
			Change:    CleanText(seed, fallbackSeedChange, 220),
			Rationale: defaultSeedRational,
		}}
	}
	res.Patch.PatchedSolutionBrief = CleanText(asString(patch["patched_solution_brief"]), defaultBrief, 600)
}

func fillChecklist(res *Result, doc map[string]any) {
	var items []string
	add := func(s string) {
		if s == "" || len(items) >= MaxChecklist {
			return
		}
		for _, v := range items {
			if v == s {
				return
			}
		}
		items = append(items, s)
	}
	if list, ok := doc["next_checklist"].([]any); ok {
		for _, raw := range list {
			add(CleanText(asString(raw), "", 80))
		}
	}
	if len(items) == 0 {
		for _, s := range ChecklistFromMistakes(res.Mistakes) {
			add(s)
		}
		for _, s := range checklistFallbacks {
			add(CleanText(s, "", 80))
		}
	}
	if len(items) == 0 {
		items = []string{lastResortChecklist}
	}
	res.NextChecklist = items
}

// ChecklistFromMistakes ranks fix instructions by (severity, points).
func ChecklistFromMistakes(mistakes []Mistake) []string {
	ranked := SortBySeverity(append([]Mistake(nil), mistakes...))
	var out []string
	for _, m := range ranked {
		s := CleanText(m.FixInstruction, "", 80)
		if s == "" {
			continue
		}
		dup := false
		for _, v := range out {
			if v == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
		if len(out) >= MaxChecklist {
			break
		}
	}
	return out
}

func fillConfidence(res *Result, doc map[string]any) {
	conf, ok := toFloat(doc["confidence"])
	if !ok {
		conf = defaultConfidence
	}
	conf = Clamp(conf, 0, 1)

	missing := 0
	if list, ok := doc["missing_info"].([]any); ok {
		for _, raw := range list {
			if CleanText(asString(raw), "", 80) != "" {
				missing++
			}
		}
	}
	conf -= math.Min(0.32, float64(missing)*0.08)

	if len(res.Mistakes) == 0 && res.ScoreTotal < 9 {
		conf -= 0.1
	}

	// boxes the model promised but could not place
	penalty := 0.0
	if list, ok := doc["mistakes"].([]any); ok {
		if len(list) > MaxMistakes {
			list = list[:MaxMistakes]
		}
		for _, item := range list {
			if m, ok := item.(map[string]any); ok && rawHighlightIncomplete(m["highlight"]) {
				penalty += 0.06
			}
		}
	}
	conf -= math.Min(0.18, penalty)

	res.Confidence = Round2(Clamp(conf, 0, 1))
}

func fillMissingInfo(res *Result, doc map[string]any) {
	res.MissingInfo = []string{}
	list, _ := doc["missing_info"].([]any)
	if len(list) > MaxMissingInfo {
		list = list[:MaxMissingInfo]
	}
	for _, raw := range list {
		if s := CleanText(asString(raw), "", 80); s != "" {
			res.MissingInfo = append(res.MissingInfo, s)
		}
	}
}

// harmonizeScoreWithDeductions only intervenes when score and deductions disagree by more than 3.
func harmonizeScoreWithDeductions(res *Result) {
	ded := Round2(Clamp(MaxScore-res.DeductionSum(), 0, MaxScore))
	if math.Abs(res.ScoreTotal-ded) > 3.0 {
		res.ScoreTotal = Round2((res.ScoreTotal + ded) / 2)
	}
}

// reconcileRubricWithScore spreads the gap over the dimensions when it exceeds 0.25;
// if clamping leaves it more than 0.4 off, the score meets the rubric halfway.
func reconcileRubricWithScore(res *Result) {
	delta := res.ScoreTotal - res.RubricScores.Sum()
	if math.Abs(delta) <= 0.25 {
		return
	}
	step := math.Round(delta/5*1000) / 1000
	adjusted := res.RubricScores
	for _, k := range Dimensions {
		adjusted.Set(k, Round2(Clamp(res.RubricScores.Get(k)+step, 0, MaxDimension)))
	}
	if sum := adjusted.Sum(); math.Abs(sum-res.ScoreTotal) > 0.4 {
		res.ScoreTotal = Round2((res.ScoreTotal + sum) / 2)
	}
	res.RubricScores = adjusted
}
