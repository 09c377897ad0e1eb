package grading

import "strings"

type MistakeType string

const (
	ConditionMissed     MistakeType = "CONDITION_MISSED"
	SignError           MistakeType = "SIGN_ERROR"
	UnitError           MistakeType = "UNIT_ERROR"
	DefinitionConfusion MistakeType = "DEFINITION_CONFUSION"
	AlgebraError        MistakeType = "ALGEBRA_ERROR"
	LogicGap            MistakeType = "LOGIC_GAP"
	CaseMiss            MistakeType = "CASE_MISS"
	GraphMisread        MistakeType = "GRAPH_MISREAD"
	ArithmeticError     MistakeType = "ARITHMETIC_ERROR"
	FinalFormError      MistakeType = "FINAL_FORM_ERROR"
)

// MistakeTypes lists the closed set in declaration order.
var MistakeTypes = []MistakeType{
	ConditionMissed, SignError, UnitError, DefinitionConfusion, AlgebraError,
	LogicGap, CaseMiss, GraphMisread, ArithmeticError, FinalFormError,
}

var mistakeTypes = map[MistakeType]struct{}{
	ConditionMissed: {}, SignError: {}, UnitError: {}, DefinitionConfusion: {}, AlgebraError: {},
	LogicGap: {}, CaseMiss: {}, GraphMisread: {}, ArithmeticError: {}, FinalFormError: {},
}

// ParseMistakeType upper-cases s; anything outside the closed set becomes LOGIC_GAP.
func ParseMistakeType(s string) MistakeType {
	t := MistakeType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := mistakeTypes[t]; ok {
		return t
	}
	return LogicGap
}

type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityMed  Severity = "med"
	SeverityHigh Severity = "high"
)

// ParseSeverity lower-cases s and accepts a "severity." prefix; def on miss.
func ParseSeverity(s string, def Severity) Severity {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "severity.")
	switch Severity(v) {
	case SeverityLow, SeverityMed, SeverityHigh:
		return Severity(v)
	}
	return def
}

func (s Severity) Rank() int {
	switch s {
	case SeverityMed:
		return 1
	case SeverityHigh:
		return 2
	}
	return 0
}

// Max returns the higher-ranked of the two.
func (s Severity) Max(o Severity) Severity {
	if o.Rank() > s.Rank() {
		return o
	}
	return s
}

type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictUnknown   Verdict = "unknown"
)

var verdictAliases = map[string]Verdict{
	"correct":   VerdictCorrect,
	"맞음":        VerdictCorrect,
	"정답":        VerdictCorrect,
	"true":      VerdictCorrect,
	"incorrect": VerdictIncorrect,
	"틀림":        VerdictIncorrect,
	"오답":        VerdictIncorrect,
	"false":     VerdictIncorrect,
	"unknown":   VerdictUnknown,
	"uncertain": VerdictUnknown,
}

// ParseVerdict resolves string aliases and booleans; unknown on miss.
func ParseVerdict(v any) Verdict {
	switch t := v.(type) {
	case bool:
		if t {
			return VerdictCorrect
		}
		return VerdictIncorrect
	case string:
		if out, ok := verdictAliases[strings.ToLower(strings.TrimSpace(t))]; ok {
			return out
		}
	case Verdict:
		return ParseVerdict(string(t))
	}
	return VerdictUnknown
}

type HighlightMode string

const (
	ModeTap       HighlightMode = "tap"
	ModeOCRBox    HighlightMode = "ocr_box"
	ModeRegionBox HighlightMode = "region_box"
)

func ParseHighlightMode(s string) HighlightMode {
	switch m := HighlightMode(strings.TrimSpace(s)); m {
	case ModeTap, ModeOCRBox, ModeRegionBox:
		return m
	}
	return ModeTap
}

type HighlightShape string

const (
	ShapeCircle HighlightShape = "circle"
	ShapeBox    HighlightShape = "box"
)

func ParseHighlightShape(s string) HighlightShape {
	switch sh := HighlightShape(strings.TrimSpace(s)); sh {
	case ShapeCircle, ShapeBox:
		return sh
	}
	return ShapeCircle
}

// Verification rules carried in provenance tags and findings.
const (
	RuleEquivTransform    = "RULE_EQUIV_TRANSFORM"
	RuleFinalSubstitution = "RULE_FINAL_SUBSTITUTION"
	RuleGeneralConsistent = "RULE_GENERAL_CONSISTENCY"
	RuleReviewRequired    = "RULE_REVIEW_REQUIRED"
	RuleScoreBalance      = "RULE_SCORE_BALANCE"
)

// DefaultRule maps a mistake type onto the rule its deduction is judged under.
func DefaultRule(t MistakeType) string {
	switch t {
	case FinalFormError:
		return RuleFinalSubstitution
	case SignError, ArithmeticError, AlgebraError, LogicGap:
		return RuleEquivTransform
	}
	return RuleGeneralConsistent
}
