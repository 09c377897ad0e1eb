package grading

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Provenance is the parsed form of "[step:ID][rule:RULE] 근거: reason[ 반례: counterexample]".
// Body is everything after the two tags; Step/Rule are empty when the tag is absent.
type Provenance struct {
	Step string
	Rule string
	Body string
}

var provenanceRe = regexp.MustCompile(`(?is)^\[step:([^\]]+)\]\s*\[rule:([^\]]+)\]\s*(.*)`)

// HoldReason replaces a reason that could not be trusted.
const HoldReason = "근거 부족으로 자동 감점을 보류했습니다."

// ParseProvenance never fails: text without tags comes back as a bare body.
func ParseProvenance(evidence string) Provenance {
	text := CleanText(evidence, "", 240)
	if text == "" {
		return Provenance{}
	}
	m := provenanceRe.FindStringSubmatch(text)
	if m == nil {
		return Provenance{Body: text}
	}
	return Provenance{
		Step: CleanText(m[1], "", 20),
		Rule: CleanText(m[2], "", 40),
		Body: CleanText(m[3], "", 180),
	}
}

// FormatProvenance builds the canonical evidence string, capped at 240 runes.
func FormatProvenance(step, rule, reason, counterexample string) string {
	body := "근거: " + CleanText(reason, HoldReason, 160)
	if counterexample != "" {
		if ce := CleanText(counterexample, "", 60); ce != "" {
			body += " 반례: " + ce
		}
	}
	return CleanText(fmt.Sprintf("[step:%s][rule:%s] %s", step, rule, body), body, 240)
}

// Reason is the body without its "근거:" label, so re-stamping does not stack labels.
func (p Provenance) Reason() string {
	body := strings.TrimSpace(p.Body)
	if rest, ok := strings.CutPrefix(body, "근거:"); ok {
		return strings.TrimSpace(rest)
	}
	return body
}

// Actionable reports whether a reason is specific enough to justify a deduction.
func Actionable(reason string) bool {
	s := CleanText(reason, "", 180)
	if utf8.RuneCountInString(s) < 8 {
		return false
	}
	return s != genericEvidence && s != genericFix
}
