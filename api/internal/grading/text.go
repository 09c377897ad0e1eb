package grading

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CleanText collapses whitespace and truncates to maxLen runes; def (also truncated) when empty.
func CleanText(s, def string, maxLen int) string {
	if v := strings.Join(strings.Fields(s), " "); v != "" {
		return clampRunes(v, maxLen)
	}
	return clampRunes(def, maxLen)
}

func clampRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Round2(v float64) float64 { return math.Round(v*100) / 100 }

func Round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func Round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// RoundTenth nudges by 1e-9 so 0.x5 artifacts of float sums land on the upper tenth.
func RoundTenth(v float64) float64 { return math.Round((v+1e-9)*10) / 10 }

var tokenRe = regexp.MustCompile(`[0-9a-zA-Z가-힣]+`)

// Tokens returns the lower-cased word set used by similarity checks.
func Tokens(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range tokenRe.FindAllString(strings.ToLower(s), -1) {
		out[t] = struct{}{}
	}
	return out
}

// Jaccard is |a∩b| / |a∪b| over token sets; two empty sets are identical.
func Jaccard(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return jaccardSets(ta, tb)
}

func jaccardSets(ta, tb map[string]struct{}) float64 {
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// JaccardSets exposes the set form for callers that tokenise once.
func JaccardSets(ta, tb map[string]struct{}) float64 { return jaccardSets(ta, tb) }

var digitsRe = regexp.MustCompile(`\d+`)

// Signature folds digits so "2번째 줄" and "3번째 줄" collide.
func Signature(s string) string {
	return digitsRe.ReplaceAllString(strings.ToLower(CleanText(s, "", 120)), "#")
}

func FloatPtr(v float64) *float64 { return &v }

// FormatNumber prints v with six significant digits and no trailing zeros (3, 0.5, 3.33333).
func FormatNumber(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
