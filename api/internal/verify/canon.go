package verify

import (
	"regexp"
	"strings"
	"unicode"

	"mistakepatch/api/internal/grading"
)

// OCR glyph folding. Multiplication signs and Greek chi read as the variable,
// dash variants as minus, arrows as equals.
var symbolReplacer = strings.NewReplacer(
	"−", "-", "—", "-", "–", "-",
	"＝", "=",
	"⇒", "=", "→", "=", "⟶", "=",
	"÷", "/",
	"×", "x", "✕", "x", "✖", "x", "χ", "x", "Χ", "x", "ⅹ", "x", "ｘ", "x", "X", "x",
)

var digitReplacer = strings.NewReplacer(
	"O", "0", "o", "0",
	"I", "1", "l", "1", "|", "1",
	"S", "5", "B", "8", "Z", "2",
)

// NormalizeSymbols folds glyph variants; digits are left alone.
func NormalizeSymbols(s string) string { return symbolReplacer.Replace(s) }

// NormalizeDigits fixes the usual letter-for-digit confusions.
func NormalizeDigits(s string) string { return digitReplacer.Replace(s) }

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// canonical is the common prefix of every parse: glyphs, digits, decimal comma, no whitespace.
func canonical(s string) string {
	s = NormalizeDigits(NormalizeSymbols(s))
	s = strings.ReplaceAll(s, ",", ".")
	return stripSpace(s)
}

var equationChars = regexp.MustCompile(`^[0-9xX+\-*/().\s=<>]+$`)

// NormalizeEquation returns "LHS=RHS" or "" when the text is not a single equation.
// A lone '>' with no '=' is read as a mangled arrow.
func NormalizeEquation(text string) string {
	s := canonical(text)
	s = strings.ReplaceAll(s, "=>", "=")
	s = strings.ReplaceAll(s, "->", "=")
	if strings.Count(s, "=") == 0 && strings.Count(s, ">") == 1 {
		s = strings.Replace(s, ">", "=", 1)
	}
	if !equationChars.MatchString(s) || strings.Count(s, "=") != 1 {
		return ""
	}
	return s
}

func isVariableRune(r rune) bool {
	switch r {
	case 'x', 'X', '×', '✕', '✖', 'χ', 'Χ', 'ⅹ', 'ｘ':
		return true
	}
	return false
}

func containsVariable(s string) bool {
	return strings.IndexFunc(s, isVariableRune) >= 0
}

var separatorRe = regexp.MustCompile(`[;,]`)

// splitSegments breaks "2x+3=7 x=2" into two segments: whitespace after a digit
// starts a new equation when the next token is the variable followed by an operator.
func splitSegments(raw string) []string {
	text := []rune(grading.CleanText(raw, "", 180))
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !unicode.IsSpace(text[i]) || i == 0 || !unicode.IsDigit(text[i-1]) {
			continue
		}
		j := i
		for j < len(text) && unicode.IsSpace(text[j]) {
			j++
		}
		if j < len(text) && isVariableRune(text[j]) && operatorFollows(text, j+1) {
			out = append(out, string(text[start:i]))
			start = j
		}
		i = j - 1
	}
	out = append(out, string(text[start:]))

	segments := out[:0]
	for _, s := range out {
		if s = grading.CleanText(s, "", 180); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func operatorFollows(text []rune, k int) bool {
	for k < len(text) && unicode.IsSpace(text[k]) {
		k++
	}
	return k < len(text) && (text[k] == '+' || text[k] == '-' || text[k] == '=')
}

// EquationCandidates keeps variable-bearing segments as normalized, de-duplicated equations.
func EquationCandidates(lines []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, raw := range lines {
		line := grading.CleanText(raw, "", 180)
		if line == "" {
			continue
		}
		for _, part := range separatorRe.Split(line, -1) {
			for _, seg := range splitSegments(part) {
				if !containsVariable(seg) {
					continue
				}
				eq := NormalizeEquation(seg)
				if eq == "" {
					continue
				}
				if _, dup := seen[eq]; dup {
					continue
				}
				seen[eq] = struct{}{}
				out = append(out, eq)
			}
		}
	}
	return out
}
