package verify

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"mistakepatch/api/internal/grading"
)

var (
	xAssignRe     = regexp.MustCompile(`x\s*=\s*([^\n\r;,\]]+)`)
	rhsRe         = regexp.MustCompile(`=\s*([^\n\r;,\]]+)`)
	numericLeadRe = regexp.MustCompile(`^[+\-*/().\d]+`)
)

// normalizeNumeric keeps the leading arithmetic run of an OCR fragment ("4-1 (검산)" → "4-1").
// A multiplication sign read as x between operands becomes '*'; any remaining x disqualifies.
func normalizeNumeric(raw string) string {
	s := grading.CleanText(raw, "", 80)
	if s == "" {
		return ""
	}
	s = NormalizeDigits(NormalizeSymbols(s))
	s = timesBetweenOperands(s)
	s = strings.ReplaceAll(s, ",", ".")
	s = stripSpace(s)
	if strings.Contains(strings.ToLower(s), "x") {
		return ""
	}
	return numericLeadRe.FindString(s)
}

func timesBetweenOperands(s string) string {
	b := []byte(s)
	for i := 1; i+1 < len(b); i++ {
		if b[i] != 'x' && b[i] != 'X' {
			continue
		}
		prev, next := b[i-1], b[i+1]
		if (isDigit(prev) || prev == ')') && (isDigit(next) || next == '(') {
			b[i] = '*'
		}
	}
	return string(b)
}

// EvalNumeric evaluates a constant expression; x terms, implicit products and /0 are rejected.
func EvalNumeric(expr string) (float64, bool) {
	if expr == "" {
		return 0, false
	}
	v, err := parse(expr)
	if err != nil || !v.constant() {
		return 0, false
	}
	if math.IsNaN(v.B) || math.IsInf(v.B, 0) {
		return 0, false
	}
	return v.B, true
}

func lastValue(re *regexp.Regexp, text string) (float64, bool) {
	var (
		out   float64
		found bool
	)
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if v, ok := EvalNumeric(normalizeNumeric(m[1])); ok {
			out, found = v, true
		}
	}
	return out, found
}

// LastX returns the value of the last "x = <number>" in text.
func LastX(text string) (float64, bool) {
	s := strings.ToLower(NormalizeSymbols(text))
	s = strings.ReplaceAll(s, ",", ".")
	return lastValue(xAssignRe, s)
}

// LastRHS returns the last numeric right-hand side, for when the variable was misread.
func LastRHS(text string) (float64, bool) {
	s := strings.ReplaceAll(NormalizeSymbols(text), ",", ".")
	return lastValue(rhsRe, s)
}

var (
	simpleDirectRe  = regexp.MustCompile(`([+-]?\d*(?:\.\d+)?)x([+-]\d+(?:\.\d+)?)?=([+-]?\d+(?:\.\d+)?)`)
	simpleSwappedRe = regexp.MustCompile(`([+-]?\d+(?:\.\d+)?)=([+-]?\d*(?:\.\d+)?)x([+-]\d+(?:\.\d+)?)?`)
	simpleDividedRe = regexp.MustCompile(`x/([+-]?\d+(?:\.\d+)?)=([+-]?\d+(?:\.\d+)?)`)
)

// SolveSimpleX is a single-pass textual solver for "ax+b=c", "c=ax+b" and "x/d=c".
func SolveSimpleX(problem string) (float64, bool) {
	s := strings.ToLower(problem)
	s = strings.NewReplacer("−", "-", "—", "-", ",", ".").Replace(s)
	s = stripSpace(s)

	if m := simpleDirectRe.FindStringSubmatch(s); m != nil {
		return solveAXB(coefficient(m[1]), optional(m[2]), number(m[3]))
	}
	if m := simpleSwappedRe.FindStringSubmatch(s); m != nil {
		return solveAXB(coefficient(m[2]), optional(m[3]), number(m[1]))
	}
	if m := simpleDividedRe.FindStringSubmatch(s); m != nil {
		return number(m[1]) * number(m[2]), true
	}
	return 0, false
}

func solveAXB(a, b, c float64) (float64, bool) {
	if math.Abs(a) < eps {
		return 0, false
	}
	return (c - b) / a, true
}

func coefficient(tok string) float64 {
	switch tok {
	case "", "+":
		return 1
	case "-":
		return -1
	}
	return number(tok)
}

func optional(tok string) float64 {
	if tok == "" {
		return 0
	}
	return number(tok)
}

func number(tok string) float64 {
	f, _ := strconv.ParseFloat(tok, 64)
	return f
}
