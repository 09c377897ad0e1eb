package verify

import (
	"fmt"
	"math"
	"strings"

	"mistakepatch/api/internal/grading"
)

const (
	MaxSolutionLines = 18
	MaxProblemLines  = 8
	MaxLineChars     = 160
	MaxSteps         = 12

	tolerance = 0.05
)

// Input is what the OCR collaborator read off the two images.
// Problem fields are only consulted when HasProblem is set.
type Input struct {
	SolutionLines []string
	SolutionText  string
	ProblemLines  []string
	ProblemText   string
	HasProblem    bool
}

func clip(lines []string, maxLines int) []string {
	out := make([]string, 0, maxLines)
	for _, l := range lines {
		if l = grading.CleanText(l, "", MaxLineChars); l == "" {
			continue
		}
		out = append(out, l)
		if len(out) >= maxLines {
			break
		}
	}
	return out
}

// ExtractSteps turns solution lines (or the full text when no line yields an equation) into s1..s12.
func ExtractSteps(lines []string, text string) []grading.Step {
	candidates := EquationCandidates(clip(lines, MaxSolutionLines))
	if len(candidates) == 0 && strings.TrimSpace(text) != "" {
		candidates = EquationCandidates([]string{text})
	}
	if len(candidates) > MaxSteps {
		candidates = candidates[:MaxSteps]
	}
	steps := make([]grading.Step, 0, len(candidates))
	for i, eq := range candidates {
		steps = append(steps, grading.Step{ID: fmt.Sprintf("s%d", i+1), Text: eq, Equation: eq})
	}
	return steps
}

// ProblemEquation is the first equation found on the problem image.
func ProblemEquation(lines []string, text string) (string, bool) {
	candidates := EquationCandidates(clip(lines, MaxProblemLines))
	if len(candidates) == 0 && strings.TrimSpace(text) != "" {
		candidates = EquationCandidates([]string{text})
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[0], true
}

// ObservedX looks for the student's final value: explicit x= in the steps,
// then any numeric right-hand side, then the same two scans over the raw text.
// Steps are joined by newlines so each assignment is matched on its own.
func ObservedX(steps []grading.Step, solutionText string) (float64, bool) {
	if len(steps) > 0 {
		texts := make([]string, len(steps))
		for i, s := range steps {
			texts[i] = s.Text
		}
		joined := strings.Join(texts, "\n")
		if v, ok := LastX(joined); ok {
			return v, true
		}
		if v, ok := LastRHS(joined); ok {
			return v, true
		}
	}
	if strings.TrimSpace(solutionText) == "" {
		return 0, false
	}
	if v, ok := LastX(solutionText); ok {
		return v, true
	}
	return LastRHS(solutionText)
}

type parsedStep struct {
	step grading.Step
	eq   Equation
}

// Verify builds the report for one job. It never fails; missing text just yields fewer findings.
func Verify(in Input) *grading.Report {
	steps := ExtractSteps(in.SolutionLines, in.SolutionText)

	var (
		expected       Equation
		expectedParsed bool
		simpleX        float64
		simpleOK       bool
	)
	if in.HasProblem {
		if text, ok := ProblemEquation(in.ProblemLines, in.ProblemText); ok {
			expected, expectedParsed = ParseEquation(text)
		}
		simpleX, simpleOK = SolveSimpleX(in.ProblemText)
	}

	var parsed []parsedStep
	for _, s := range steps {
		if eq, ok := ParseEquation(s.Equation); ok {
			parsed = append(parsed, parsedStep{step: s, eq: eq})
		}
	}
	// without a readable problem, the first parsed step stands in as the original equation
	if !expectedParsed && len(parsed) > 0 {
		expected, expectedParsed = parsed[0].eq, true
	}

	var findings []grading.Finding
	for i := 1; i < len(parsed); i++ {
		prev, cur := parsed[i-1], parsed[i]
		if Equivalent(prev.eq, cur.eq) {
			findings = append(findings, grading.Finding{
				StepID: cur.step.ID, Rule: grading.RuleEquivTransform, Passed: true,
				Reason: "연속 식 변형이 동치입니다.",
			})
			continue
		}
		findings = append(findings, grading.Finding{
			StepID: cur.step.ID, Rule: grading.RuleEquivTransform, Passed: false,
			Reason:         "연속 식 변형 전후의 해가 일치하지 않습니다.",
			Counterexample: fmt.Sprintf("%s=%s, %s=%s", prev.step.ID, prev.eq.SolutionText(), cur.step.ID, cur.eq.SolutionText()),
		})
	}

	observed, observedOK := ObservedX(steps, in.SolutionText)

	var expectedX *float64
	if expectedParsed {
		if root, ok := expected.Root(); ok {
			expectedX = grading.FloatPtr(root)
		}
	}
	if expectedX == nil && simpleOK {
		expectedX = grading.FloatPtr(simpleX)
	}

	lastID := "s0"
	if len(steps) > 0 {
		lastID = steps[len(steps)-1].ID
	}
	final := func(passed bool, reason, counterexample string) {
		findings = append(findings, grading.Finding{
			StepID: lastID, Rule: grading.RuleFinalSubstitution, Passed: passed,
			Reason: reason, Counterexample: counterexample,
		})
	}
	switch {
	case expectedParsed && observedOK:
		if math.Abs(expected.A*observed+expected.B) <= tolerance {
			final(true, "최종 답을 원식에 대입했을 때 성립합니다.", "")
		} else {
			final(false, "최종 답 대입 시 원식이 성립하지 않습니다.",
				fmt.Sprintf("x=%s, expected=%s", grading.FormatNumber(observed), expected.SolutionText()))
		}
	case expectedX != nil && observedOK:
		if math.Abs(*expectedX-observed) <= tolerance {
			final(true, "최종 답이 추정 정답과 일치합니다.", "")
		} else {
			final(false, "최종 답이 추정 정답과 일치하지 않습니다.",
				fmt.Sprintf("x=%s, expected=x=%s", grading.FormatNumber(observed), grading.FormatNumber(*expectedX)))
		}
	case expectedX != nil && !observedOK:
		final(false, "최종 x 값을 확인하지 못해 원식 대입 검증이 불가합니다.", "")
	}

	coverage := float64(len(parsed)) / float64(max(1, len(steps)))
	passRatio := 0.55
	if len(findings) > 0 {
		passed := 0
		for _, f := range findings {
			if f.Passed {
				passed++
			}
		}
		passRatio = float64(passed) / float64(len(findings))
	}
	confidence := 0.35 + 0.35*coverage + 0.3*passRatio
	if !expectedParsed {
		confidence -= 0.08
		if expectedX != nil {
			confidence += 0.04
		}
	}
	if !observedOK {
		confidence -= 0.1
	}

	report := &grading.Report{
		Steps:          steps,
		Findings:       findings,
		ExpectedX:      expectedX,
		Confidence:     grading.Round2(grading.Clamp(confidence, 0, 1)),
		RequiresReview: coverage < 0.34 && expectedX != nil && !observedOK,
	}
	if observedOK {
		report.ObservedX = grading.FloatPtr(observed)
	}
	return report
}
