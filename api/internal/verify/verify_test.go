package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mistakepatch/api/internal/grading"
)

func mustEquation(t *testing.T, s string) Equation {
	t.Helper()
	eq, ok := ParseEquation(s)
	require.True(t, ok, s)
	return eq
}

func TestEquivalent(t *testing.T) {
	first := mustEquation(t, "x+1=4")
	assert.True(t, Equivalent(first, mustEquation(t, "x=4-1")))
	assert.False(t, Equivalent(first, mustEquation(t, "x=5")))
	assert.True(t, Equivalent(mustEquation(t, "x=x"), mustEquation(t, "2=2")), "identities match")
	assert.False(t, Equivalent(mustEquation(t, "x=x+1"), mustEquation(t, "x=1")))
}

func TestSolutionText(t *testing.T) {
	assert.Equal(t, "x=3", mustEquation(t, "x+1=4").SolutionText())
	assert.Equal(t, "x=0.5", mustEquation(t, "2x=1").SolutionText())
	assert.Equal(t, "항상 참", mustEquation(t, "x+1=1+x").SolutionText())
	assert.Equal(t, "모순", mustEquation(t, "x=x+2").SolutionText())
}

func TestParseExpression(t *testing.T) {
	cases := []struct {
		in   string
		a, b float64
	}{
		{"2(x+1)", 2, 2},
		{"(x+1)3", 3, 3},
		{"3x-2", 3, -2},
		{"-(x-4)/2", -0.5, 2},
	}
	for _, c := range cases {
		v, err := ParseExpression(c.in)
		require.NoError(t, err, c.in)
		assert.InDelta(t, c.a, v.A, 1e-9, c.in)
		assert.InDelta(t, c.b, v.B, 1e-9, c.in)
	}

	for _, bad := range []string{"x*x", "x/0", "6/(x)", "x2", "2×3", "2**3", "", "1.2.3", "x+"} {
		_, err := ParseExpression(bad)
		assert.Error(t, err, bad)
	}
}

func TestNormalizeEquation(t *testing.T) {
	assert.Equal(t, "x+1=4", NormalizeEquation("x+1->4"))
	assert.Equal(t, "x+1=4", NormalizeEquation("x+1=>4"))
	assert.Equal(t, "x+1=4", NormalizeEquation("x+1>4"))
	assert.Equal(t, "x+1=4", NormalizeEquation("X + l → 4"))
	assert.Equal(t, "2x-3=5", NormalizeEquation("2χ − 3 = S"))
	assert.Equal(t, "", NormalizeEquation("x=1=1"))
	assert.Equal(t, "", NormalizeEquation("답: x=3"))
}

func TestLastValues(t *testing.T) {
	v, ok := LastX("x+1=4\nx=4-1\nx=3")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = LastX("x+1=4\nx=4+1")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	v, ok = LastRHS("k+1=4\nk=4+1\nk=5")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	v, ok = LastRHS("x+1=4\nx=4+l\nx=S")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	_, ok = LastX("no assignment")
	assert.False(t, ok)
}

func TestSolveSimpleX(t *testing.T) {
	cases := map[string]float64{
		"3x - 2 = 10":   4,
		"12 = 2x + 4":   4,
		"x/4=3":         12,
		"−x+5=2":        3,
		"문제: 2x+3=7 에서": 2,
	}
	for in, want := range cases {
		got, ok := SolveSimpleX(in)
		require.True(t, ok, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	_, ok := SolveSimpleX("0x+1=3")
	assert.False(t, ok)
}

func TestExtractSteps(t *testing.T) {
	steps := ExtractSteps([]string{"풀이", "2x+3=7 x=2", "2x=4; x=2"}, "")
	require.Len(t, steps, 3)
	assert.Equal(t, "s1", steps[0].ID)
	assert.Equal(t, "2x+3=7", steps[0].Equation)
	assert.Equal(t, "x=2", steps[1].Equation)
	assert.Equal(t, "2x=4", steps[2].Equation)

	fromText := ExtractSteps(nil, "x+1=4")
	require.Len(t, fromText, 1)

	var many []string
	for i := 0; i < 20; i++ {
		many = append(many, "x="+grading.FormatNumber(float64(i)))
	}
	assert.Len(t, ExtractSteps(many, ""), MaxSteps)
}

func TestVerify_CorrectSolution(t *testing.T) {
	report := Verify(Input{
		SolutionLines: []string{"2x+3=7", "2x=4", "x=2"},
		ProblemLines:  []string{"2x+3=7"},
		ProblemText:   "2x+3=7",
		HasProblem:    true,
	})

	require.Len(t, report.Steps, 3)
	require.Len(t, report.Findings, 3)
	for _, f := range report.Findings {
		assert.True(t, f.Passed, f.Reason)
	}
	assert.Equal(t, grading.RuleFinalSubstitution, report.Findings[2].Rule)
	assert.Equal(t, "s3", report.Findings[2].StepID)
	require.NotNil(t, report.ObservedX)
	assert.Equal(t, 2.0, *report.ObservedX)
	require.NotNil(t, report.ExpectedX)
	assert.Equal(t, 2.0, *report.ExpectedX)
	assert.Equal(t, 1.0, report.Confidence)
	assert.False(t, report.RequiresReview)
}

func TestVerify_WrongFinal(t *testing.T) {
	report := Verify(Input{
		SolutionLines: []string{"x+1=4", "x=4+1", "x=5"},
		ProblemText:   "x+1=4",
		HasProblem:    true,
	})

	f, ok := report.FailedFinding(grading.RuleEquivTransform, true)
	require.True(t, ok)
	assert.Equal(t, "s2", f.StepID)
	assert.Equal(t, "s1=x=3, s2=x=5", f.Counterexample)

	f, ok = report.FailedFinding(grading.RuleFinalSubstitution, true)
	require.True(t, ok)
	assert.Equal(t, "x=5, expected=x=3", f.Counterexample)
	assert.InDelta(t, 0.8, report.Confidence, 1e-9)
}

func TestVerify_NothingReadable(t *testing.T) {
	report := Verify(Input{})
	assert.Empty(t, report.Steps)
	assert.Empty(t, report.Findings)
	assert.Nil(t, report.ObservedX)
	assert.InDelta(t, 0.335, report.Confidence, 0.006)
	assert.False(t, report.RequiresReview)
	assert.False(t, report.HasContext())
}

func TestVerify_RequiresReview(t *testing.T) {
	report := Verify(Input{
		SolutionLines: []string{"풀이 과정 흐림"},
		ProblemText:   "2x+3=7",
		HasProblem:    true,
	})
	require.Len(t, report.Findings, 1)
	assert.False(t, report.Findings[0].Passed)
	assert.Empty(t, report.Findings[0].Counterexample)
	assert.True(t, report.RequiresReview)
}
