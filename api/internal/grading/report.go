package grading

// ConsensusMeta describes how many runs made it into the merged candidate.
type ConsensusMeta struct {
	RunsRequested int     `json:"runs_requested"`
	RunsUsed      int     `json:"runs_used"`
	Agreement     float64 `json:"agreement"`
	ScoreSpread   float64 `json:"score_spread"`
}

// SingleRun is the meta for a passthrough (one candidate, or the fallback payload).
func SingleRun(requested int) ConsensusMeta {
	if requested < 1 {
		requested = 1
	}
	return ConsensusMeta{RunsRequested: requested, RunsUsed: 1, Agreement: 1}
}

type Step struct {
	ID       string `json:"step_id"`
	Text     string `json:"text"`
	Equation string `json:"equation"`
}

type Finding struct {
	StepID         string `json:"step_id"`
	Rule           string `json:"rule"`
	Passed         bool   `json:"passed"`
	Reason         string `json:"reason"`
	Counterexample string `json:"counterexample,omitempty"`
}

// Report is built once per job from OCR text and treated as read-only afterwards.
type Report struct {
	Steps          []Step    `json:"steps"`
	Findings       []Finding `json:"findings"`
	ExpectedX      *float64  `json:"expected_x,omitempty"`
	ObservedX      *float64  `json:"observed_x,omitempty"`
	Confidence     float64   `json:"confidence"`
	RequiresReview bool      `json:"requires_review"`
}

// LastStepID falls back to "s0" when nothing was extracted.
func (r *Report) LastStepID() string {
	if r == nil || len(r.Steps) == 0 {
		return "s0"
	}
	return r.Steps[len(r.Steps)-1].ID
}

// HasContext is the evidence gate's notion of verification context.
func (r *Report) HasContext() bool {
	return r != nil && (len(r.Steps) > 0 || len(r.Findings) > 0)
}

// FailedFinding returns the first failing finding for rule, optionally requiring a counterexample.
func (r *Report) FailedFinding(rule string, needCounterexample bool) (Finding, bool) {
	if r == nil {
		return Finding{}, false
	}
	for _, f := range r.Findings {
		if f.Rule != rule || f.Passed {
			continue
		}
		if needCounterexample && f.Counterexample == "" {
			continue
		}
		return f, true
	}
	return Finding{}, false
}

func (r *Report) PassedFinding(rule string) bool {
	if r == nil {
		return false
	}
	for _, f := range r.Findings {
		if f.Rule == rule && f.Passed {
			return true
		}
	}
	return false
}

func (r *Report) AnyFailed() bool {
	if r == nil {
		return false
	}
	for _, f := range r.Findings {
		if !f.Passed {
			return true
		}
	}
	return false
}

// PassRatio over findings of one rule; ok=false when there are none.
func (r *Report) PassRatio(rule string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	total, passed := 0, 0
	for _, f := range r.Findings {
		if f.Rule != rule {
			continue
		}
		total++
		if f.Passed {
			passed++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(passed) / float64(total), true
}
