// Package pipeline runs one grading job: generation runs, normalization,
// consensus, the guardrail chain, highlight placement and persistence.
package pipeline

import (
	"log/slog"
	"strings"

	"mistakepatch/api/internal/balance"
	"mistakepatch/api/internal/consensus"
	"mistakepatch/api/internal/evidence"
	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/highlight"
	"mistakepatch/api/internal/ocr"
	"mistakepatch/api/internal/policy"
	"mistakepatch/api/internal/verify"
)

// State is threaded through every stage of one job.
type State struct {
	Result       *grading.Result
	Report       *grading.Report
	Meta         grading.ConsensusMeta
	FallbackUsed bool
	ErrorCode    string

	Held    bool
	Verdict grading.Verdict
	Boxes   int // highlights filled from detected line boxes
}

type Options struct {
	RunsRequested int
	Thresholds    policy.Thresholds
	OCRHints      bool
}

func DefaultOptions() Options {
	return Options{RunsRequested: 3, Thresholds: policy.DefaultThresholds(), OCRHints: true}
}

// Inputs is what the OCR collaborator read off the uploaded images.
type Inputs struct {
	Solution      ocr.Page
	Problem       *ocr.Page // nil without a problem image
	SolutionImage []byte
}

func (in Inputs) verifyInput() verify.Input {
	out := verify.Input{
		SolutionLines: in.Solution.LineTexts(),
		SolutionText:  in.Solution.PlainText(),
	}
	if in.Problem != nil {
		out.HasProblem = true
		out.ProblemLines = in.Problem.LineTexts()
		out.ProblemText = in.Problem.PlainText()
	}
	return out
}

// Reconcile turns normalized candidates into the final result on st.
// cands must hold at least one result; a fallback payload is passed as a single candidate.
func Reconcile(st *State, cands []*grading.Result, in Inputs, opt Options, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	runs := max(opt.RunsRequested, 1)
	if st.FallbackUsed {
		st.Result, st.Meta = cands[0], grading.SingleRun(1)
	} else {
		st.Result, st.Meta = consensus.Merge(cands, runs)
	}
	res := st.Result

	if in.Problem != nil {
		problemText, solutionText := in.Problem.PlainText(), in.Solution.PlainText()
		if strings.TrimSpace(problemText) != "" && strings.TrimSpace(solutionText) != "" {
			if policy.SimpleEquation(res, problemText, solutionText) {
				log.Debug("simple equation consistency applied")
			}
		}
	}

	st.Report = verify.Verify(in.verifyInput())
	evidence.Inject(res, st.Report)
	evidence.Gate(res, st.Report)
	evidence.Dedup(res)
	if policy.CapWrongFinal(res, st.Report) {
		log.Info("verified wrong final answer capped", "score_total", res.ScoreTotal)
	}
	st.Held = policy.Hold(res, st.Report, st.Meta, opt.Thresholds)
	if st.Held {
		log.Info("deductions held for review", "confidence", res.Confidence, "agreement", st.Meta.Agreement)
	}
	st.Verdict = policy.ApplyVerdict(res, st.Report)
	log.Debug("verdict derived", "verdict", st.Verdict, "reason", res.AnswerVerdictReason)
	balance.Ensure(res, st.Report)
	balance.ReconcileFromDeductions(res)

	if opt.OCRHints {
		boxes := ocr.SuggestBoxes(in.Solution, in.SolutionImage, highlight.Requested(res))
		st.Boxes = highlight.Map(res, boxes)
	}
}
