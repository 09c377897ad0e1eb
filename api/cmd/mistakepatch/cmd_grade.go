package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mistakepatch/api/internal/app"
	"mistakepatch/api/internal/llm"
	"mistakepatch/api/internal/ocr"
	"mistakepatch/api/internal/pipeline"
)

type gradeFlags struct {
	candidates   []string
	solutionText string
	problemText  string
}

func (c *cli) runGrade(cmd *cobra.Command, g *gradeFlags) error {
	runs := make([]llm.Run, 0, len(g.candidates))
	for i, path := range g.candidates {
		raw, err := os.ReadFile(path)
		runs = append(runs, llm.Run{Index: i, Raw: raw, Err: err})
	}

	var solution, problem string
	if g.solutionText != "" {
		b, err := os.ReadFile(g.solutionText)
		if err != nil {
			return fmt.Errorf("read solution text: %w", err)
		}
		solution = string(b)
	}
	hasProblem := g.problemText != ""
	if hasProblem {
		b, err := os.ReadFile(g.problemText)
		if err != nil {
			return fmt.Errorf("read problem text: %w", err)
		}
		problem = string(b)
	}

	opt := app.ProcessorOptions(c.cfg)
	st, err := gradeOffline(cmd.Context(), runs, solution, problem, hasProblem, opt, c.log)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st.Result)
}

// gradeOffline reconciles already generated candidates against OCR text.
// Nothing is persisted and no provider is called.
func gradeOffline(ctx context.Context, runs []llm.Run, solution, problem string, hasProblem bool, opt pipeline.Options, log *slog.Logger) (*pipeline.State, error) {
	cands, err := pipeline.Candidates(runs, log)
	if err != nil {
		return nil, err
	}
	var in pipeline.Inputs
	if in.Solution, err = (ocr.Static{Text: solution}).Read(ctx, nil); err != nil {
		return nil, err
	}
	if hasProblem {
		page, err := (ocr.Static{Text: problem}).Read(ctx, nil)
		if err != nil {
			return nil, err
		}
		in.Problem = &page
	}
	opt.RunsRequested = len(runs)
	st := &pipeline.State{}
	pipeline.Reconcile(st, cands, in, opt, log)
	return st, nil
}
