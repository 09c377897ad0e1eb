package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"mistakepatch/api/internal/config"
	"mistakepatch/api/internal/logger"
)

// cli carries what PersistentPreRunE loaded for the subcommands.
type cli struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "mistakepatch",
		Short: "Grades photographed math and physics solutions",
		Long: `mistakepatch reconciles model-generated grading candidates into one
auditable result: score, deductions, verdict and highlight positions.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = logger.NewWriter(&cfg.Log, cmd.ErrOrStderr()).Logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "optional config file (yaml, json or toml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with in-process workers or a Redis producer",
		Args:  cobra.NoArgs,
		RunE:  c.runServe, // Defined in cmd_serve.go
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume grading jobs from the Redis queue",
		Args:  cobra.NoArgs,
		RunE:  c.runWorker, // Defined in cmd_worker.go
	}

	g := &gradeFlags{}
	gradeCmd := &cobra.Command{
		Use:   "grade",
		Short: "Run the reconciliation pipeline offline over candidate JSON files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runGrade(cmd, g) // Defined in cmd_grade.go
		},
	}
	gradeCmd.Flags().StringArrayVar(&g.candidates, "candidate", nil, "candidate result JSON file (repeatable)")
	gradeCmd.Flags().StringVar(&g.solutionText, "solution-text", "", "text file with the OCR of the solution")
	gradeCmd.Flags().StringVar(&g.problemText, "problem-text", "", "text file with the OCR of the problem")
	_ = gradeCmd.MarkFlagRequired("candidate")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE:  c.runMigrate, // Defined in cmd_migrate.go
	}

	root.AddCommand(serveCmd, workerCmd, gradeCmd, migrateCmd)
	return root
}
