package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/audit"
	"github.com/sells-group/material-audit/internal/model"
)

// The three run commands share one shape: resolve scope, walk the
// project, report. Only the stages differ.

func newRunCommand(use, short string, run func(ctx context.Context, env *auditEnv, projectID int64, sc model.MatchingScope) (*audit.Report, error)) *cobra.Command {
	var projectID int64
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			env, err := initEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			report, err := run(ctx, env, projectID, flags.scope())
			if err != nil {
				return err
			}

			zap.L().Info(use+" complete",
				zap.Int64("project_id", report.ProjectID),
				zap.String("tier", string(report.Scope.Tier)),
				zap.Int("processed", report.Processed),
				zap.Int("priced", report.Stats.Priced),
				zap.Int("needs_review", report.Stats.NeedsReview),
				zap.Int("problematic", report.Stats.Problematic),
				zap.Duration("elapsed", report.Elapsed),
			)
			for kind, n := range report.Failures {
				zap.L().Warn("failures", zap.String("kind", string(kind)), zap.Int("count", n))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&projectID, "project", 0, "project id (required)")
	cmd.Flags().StringVar(&flags.month, "month", "", "price month YYYY-MM")
	cmd.Flags().StringVar(&flags.province, "province", "", "province code")
	cmd.Flags().StringVar(&flags.city, "city", "", "city code")
	cmd.Flags().StringVar(&flags.district, "district", "", "district code")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func init() {
	rootCmd.AddCommand(
		newRunCommand("match", "Match a project's materials against the catalogue",
			func(ctx context.Context, env *auditEnv, id int64, sc model.MatchingScope) (*audit.Report, error) {
				return env.Orchestrator.RunMatch(ctx, id, sc)
			}),
		newRunCommand("analyze", "Analyze prices of already-matched materials",
			func(ctx context.Context, env *auditEnv, id int64, sc model.MatchingScope) (*audit.Report, error) {
				return env.Orchestrator.RunAnalyze(ctx, id, sc)
			}),
		newRunCommand("audit", "Run the full audit: match, analyze, record history",
			func(ctx context.Context, env *auditEnv, id int64, sc model.MatchingScope) (*audit.Report, error) {
				return env.Orchestrator.Run(ctx, id, sc)
			}),
	)
}
