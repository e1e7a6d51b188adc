package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riftlab/matchforge/internal/features"
)

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Builds the feature dataset from stored matches",
		Long: `Reads every committed match from the repository, derives the flat
feature rows and replaces the output dataset atomically. The transform
is deterministic: unchanged repository contents produce byte-identical
output.`,
		RunE: runBuildCommand,
	}
}

func runBuildCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	builder := features.New(a.Repo, a.Logger)
	stats, err := builder.Build(cmd.Context(), a.Cfg.Features.Output)
	if err != nil {
		return fmt.Errorf("build features: %w", err)
	}

	cmd.Printf("dataset written to %s: %d rows from %d matches (%d skipped)\n",
		a.Cfg.Features.Output, stats.RowsWritten, stats.MatchesRead, stats.Skipped)
	return nil
}
