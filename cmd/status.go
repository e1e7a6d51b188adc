package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riftlab/matchforge/internal/pipeline"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints repository and frontier counters",
		RunE:  runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	matches, err := a.Repo.MatchCount(cmd.Context())
	if err != nil {
		return fmt.Errorf("count matches: %w", err)
	}
	counts, err := a.Repo.FrontierCounts(cmd.Context())
	if err != nil {
		return fmt.Errorf("frontier counts: %w", err)
	}

	cmd.Printf("matches stored: %d\n", matches)
	cmd.Println("frontier:")
	for _, state := range []pipeline.EntryState{
		pipeline.StatePending,
		pipeline.StateInFlight,
		pipeline.StateDone,
		pipeline.StateFailed,
	} {
		cmd.Printf("  %-10s %d\n", string(state)+":", counts[state])
	}
	return nil
}
