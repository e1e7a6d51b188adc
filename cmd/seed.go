package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/frontier"
	"github.com/riftlab/matchforge/internal/pipeline"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seeds the frontier with ladder players",
		Long: `Fetches the configured ranked ladder tiers (challenger, grandmaster,
master by default) and enqueues every player as frontier work. Players
already known to the repository are skipped.`,
		RunE: runSeedCommand,
	}
}

func runSeedCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Cfg

	fm := frontier.New(a.Repo, pipeline.SystemClock{}, frontier.Config{
		ClaimTimeout: cfg.Crawl.ClaimTimeout,
	}, a.Logger)

	total := 0
	for _, tier := range cfg.Crawl.SeedTiers {
		players, err := a.Client.ListLadderPlayers(cmd.Context(), tier)
		if err != nil {
			return fmt.Errorf("list %s ladder: %w", tier, err)
		}
		puuids := make([]string, 0, len(players))
		for _, p := range players {
			puuids = append(puuids, p.PUUID)
		}
		added, err := fm.Discovered(cmd.Context(), pipeline.KindPlayer, cfg.Crawl.Region, puuids)
		if err != nil {
			return fmt.Errorf("enqueue %s ladder: %w", tier, err)
		}
		a.Logger.Info("ladder tier seeded",
			zap.String("tier", tier),
			zap.Int("players", len(players)),
			zap.Int("added", added),
		)
		total += added
	}

	cmd.Printf("seeded %d players across %d tiers\n", total, len(cfg.Crawl.SeedTiers))
	return nil
}
