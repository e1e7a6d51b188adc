package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/collector"
	"github.com/riftlab/matchforge/internal/frontier"
	"github.com/riftlab/matchforge/internal/pipeline"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs the discovery/fetch loop until a stop condition fires",
		Long: `Expands the player/match graph from the frontier, fetching match
detail and persisting it until the frontier exhausts, the match ceiling
is reached, the deadline passes, or a shutdown signal arrives.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Cfg
	clock := pipeline.SystemClock{}

	fm := frontier.New(a.Repo, clock, frontier.Config{
		MaxMatches:   cfg.Crawl.MaxMatches,
		Deadline:     clock.Now().Add(cfg.Crawl.Deadline),
		ClaimTimeout: cfg.Crawl.ClaimTimeout,
	}, a.Logger)

	c := collector.New(a.Repo, a.Client, fm, clock, collector.Config{
		BatchSize:        cfg.Crawl.BatchSize,
		Concurrency:      cfg.Crawl.Concurrency,
		MaxAttempts:      cfg.Crawl.MaxAttempts,
		BaseBackoff:      cfg.Crawl.BaseBackoff,
		MaxBackoff:       cfg.Crawl.MaxBackoff,
		Window:           cfg.Window(),
		QueueID:          cfg.Crawl.QueueID,
		MatchesPerPlayer: cfg.Crawl.MatchesPerPlayer,
	}, a.Logger)

	if len(cfg.Crawl.Seeds) > 0 {
		added, err := c.Seed(cmd.Context(), cfg.Crawl.Region, cfg.Crawl.Seeds)
		if err != nil {
			return fmt.Errorf("seed frontier: %w", err)
		}
		a.Logger.Info("configured seeds enqueued", zap.Int("added", added))
	}

	status, err := c.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	cmd.Printf("run %s stopped (%s): %d matches stored, %d players scanned, %d entries failed\n",
		status.RunID, status.StopReason, status.MatchesStored, status.PlayersScanned, status.EntriesFailed)
	for reason, count := range status.FailureReasons {
		cmd.Printf("  failed %-14s %d\n", reason+":", count)
	}
	return nil
}
