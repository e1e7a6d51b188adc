// Package frontier maintains the set of discovered-but-unfetched entity
// identifiers driving the crawl.
package frontier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/metrics"
	"github.com/riftlab/matchforge/internal/pipeline"
)

// Config bounds the otherwise-unbounded graph traversal.
type Config struct {
	MaxMatches   int
	Deadline     time.Time
	ClaimTimeout time.Duration
}

// Manager deduplicates and sequences discovery work on top of the
// repository. All durable state lives in the repository; the manager is
// rebuildable from it after a restart.
type Manager struct {
	repo   pipeline.Repository
	clock  pipeline.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Manager.
func New(repo pipeline.Repository, clock pipeline.Clock, cfg Config, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Manager{repo: repo, clock: clock, cfg: cfg, logger: logger}
}

// Discovered enqueues newly observed refs of one kind, filtering out refs
// the repository already knows. Returns the number actually enqueued.
func (m *Manager) Discovered(ctx context.Context, kind pipeline.EntityKind, region string, refs []string) (int, error) {
	now := m.clock.Now()
	entries := make([]pipeline.FrontierEntry, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		exists, err := m.repo.Exists(ctx, kind, ref)
		if err != nil {
			return 0, fmt.Errorf("frontier dedup check: %w", err)
		}
		if exists {
			continue
		}
		entries = append(entries, pipeline.FrontierEntry{
			Kind:         kind,
			Ref:          ref,
			Region:       region,
			DiscoveredAt: now,
			State:        pipeline.StatePending,
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	// The Exists filter races with other workers discovering the same
	// refs; the insert's conflict handling is authoritative, so count
	// what it actually added.
	inserted, err := m.repo.PutFrontierEntries(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("enqueue frontier entries: %w", err)
	}
	metrics.ObserveFrontierEnqueued(string(kind), inserted)
	m.logger.Debug("frontier entries enqueued",
		zap.String("kind", string(kind)),
		zap.Int("count", inserted),
	)
	return inserted, nil
}

// NextBatch reclaims stale in-flight work, then claims up to limit
// pending entries. Match entries come before player entries so match
// detail accumulates ahead of player-graph fan-out.
func (m *Manager) NextBatch(ctx context.Context, limit int) ([]pipeline.FrontierEntry, error) {
	reclaimed, err := m.repo.ReclaimStale(ctx, m.cfg.ClaimTimeout)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale entries: %w", err)
	}
	if reclaimed > 0 {
		m.logger.Warn("reclaimed stale in-flight entries", zap.Int("count", reclaimed))
	}
	batch, err := m.repo.ClaimNextBatch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("claim next batch: %w", err)
	}
	return batch, nil
}

// ShouldStop evaluates the crawl stop condition: pending frontier empty,
// stored-match ceiling reached, or deadline passed — whichever first.
func (m *Manager) ShouldStop(ctx context.Context) (pipeline.StopReason, bool, error) {
	if !m.cfg.Deadline.IsZero() && m.clock.Now().After(m.cfg.Deadline) {
		return pipeline.StopDeadline, true, nil
	}
	stored, err := m.repo.MatchCount(ctx)
	if err != nil {
		return "", false, fmt.Errorf("stop check match count: %w", err)
	}
	if m.cfg.MaxMatches > 0 && stored >= m.cfg.MaxMatches {
		return pipeline.StopCeiling, true, nil
	}
	pending, err := m.repo.PendingCount(ctx)
	if err != nil {
		return "", false, fmt.Errorf("stop check pending count: %w", err)
	}
	if pending == 0 {
		return pipeline.StopExhausted, true, nil
	}
	return "", false, nil
}

// MatchBudgetLeft reports how many more matches may be stored before the
// ceiling fires.
func (m *Manager) MatchBudgetLeft(ctx context.Context) (int, error) {
	if m.cfg.MaxMatches <= 0 {
		return int(^uint(0) >> 1), nil
	}
	stored, err := m.repo.MatchCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("match budget: %w", err)
	}
	left := m.cfg.MaxMatches - stored
	if left < 0 {
		left = 0
	}
	return left, nil
}
