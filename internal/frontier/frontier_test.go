package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/pipeline"
	"github.com/riftlab/matchforge/internal/storage/memory"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type movableClock struct{ now time.Time }

func (c *movableClock) Now() time.Time { return c.now }

func TestDiscoveredDeduplicates(t *testing.T) {
	t.Parallel()

	repo := memory.New(nil)
	ctx := context.Background()
	fm := New(repo, nil, Config{}, zap.NewNop())

	n, err := fm.Discovered(ctx, pipeline.KindMatch, "euw1", []string{"EUW1_1", "EUW1_2", "EUW1_1", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "in-batch duplicates and empty refs are dropped")

	// Refs the repository already knows are filtered.
	n, err = fm.Discovered(ctx, pipeline.KindMatch, "euw1", []string{"EUW1_2", "EUW1_3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A stored match is never re-enqueued, even after its frontier entry
	// is gone from pending.
	require.NoError(t, repo.PutMatch(ctx, pipeline.MatchRecord{Ref: pipeline.MatchRef{ID: "EUW1_9", Region: "euw1"}}))
	n, err = fm.Discovered(ctx, pipeline.KindMatch, "euw1", []string{"EUW1_9"})
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
}

func TestNextBatchReclaimsBeforeClaiming(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &movableClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	repo := memory.New(clock)
	fm := New(repo, clock, Config{ClaimTimeout: 5 * time.Minute}, zap.NewNop())

	_, err := repo.PutFrontierEntries(ctx, []pipeline.FrontierEntry{
		{Kind: pipeline.KindMatch, Ref: "EUW1_1", Region: "euw1", DiscoveredAt: clock.now.Add(-time.Hour)},
	})
	require.NoError(t, err)

	// Claim through the repo directly, simulating a worker that crashed
	// mid-batch, then advance past the claim timeout.
	batch, err := repo.ClaimNextBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	got, err := fm.NextBatch(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, got, "fresh in-flight entry must not be reclaimed")

	clock.now = clock.now.Add(10 * time.Minute)
	got, err = fm.NextBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "EUW1_1", got[0].Ref)
}

func TestShouldStopPrecedence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("deadline wins over everything", func(t *testing.T) {
		t.Parallel()
		repo := memory.New(stubClock{now: now})
		require.NoError(t, repo.PutMatch(ctx, pipeline.MatchRecord{Ref: pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}}))
		fm := New(repo, stubClock{now: now}, Config{MaxMatches: 1, Deadline: now.Add(-time.Second)}, zap.NewNop())

		reason, stop, err := fm.ShouldStop(ctx)
		require.NoError(t, err)
		assert.True(t, stop)
		assert.Equal(t, pipeline.StopDeadline, reason)
	})

	t.Run("ceiling wins over exhaustion", func(t *testing.T) {
		t.Parallel()
		repo := memory.New(stubClock{now: now})
		require.NoError(t, repo.PutMatch(ctx, pipeline.MatchRecord{Ref: pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}}))
		fm := New(repo, stubClock{now: now}, Config{MaxMatches: 1, Deadline: now.Add(time.Hour)}, zap.NewNop())

		reason, stop, err := fm.ShouldStop(ctx)
		require.NoError(t, err)
		assert.True(t, stop)
		assert.Equal(t, pipeline.StopCeiling, reason)
	})

	t.Run("empty frontier is exhaustion", func(t *testing.T) {
		t.Parallel()
		repo := memory.New(stubClock{now: now})
		fm := New(repo, stubClock{now: now}, Config{MaxMatches: 10, Deadline: now.Add(time.Hour)}, zap.NewNop())

		reason, stop, err := fm.ShouldStop(ctx)
		require.NoError(t, err)
		assert.True(t, stop)
		assert.Equal(t, pipeline.StopExhausted, reason)
	})

	t.Run("pending work means keep going", func(t *testing.T) {
		t.Parallel()
		repo := memory.New(stubClock{now: now})
		_, err := repo.PutFrontierEntries(ctx, []pipeline.FrontierEntry{
			{Kind: pipeline.KindMatch, Ref: "EUW1_1", Region: "euw1", DiscoveredAt: now},
		})
		require.NoError(t, err)
		fm := New(repo, stubClock{now: now}, Config{MaxMatches: 10, Deadline: now.Add(time.Hour)}, zap.NewNop())

		_, stop, err := fm.ShouldStop(ctx)
		require.NoError(t, err)
		assert.False(t, stop)
	})
}

func TestMatchBudgetLeft(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.New(nil)
	require.NoError(t, repo.PutMatch(ctx, pipeline.MatchRecord{Ref: pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}}))

	fm := New(repo, nil, Config{MaxMatches: 3}, zap.NewNop())
	left, err := fm.MatchBudgetLeft(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	unbounded := New(repo, nil, Config{}, zap.NewNop())
	left, err = unbounded.MatchBudgetLeft(ctx)
	require.NoError(t, err)
	assert.Greater(t, left, 1<<30)
}
