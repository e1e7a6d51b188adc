package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlab/matchforge/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func matchEntry(ref string, at time.Time) pipeline.FrontierEntry {
	return pipeline.FrontierEntry{Kind: pipeline.KindMatch, Ref: ref, Region: "euw1", DiscoveredAt: at}
}

func playerEntry(ref string, at time.Time) pipeline.FrontierEntry {
	return pipeline.FrontierEntry{Kind: pipeline.KindPlayer, Ref: ref, Region: "euw1", DiscoveredAt: at}
}

func seedEntries(t *testing.T, repo *Repository, entries ...pipeline.FrontierEntry) {
	t.Helper()
	_, err := repo.PutFrontierEntries(context.Background(), entries)
	require.NoError(t, err)
}

func TestPutMatchIdempotent(t *testing.T) {
	t.Parallel()

	repo := New(nil)
	ctx := context.Background()
	match := pipeline.MatchRecord{Ref: pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}, QueueID: 420}

	require.NoError(t, repo.PutMatch(ctx, match))
	require.NoError(t, repo.PutMatch(ctx, match))

	count, err := repo.MatchCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := repo.Exists(ctx, pipeline.KindMatch, "EUW1_1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestClaimOrderingMatchesFirst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	repo := New(clock)
	ctx := context.Background()
	now := clock.Now()

	seedEntries(t, repo,
		playerEntry("p-early", now.Add(-3*time.Minute)),
		matchEntry("EUW1_2", now.Add(-time.Minute)),
		matchEntry("EUW1_1", now.Add(-2*time.Minute)),
		playerEntry("p-late", now.Add(-time.Minute)),
	)

	batch, err := repo.ClaimNextBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	// Matches before players, FIFO within a kind.
	assert.Equal(t, "EUW1_1", batch[0].Ref)
	assert.Equal(t, "EUW1_2", batch[1].Ref)
	assert.Equal(t, "p-early", batch[2].Ref)
	for _, e := range batch {
		assert.Equal(t, pipeline.StateInFlight, e.State)
	}

	// Claimed entries are not handed out again.
	rest, err := repo.ClaimNextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "p-late", rest[0].Ref)
}

func TestClaimSkipsFutureAttempts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	repo := New(clock)
	ctx := context.Background()

	entry := matchEntry("EUW1_1", clock.Now())
	seedEntries(t, repo, entry)

	batch, err := repo.ClaimNextBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, repo.Requeue(ctx, batch[0], 1, clock.Now().Add(time.Minute)))

	batch, err = repo.ClaimNextBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, batch, "entry with a future next-attempt must not be claimed")

	clock.advance(2 * time.Minute)
	batch, err = repo.ClaimNextBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].Attempts)
}

func TestConcurrentClaimExclusive(t *testing.T) {
	t.Parallel()

	repo := New(nil)
	ctx := context.Background()
	now := time.Now()

	entries := make([]pipeline.FrontierEntry, 0, 40)
	for i := 0; i < 40; i++ {
		entries = append(entries, matchEntry(fmt.Sprintf("EUW1_%d", i), now.Add(-time.Duration(i+1)*time.Millisecond)))
	}
	seedEntries(t, repo, entries...)

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := repo.ClaimNextBatch(ctx, 3)
				if !assert.NoError(t, err) {
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, e := range batch {
					claimed[e.Ref]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 40)
	for ref, n := range claimed {
		assert.Equal(t, 1, n, "entry %s claimed more than once", ref)
	}
}

func TestMarkDoneKeepsDedupIndex(t *testing.T) {
	t.Parallel()

	repo := New(nil)
	ctx := context.Background()

	entry := playerEntry("p1", time.Now())
	seedEntries(t, repo, entry)
	batch, err := repo.ClaimNextBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, repo.MarkDone(ctx, batch[0]))

	// A done entry still dedupes rediscovery.
	exists, err := repo.Exists(ctx, pipeline.KindPlayer, "p1")
	require.NoError(t, err)
	assert.True(t, exists)

	inserted, err := repo.PutFrontierEntries(ctx, []pipeline.FrontierEntry{entry})
	require.NoError(t, err)
	assert.Zero(t, inserted, "reinsert of a known ref counts as zero")
	got, ok := repo.Entry(pipeline.KindPlayer, "p1")
	require.True(t, ok)
	assert.Equal(t, pipeline.StateDone, got.State, "reinsert must not resurrect a done entry")
}

func TestMarkFailedRecordsReason(t *testing.T) {
	t.Parallel()

	repo := New(nil)
	ctx := context.Background()

	entry := matchEntry("EUW1_1", time.Now())
	seedEntries(t, repo, entry)
	require.NoError(t, repo.MarkFailed(ctx, entry, "not_found"))

	got, ok := repo.Entry(pipeline.KindMatch, "EUW1_1")
	require.True(t, ok)
	assert.Equal(t, pipeline.StateFailed, got.State)
	assert.Equal(t, "not_found", got.LastError)

	counts, err := repo.FrontierCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[pipeline.StateFailed])
}

func TestReclaimStale(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	repo := New(clock)
	ctx := context.Background()

	seedEntries(t, repo, matchEntry("EUW1_1", clock.Now()))
	batch, err := repo.ClaimNextBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	// Fresh claim is untouched.
	n, err := repo.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.advance(10 * time.Minute)
	n, err = repo.ReclaimStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	batch, err = repo.ClaimNextBatch(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, batch, 1, "reclaimed entry is claimable again")
}

func TestForEachMatchOrderAndCursor(t *testing.T) {
	t.Parallel()

	repo := New(nil)
	ctx := context.Background()

	for _, id := range []string{"EUW1_3", "EUW1_1", "EUW1_2"} {
		require.NoError(t, repo.PutMatch(ctx, pipeline.MatchRecord{Ref: pipeline.MatchRef{ID: id, Region: "euw1"}}))
	}

	var seen []string
	require.NoError(t, repo.ForEachMatch(ctx, pipeline.MatchRef{}, func(m pipeline.MatchRecord) error {
		seen = append(seen, m.Ref.ID)
		return nil
	}))
	assert.Equal(t, []string{"EUW1_1", "EUW1_2", "EUW1_3"}, seen)

	seen = nil
	require.NoError(t, repo.ForEachMatch(ctx, pipeline.MatchRef{ID: "EUW1_1", Region: "euw1"}, func(m pipeline.MatchRecord) error {
		seen = append(seen, m.Ref.ID)
		return nil
	}))
	assert.Equal(t, []string{"EUW1_2", "EUW1_3"}, seen)
}
