package pipeline

import (
	"context"
	"time"
)

// Repository persists matches and frontier state. It is the exclusive
// owner of durable state; in-memory frontier caches must be rebuildable
// from it alone after a restart.
type Repository interface {
	// Exists reports whether the entity is already durably stored. For
	// matches this covers stored match detail, for players any prior
	// frontier sighting.
	Exists(ctx context.Context, kind EntityKind, ref string) (bool, error)

	// PutMatch upserts a match and its participants atomically. A second
	// call with the same MatchRef is a no-op.
	PutMatch(ctx context.Context, match MatchRecord) error

	// PutFrontierEntries inserts entries, silently dropping any already
	// present by (kind, ref). Returns the number actually inserted, so
	// callers can account for refs collapsed as duplicates.
	PutFrontierEntries(ctx context.Context, entries []FrontierEntry) (int, error)

	// ClaimNextBatch atomically marks up to limit pending entries as
	// in-flight and returns them. Match entries come before player
	// entries, oldest discovery first. No two concurrent callers receive
	// the same entry.
	ClaimNextBatch(ctx context.Context, limit int) ([]FrontierEntry, error)

	// MarkDone transitions an in-flight entry to its terminal done state.
	MarkDone(ctx context.Context, entry FrontierEntry) error

	// MarkFailed transitions an entry to failed, retaining it for audit.
	MarkFailed(ctx context.Context, entry FrontierEntry, reason string) error

	// Requeue returns an in-flight entry to pending with the given attempt
	// count, eligible for re-claim no earlier than notBefore.
	Requeue(ctx context.Context, entry FrontierEntry, attempts int, notBefore time.Time) error

	// ReclaimStale flips in-flight entries older than the timeout back to
	// pending so a crash cannot strand work. Returns the reclaimed count.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)

	// MatchCount returns the number of stored matches.
	MatchCount(ctx context.Context) (int, error)

	// PendingCount returns the number of claimable frontier entries.
	PendingCount(ctx context.Context) (int, error)

	// FrontierCounts returns entry counts grouped by state.
	FrontierCounts(ctx context.Context) (map[EntryState]int, error)

	// ForEachMatch streams stored matches ordered by (region, id),
	// starting after the given cursor ref. A zero MatchRef starts from
	// the beginning; the callback's error aborts iteration.
	ForEachMatch(ctx context.Context, after MatchRef, fn func(MatchRecord) error) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	Close()
}

// RemoteClient performs authenticated requests against the game-statistics
// API. A single instance is the sole rate gate shared by all workers; it
// self-throttles and honors upstream cooldowns internally.
type RemoteClient interface {
	// ListLadderPlayers returns the players of a ranked ladder tier, used
	// for seeding the frontier.
	ListLadderPlayers(ctx context.Context, tier string) ([]PlayerRef, error)

	// ListMatchIDs returns up to count recent match refs for a player
	// within the recency window. An empty result is valid.
	ListMatchIDs(ctx context.Context, player PlayerRef, window time.Duration, count int) ([]MatchRef, error)

	// FetchMatch retrieves full match detail. Fails with ErrNotFound once
	// the match has expired upstream, RateLimitedError when throttled, or
	// TransientError on network/5xx conditions.
	FetchMatch(ctx context.Context, ref MatchRef) (MatchRecord, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside tests.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
