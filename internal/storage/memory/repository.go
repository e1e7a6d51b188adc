// Package memory provides an in-memory pipeline repository for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/riftlab/matchforge/internal/pipeline"
)

type entryKey struct {
	kind pipeline.EntityKind
	ref  string
}

type frontierRow struct {
	entry       pipeline.FrontierEntry
	claimedAt   time.Time
	nextAttempt time.Time
}

// Repository implements pipeline.Repository with mutex-guarded maps. It
// mirrors the Postgres claim ordering so tests exercise the same
// selection policy.
type Repository struct {
	mu       sync.Mutex
	clock    pipeline.Clock
	matches  map[string]pipeline.MatchRecord
	order    []pipeline.MatchRef
	frontier map[entryKey]*frontierRow
}

// New constructs an empty Repository.
func New(clock pipeline.Clock) *Repository {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Repository{
		clock:    clock,
		matches:  make(map[string]pipeline.MatchRecord),
		frontier: make(map[entryKey]*frontierRow),
	}
}

// Close is a no-op for the in-memory store.
func (r *Repository) Close() {}

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error { return nil }

// Exists reports whether the entity is already stored.
func (r *Repository) Exists(_ context.Context, kind pipeline.EntityKind, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == pipeline.KindMatch {
		_, ok := r.matches[ref]
		return ok, nil
	}
	_, ok := r.frontier[entryKey{kind, ref}]
	return ok, nil
}

// PutMatch stores a match once; repeat calls with the same ref are no-ops.
func (r *Repository) PutMatch(_ context.Context, match pipeline.MatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[match.Ref.ID]; ok {
		return nil
	}
	r.matches[match.Ref.ID] = match
	r.order = append(r.order, match.Ref)
	sort.Slice(r.order, func(i, j int) bool {
		if r.order[i].Region != r.order[j].Region {
			return r.order[i].Region < r.order[j].Region
		}
		return r.order[i].ID < r.order[j].ID
	})
	return nil
}

// PutFrontierEntries inserts entries, dropping (kind, ref) duplicates.
// Returns how many entries were actually added.
func (r *Repository) PutFrontierEntries(_ context.Context, entries []pipeline.FrontierEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for _, e := range entries {
		key := entryKey{e.Kind, e.Ref}
		if _, ok := r.frontier[key]; ok {
			continue
		}
		e.State = pipeline.StatePending
		r.frontier[key] = &frontierRow{entry: e, nextAttempt: e.DiscoveredAt}
		inserted++
	}
	return inserted, nil
}

// ClaimNextBatch marks up to limit pending entries in-flight, match kind
// first, FIFO by discovery time within a kind.
func (r *Repository) ClaimNextBatch(_ context.Context, limit int) ([]pipeline.FrontierEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()

	var candidates []*frontierRow
	for _, row := range r.frontier {
		if row.entry.State == pipeline.StatePending && !row.nextAttempt.After(now) {
			candidates = append(candidates, row)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].entry, candidates[j].entry
		if (a.Kind == pipeline.KindMatch) != (b.Kind == pipeline.KindMatch) {
			return a.Kind == pipeline.KindMatch
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.Ref < b.Ref
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	batch := make([]pipeline.FrontierEntry, 0, len(candidates))
	for _, row := range candidates {
		row.entry.State = pipeline.StateInFlight
		row.claimedAt = now
		batch = append(batch, row.entry)
	}
	return batch, nil
}

// MarkDone transitions an entry to done.
func (r *Repository) MarkDone(_ context.Context, entry pipeline.FrontierEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.frontier[entryKey{entry.Kind, entry.Ref}]; ok {
		row.entry.State = pipeline.StateDone
	}
	return nil
}

// MarkFailed transitions an entry to failed, retaining it for audit.
func (r *Repository) MarkFailed(_ context.Context, entry pipeline.FrontierEntry, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.frontier[entryKey{entry.Kind, entry.Ref}]; ok {
		row.entry.State = pipeline.StateFailed
		row.entry.LastError = reason
	}
	return nil
}

// Requeue returns an entry to pending with the new attempt count.
func (r *Repository) Requeue(_ context.Context, entry pipeline.FrontierEntry, attempts int, notBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.frontier[entryKey{entry.Kind, entry.Ref}]; ok {
		row.entry.State = pipeline.StatePending
		row.entry.Attempts = attempts
		row.nextAttempt = notBefore
		row.claimedAt = time.Time{}
	}
	return nil
}

// ReclaimStale flips in-flight entries claimed before the timeout back to
// pending.
func (r *Repository) ReclaimStale(_ context.Context, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock.Now().Add(-olderThan)
	reclaimed := 0
	for _, row := range r.frontier {
		if row.entry.State == pipeline.StateInFlight && row.claimedAt.Before(cutoff) {
			row.entry.State = pipeline.StatePending
			row.claimedAt = time.Time{}
			reclaimed++
		}
	}
	return reclaimed, nil
}

// MatchCount returns the number of stored matches.
func (r *Repository) MatchCount(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matches), nil
}

// PendingCount returns the number of claimable entries.
func (r *Repository) PendingCount(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, row := range r.frontier {
		if row.entry.State == pipeline.StatePending {
			count++
		}
	}
	return count, nil
}

// FrontierCounts returns entry counts grouped by state.
func (r *Repository) FrontierCounts(context.Context) (map[pipeline.EntryState]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[pipeline.EntryState]int)
	for _, row := range r.frontier {
		counts[row.entry.State]++
	}
	return counts, nil
}

// Entry exposes a frontier entry by key (test helper).
func (r *Repository) Entry(kind pipeline.EntityKind, ref string) (pipeline.FrontierEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.frontier[entryKey{kind, ref}]
	if !ok {
		return pipeline.FrontierEntry{}, false
	}
	return row.entry, true
}

// ForEachMatch streams matches ordered by (region, id) starting after the
// cursor.
func (r *Repository) ForEachMatch(_ context.Context, after pipeline.MatchRef, fn func(pipeline.MatchRecord) error) error {
	r.mu.Lock()
	refs := make([]pipeline.MatchRef, len(r.order))
	copy(refs, r.order)
	r.mu.Unlock()

	for _, ref := range refs {
		if ref.Region < after.Region || (ref.Region == after.Region && ref.ID <= after.ID) {
			continue
		}
		r.mu.Lock()
		match, ok := r.matches[ref.ID]
		r.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn(match); err != nil {
			return err
		}
	}
	return nil
}
