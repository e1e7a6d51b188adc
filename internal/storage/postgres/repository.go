// Package postgres provides the Postgres-backed pipeline repository.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/riftlab/matchforge/internal/pipeline"
)

// iterPageSize bounds one keyset page during match iteration.
const iterPageSize = 200

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Repository implements pipeline.Repository on Postgres.
type Repository struct {
	pool   dbPool
	clock  pipeline.Clock
	logger *zap.Logger
}

// New creates a Repository, applying embedded migrations first.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if err := Migrate(cfg.DSN); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool, clock: pipeline.SystemClock{}, logger: logger}, nil
}

// NewWithPool constructs a Repository from an existing pool (primarily
// for testing with pgxmock).
func NewWithPool(pool dbPool, clock pipeline.Clock, logger *zap.Logger) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Repository{pool: pool, clock: clock, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", pipeline.ErrStorage, err)
	}
	return nil
}

// Exists reports whether the entity is already durably stored.
func (r *Repository) Exists(ctx context.Context, kind pipeline.EntityKind, ref string) (bool, error) {
	var query string
	switch kind {
	case pipeline.KindMatch:
		query = `SELECT EXISTS (SELECT 1 FROM matches WHERE match_id = $1)`
	case pipeline.KindPlayer:
		query = `SELECT EXISTS (SELECT 1 FROM frontier WHERE kind = 'player' AND ref = $1)`
	default:
		return false, fmt.Errorf("unknown entity kind %q", kind)
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, query, ref).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: exists %s/%s: %w", pipeline.ErrStorage, kind, ref, err)
	}
	return exists, nil
}

// PutMatch inserts a match and its participants in one transaction.
// A second call with the same MatchRef is a no-op.
func (r *Repository) PutMatch(ctx context.Context, match pipeline.MatchRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin put match: %w", pipeline.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
INSERT INTO matches (region, match_id, queue_id, game_start, duration_ms, payload, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (region, match_id) DO NOTHING`,
		match.Ref.Region,
		match.Ref.ID,
		match.QueueID,
		match.GameStart,
		match.Duration.Milliseconds(),
		match.RawPayload,
		match.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert match %s: %w", pipeline.ErrStorage, match.Ref.ID, err)
	}
	if tag.RowsAffected() > 0 {
		for slot, p := range match.Participants {
			if _, err := tx.Exec(ctx, `
INSERT INTO participants (
	region, match_id, slot, puuid, team_id, role, champion_id,
	kills, deaths, assists, gold_earned, minions_killed,
	neutral_minions, vision_score, damage_to_champions, win
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
				match.Ref.Region, match.Ref.ID, slot,
				p.Player.PUUID, p.TeamID, p.Role, p.ChampionID,
				p.Kills, p.Deaths, p.Assists, p.GoldEarned, p.MinionsKilled,
				p.NeutralMinions, p.VisionScore, p.DamageToChampions, p.Win,
			); err != nil {
				return fmt.Errorf("%w: insert participant %s/%d: %w", pipeline.ErrStorage, match.Ref.ID, slot, err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit put match %s: %w", pipeline.ErrStorage, match.Ref.ID, err)
	}
	return nil
}

// PutFrontierEntries bulk-inserts entries, dropping (kind, ref)
// duplicates. Returns how many rows the insert actually added.
func (r *Repository) PutFrontierEntries(ctx context.Context, entries []pipeline.FrontierEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	inserted := 0
	for _, e := range entries {
		tag, err := r.pool.Exec(ctx, `
INSERT INTO frontier (kind, ref, region, discovered_at, attempts, state, next_attempt_at)
VALUES ($1, $2, $3, $4, $5, $6, $4)
ON CONFLICT (kind, ref) DO NOTHING`,
			e.Kind, e.Ref, e.Region, e.DiscoveredAt, e.Attempts, pipeline.StatePending,
		)
		if err != nil {
			return inserted, fmt.Errorf("%w: insert frontier entry %s/%s: %w", pipeline.ErrStorage, e.Kind, e.Ref, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ClaimNextBatch atomically flips up to limit pending entries to
// in-flight and returns them. Match entries are served before player
// entries, oldest discovery first; SKIP LOCKED keeps concurrent claimers
// disjoint.
func (r *Repository) ClaimNextBatch(ctx context.Context, limit int) ([]pipeline.FrontierEntry, error) {
	now := r.clock.Now()
	rows, err := r.pool.Query(ctx, `
UPDATE frontier f
SET state = 'in_flight', claimed_at = $2
FROM (
	SELECT kind, ref FROM frontier
	WHERE state = 'pending' AND next_attempt_at <= $2
	ORDER BY CASE kind WHEN 'match' THEN 0 ELSE 1 END, discovered_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
) c
WHERE f.kind = c.kind AND f.ref = c.ref
RETURNING f.kind, f.ref, f.region, f.discovered_at, f.attempts`,
		limit, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: claim batch: %w", pipeline.ErrStorage, err)
	}
	defer rows.Close()

	var batch []pipeline.FrontierEntry
	for rows.Next() {
		var e pipeline.FrontierEntry
		if err := rows.Scan(&e.Kind, &e.Ref, &e.Region, &e.DiscoveredAt, &e.Attempts); err != nil {
			return nil, fmt.Errorf("%w: scan claimed entry: %w", pipeline.ErrStorage, err)
		}
		e.State = pipeline.StateInFlight
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: claim batch rows: %w", pipeline.ErrStorage, err)
	}
	// Claim priority is not guaranteed across UPDATE ... RETURNING, so
	// restore it before handing the batch to the caller.
	sortBatch(batch)
	return batch, nil
}

// MarkDone transitions an entry to its terminal done state.
func (r *Repository) MarkDone(ctx context.Context, entry pipeline.FrontierEntry) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE frontier SET state = 'done', claimed_at = NULL WHERE kind = $1 AND ref = $2`,
		entry.Kind, entry.Ref,
	); err != nil {
		return fmt.Errorf("%w: mark done %s/%s: %w", pipeline.ErrStorage, entry.Kind, entry.Ref, err)
	}
	return nil
}

// MarkFailed transitions an entry to failed, retaining it for audit.
func (r *Repository) MarkFailed(ctx context.Context, entry pipeline.FrontierEntry, reason string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE frontier SET state = 'failed', last_error = $3, claimed_at = NULL WHERE kind = $1 AND ref = $2`,
		entry.Kind, entry.Ref, reason,
	); err != nil {
		return fmt.Errorf("%w: mark failed %s/%s: %w", pipeline.ErrStorage, entry.Kind, entry.Ref, err)
	}
	return nil
}

// Requeue returns an in-flight entry to pending with the new attempt
// count, claimable again no earlier than notBefore.
func (r *Repository) Requeue(ctx context.Context, entry pipeline.FrontierEntry, attempts int, notBefore time.Time) error {
	if _, err := r.pool.Exec(ctx, `
UPDATE frontier
SET state = 'pending', attempts = $3, next_attempt_at = $4, claimed_at = NULL
WHERE kind = $1 AND ref = $2`,
		entry.Kind, entry.Ref, attempts, notBefore,
	); err != nil {
		return fmt.Errorf("%w: requeue %s/%s: %w", pipeline.ErrStorage, entry.Kind, entry.Ref, err)
	}
	return nil
}

// ReclaimStale flips in-flight entries claimed before the timeout back to
// pending and returns the number reclaimed.
func (r *Repository) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-olderThan)
	tag, err := r.pool.Exec(ctx, `
UPDATE frontier
SET state = 'pending', claimed_at = NULL
WHERE state = 'in_flight' AND claimed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: reclaim stale: %w", pipeline.ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}

// MatchCount returns the number of stored matches.
func (r *Repository) MatchCount(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM matches`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count matches: %w", pipeline.ErrStorage, err)
	}
	return count, nil
}

// PendingCount returns the number of claimable frontier entries.
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM frontier WHERE state = 'pending'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count pending: %w", pipeline.ErrStorage, err)
	}
	return count, nil
}

// FrontierCounts returns entry counts grouped by state.
func (r *Repository) FrontierCounts(ctx context.Context) (map[pipeline.EntryState]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT state, COUNT(*) FROM frontier GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("%w: frontier counts: %w", pipeline.ErrStorage, err)
	}
	defer rows.Close()

	counts := make(map[pipeline.EntryState]int)
	for rows.Next() {
		var state pipeline.EntryState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("%w: scan frontier count: %w", pipeline.ErrStorage, err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: frontier count rows: %w", pipeline.ErrStorage, err)
	}
	return counts, nil
}

// ForEachMatch streams stored matches ordered by (region, match_id) using
// keyset pagination, so iteration can restart from any cursor.
func (r *Repository) ForEachMatch(ctx context.Context, after pipeline.MatchRef, fn func(pipeline.MatchRecord) error) error {
	cursor := after
	for {
		page, err := r.matchPage(ctx, cursor)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for i := range page {
			if err := r.loadParticipants(ctx, &page[i]); err != nil {
				return err
			}
			if err := fn(page[i]); err != nil {
				return err
			}
		}
		cursor = page[len(page)-1].Ref
	}
}

func (r *Repository) matchPage(ctx context.Context, after pipeline.MatchRef) ([]pipeline.MatchRecord, error) {
	rows, err := r.pool.Query(ctx, `
SELECT region, match_id, queue_id, game_start, duration_ms, payload, fetched_at
FROM matches
WHERE (region, match_id) > ($1, $2)
ORDER BY region, match_id
LIMIT $3`,
		after.Region, after.ID, iterPageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: iterate matches: %w", pipeline.ErrStorage, err)
	}
	defer rows.Close()

	var page []pipeline.MatchRecord
	for rows.Next() {
		var m pipeline.MatchRecord
		var durationMs int64
		if err := rows.Scan(&m.Ref.Region, &m.Ref.ID, &m.QueueID, &m.GameStart, &durationMs, &m.RawPayload, &m.FetchedAt); err != nil {
			return nil, fmt.Errorf("%w: scan match row: %w", pipeline.ErrStorage, err)
		}
		m.Duration = time.Duration(durationMs) * time.Millisecond
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: match page rows: %w", pipeline.ErrStorage, err)
	}
	return page, nil
}

func (r *Repository) loadParticipants(ctx context.Context, m *pipeline.MatchRecord) error {
	rows, err := r.pool.Query(ctx, `
SELECT puuid, team_id, role, champion_id, kills, deaths, assists,
	gold_earned, minions_killed, neutral_minions, vision_score,
	damage_to_champions, win
FROM participants
WHERE region = $1 AND match_id = $2
ORDER BY slot`,
		m.Ref.Region, m.Ref.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: load participants %s: %w", pipeline.ErrStorage, m.Ref.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p pipeline.ParticipantRecord
		if err := rows.Scan(
			&p.Player.PUUID, &p.TeamID, &p.Role, &p.ChampionID,
			&p.Kills, &p.Deaths, &p.Assists, &p.GoldEarned,
			&p.MinionsKilled, &p.NeutralMinions, &p.VisionScore,
			&p.DamageToChampions, &p.Win,
		); err != nil {
			return fmt.Errorf("%w: scan participant row: %w", pipeline.ErrStorage, err)
		}
		p.Player.Region = m.Ref.Region
		m.Participants = append(m.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: participant rows: %w", pipeline.ErrStorage, err)
	}
	return nil
}

func sortBatch(batch []pipeline.FrontierEntry) {
	kindRank := func(k pipeline.EntityKind) int {
		if k == pipeline.KindMatch {
			return 0
		}
		return 1
	}
	sort.SliceStable(batch, func(i, j int) bool {
		if kindRank(batch[i].Kind) != kindRank(batch[j].Kind) {
			return kindRank(batch[i].Kind) < kindRank(batch[j].Kind)
		}
		return batch[i].DiscoveredAt.Before(batch[j].DiscoveredAt)
	})
}
