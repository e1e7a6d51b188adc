// Package collector drives the discovery/fetch loop: claim a batch from
// the frontier, dispatch to the remote client, persist results, and feed
// newly observed refs back into the frontier.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/riftlab/matchforge/internal/frontier"
	"github.com/riftlab/matchforge/internal/metrics"
	"github.com/riftlab/matchforge/internal/pipeline"
)

// idlePollInterval is how long a worker waits when the pending frontier
// is momentarily empty but other workers are still mid-batch.
const idlePollInterval = 250 * time.Millisecond

// Config controls Collector behavior.
type Config struct {
	BatchSize        int
	Concurrency      int
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	Window           time.Duration
	QueueID          int
	MatchesPerPlayer int
}

// Collector orchestrates frontier, remote client and repository.
type Collector struct {
	repo     pipeline.Repository
	client   pipeline.RemoteClient
	frontier *frontier.Manager
	clock    pipeline.Clock
	cfg      Config
	logger   *zap.Logger

	inFlight atomic.Int64

	// storeMu serializes the ceiling re-check with the store itself, so
	// two workers can never both consume the last budget slot.
	storeMu sync.Mutex

	mu       sync.Mutex
	status   pipeline.RunStatus
	stopOnce sync.Once
}

// New constructs a Collector.
func New(
	repo pipeline.Repository,
	client pipeline.RemoteClient,
	fm *frontier.Manager,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MatchesPerPlayer <= 0 {
		cfg.MatchesPerPlayer = 10
	}
	return &Collector{
		repo:     repo,
		client:   client,
		frontier: fm,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Seed enqueues the configured seed players so the first batch claim has
// work to do. Already-known players are deduplicated by the frontier.
func (c *Collector) Seed(ctx context.Context, region string, puuids []string) (int, error) {
	return c.frontier.Discovered(ctx, pipeline.KindPlayer, region, puuids)
}

// Run executes the crawl loop until the frontier's stop condition fires
// or the context is cancelled. Cancellation is cooperative: in-flight
// batches complete and commit before workers stop claiming new work.
func (c *Collector) Run(ctx context.Context) (pipeline.RunStatus, error) {
	runID := uuid.NewString()
	started := c.clock.Now()
	c.mu.Lock()
	c.status = pipeline.RunStatus{
		RunID:          runID,
		Started:        started,
		FailureReasons: make(map[string]int),
	}
	c.mu.Unlock()

	c.logger.Info("crawl run starting",
		zap.String("run_id", runID),
		zap.Int("concurrency", c.cfg.Concurrency),
		zap.Int("batch_size", c.cfg.BatchSize),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return c.workerLoop(gctx, worker)
		})
	}
	err := g.Wait()

	c.mu.Lock()
	c.status.Finished = c.clock.Now()
	if c.status.StopReason == "" {
		if ctx.Err() != nil {
			c.status.StopReason = pipeline.StopSignal
		} else {
			c.status.StopReason = pipeline.StopExhausted
		}
	}
	status := c.status
	c.mu.Unlock()

	c.logger.Info("crawl run finished",
		zap.String("run_id", status.RunID),
		zap.String("stop_reason", string(status.StopReason)),
		zap.Int("matches_stored", status.MatchesStored),
		zap.Int("players_scanned", status.PlayersScanned),
		zap.Int("entries_failed", status.EntriesFailed),
		zap.Duration("elapsed", status.Finished.Sub(status.Started)),
	)

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errStopRun) {
		return status, err
	}
	return status, nil
}

// errStopRun tears down the errgroup once any worker observes the stop
// condition.
var errStopRun = errors.New("stop condition reached")

func (c *Collector) workerLoop(ctx context.Context, worker int) error {
	for {
		if ctx.Err() != nil {
			c.recordStop(pipeline.StopSignal)
			return ctx.Err()
		}

		// Stop conditions are evaluated before every batch claim, not
		// just at loop entry (ceilings must bound mid-run growth).
		reason, stop, err := c.frontier.ShouldStop(ctx)
		if err != nil {
			if fatal := c.checkStorage(ctx, err); fatal != nil {
				return fatal
			}
			continue
		}
		if stop {
			if reason == pipeline.StopExhausted && c.inFlight.Load() > 0 {
				// Another worker may still discover new refs; idle
				// instead of declaring exhaustion.
				if err := sleepCtx(ctx, idlePollInterval); err != nil {
					c.recordStop(pipeline.StopSignal)
					return err
				}
				continue
			}
			c.recordStop(reason)
			return errStopRun
		}

		batch, err := c.frontier.NextBatch(ctx, c.cfg.BatchSize)
		if err != nil {
			if fatal := c.checkStorage(ctx, err); fatal != nil {
				return fatal
			}
			continue
		}
		if len(batch) == 0 {
			// Pending entries exist but are in backoff, or a racing
			// worker claimed them first.
			if err := sleepCtx(ctx, idlePollInterval); err != nil {
				c.recordStop(pipeline.StopSignal)
				return err
			}
			continue
		}

		c.inFlight.Add(int64(len(batch)))
		metrics.IncActiveWorkers()
		c.logger.Debug("batch claimed",
			zap.Int("worker", worker),
			zap.Int("size", len(batch)),
		)
		// Shutdown is cooperative: entries already claimed are processed
		// to a terminal or requeued state on an uncancellable context,
		// so cancellation never aborts a half-fetched match mid-write.
		workCtx := context.WithoutCancel(ctx)
		for _, entry := range batch {
			c.processEntry(workCtx, entry)
			c.inFlight.Add(-1)
		}
		metrics.DecActiveWorkers()
	}
}

func (c *Collector) processEntry(ctx context.Context, entry pipeline.FrontierEntry) {
	var err error
	switch entry.Kind {
	case pipeline.KindPlayer:
		err = c.processPlayer(ctx, entry)
	case pipeline.KindMatch:
		err = c.processMatch(ctx, entry)
	default:
		err = fmt.Errorf("unknown entry kind %q", entry.Kind)
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		// Permanent: the match expired from the remote retention window.
		c.failEntry(ctx, entry, "not_found")
	case isRateLimited(err):
		// Never counts against the attempt ceiling; the shared client
		// already gates all workers for the cooldown.
		retryAfter, _ := pipeline.AsRateLimited(err)
		c.requeueEntry(ctx, entry, entry.Attempts, c.clock.Now().Add(retryAfter))
	case pipeline.IsTransient(err):
		attempts := entry.Attempts + 1
		if attempts >= c.cfg.MaxAttempts {
			c.failEntry(ctx, entry, "max_attempts")
			return
		}
		delay := c.backoffDelay(attempts)
		c.logger.Warn("transient failure, entry requeued",
			zap.String("kind", string(entry.Kind)),
			zap.String("ref", entry.Ref),
			zap.Int("attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		c.requeueEntry(ctx, entry, attempts, c.clock.Now().Add(delay))
	case errors.Is(err, pipeline.ErrStorage):
		c.logger.Error("storage failure processing entry",
			zap.String("kind", string(entry.Kind)),
			zap.String("ref", entry.Ref),
			zap.Error(err),
		)
		// Leave the entry in-flight; the staleness reclaim returns it
		// to pending once the claim times out.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.requeueEntry(context.WithoutCancel(ctx), entry, entry.Attempts, c.clock.Now())
	default:
		c.failEntry(ctx, entry, "invalid_payload")
	}
}

func (c *Collector) processPlayer(ctx context.Context, entry pipeline.FrontierEntry) error {
	player := pipeline.PlayerRef{PUUID: entry.Ref, Region: entry.Region}
	refs, err := c.client.ListMatchIDs(ctx, player, c.cfg.Window, c.cfg.MatchesPerPlayer)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	if _, err := c.frontier.Discovered(ctx, pipeline.KindMatch, entry.Region, ids); err != nil {
		return err
	}
	if err := c.repo.MarkDone(ctx, entry); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.PlayersScanned++
	c.mu.Unlock()
	return nil
}

func (c *Collector) processMatch(ctx context.Context, entry pipeline.FrontierEntry) error {
	exists, err := c.repo.Exists(ctx, pipeline.KindMatch, entry.Ref)
	if err != nil {
		return err
	}
	if exists {
		return c.repo.MarkDone(ctx, entry)
	}

	// The ceiling bounds stored matches, not claimed entries; an entry
	// claimed past the budget goes back to pending untouched. This first
	// check is advisory only, it saves the fetch.
	budget, err := c.frontier.MatchBudgetLeft(ctx)
	if err != nil {
		return err
	}
	if budget <= 0 {
		c.requeueEntry(ctx, entry, entry.Attempts, c.clock.Now())
		return nil
	}

	match, err := c.client.FetchMatch(ctx, pipeline.MatchRef{ID: entry.Ref, Region: entry.Region})
	if err != nil {
		return err
	}

	if c.cfg.QueueID != 0 && match.QueueID != c.cfg.QueueID {
		// Wrong queue type: discovered but not wanted. Terminal, not a
		// failure.
		return c.repo.MarkDone(ctx, entry)
	}
	if len(match.Participants) != 10 {
		return c.repo.MarkDone(ctx, entry)
	}

	stored, err := c.storeWithinBudget(ctx, entry, match)
	if err != nil {
		return err
	}
	if !stored {
		return nil
	}

	puuids := make([]string, 0, len(match.Participants))
	for _, p := range match.Participants {
		puuids = append(puuids, p.Player.PUUID)
	}
	if _, err := c.frontier.Discovered(ctx, pipeline.KindPlayer, entry.Region, puuids); err != nil {
		return err
	}
	return c.repo.MarkDone(ctx, entry)
}

// storeWithinBudget persists the match unless doing so would exceed the
// stored-match ceiling. The budget is re-read under storeMu right before
// the write, making the check-then-store atomic across workers; an
// over-budget entry returns to pending untouched.
func (c *Collector) storeWithinBudget(ctx context.Context, entry pipeline.FrontierEntry, match pipeline.MatchRecord) (bool, error) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	budget, err := c.frontier.MatchBudgetLeft(ctx)
	if err != nil {
		return false, err
	}
	if budget <= 0 {
		c.requeueEntry(ctx, entry, entry.Attempts, c.clock.Now())
		return false, nil
	}
	if err := c.repo.PutMatch(ctx, match); err != nil {
		return false, err
	}
	metrics.ObserveMatchStored()
	c.mu.Lock()
	c.status.MatchesStored++
	stored := c.status.MatchesStored
	c.mu.Unlock()
	if stored%50 == 0 {
		c.logger.Info("crawl progress", zap.Int("matches_stored", stored))
	}
	return true, nil
}

func (c *Collector) failEntry(ctx context.Context, entry pipeline.FrontierEntry, reason string) {
	if err := c.repo.MarkFailed(context.WithoutCancel(ctx), entry, reason); err != nil {
		c.logger.Error("mark failed", zap.String("ref", entry.Ref), zap.Error(err))
		return
	}
	metrics.ObserveEntryFailed(reason)
	c.mu.Lock()
	c.status.EntriesFailed++
	c.status.FailureReasons[reason]++
	c.mu.Unlock()
}

func (c *Collector) requeueEntry(ctx context.Context, entry pipeline.FrontierEntry, attempts int, notBefore time.Time) {
	if err := c.repo.Requeue(context.WithoutCancel(ctx), entry, attempts, notBefore); err != nil {
		c.logger.Error("requeue entry", zap.String("ref", entry.Ref), zap.Error(err))
	}
}

// checkStorage decides whether a storage error aborts the whole run.
// Batches are skippable, an unreachable store is not: halting beats
// silently losing data.
func (c *Collector) checkStorage(ctx context.Context, cause error) error {
	if !errors.Is(cause, pipeline.ErrStorage) {
		if ctx.Err() != nil {
			c.recordStop(pipeline.StopSignal)
			return ctx.Err()
		}
		return nil
	}
	ping := func() error { return c.repo.Ping(ctx) }
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		c.logger.Error("storage unreachable, halting run", zap.Error(cause))
		return fmt.Errorf("storage unreachable: %w", cause)
	}
	c.logger.Warn("storage error, batch skipped", zap.Error(cause))
	return nil
}

// backoffDelay computes the requeue delay for the given attempt count:
// base doubled per attempt, capped at the configured maximum.
func (c *Collector) backoffDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	return delay
}

func (c *Collector) recordStop(reason pipeline.StopReason) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.status.StopReason = reason
		c.mu.Unlock()
	})
}

func isRateLimited(err error) bool {
	_, ok := pipeline.AsRateLimited(err)
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
