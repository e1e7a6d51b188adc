package riot

import (
	"context"
	"sync"
	"time"

	"github.com/riftlab/matchforge/internal/metrics"
)

// cooldownGate holds all outgoing requests while an upstream rate-limit
// cooldown is in effect. A single gate is shared by every caller of the
// client, so one 429 pauses the whole pipeline.
type cooldownGate struct {
	mu    sync.Mutex
	until time.Time
}

// trip extends the cooldown deadline. Shorter cooldowns never shrink a
// longer one already in effect.
func (g *cooldownGate) trip(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	deadline := time.Now().Add(d)
	if deadline.After(g.until) {
		g.until = deadline
	}
}

// wait blocks until any active cooldown has passed or the context ends.
func (g *cooldownGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		remaining := time.Until(g.until)
		g.mu.Unlock()
		if remaining <= 0 {
			return nil
		}
		metrics.ObserveRateLimitWait(remaining)
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
