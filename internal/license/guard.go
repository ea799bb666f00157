package license

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AttemptGuard blocks clients that keep presenting rejected activations.
// A zero-sized guard (maxAttempts <= 0) never blocks.
type AttemptGuard struct {
	mu          sync.Mutex
	attempts    map[string]*attemptWindow
	blocked     map[string]time.Time
	maxAttempts int
	window      time.Duration
	block       time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type attemptWindow struct {
	count int
	start time.Time
}

// NewAttemptGuard returns a guard allowing maxAttempts failures per window.
func NewAttemptGuard(maxAttempts int, window, block time.Duration, logger *slog.Logger) *AttemptGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptGuard{
		attempts:    make(map[string]*attemptWindow),
		blocked:     make(map[string]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		block:       block,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "attempt_guard")),
	}
}

// BlockedFor reports how long id remains blocked, or zero.
func (g *AttemptGuard) BlockedFor(id string) time.Duration {
	if g == nil || g.maxAttempts <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	until, ok := g.blocked[id]
	if !ok {
		return 0
	}
	left := until.Sub(g.now())
	if left <= 0 {
		delete(g.blocked, id)
		return 0
	}
	return left
}

// Record notes the result of an attempt by id. A success clears the history.
func (g *AttemptGuard) Record(ctx context.Context, id string, success bool) {
	if g == nil || g.maxAttempts <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if success {
		delete(g.attempts, id)
		return
	}

	now := g.now()
	w, ok := g.attempts[id]
	if !ok || now.Sub(w.start) > g.window {
		w = &attemptWindow{start: now}
		g.attempts[id] = w
	}
	w.count++

	if w.count >= g.maxAttempts {
		g.blocked[id] = now.Add(g.block)
		delete(g.attempts, id)
		g.logger.WarnContext(ctx, "client blocked after repeated rejected activations",
			slog.String("action", "security_violation"),
			slog.String("client", id),
			slog.Int("attempt_count", w.count),
			slog.Duration("block", g.block),
		)
	}
}

// Sweep drops expired windows and blocks.
func (g *AttemptGuard) Sweep() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, w := range g.attempts {
		if now.Sub(w.start) > g.window {
			delete(g.attempts, id)
		}
	}
	for id, until := range g.blocked {
		if !now.Before(until) {
			delete(g.blocked, id)
		}
	}
}

// Run sweeps every interval until ctx ends.
func (g *AttemptGuard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
