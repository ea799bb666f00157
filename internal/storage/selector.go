package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// ReadyFunc runs once the durable backend is first reachable. A failing
// ReadyFunc keeps the durable backend out of rotation until the next probe.
type ReadyFunc func(ctx context.Context, d Durable) error

// DefaultPrepareTimeout bounds Migrate and the ReadyFunc unless
// WithPrepareTimeout overrides it.
const DefaultPrepareTimeout = 30 * time.Second

// Selector decides per request which backend serves it. The durable backend
// is probed with a bounded ping; concurrent probes share one ping.
type Selector struct {
	durable  Durable
	volatile Backend
	timeout  time.Duration
	logger   *slog.Logger
	onReady  ReadyFunc

	prepareTimeout time.Duration

	group singleflight.Group

	mu      sync.Mutex
	ready   bool
	current string

	switches metric.Int64Counter
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithReady registers the first-contact hook, usually schema and seeding.
func WithReady(fn ReadyFunc) SelectorOption {
	return func(s *Selector) { s.onReady = fn }
}

// WithPrepareTimeout sets the deadline for first-contact preparation.
func WithPrepareTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) {
		if d > 0 {
			s.prepareTimeout = d
		}
	}
}

// WithMeter records backend transitions on meter.
func WithMeter(meter metric.Meter) SelectorOption {
	return func(s *Selector) {
		c, err := meter.Int64Counter("storage_backend_switches_total",
			metric.WithDescription("Number of transitions between durable and volatile storage"))
		if err == nil {
			s.switches = c
		}
	}
}

// NewSelector returns a selector. A nil durable backend always selects volatile.
func NewSelector(durable Durable, volatile Backend, timeout time.Duration, logger *slog.Logger, opts ...SelectorOption) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		durable:  durable,
		volatile: volatile,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "storage_selector")),

		prepareTimeout: DefaultPrepareTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the durable backend when it answers a ping within the
// timeout, otherwise the volatile backend.
func (s *Selector) Select(ctx context.Context) Backend {
	if s.durable == nil {
		return s.volatile
	}

	v, _, _ := s.group.Do("probe", func() (interface{}, error) {
		return s.probe(context.WithoutCancel(ctx)), nil
	})
	if v.(bool) {
		return s.durable
	}
	return s.volatile
}

// Durable returns the configured durable backend or nil.
func (s *Selector) Durable() Durable { return s.durable }

// Volatile returns the volatile backend.
func (s *Selector) Volatile() Backend { return s.volatile }

// Current reports the kind chosen by the latest probe.
func (s *Selector) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		if s.durable == nil {
			return KindVolatile
		}
		return KindDurable
	}
	return s.current
}

func (s *Selector) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.durable.Ping(pctx)
	cancel()
	if err == nil {
		err = s.Prepare(ctx)
	}

	next := KindDurable
	if err != nil {
		next = KindVolatile
	}
	s.transition(ctx, next, err)
	return err == nil
}

// Prepare migrates the durable backend and runs the ready hook, once.
// It runs under the prepare timeout, not the ping timeout, and later calls
// return immediately.
func (s *Selector) Prepare(ctx context.Context) error {
	if s.durable == nil || s.isReady() {
		return nil
	}

	_, err, _ := s.group.Do("prepare", func() (interface{}, error) {
		if s.isReady() {
			return nil, nil
		}

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.prepareTimeout)
		defer cancel()

		start := time.Now()
		if err := s.durable.Migrate(pctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if s.onReady != nil {
			if err := s.onReady(pctx, s.durable); err != nil {
				return nil, fmt.Errorf("prepare: %w", err)
			}
		}

		s.mu.Lock()
		s.ready = true
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "durable storage prepared",
			slog.String("driver", s.durable.Driver()),
			slog.Duration("duration", time.Since(start)))
		return nil, nil
	})
	return err
}

func (s *Selector) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Selector) transition(ctx context.Context, next string, cause error) {
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()

	if prev == next {
		return
	}

	if s.switches != nil && prev != "" {
		s.switches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", prev),
			attribute.String("to", next),
		))
	}

	switch {
	case next == KindVolatile:
		s.logger.WarnContext(ctx, "durable storage unavailable, using volatile backend",
			slog.String("driver", s.durable.Driver()),
			slog.String("error", cause.Error()))
	case prev != "":
		s.logger.InfoContext(ctx, "durable storage reachable again",
			slog.String("driver", s.durable.Driver()))
	default:
		s.logger.InfoContext(ctx, "using durable storage",
			slog.String("driver", s.durable.Driver()))
	}
}
