package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cloudloader/internal/config"
	"cloudloader/internal/storage"
	"cloudloader/pkg/contracts/domain"
)

// ErrInvalidInput is returned when fingerprint, key or nickname is empty.
var ErrInvalidInput = errors.New("fingerprint, key and nickname are required")

// defaultWriteTimeout bounds the write phase of an accepted activation.
const defaultWriteTimeout = 5 * time.Second

// Outcome is the decision of an activation.
type Outcome struct {
	Accepted bool
	Role     domain.Role
	Reason   domain.Reason
}

// Result is the answer of a validation.
type Result struct {
	Valid    bool
	Role     domain.Role
	Nickname string
}

// Engine applies the activation and validation rules to a backend.
type Engine struct {
	locker       *Locker
	now          func() time.Time
	nicknameMax  int
	writeTimeout time.Duration
	metrics      *Metrics
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNicknameMax sets the nickname length limit in runes.
func WithNicknameMax(n int) Option {
	return func(e *Engine) { e.nicknameMax = n }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLocker shares a Locker with other components.
func WithLocker(l *Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// NewEngine returns an Engine with defaults for every unset option.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now:          time.Now,
		nicknameMax:  config.DefaultNicknameMax,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = NewLocker()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Locker returns the engine's locker.
func (e *Engine) Locker() *Locker { return e.locker }

// Activate consumes keyCode for fingerprint on backend b. Business
// rejections are returned as an Outcome with a Reason and a nil error.
func (e *Engine) Activate(ctx context.Context, b storage.Backend, fingerprint, keyCode, nickname string) (out Outcome, err error) {
	start := time.Now()
	code := NormalizeKey(keyCode)
	fingerprint = strings.TrimSpace(fingerprint)
	nickname = ClampNickname(nickname, e.nicknameMax)

	ctx, span := tracer().Start(ctx, "license.Activate", trace.WithAttributes(
		attribute.String("license.backend", b.Name()),
		attribute.String("license.key", MaskKey(code)),
		attribute.String("license.device", HashFingerprint(fingerprint)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Bool("license.accepted", out.Accepted),
			attribute.String("license.reason", string(out.Reason)),
		)
		endSpan(span, err)
		e.metrics.recordActivation(ctx, out, b.Name(), err, time.Since(start))
	}()

	if code == "" || fingerprint == "" || nickname == "" {
		return Outcome{Reason: domain.ReasonValidation}, ErrInvalidInput
	}

	attrs := []slog.Attr{
		slog.String("key", MaskKey(code)),
		slog.String("device", HashFingerprint(fingerprint)),
		slog.String("backend", b.Name()),
	}

	unlock, err := e.locker.Lock(ctx, KeyLockName(code), DeviceLockName(fingerprint))
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire activation locks: %w", err)
	}
	defer unlock()

	key, err := b.Keys().GetKey(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return e.reject(ctx, domain.ReasonInvalidKey, "", attrs), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load key: %w", err)
	}
	if !key.Active {
		return e.reject(ctx, domain.ReasonKeyExhausted, key.Role, attrs), nil
	}

	grant, err := b.Devices().GetGrant(ctx, fingerprint)
	switch {
	case err == nil && grant.Active:
		return e.reject(ctx, domain.ReasonDeviceAlreadyActivated, key.Role, attrs), nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Outcome{}, fmt.Errorf("load grant: %w", err)
	}

	if !key.Role.Unlimited() && key.BoundToOther(fingerprint) {
		return e.reject(ctx, domain.ReasonKeyAlreadyUsed, key.Role, attrs), nil
	}

	// The decision is made; the writes finish even if the caller goes away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.writeTimeout)
	defer cancel()

	now := e.now()
	next := key.Clone()
	next.Consume(fingerprint, now)
	if err := b.Keys().SwapKey(wctx, next, key.UsesRemaining); err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			return e.reject(ctx, domain.ReasonKeyExhausted, key.Role, attrs), nil
		}
		return Outcome{}, fmt.Errorf("consume key: %w", err)
	}

	created := &domain.DeviceGrant{
		Fingerprint: fingerprint,
		Nickname:    nickname,
		Role:        key.Role,
		KeyCode:     code,
		Active:      true,
		ActivatedAt: now,
		LastSeenAt:  now,
	}
	if err := b.Devices().CreateGrant(wctx, created); err != nil {
		e.logAction(ctx, slog.LevelWarn, "activate", "use_consumed_without_grant",
			append(attrs, slog.String("error", err.Error()))...)
		if errors.Is(err, storage.ErrConflict) {
			return e.reject(ctx, domain.ReasonDeviceAlreadyActivated, key.Role, attrs), nil
		}
		return Outcome{}, fmt.Errorf("create grant: %w", err)
	}

	e.logAction(ctx, slog.LevelInfo, "activate", "accepted",
		append(attrs,
			slog.String("role", string(key.Role)),
			slog.Int64("uses_remaining", next.UsesRemaining),
		)...)
	return Outcome{Accepted: true, Role: key.Role}, nil
}

func (e *Engine) reject(ctx context.Context, reason domain.Reason, role domain.Role, attrs []slog.Attr) Outcome {
	e.logAction(ctx, slog.LevelInfo, "activate", "rejected",
		append(attrs, slog.String("reason", string(reason)))...)
	return Outcome{Reason: reason, Role: role}
}

// Validate checks the grant of fingerprint on backend b and refreshes its
// usage telemetry when it is active.
func (e *Engine) Validate(ctx context.Context, b storage.Backend, fingerprint string) (res Result, err error) {
	fingerprint = strings.TrimSpace(fingerprint)

	ctx, span := tracer().Start(ctx, "license.Validate", trace.WithAttributes(
		attribute.String("license.backend", b.Name()),
		attribute.String("license.device", HashFingerprint(fingerprint)),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("license.valid", res.Valid))
		endSpan(span, err)
		if err == nil {
			e.metrics.recordValidation(ctx, res, b.Name())
		}
	}()

	if fingerprint == "" {
		return Result{}, ErrInvalidInput
	}

	unlock, err := e.locker.Lock(ctx, DeviceLockName(fingerprint))
	if err != nil {
		return Result{}, fmt.Errorf("acquire device lock: %w", err)
	}
	defer unlock()

	grant, err := b.Devices().GetGrant(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load grant: %w", err)
	}
	if !grant.Active {
		return Result{}, nil
	}

	grant.Touch(e.now())
	if err := b.Devices().PutGrant(ctx, grant); err != nil {
		return Result{}, fmt.Errorf("refresh grant: %w", err)
	}

	e.logAction(ctx, slog.LevelDebug, "validate", "valid",
		slog.String("device", HashFingerprint(fingerprint)),
		slog.String("role", string(grant.Role)),
		slog.Int64("usage_count", grant.UsageCount),
	)
	return Result{Valid: true, Role: grant.Role, Nickname: grant.Nickname}, nil
}

// Check reports the grant of fingerprint on backend b without touching its
// usage telemetry. It gates reads that follow a Validate in the same session.
func (e *Engine) Check(ctx context.Context, b storage.Backend, fingerprint string) (res Result, err error) {
	fingerprint = strings.TrimSpace(fingerprint)

	ctx, span := tracer().Start(ctx, "license.Check", trace.WithAttributes(
		attribute.String("license.backend", b.Name()),
		attribute.String("license.device", HashFingerprint(fingerprint)),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("license.valid", res.Valid))
		endSpan(span, err)
	}()

	if fingerprint == "" {
		return Result{}, ErrInvalidInput
	}

	grant, err := b.Devices().GetGrant(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load grant: %w", err)
	}
	if !grant.Active {
		return Result{}, nil
	}
	return Result{Valid: true, Role: grant.Role, Nickname: grant.Nickname}, nil
}
