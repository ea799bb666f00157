package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "cloudloader/license"
	MeterName  = "cloudloader/license"
)

// Metrics holds the license instruments.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationOutcomes metric.Int64Counter
	ActivationDuration metric.Float64Histogram
	ValidationAttempts metric.Int64Counter
	ValidationResults  metric.Int64Counter
	BlockedAttempts    metric.Int64Counter
}

// InitializeMetrics creates the license instruments on meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationOutcomes, err = meter.Int64Counter(
		"license_activation_outcomes_total",
		metric.WithDescription("Activation outcomes by result, reason and role"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation outcomes counter: %w", err)
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("Activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationResults, err = meter.Int64Counter(
		"license_validation_results_total",
		metric.WithDescription("Validation results by validity and role"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation results counter: %w", err)
	}

	m.BlockedAttempts, err = meter.Int64Counter(
		"license_blocked_attempts_total",
		metric.WithDescription("Activation attempts refused by the attempt guard"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocked attempts counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordActivation(ctx context.Context, out Outcome, backend string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	m.ActivationAttempts.Add(ctx, 1, attrs)

	result := "rejected"
	switch {
	case err != nil:
		result = "error"
	case out.Accepted:
		result = "accepted"
	}
	m.ActivationOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("reason", string(out.Reason)),
		attribute.String("role", string(out.Role)),
		attribute.String("backend", backend),
	))
	m.ActivationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) recordValidation(ctx context.Context, res Result, backend string) {
	if m == nil {
		return
	}
	m.ValidationAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	m.ValidationResults.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("valid", res.Valid),
		attribute.String("role", string(res.Role)),
	))
}

// RecordBlocked counts a refused attempt.
func (m *Metrics) RecordBlocked(ctx context.Context) {
	if m == nil {
		return
	}
	m.BlockedAttempts.Add(ctx, 1)
}

func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
