// Package monitor polls the public health endpoint and raises an alert after
// repeated failures.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudloader/internal/config"
	"cloudloader/internal/infrastructure"
)

// HealthReport is the subset of /api/health the monitor reads
type HealthReport struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Version string `json:"version"`
}

// Alert is posted to the webhook on outage and recovery
type Alert struct {
	Kind     string    `json:"kind"`
	Text     string    `json:"text"`
	URL      string    `json:"url"`
	Failures int       `json:"failures"`
	Time     time.Time `json:"time"`
}

const (
	AlertDown      = "down"
	AlertRecovered = "recovered"
)

// Monitor runs periodic health checks
type Monitor struct {
	cfg    config.MonitorConfig
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	failures int
	alerted  bool
}

// New creates a monitor for cfg.URL
func New(cfg config.MonitorConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Monitor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "uptime_monitor")),
		now:    time.Now,
	}
}

// Failures returns the current count of consecutive failed checks
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Check performs one probe and updates the failure streak.
// The returned error describes why the target is considered down.
func (m *Monitor) Check(ctx context.Context) (*HealthReport, error) {
	ctx = infrastructure.WithTraceID(ctx, uuid.NewString())
	report, err := m.fetch(ctx)

	m.mu.Lock()
	var alert *Alert
	if err != nil {
		m.failures++
		failures := m.failures
		if failures >= m.cfg.FailureThreshold && !m.alerted {
			m.alerted = true
			alert = &Alert{
				Kind:     AlertDown,
				Text:     fmt.Sprintf("Server has been down for %d consecutive checks: %v", failures, err),
				URL:      m.cfg.URL,
				Failures: failures,
				Time:     m.now().UTC(),
			}
		}
		m.mu.Unlock()
		m.logger.WarnContext(ctx, "health check failed",
			slog.String("url", m.cfg.URL),
			slog.Int("failures", failures),
			slog.String("error", err.Error()))
	} else {
		recovered := m.alerted
		failures := m.failures
		m.failures = 0
		m.alerted = false
		if recovered {
			alert = &Alert{
				Kind:     AlertRecovered,
				Text:     fmt.Sprintf("Server recovered after %d failed checks", failures),
				URL:      m.cfg.URL,
				Failures: failures,
				Time:     m.now().UTC(),
			}
		}
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "server is healthy",
			slog.String("url", m.cfg.URL),
			slog.String("backend", report.Backend))
	}

	if alert != nil {
		m.raise(ctx, alert)
	}
	return report, err
}

func (m *Monitor) fetch(ctx context.Context) (*HealthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server is down: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned status: %d", resp.StatusCode)
	}

	var report HealthReport
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to parse health report: %w", err)
	}
	if report.Status != "healthy" {
		return nil, fmt.Errorf("server is unhealthy: status %q", report.Status)
	}
	return &report, nil
}

// raise logs the alert and posts it to the webhook if one is configured
func (m *Monitor) raise(ctx context.Context, alert *Alert) {
	level := slog.LevelError
	if alert.Kind == AlertRecovered {
		level = slog.LevelInfo
	}
	m.logger.Log(ctx, level, "uptime alert",
		slog.String("kind", alert.Kind),
		slog.String("text", alert.Text),
		slog.Int("failures", alert.Failures))

	if m.cfg.WebhookURL == "" {
		return
	}
	if err := m.post(ctx, alert); err != nil {
		m.logger.WarnContext(ctx, "alert webhook failed",
			slog.String("kind", alert.Kind),
			slog.String("error", err.Error()))
	}
}

func (m *Monitor) post(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

// Run checks immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "uptime monitor started",
		slog.String("url", m.cfg.URL),
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("failure_threshold", m.cfg.FailureThreshold))

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "uptime monitor stopped")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
