package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"cloudloader/internal/storage"
	"cloudloader/pkg/contracts"
)

// HealthStatus is the body of /api/health
type HealthStatus struct {
	Status    string    `json:"status"`
	Backend   string    `json:"backend"`
	Driver    string    `json:"driver"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthDetail adds runtime information for operators
type HealthDetail struct {
	HealthStatus
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	Durable    string `json:"durable,omitempty"`
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	selector  *storage.Selector
	startTime time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewHealthService creates a new health service
func NewHealthService(selector *storage.Selector, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   contracts.Version,
		selector:  selector,
		startTime: time.Now(),
		now:       time.Now,
		logger:    logger.With(slog.String("service", "health")),
	}
}

// Health reports the process as healthy along with the backend serving the request.
func (s *HealthService) Health(ctx context.Context, b storage.Backend) *HealthStatus {
	now := s.now()
	return &HealthStatus{
		Status:    "healthy",
		Backend:   b.Name(),
		Driver:    b.Driver(),
		Version:   s.version,
		Uptime:    now.Sub(s.startTime).Seconds(),
		Timestamp: now.UTC(),
	}
}

// Detail extends Health with runtime and durable store information.
func (s *HealthService) Detail(ctx context.Context, b storage.Backend) *HealthDetail {
	d := &HealthDetail{
		HealthStatus: *s.Health(ctx, b),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
	}
	if s.selector != nil && s.selector.Durable() != nil {
		d.Durable = s.selector.Durable().Driver()
	}
	return d
}
