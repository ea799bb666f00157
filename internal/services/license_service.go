package services

import (
	"context"
	"log/slog"

	"cloudloader/internal/license"
	"cloudloader/internal/storage"
	api "cloudloader/pkg/contracts/api/v1"
	"cloudloader/pkg/contracts/domain"
)

// LicenseService runs the client activation protocol
type LicenseService interface {
	Activate(ctx context.Context, b storage.Backend, req api.ActivateRequest, clientID string) (*api.ActivateResponse, error)
	Validate(ctx context.Context, b storage.Backend, fingerprint string) (*api.ValidateResponse, error)
}

type licenseService struct {
	engine  *license.Engine
	guard   *license.AttemptGuard
	metrics *license.Metrics
	logger  *slog.Logger
}

// NewLicenseService creates the activation service. guard and metrics may be nil.
func NewLicenseService(engine *license.Engine, guard *license.AttemptGuard, metrics *license.Metrics, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		engine:  engine,
		guard:   guard,
		metrics: metrics,
		logger:  logger.With(slog.String("service", "license")),
	}
}

var reasonMessages = map[domain.Reason]string{
	domain.ReasonInvalidKey:             "This key does not exist",
	domain.ReasonKeyExhausted:           "This key has already been used",
	domain.ReasonDeviceAlreadyActivated: "This device is already activated",
	domain.ReasonKeyAlreadyUsed:         "This key is bound to another device",
}

// Activate applies the activation rules on b for the client identified by clientID.
func (s *licenseService) Activate(ctx context.Context, b storage.Backend, req api.ActivateRequest, clientID string) (*api.ActivateResponse, error) {
	if left := s.guard.BlockedFor(clientID); left > 0 {
		s.metrics.RecordBlocked(ctx)
		s.logger.WarnContext(ctx, "activation refused for blocked client",
			slog.String("client", clientID),
			slog.Duration("retry_after", left))
		return nil, &BlockedError{RetryAfter: left}
	}

	out, err := s.engine.Activate(ctx, b, req.HWID, req.Key, req.Nickname)
	if err != nil {
		return nil, err
	}

	switch {
	case out.Accepted:
		s.guard.Record(ctx, clientID, true)
		return &api.ActivateResponse{
			Accepted: true,
			Success:  true,
			Role:     out.Role,
			Message:  "Activation successful",
		}, nil
	case out.Reason == domain.ReasonInvalidKey:
		s.guard.Record(ctx, clientID, false)
	}

	return &api.ActivateResponse{
		Reason:  out.Reason,
		Message: reasonMessages[out.Reason],
	}, nil
}

// Validate reports the grant of fingerprint on b.
func (s *licenseService) Validate(ctx context.Context, b storage.Backend, fingerprint string) (*api.ValidateResponse, error) {
	res, err := s.engine.Validate(ctx, b, fingerprint)
	if err != nil {
		return nil, err
	}
	return &api.ValidateResponse{
		Valid:    res.Valid,
		Role:     res.Role,
		Nickname: res.Nickname,
	}, nil
}
