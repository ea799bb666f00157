package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"cloudloader/internal/config"
	"cloudloader/internal/license"
	"cloudloader/internal/storage"
	api "cloudloader/pkg/contracts/api/v1"
	"cloudloader/pkg/contracts/domain"
)

// defaultScript is served when no script file is configured.
const defaultScript = `(function () {
  console.log("cloud loader payload ready");
})();
`

// PayloadService serves the role-gated script to validated devices
type PayloadService interface {
	Script(ctx context.Context, b storage.Backend, fingerprint string) (*api.ScriptResponse, error)
	Reload() error
}

type payloadService struct {
	engine *license.Engine
	path   string
	roles  map[domain.Role]bool
	logger *slog.Logger

	mu      sync.RWMutex
	script  string
	version string
}

// NewPayloadService loads the configured script.
func NewPayloadService(engine *license.Engine, cfg config.PayloadConfig, logger *slog.Logger) (PayloadService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	roles := make(map[domain.Role]bool, len(cfg.Roles))
	for _, name := range cfg.Roles {
		role, err := domain.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("payload roles: %w", err)
		}
		roles[role] = true
	}

	s := &payloadService{
		engine:  engine,
		path:    cfg.ScriptFile,
		roles:   roles,
		version: cfg.Version,
		script:  defaultScript,
		logger:  logger.With(slog.String("service", "payload")),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload reads the script file again.
func (s *payloadService) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read payload script: %w", err)
	}

	s.mu.Lock()
	s.script = string(data)
	s.mu.Unlock()

	s.logger.Info("payload script loaded",
		slog.String("path", s.path),
		slog.Int("bytes", len(data)))
	return nil
}

// Script checks the grant of fingerprint on b and returns the payload for its
// role. Only /api/validate counts as a use; fetching the script does not.
func (s *payloadService) Script(ctx context.Context, b storage.Backend, fingerprint string) (*api.ScriptResponse, error) {
	res, err := s.engine.Check(ctx, b, fingerprint)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, ErrNotActivated
	}
	if !s.roles[res.Role] {
		return nil, ErrRoleNotAllowed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return &api.ScriptResponse{Script: s.script, Version: s.version, Role: res.Role}, nil
}
