package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudloader/internal/license"
	"cloudloader/internal/storage"
	api "cloudloader/pkg/contracts/api/v1"
	"cloudloader/pkg/contracts/domain"
)

// MaxGenerateCount bounds a single generate request.
const MaxGenerateCount = 500

// generateRetries bounds attempts at finding a free code.
const generateRetries = 8

// AdminService implements the operator surface over the key and device tables
type AdminService interface {
	ListKeys(ctx context.Context, b storage.Backend) (*domain.KeyInventory, error)
	GenerateKeys(ctx context.Context, b storage.Backend, role string, count int) (*api.GenerateKeysResponse, error)
	ResetKey(ctx context.Context, b storage.Backend, code string) (*api.KeyResponse, error)
	ListDevices(ctx context.Context, b storage.Backend) (*api.DeviceListResponse, error)
	SetDeviceActive(ctx context.Context, b storage.Backend, fingerprint string, active bool) (*api.DeviceResponse, error)
	Stats(ctx context.Context, b storage.Backend) (*api.StatsResponse, error)
}

type adminService struct {
	locker   *license.Locker
	now      func() time.Time
	generate func() (string, error)
	logger   *slog.Logger
}

// NewAdminService creates the operator service. locker is shared with the
// license engine so resets and toggles serialize with activations.
func NewAdminService(locker *license.Locker, logger *slog.Logger) AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = license.NewLocker()
	}
	return &adminService{
		locker:   locker,
		now:      time.Now,
		generate: license.GenerateCode,
		logger:   logger.With(slog.String("service", "admin")),
	}
}

func (s *adminService) ListKeys(ctx context.Context, b storage.Backend) (*domain.KeyInventory, error) {
	keys, err := b.Keys().ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return domain.NewKeyInventory(b.Name(), keys), nil
}

func (s *adminService) GenerateKeys(ctx context.Context, b storage.Backend, roleName string, count int) (*api.GenerateKeysResponse, error) {
	role, err := domain.ParseRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, roleName)
	}
	if count < 1 || count > MaxGenerateCount {
		return nil, ErrInvalidCount
	}

	resp := &api.GenerateKeysResponse{Role: role, Codes: make([]string, 0, count), Backend: b.Name()}
	for i := 0; i < count; i++ {
		code, err := s.insertFresh(ctx, b, role)
		if err != nil {
			return nil, err
		}
		resp.Codes = append(resp.Codes, code)
	}

	s.logger.InfoContext(ctx, "keys generated",
		slog.String("role", string(role)),
		slog.Int("count", count),
		slog.String("backend", b.Name()))
	return resp, nil
}

func (s *adminService) insertFresh(ctx context.Context, b storage.Backend, role domain.Role) (string, error) {
	for attempt := 0; attempt < generateRetries; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", err
		}
		key := domain.NewActivationKey(license.NormalizeKey(code), role, s.now())
		err = b.Keys().InsertKey(ctx, key)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return "", fmt.Errorf("insert key: %w", err)
		}
	}
	return "", fmt.Errorf("no free key code after %d attempts", generateRetries)
}

func (s *adminService) ResetKey(ctx context.Context, b storage.Backend, code string) (*api.KeyResponse, error) {
	code = license.NormalizeKey(code)
	unlock, err := s.locker.Lock(ctx, license.KeyLockName(code))
	if err != nil {
		return nil, err
	}
	defer unlock()

	key, err := b.Keys().GetKey(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}

	key.Reset(s.now())
	if err := b.Keys().PutKey(ctx, key); err != nil {
		return nil, fmt.Errorf("reset key: %w", err)
	}

	s.logger.InfoContext(ctx, "key reset",
		slog.String("key", license.MaskKey(code)),
		slog.String("role", string(key.Role)),
		slog.String("backend", b.Name()))
	return &api.KeyResponse{Key: key, Backend: b.Name()}, nil
}

func (s *adminService) ListDevices(ctx context.Context, b storage.Backend) (*api.DeviceListResponse, error) {
	grants, err := b.Devices().ListGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return &api.DeviceListResponse{
		Backend: b.Name(),
		Devices: grants,
		Stats:   storage.GrantStats(grants),
	}, nil
}

func (s *adminService) SetDeviceActive(ctx context.Context, b storage.Backend, fingerprint string, active bool) (*api.DeviceResponse, error) {
	unlock, err := s.locker.Lock(ctx, license.DeviceLockName(fingerprint))
	if err != nil {
		return nil, err
	}
	defer unlock()

	grant, err := b.Devices().GetGrant(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	if grant.Active != active {
		grant.Active = active
		if err := b.Devices().PutGrant(ctx, grant); err != nil {
			return nil, fmt.Errorf("update device: %w", err)
		}
		s.logger.InfoContext(ctx, "device state changed",
			slog.String("device", license.HashFingerprint(fingerprint)),
			slog.Bool("active", active),
			slog.String("backend", b.Name()))
	}
	return &api.DeviceResponse{Device: grant, Backend: b.Name()}, nil
}

func (s *adminService) Stats(ctx context.Context, b storage.Backend) (*api.StatsResponse, error) {
	inv, err := s.ListKeys(ctx, b)
	if err != nil {
		return nil, err
	}
	grants, err := b.Devices().ListGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return &api.StatsResponse{
		Backend: b.Name(),
		Keys:    inv.Stats,
		Devices: storage.GrantStats(grants),
	}, nil
}
