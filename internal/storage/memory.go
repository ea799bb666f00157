package storage

import (
	"context"
	"sort"
	"sync"

	"cloudloader/pkg/contracts/domain"
)

// MemoryBackend is the volatile in-process backend. Values are copied on
// the way in and out so callers never share state with the table.
type MemoryBackend struct {
	mu     sync.RWMutex
	keys   map[string]*domain.ActivationKey
	grants map[string]*domain.DeviceGrant
}

// NewMemoryBackend returns an empty volatile backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		keys:   make(map[string]*domain.ActivationKey),
		grants: make(map[string]*domain.DeviceGrant),
	}
}

func (m *MemoryBackend) Name() string { return KindVolatile }
func (m *MemoryBackend) Driver() string { return "memory" }
func (m *MemoryBackend) Keys() KeyStore { return memoryKeys{m} }
func (m *MemoryBackend) Devices() DeviceRegistry { return memoryDevices{m} }

type memoryKeys struct{ m *MemoryBackend }

func (s memoryKeys) GetKey(ctx context.Context, code string) (*domain.ActivationKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	k, ok := s.m.keys[code]
	if !ok {
		return nil, ErrNotFound
	}
	return k.Clone(), nil
}

func (s memoryKeys) PutKey(ctx context.Context, key *domain.ActivationKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	s.m.keys[key.Code] = key.Clone()
	return nil
}

func (s memoryKeys) KeyExists(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	_, ok := s.m.keys[code]
	return ok, nil
}

func (s memoryKeys) ListKeys(ctx context.Context) ([]*domain.ActivationKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	out := make([]*domain.ActivationKey, 0, len(s.m.keys))
	for _, k := range s.m.keys {
		out = append(out, k.Clone())
	}
	s.m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s memoryKeys) InsertKey(ctx context.Context, key *domain.ActivationKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.keys[key.Code]; ok {
		return ErrConflict
	}
	s.m.keys[key.Code] = key.Clone()
	return nil
}

func (s memoryKeys) SwapKey(ctx context.Context, next *domain.ActivationKey, prevUses int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	cur, ok := s.m.keys[next.Code]
	if !ok {
		return ErrNotFound
	}
	if cur.UsesRemaining != prevUses {
		return ErrConflict
	}
	s.m.keys[next.Code] = next.Clone()
	return nil
}

type memoryDevices struct{ m *MemoryBackend }

func (s memoryDevices) GetGrant(ctx context.Context, fingerprint string) (*domain.DeviceGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	g, ok := s.m.grants[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (s memoryDevices) PutGrant(ctx context.Context, grant *domain.DeviceGrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	s.m.grants[grant.Fingerprint] = grant.Clone()
	return nil
}

func (s memoryDevices) GrantExists(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	_, ok := s.m.grants[fingerprint]
	return ok, nil
}

func (s memoryDevices) ListGrants(ctx context.Context) ([]*domain.DeviceGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.m.mu.RLock()
	out := make([]*domain.DeviceGrant, 0, len(s.m.grants))
	for _, g := range s.m.grants {
		out = append(out, g.Clone())
	}
	s.m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.Before(out[j].ActivatedAt) })
	return out, nil
}

func (s memoryDevices) CreateGrant(ctx context.Context, grant *domain.DeviceGrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if cur, ok := s.m.grants[grant.Fingerprint]; ok && cur.Active {
		return ErrConflict
	}
	s.m.grants[grant.Fingerprint] = grant.Clone()
	return nil
}
