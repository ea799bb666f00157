package storage

import (
	"context"
	"errors"

	"cloudloader/pkg/contracts/domain"
)

var (
	// ErrNotFound is returned when a key or grant does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write lost against a concurrent change.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable is returned when the durable store cannot be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// Backend kinds reported by Name.
const (
	KindDurable  = "durable"
	KindVolatile = "volatile"
)

// KeyStore is the table of activation keys, indexed by canonical code.
type KeyStore interface {
	GetKey(ctx context.Context, code string) (*domain.ActivationKey, error)
	PutKey(ctx context.Context, key *domain.ActivationKey) error
	KeyExists(ctx context.Context, code string) (bool, error)
	ListKeys(ctx context.Context) ([]*domain.ActivationKey, error)

	// InsertKey stores key unless its code is already taken (ErrConflict).
	InsertKey(ctx context.Context, key *domain.ActivationKey) error
	// SwapKey replaces the stored key only while it still has prevUses
	// remaining. Otherwise it returns ErrConflict and writes nothing.
	SwapKey(ctx context.Context, next *domain.ActivationKey, prevUses int64) error
}

// DeviceRegistry is the table of device grants, indexed by fingerprint.
type DeviceRegistry interface {
	GetGrant(ctx context.Context, fingerprint string) (*domain.DeviceGrant, error)
	PutGrant(ctx context.Context, grant *domain.DeviceGrant) error
	GrantExists(ctx context.Context, fingerprint string) (bool, error)
	ListGrants(ctx context.Context) ([]*domain.DeviceGrant, error)

	// CreateGrant stores grant unless an active grant already exists for
	// its fingerprint (ErrConflict). An inactive grant is replaced.
	CreateGrant(ctx context.Context, grant *domain.DeviceGrant) error
}

// Backend bundles the two tables of one storage implementation. Every
// operation of a request goes through the same Backend.
type Backend interface {
	// Name is KindDurable or KindVolatile.
	Name() string
	// Driver names the implementation, e.g. sqlite or redis.
	Driver() string
	Keys() KeyStore
	Devices() DeviceRegistry
}

// Durable is a Backend whose reachability can be probed.
type Durable interface {
	Backend
	Ping(ctx context.Context) error
	// Migrate prepares the schema. It is safe to call repeatedly.
	Migrate(ctx context.Context) error
	Close() error
}

type backendKey struct{}

// WithBackend returns a context carrying the backend selected for a request.
func WithBackend(ctx context.Context, b Backend) context.Context {
	return context.WithValue(ctx, backendKey{}, b)
}

// BackendFrom returns the backend stored by WithBackend.
func BackendFrom(ctx context.Context) (Backend, bool) {
	b, ok := ctx.Value(backendKey{}).(Backend)
	return b, ok && b != nil
}

// GrantStats counts the grants of a registry.
func GrantStats(grants []*domain.DeviceGrant) domain.GrantStats {
	stats := domain.GrantStats{ByRole: make(map[domain.Role]int, len(domain.Roles))}
	for _, g := range grants {
		stats.Total++
		if g.Active {
			stats.Active++
			stats.ByRole[g.Role]++
		}
	}
	return stats
}
