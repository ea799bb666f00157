package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudloader/internal/license"
	"cloudloader/internal/storage"
	"cloudloader/pkg/contracts/domain"
)

// Epoch is the fixed start time used by fixture clocks
var Epoch = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at Epoch
func NewClock() *Clock { return &Clock{now: Epoch} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// FixtureKeys returns one fresh key for every role
func FixtureKeys() []*domain.ActivationKey {
	keys := make([]*domain.ActivationKey, 0, len(domain.Roles))
	for _, role := range domain.Roles {
		keys = append(keys, domain.NewActivationKey(license.NormalizeKey(FixtureCode(role)), role, Epoch))
	}
	return keys
}

// FixtureCode is the display form of the code FixtureKeys uses for role
func FixtureCode(role domain.Role) string {
	return strings.ToUpper(string(role)) + "-TEST-0001"
}

// SeededMemory returns a volatile backend holding FixtureKeys
func SeededMemory(t *testing.T) *storage.MemoryBackend {
	t.Helper()
	b := storage.NewMemoryBackend()
	if _, err := storage.Seed(context.Background(), b.Keys(), FixtureKeys()); err != nil {
		t.Fatalf("seed memory backend: %v", err)
	}
	return b
}
