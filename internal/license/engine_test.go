package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudloader/internal/storage"
	"cloudloader/pkg/contracts/domain"
)

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(WithClock(func() time.Time { return fixedNow }))
}

func seedKey(t *testing.T, b storage.Backend, code string, role domain.Role) {
	t.Helper()
	require.NoError(t, b.Keys().PutKey(context.Background(), domain.NewActivationKey(NormalizeKey(code), role, fixedNow)))
}

func testBackends(t *testing.T) map[string]storage.Backend {
	t.Helper()
	sqlite, err := storage.NewSQLiteBackend("")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]storage.Backend{
		"volatile": storage.NewMemoryBackend(),
		"durable":  sqlite,
	}
}

func assertKeyInvariant(t *testing.T, b storage.Backend) {
	t.Helper()
	keys, err := b.Keys().ListKeys(context.Background())
	require.NoError(t, err)
	for _, k := range keys {
		assert.Equal(t, k.UsesRemaining > 0, k.Active, "key %s", k.Code)
	}
}

func TestActivate_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, b storage.Backend)
		fingerprint string
		key         string
		nickname    string
		wantReason  domain.Reason
		wantErr     error
	}{
		{
			name:        "missing fingerprint",
			fingerprint: "  ",
			key:         "AAAA",
			nickname:    "bob",
			wantReason:  domain.ReasonValidation,
			wantErr:     ErrInvalidInput,
		},
		{
			name:        "missing nickname",
			fingerprint: "F1",
			key:         "AAAA",
			nickname:    "",
			wantReason:  domain.ReasonValidation,
			wantErr:     ErrInvalidInput,
		},
		{
			name:        "unknown key",
			fingerprint: "F1",
			key:         "NOPE-0000",
			nickname:    "bob",
			wantReason:  domain.ReasonInvalidKey,
		},
		{
			name: "exhausted key",
			setup: func(t *testing.T, b storage.Backend) {
				k := domain.NewActivationKey("USED0001", domain.RoleBeta, fixedNow)
				k.Consume("F0", fixedNow)
				require.NoError(t, b.Keys().PutKey(context.Background(), k))
			},
			fingerprint: "F1",
			key:         "used-0001",
			nickname:    "bob",
			wantReason:  domain.ReasonKeyExhausted,
		},
		{
			name: "device already activated",
			setup: func(t *testing.T, b storage.Backend) {
				seedKey(t, b, "KEY-A", domain.RoleTrial)
				seedKey(t, b, "KEY-B", domain.RoleTrial)
				out, err := newTestEngine().Activate(context.Background(), b, "F1", "KEY-A", "bob")
				require.NoError(t, err)
				require.True(t, out.Accepted)
			},
			fingerprint: "F1",
			key:         "KEY-B",
			nickname:    "bob",
			wantReason:  domain.ReasonDeviceAlreadyActivated,
		},
		{
			name: "key bound to another device",
			setup: func(t *testing.T, b storage.Backend) {
				k := domain.NewActivationKey("BOUND001", domain.RolePremium, fixedNow)
				k.BoundDevice = "F0"
				require.NoError(t, b.Keys().PutKey(context.Background(), k))
			},
			fingerprint: "F1",
			key:         "BOUND-001",
			nickname:    "bob",
			wantReason:  domain.ReasonKeyAlreadyUsed,
		},
	}

	for _, tt := range tests {
		for name, b := range testBackends(t) {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				if tt.setup != nil {
					tt.setup(t, b)
				}
				before, err := b.Devices().ListGrants(context.Background())
				require.NoError(t, err)

				out, err := newTestEngine().Activate(context.Background(), b, tt.fingerprint, tt.key, tt.nickname)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					require.NoError(t, err)
				}
				assert.False(t, out.Accepted)
				assert.Equal(t, tt.wantReason, out.Reason)

				after, err := b.Devices().ListGrants(context.Background())
				require.NoError(t, err)
				assert.Equal(t, before, after, "rejections never write grants")
				assertKeyInvariant(t, b)
			})
		}
	}
}

func TestActivate_EndToEnd(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := newTestEngine()
			seedKey(t, b, "PREMIUM-AAAA", domain.RolePremium)

			out, err := e.Activate(ctx, b, "F1", "premium-aaaa", "bob")
			require.NoError(t, err)
			assert.Equal(t, Outcome{Accepted: true, Role: domain.RolePremium}, out)

			key, err := b.Keys().GetKey(ctx, "PREMIUMAAAA")
			require.NoError(t, err)
			assert.False(t, key.Active)
			assert.Equal(t, int64(0), key.UsesRemaining)
			assert.Equal(t, "F1", key.BoundDevice)

			out, err = e.Activate(ctx, b, "F2", "PREMIUM-AAAA", "eve")
			require.NoError(t, err)
			assert.False(t, out.Accepted)
			assert.Equal(t, domain.ReasonKeyExhausted, out.Reason)

			res, err := e.Validate(ctx, b, "F1")
			require.NoError(t, err)
			assert.Equal(t, Result{Valid: true, Role: domain.RolePremium, Nickname: "bob"}, res)
		})
	}
}

func TestActivate_GeneratedKeyAnyForm(t *testing.T) {
	tests := []struct {
		name string
		form func(code string) string
	}{
		{"dashless", func(code string) string { return strings.ReplaceAll(code, "-", "") }},
		{"dashed", func(code string) string { return code }},
		{"lower case", func(code string) string { return strings.ToLower(code) }},
		{"spaced", func(code string) string { return " " + strings.ReplaceAll(code, "-", " ") + " " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b := storage.NewMemoryBackend()
			code, err := GenerateCode()
			require.NoError(t, err)
			seedKey(t, b, code, domain.RolePremium)

			out, err := newTestEngine().Activate(ctx, b, "F1", tt.form(code), "bob")
			require.NoError(t, err)
			assert.Equal(t, Outcome{Accepted: true, Role: domain.RolePremium}, out)

			grant, err := b.Devices().GetGrant(ctx, "F1")
			require.NoError(t, err)
			assert.Equal(t, NormalizeKey(code), grant.KeyCode)
		})
	}
}

func TestActivate_CoderKeyUnlimited(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemoryBackend()
	e := newTestEngine()
	seedKey(t, b, "CODER-0001", domain.RoleCoder)

	for _, fp := range []string{"F1", "F2", "F3"} {
		out, err := e.Activate(ctx, b, fp, "CODER-0001", "dev")
		require.NoError(t, err)
		assert.True(t, out.Accepted, fp)
		assert.Equal(t, domain.RoleCoder, out.Role)
	}

	key, err := b.Keys().GetKey(ctx, "CODER0001")
	require.NoError(t, err)
	assert.True(t, key.Active)
	assert.Equal(t, domain.UnlimitedUses-3, key.UsesRemaining)
}

func TestActivate_ResetKeepsGrants(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemoryBackend()
	e := newTestEngine()
	seedKey(t, b, "FRIEND-001", domain.RoleFriend)

	out, err := e.Activate(ctx, b, "F1", "FRIEND-001", "a")
	require.NoError(t, err)
	require.True(t, out.Accepted)

	key, err := b.Keys().GetKey(ctx, "FRIEND001")
	require.NoError(t, err)
	key.Reset(fixedNow)
	require.NoError(t, b.Keys().PutKey(ctx, key))

	out, err = e.Activate(ctx, b, "F3", "FRIEND-001", "c")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Accepted: true, Role: domain.RoleFriend}, out)

	grant, err := b.Devices().GetGrant(ctx, "F3")
	require.NoError(t, err)
	assert.Equal(t, "FRIEND001", grant.KeyCode)
	assert.Equal(t, "c", grant.Nickname)
	assert.True(t, grant.Active)

	res, err := e.Validate(ctx, b, "F1")
	require.NoError(t, err)
	assert.True(t, res.Valid, "earlier grant survives the reset")
}

func TestActivate_NicknameClamped(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemoryBackend()
	seedKey(t, b, "NICK-0001", domain.RoleTrial)

	out, err := newTestEngine().Activate(ctx, b, "F1", "NICK-0001", "  abcdefghijk ")
	require.NoError(t, err)
	require.True(t, out.Accepted)

	grant, err := b.Devices().GetGrant(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", grant.Nickname)
}

func TestActivate_ConcurrentSameKey(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			seedKey(t, b, "RACE-0001", domain.RolePremium)
			e := newTestEngine()

			outcomes := runConcurrently(t, 10, func(i int) (Outcome, error) {
				return e.Activate(context.Background(), b, fmt.Sprintf("F%d", i), "RACE-0001", "n")
			})

			accepted := 0
			for _, out := range outcomes {
				if out.Accepted {
					accepted++
					continue
				}
				assert.Contains(t, []domain.Reason{domain.ReasonKeyExhausted, domain.ReasonKeyAlreadyUsed}, out.Reason)
			}
			assert.Equal(t, 1, accepted)
			assertKeyInvariant(t, b)
		})
	}
}

func TestActivate_ConcurrentSameDevice(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				seedKey(t, b, fmt.Sprintf("DEV-%04d", i), domain.RoleBeta)
			}
			e := newTestEngine()

			outcomes := runConcurrently(t, 10, func(i int) (Outcome, error) {
				return e.Activate(context.Background(), b, "SHARED", fmt.Sprintf("DEV-%04d", i), "n")
			})

			accepted := 0
			for _, out := range outcomes {
				if out.Accepted {
					accepted++
					continue
				}
				assert.Equal(t, domain.ReasonDeviceAlreadyActivated, out.Reason)
			}
			assert.Equal(t, 1, accepted)

			grants, err := b.Devices().ListGrants(context.Background())
			require.NoError(t, err)
			assert.Len(t, grants, 1)
		})
	}
}

func TestActivate_SeparateEnginesShareStore(t *testing.T) {
	b := storage.NewMemoryBackend()
	seedKey(t, b, "MULTI-0001", domain.RoleTrial)

	engines := []*Engine{newTestEngine(), newTestEngine()}
	outcomes := runConcurrently(t, 2, func(i int) (Outcome, error) {
		return engines[i].Activate(context.Background(), b, fmt.Sprintf("F%d", i), "MULTI-0001", "n")
	})

	accepted := 0
	for _, out := range outcomes {
		if out.Accepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "store-level swap keeps one winner without a shared lock")
}

func TestActivate_CancelledWhileWaiting(t *testing.T) {
	b := storage.NewMemoryBackend()
	seedKey(t, b, "WAIT-0001", domain.RoleTrial)
	e := newTestEngine()

	unlock, err := e.Locker().Lock(context.Background(), KeyLockName("WAIT0001"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = e.Activate(ctx, b, "F1", "WAIT-0001", "n")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	key, err := b.Keys().GetKey(context.Background(), "WAIT0001")
	require.NoError(t, err)
	assert.True(t, key.Active, "no mutation on timeout")
}

type failingKeys struct {
	storage.KeyStore
	swapErr error
}

func (f failingKeys) SwapKey(context.Context, *domain.ActivationKey, int64) error { return f.swapErr }

type failingBackend struct {
	*storage.MemoryBackend
	keys storage.KeyStore
}

func (f failingBackend) Keys() storage.KeyStore { return f.keys }

func TestActivate_StoreFaultIsError(t *testing.T) {
	mem := storage.NewMemoryBackend()
	seedKey(t, mem, "FAULT-001", domain.RoleTrial)
	b := failingBackend{MemoryBackend: mem, keys: failingKeys{KeyStore: mem.Keys(), swapErr: errors.New("disk full")}}

	out, err := newTestEngine().Activate(context.Background(), b, "F1", "FAULT-001", "n")
	require.Error(t, err)
	assert.False(t, out.Accepted)

	exists, err := mem.Devices().GrantExists(context.Background(), "F1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemoryBackend()
	clock := fixedNow
	e := NewEngine(WithClock(func() time.Time { return clock }))

	res, err := e.Validate(ctx, b, "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	exists, err := b.Devices().GrantExists(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, exists, "validation never creates grants")

	_, err = e.Validate(ctx, b, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	seedKey(t, b, "VAL-0001", domain.RoleBeta)
	out, err := e.Activate(ctx, b, "F1", "VAL-0001", "bob")
	require.NoError(t, err)
	require.True(t, out.Accepted)

	clock = fixedNow.Add(time.Hour)
	res, err = e.Validate(ctx, b, "F1")
	require.NoError(t, err)
	assert.Equal(t, Result{Valid: true, Role: domain.RoleBeta, Nickname: "bob"}, res)

	grant, err := b.Devices().GetGrant(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), grant.UsageCount)
	assert.True(t, grant.LastSeenAt.Equal(clock))

	grant.Active = false
	require.NoError(t, b.Devices().PutGrant(ctx, grant))
	res, err = e.Validate(ctx, b, "F1")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	after, err := b.Devices().GetGrant(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.UsageCount, "inactive grants are not touched")
}

func TestCheck_ReadOnly(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemoryBackend()
	e := newTestEngine()

	res, err := e.Check(ctx, b, "F1")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	_, err = e.Check(ctx, b, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	seedKey(t, b, "CHECK-001", domain.RoleFriend)
	out, err := e.Activate(ctx, b, "F1", "CHECK-001", "ann")
	require.NoError(t, err)
	require.True(t, out.Accepted)

	for i := 0; i < 3; i++ {
		res, err = e.Check(ctx, b, "F1")
		require.NoError(t, err)
		assert.Equal(t, Result{Valid: true, Role: domain.RoleFriend, Nickname: "ann"}, res)
	}

	grant, err := b.Devices().GetGrant(ctx, "F1")
	require.NoError(t, err)
	assert.Zero(t, grant.UsageCount)
	assert.True(t, grant.LastSeenAt.Equal(grant.ActivatedAt))

	grant.Active = false
	require.NoError(t, b.Devices().PutGrant(ctx, grant))
	res, err = e.Check(ctx, b, "F1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidate_ConcurrentUsageCount(t *testing.T) {
	ctx := context.Background()
	b := storage.NewMemoryBackend()
	e := newTestEngine()
	seedKey(t, b, "COUNT-001", domain.RoleTrial)
	_, err := e.Activate(ctx, b, "F1", "COUNT-001", "n")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Validate(ctx, b, "F1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	grant, err := b.Devices().GetGrant(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), grant.UsageCount)
}

func runConcurrently(t *testing.T, n int, fn func(i int) (Outcome, error)) []Outcome {
	t.Helper()
	outcomes := make([]Outcome, n)
	errs := make([]error, n)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i], errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	return outcomes
}
