package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "premium", want: RolePremium},
		{in: " Coder ", want: RoleCoder},
		{in: "TRIAL", want: RoleTrial},
		{in: "admin", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActivationKeyLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("single use key exhausts on first consumption", func(t *testing.T) {
		k := NewActivationKey("PREMIUM-AAAA", RolePremium, now)
		assert.Equal(t, int64(1), k.UsesRemaining)
		assert.True(t, k.Active)

		k.Consume("F1", now)
		assert.Equal(t, int64(0), k.UsesRemaining)
		assert.False(t, k.Active)
		assert.Equal(t, "F1", k.BoundDevice)
		require.NotNil(t, k.BoundAt)
		assert.True(t, k.BoundToOther("F2"))
		assert.False(t, k.BoundToOther("F1"))
	})

	t.Run("coder key stays active", func(t *testing.T) {
		k := NewActivationKey("CODER-0001", RoleCoder, now)
		k.Consume("F1", now)
		k.Consume("F2", now)
		assert.True(t, k.Active)
		assert.Equal(t, UnlimitedUses-2, k.UsesRemaining)
	})

	t.Run("reset restores budget and clears binding", func(t *testing.T) {
		k := NewActivationKey("BETA-0001", RoleBeta, now)
		k.Consume("F1", now)
		k.Reset(now.Add(time.Hour))
		assert.True(t, k.Active)
		assert.Equal(t, int64(1), k.UsesRemaining)
		assert.Empty(t, k.BoundDevice)
		assert.Nil(t, k.BoundAt)
	})

	t.Run("clone does not share bound time", func(t *testing.T) {
		k := NewActivationKey("BETA-0002", RoleBeta, now)
		k.Consume("F1", now)
		c := k.Clone()
		*c.BoundAt = now.Add(time.Hour)
		assert.Equal(t, now, *k.BoundAt)
	})
}

func TestNewKeyInventory(t *testing.T) {
	now := time.Now()
	used := NewActivationKey("B", RolePremium, now)
	used.Consume("F1", now)
	keys := []*ActivationKey{
		NewActivationKey("A", RolePremium, now),
		used,
		NewActivationKey("C", RoleCoder, now),
	}

	inv := NewKeyInventory("volatile", keys)

	assert.Equal(t, "volatile", inv.Backend)
	assert.Equal(t, 3, inv.Total)
	assert.Equal(t, 2, inv.Active)
	assert.Equal(t, 1, inv.Used)
	require.Len(t, inv.Stats, len(Roles))
	assert.Equal(t, RoleStats{Role: RolePremium, Total: 2, Active: 1, Used: 1}, inv.Stats[0])
	assert.Len(t, inv.Keys[RoleCoder], 1)
	assert.Empty(t, inv.Keys[RoleTrial])
}
