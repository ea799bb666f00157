// Package domain contains the core domain models for the Cloud Loader activation backend.
// These types are shared by the storage, license, service and transport layers.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Role is the access tier granted by an activation key.
type Role string

const (
	RolePremium Role = "premium"
	RoleBeta    Role = "beta"
	RoleFriend  Role = "friend"
	RoleCoder   Role = "coder"
	RoleTrial   Role = "trial"
)

// UnlimitedUses is the budget given to coder keys.
const UnlimitedUses int64 = math.MaxInt32

// Roles lists every role in display order.
var Roles = []Role{RolePremium, RoleBeta, RoleFriend, RoleCoder, RoleTrial}

// ParseRole converts a case-insensitive role name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePremium, RoleBeta, RoleFriend, RoleCoder, RoleTrial:
		return true
	}
	return false
}

// Unlimited reports whether keys of this role may be consumed without limit.
func (r Role) Unlimited() bool {
	return r == RoleCoder
}

// InitialUses returns the budget a freshly provisioned key of this role starts with.
func (r Role) InitialUses() int64 {
	if r.Unlimited() {
		return UnlimitedUses
	}
	return 1
}

// ActivationKey is a provisioned key that can be consumed by devices.
type ActivationKey struct {
	Code          string     `json:"code"`
	Role          Role       `json:"role"`
	UsesRemaining int64      `json:"uses_remaining"`
	Active        bool       `json:"active"`
	BoundDevice   string     `json:"bound_device,omitempty"`
	BoundAt       *time.Time `json:"bound_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewActivationKey returns a fresh key with the budget of its role.
func NewActivationKey(code string, role Role, now time.Time) *ActivationKey {
	return &ActivationKey{
		Code:          code,
		Role:          role,
		UsesRemaining: role.InitialUses(),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Consume spends one use on behalf of fingerprint.
// The binding is recorded on every consumption so the last consumer is known.
func (k *ActivationKey) Consume(fingerprint string, now time.Time) {
	if k.UsesRemaining > 0 {
		k.UsesRemaining--
	}
	k.Active = k.UsesRemaining > 0
	k.BoundDevice = fingerprint
	bound := now
	k.BoundAt = &bound
	k.UpdatedAt = now
}

// Reset restores the full budget and clears the binding.
func (k *ActivationKey) Reset(now time.Time) {
	k.UsesRemaining = k.Role.InitialUses()
	k.Active = true
	k.BoundDevice = ""
	k.BoundAt = nil
	k.UpdatedAt = now
}

// BoundToOther reports whether the key records a consumer other than fingerprint.
func (k *ActivationKey) BoundToOther(fingerprint string) bool {
	return k.BoundDevice != "" && k.BoundDevice != fingerprint
}

// Clone returns a deep copy of k.
func (k *ActivationKey) Clone() *ActivationKey {
	c := *k
	if k.BoundAt != nil {
		t := *k.BoundAt
		c.BoundAt = &t
	}
	return &c
}

// DeviceGrant is the role a device received by consuming a key.
type DeviceGrant struct {
	Fingerprint string    `json:"fingerprint"`
	Nickname    string    `json:"nickname"`
	Role        Role      `json:"role"`
	KeyCode     string    `json:"key_code"`
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	UsageCount  int64     `json:"usage_count"`
}

// Touch records a successful validation. LastSeenAt never moves backwards.
func (g *DeviceGrant) Touch(now time.Time) {
	g.UsageCount++
	if now.After(g.LastSeenAt) {
		g.LastSeenAt = now
	}
}

// Clone returns a copy of g.
func (g *DeviceGrant) Clone() *DeviceGrant {
	c := *g
	return &c
}

// Reason explains why an activation was rejected.
type Reason string

const (
	ReasonValidation             Reason = "VALIDATION_ERROR"
	ReasonInvalidKey             Reason = "INVALID_KEY"
	ReasonKeyExhausted           Reason = "KEY_EXHAUSTED"
	ReasonDeviceAlreadyActivated Reason = "DEVICE_ALREADY_ACTIVATED"
	ReasonKeyAlreadyUsed         Reason = "KEY_ALREADY_USED"
)

// RoleStats summarizes the keys of one role.
type RoleStats struct {
	Role   Role `json:"role"`
	Total  int  `json:"total"`
	Active int  `json:"active"`
	Used   int  `json:"used"`
}

// KeyInventory groups keys by role for administrative listings.
type KeyInventory struct {
	Backend string                    `json:"backend"`
	Total   int                       `json:"total"`
	Active  int                       `json:"active"`
	Used    int                       `json:"used"`
	Stats   []RoleStats               `json:"stats"`
	Keys    map[Role][]*ActivationKey `json:"keys"`
}

// NewKeyInventory builds an inventory from a flat key list.
func NewKeyInventory(backend string, keys []*ActivationKey) *KeyInventory {
	inv := &KeyInventory{
		Backend: backend,
		Keys:    make(map[Role][]*ActivationKey, len(Roles)),
	}
	byRole := make(map[Role]*RoleStats, len(Roles))
	for _, r := range Roles {
		byRole[r] = &RoleStats{Role: r}
		inv.Keys[r] = []*ActivationKey{}
	}
	for _, k := range keys {
		s, ok := byRole[k.Role]
		if !ok {
			continue
		}
		s.Total++
		inv.Total++
		if k.Active {
			s.Active++
			inv.Active++
		}
		if k.BoundDevice != "" {
			s.Used++
			inv.Used++
		}
		inv.Keys[k.Role] = append(inv.Keys[k.Role], k)
	}
	for _, r := range Roles {
		inv.Stats = append(inv.Stats, *byRole[r])
	}
	return inv
}

// GrantStats summarizes the device registry.
type GrantStats struct {
	Total  int          `json:"total"`
	Active int          `json:"active"`
	ByRole map[Role]int `json:"by_role"`
}
