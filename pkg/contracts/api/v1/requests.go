// Package api contains API contract definitions for the Cloud Loader activation protocol.
// Version v1 represents the current stable API version.
package api

import (
	"time"

	"cloudloader/pkg/contracts/domain"
)

// FingerprintHeader carries the device fingerprint on client requests.
const FingerprintHeader = "X-HWID"

// ActivateRequest is the body of POST /api/activate.
// The fingerprint normally arrives in the X-HWID header; HWID is the body fallback.
type ActivateRequest struct {
	Nickname string `json:"nickname" validate:"required"`
	Key      string `json:"key" validate:"required"`
	HWID     string `json:"hwid,omitempty" validate:"required"`
}

// ActivateResponse reports the activation outcome.
type ActivateResponse struct {
	Accepted bool          `json:"accepted"`
	Success  bool          `json:"success"`
	Role     domain.Role   `json:"role,omitempty"`
	Reason   domain.Reason `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// ValidateRequest is the body of POST /api/validate.
type ValidateRequest struct {
	HWID string `json:"hwid,omitempty" validate:"required"`
}

// ValidateResponse reports whether a device holds an active grant.
type ValidateResponse struct {
	Valid    bool        `json:"valid"`
	Role     domain.Role `json:"role,omitempty"`
	Nickname string      `json:"nickname,omitempty"`
}

// ScriptResponse is the role-gated payload served to validated devices.
type ScriptResponse struct {
	Script  string      `json:"script"`
	Version string      `json:"version"`
	Role    domain.Role `json:"role"`
}

// LoginRequest exchanges the operator password for a session token.
type LoginRequest struct {
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the operator session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateKeysRequest asks for count new keys of role.
type GenerateKeysRequest struct {
	Role  string `json:"role" validate:"required,role"`
	Count int    `json:"count" validate:"required,min=1,max=500"`
}

// GenerateKeysResponse lists freshly generated key codes.
type GenerateKeysResponse struct {
	Role    domain.Role `json:"role"`
	Codes   []string    `json:"codes"`
	Backend string      `json:"backend"`
}

// KeyResponse wraps a single key.
type KeyResponse struct {
	Key     *domain.ActivationKey `json:"key"`
	Backend string                `json:"backend"`
}

// DeviceListResponse lists device grants.
type DeviceListResponse struct {
	Backend string                `json:"backend"`
	Devices []*domain.DeviceGrant `json:"devices"`
	Stats   domain.GrantStats     `json:"stats"`
}

// DeviceResponse wraps a single grant.
type DeviceResponse struct {
	Device  *domain.DeviceGrant `json:"device"`
	Backend string              `json:"backend"`
}

// StatsResponse summarizes both tables of the selected backend.
type StatsResponse struct {
	Backend string             `json:"backend"`
	Keys    []domain.RoleStats `json:"keys"`
	Devices domain.GrantStats  `json:"devices"`
}
