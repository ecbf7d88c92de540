package rbac

import (
	"errors"
	"time"

	"medguard.org/internal/permission"
)

var (
	ErrNotFound      = errors.New("rbac: not found")
	ErrAlreadyExists = errors.New("rbac: already exists")
	ErrInvalidInput  = errors.New("rbac: invalid input")
)

// Access levels form an ordinal scale from observer to full administrative
// access.
const (
	MinAccessLevel = 1
	MaxAccessLevel = 10
)

// Role groups permission patterns under a clinical function.
type Role struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Permissions []permission.Permission `json:"permissions"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// RoleStats carries counts recomputed from live data on every read. They
// are never accepted from caller input, so displayed and actual values
// cannot drift.
type RoleStats struct {
	Members     int `json:"members"`
	Permissions int `json:"permissions"`
}

// AccessControl is the per-actor access record. Session timeout and MFA
// values are policy fields enforced by the external session layer; this
// package only stores and exposes them.
type AccessControl struct {
	ActorID           string                  `json:"actor_id"`
	Role              string                  `json:"role"`
	Permissions       []permission.Permission `json:"permissions,omitempty"`
	Restrictions      []permission.Permission `json:"restrictions,omitempty"`
	AccessLevel       int                     `json:"access_level"`
	EmergencyOverride bool                    `json:"emergency_override"`
	MFARequired       bool                    `json:"mfa_required"`
	SessionTimeout    time.Duration           `json:"session_timeout"`
	AuditRequired     bool                    `json:"audit_required"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

// Reason classifies the outcome of an authorization decision.
type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonAllowedOverride   Reason = "allowed_emergency_override"
	ReasonDeniedRestriction Reason = "denied_restriction"
	ReasonDeniedUnmatched   Reason = "denied_unmatched"
	ReasonDeniedUnknown     Reason = "denied_unknown_actor"
	ReasonDeniedNoOverride  Reason = "denied_override_disabled"
)

// Decision is the result of evaluating one requested permission for one
// actor.
type Decision struct {
	ActorID           string                `json:"actor_id"`
	Permission        permission.Permission `json:"permission"`
	Allowed           bool                  `json:"allowed"`
	Reason            Reason                `json:"reason"`
	EmergencyOverride bool                  `json:"emergency_override,omitempty"`
	EvaluatedAt       time.Time             `json:"evaluated_at"`
}
