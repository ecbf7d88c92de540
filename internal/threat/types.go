package threat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("threat: not found")
	ErrInvalidInput      = errors.New("threat: invalid input")
	ErrInvalidTransition = errors.New("threat: invalid transition")
)

// Type enumerates the threat categories tracked by the platform.
type Type string

const (
	TypeMalware         Type = "malware"
	TypePhishing        Type = "phishing"
	TypeIntrusion       Type = "intrusion"
	TypeDataBreach      Type = "data_breach"
	TypeDenialOfService Type = "denial_of_service"
	TypeInsider         Type = "insider"
)

// ParseType validates a threat type label.
func ParseType(raw string) (Type, error) {
	switch t := Type(raw); t {
	case TypeMalware, TypePhishing, TypeIntrusion, TypeDataBreach, TypeDenialOfService, TypeInsider:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown threat type %q", ErrInvalidInput, raw)
	}
}

// Severity is an ordinal scale: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity label.
func ParseSeverity(raw string) (Severity, error) {
	switch s := Severity(raw); s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, raw)
	}
}

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Status is the threat lifecycle state. Detected is initial, resolved is
// terminal; resolution is reachable only through mitigated.
type Status string

const (
	StatusDetected  Status = "detected"
	StatusBlocked   Status = "blocked"
	StatusMitigated Status = "mitigated"
	StatusResolved  Status = "resolved"
)

// Threat is an append-only security threat record. Severity, type and the
// data-involvement flags are immutable after creation; only status and the
// mitigation trail mutate, and records are never deleted.
type Threat struct {
	ID                string    `json:"id"`
	Type              Type      `json:"type"`
	Severity          Severity  `json:"severity"`
	Source            string    `json:"source"`
	Target            string    `json:"target"`
	Status            Status    `json:"status"`
	PHIInvolved       bool      `json:"phi_involved"`
	PatientDataAtRisk bool      `json:"patient_data_at_risk"`
	AutoBlocked       bool      `json:"auto_blocked"`
	Description       string    `json:"description,omitempty"`
	MitigationSteps   []string  `json:"mitigation_steps,omitempty"`
	DetectedAt        time.Time `json:"detected_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Counts is a point-in-time tally recomputed by scanning the engine's
// records.
type Counts struct {
	Detected  int `json:"detected"`
	Blocked   int `json:"blocked"`
	Active    int `json:"active"`
	Mitigated int `json:"mitigated"`
	Resolved  int `json:"resolved"`
}
