package incident

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("incident: not found")
	ErrInvalidInput  = errors.New("incident: invalid input")
	ErrUnknownThreat = errors.New("incident: unknown threat reference")
	ErrResolved      = errors.New("incident: already resolved")
)

// Impact is an ordinal scale: minimal < moderate < significant < severe.
type Impact string

const (
	ImpactMinimal     Impact = "minimal"
	ImpactModerate    Impact = "moderate"
	ImpactSignificant Impact = "significant"
	ImpactSevere      Impact = "severe"
)

// ParseImpact validates an impact label.
func ParseImpact(raw string) (Impact, error) {
	switch i := Impact(raw); i {
	case ImpactMinimal, ImpactModerate, ImpactSignificant, ImpactSevere:
		return i, nil
	default:
		return "", fmt.Errorf("%w: unknown impact %q", ErrInvalidInput, raw)
	}
}

// Incident links an escalated threat to its operational and compliance
// consequences. Once the resolution fields are set the record is immutable
// except for appending lessons learned.
type Incident struct {
	ID                  string        `json:"id"`
	ThreatID            string        `json:"threat_id"`
	Impact              Impact        `json:"impact"`
	AffectedSystems     []string      `json:"affected_systems,omitempty"`
	AffectedPatients    int           `json:"affected_patients"`
	ResponseTime        time.Duration `json:"response_time"`
	ResolutionTime      time.Duration `json:"resolution_time,omitempty"`
	ComplianceViolation bool          `json:"compliance_violation"`
	ReportingRequired   bool          `json:"reporting_required"`
	LessonsLearned      []string      `json:"lessons_learned,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	ResolvedAt          time.Time     `json:"resolved_at,omitempty"`
}

// Resolved reports whether resolution fields have been set.
func (i Incident) Resolved() bool { return !i.ResolvedAt.IsZero() }

// reportingMandatory is the derived-flag rule: regulator notification is
// mandatory whenever patients are affected or compliance was violated.
// Direct input can never clear the flag while either condition holds.
func reportingMandatory(affectedPatients int, complianceViolation bool) bool {
	return affectedPatients > 0 || complianceViolation
}
