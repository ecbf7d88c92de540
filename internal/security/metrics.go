package security

import (
	"context"
	"time"

	"medguard.org/internal/threat"
)

// Scores are externally computed compliance figures consumed as opaque
// percentages. The core never derives them.
type Scores struct {
	Compliance         float64 `json:"compliance"`
	Audit              float64 `json:"audit"`
	DataProtection     float64 `json:"data_protection"`
	AccessControl      float64 `json:"access_control"`
	TrainingCompletion float64 `json:"training_completion"`
}

// ScoreSource supplies compliance and training scores.
type ScoreSource interface {
	Scores(ctx context.Context) (Scores, error)
}

// StaticScores is a fixed-value ScoreSource configured at startup.
type StaticScores Scores

// Scores returns the configured values.
func (s StaticScores) Scores(ctx context.Context) (Scores, error) {
	return Scores(s), nil
}

// Metrics is a point-in-time snapshot derived by scanning the threat and
// incident collections. Nothing here is authoritative state: repeated
// snapshots with no intervening writes are identical.
type Metrics struct {
	ThreatsDetected       int           `json:"threats_detected"`
	ThreatsBlocked        int           `json:"threats_blocked"`
	ActiveThreats         int           `json:"active_threats"`
	IncidentsOpen         int           `json:"incidents_open"`
	IncidentsResolved     int           `json:"incidents_resolved"`
	OpenVulnerabilities   int           `json:"open_vulnerabilities"`
	Scores                Scores        `json:"scores"`
	EmergencyResponseTime time.Duration `json:"emergency_response_time"`
	GeneratedAt           time.Time     `json:"generated_at"`
}

// SnapshotMetrics recomputes the full metrics snapshot from current state.
func (s *Service) SnapshotMetrics(ctx context.Context) (Metrics, error) {
	scores, err := s.scores.Scores(ctx)
	if err != nil {
		return Metrics{}, err
	}

	counts := s.threats.Counts(ctx)
	m := Metrics{
		ThreatsDetected:     counts.Detected,
		ThreatsBlocked:      counts.Blocked,
		ActiveThreats:       counts.Active,
		OpenVulnerabilities: s.threats.OpenVulnerabilities(ctx, threat.SeverityHigh),
		Scores:              scores,
		GeneratedAt:         s.now().UTC(),
	}

	var totalResponse time.Duration
	responses := 0
	for _, in := range s.incidents.List(ctx) {
		if in.Resolved() {
			m.IncidentsResolved++
		} else {
			m.IncidentsOpen++
		}
		totalResponse += in.ResponseTime
		responses++
	}
	if responses > 0 {
		m.EmergencyResponseTime = totalResponse / time.Duration(responses)
	}
	return m, nil
}
