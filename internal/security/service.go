// Package security is the single entry point into the access-control and
// threat-lifecycle core. External collaborators (HTTP handlers, the smoke
// tool) call the facade here and nothing below it.
//
// Every call that produces an allow/deny decision or a state transition
// emits exactly one audit event synchronously before the transition
// becomes observable to readers. Audit emission failure fails the call:
// no decision is honored and no state change lands without a recorded
// trail.
package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medguard.org/internal/audit"
	"medguard.org/internal/incident"
	"medguard.org/internal/obs"
	"medguard.org/internal/permission"
	"medguard.org/internal/rbac"
	"medguard.org/internal/stream"
	"medguard.org/internal/threat"
)

// Service wires the core components behind one dependency-injected
// instance with an explicit lifecycle. There is no package-level state.
type Service struct {
	access    *rbac.Service
	threats   *threat.Engine
	incidents *incident.Tracker
	auditor   audit.Emitter
	scores    ScoreSource
	events    *stream.Stream
	now       func() time.Time
}

// Config collects the facade's dependencies.
type Config struct {
	Access    *rbac.Service
	Threats   *threat.Engine
	Incidents *incident.Tracker
	Auditor   audit.Emitter
	Scores    ScoreSource
	// Events is optional; when set, successful operations publish to the
	// security event feed after the audit record is durable.
	Events *stream.Stream
	Clock  func() time.Time
}

// NewService validates the configuration and constructs the facade.
func NewService(cfg Config) (*Service, error) {
	if cfg.Access == nil {
		return nil, errors.New("security: access service is required")
	}
	if cfg.Threats == nil {
		return nil, errors.New("security: threat engine is required")
	}
	if cfg.Incidents == nil {
		return nil, errors.New("security: incident tracker is required")
	}
	if cfg.Auditor == nil {
		return nil, errors.New("security: audit emitter is required")
	}
	svc := &Service{
		access:    cfg.Access,
		threats:   cfg.Threats,
		incidents: cfg.Incidents,
		auditor:   cfg.Auditor,
		scores:    cfg.Scores,
		events:    cfg.Events,
		now:       time.Now,
	}
	if svc.scores == nil {
		svc.scores = StaticScores{}
	}
	if cfg.Clock != nil {
		svc.now = cfg.Clock
	}
	return svc, nil
}

// Access exposes the underlying access-control service for administrative
// operations (role registration, access record management).
func (s *Service) Access() *rbac.Service { return s.access }

// CheckAccess decides whether the actor may exercise the requested
// permission. Unknown actors deny (fail-closed) with a distinct reason
// code rather than an error.
func (s *Service) CheckAccess(ctx context.Context, actorID string, requested permission.Permission) (rbac.Decision, error) {
	decision, err := s.access.Authorize(ctx, actorID, requested)
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		return rbac.Decision{}, err
	}
	if err := s.emitDecision(ctx, decision); err != nil {
		return rbac.Decision{}, err
	}
	obs.ObserveDecision(string(decision.Reason))
	s.publish(stream.Event{
		Kind:     stream.KindDecision,
		ActorID:  decision.ActorID,
		TargetID: string(decision.Permission),
		Message:  string(decision.Reason),
	})
	return decision, nil
}

// CheckAccessWithOverride evaluates an explicit emergency override. The
// resulting audit event always carries the override marker; this is a
// logged escape hatch, never a silent bypass.
func (s *Service) CheckAccessWithOverride(ctx context.Context, actorID string, requested permission.Permission) (rbac.Decision, error) {
	decision, err := s.access.AuthorizeOverride(ctx, actorID, requested)
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		return rbac.Decision{}, err
	}
	if err := s.emitDecision(ctx, decision); err != nil {
		return rbac.Decision{}, err
	}
	obs.ObserveDecision(string(decision.Reason))
	s.publish(stream.Event{
		Kind:     stream.KindDecision,
		ActorID:  decision.ActorID,
		TargetID: string(decision.Permission),
		Message:  string(decision.Reason),
	})
	return decision, nil
}

// ReportThreat ingests a detected threat through the engine's response
// policy.
func (s *Service) ReportThreat(ctx context.Context, input threat.Input) (threat.Threat, error) {
	th, err := s.threats.Report(ctx, input, func(t threat.Threat) error {
		event := audit.Event{
			Kind:      "threat.report",
			ActorID:   t.Source,
			TargetID:  t.ID,
			Timestamp: s.now().UTC(),
			Details: map[string]string{
				"type":     string(t.Type),
				"severity": string(t.Severity),
				"status":   string(t.Status),
			},
		}
		if t.AutoBlocked {
			event.Details["auto_blocked"] = "true"
		}
		return s.emit(ctx, event)
	})
	if err != nil {
		return threat.Threat{}, err
	}
	s.publish(stream.Event{
		Kind:     stream.KindThreat,
		TargetID: th.ID,
		Severity: string(th.Severity),
		Message:  fmt.Sprintf("%s threat %s", th.Type, th.Status),
	})
	return th, nil
}

// MitigateThreat appends a mitigation step and advances the lifecycle.
func (s *Service) MitigateThreat(ctx context.Context, threatID, step string) (threat.Threat, error) {
	th, err := s.threats.Mitigate(ctx, threatID, step, func(t threat.Threat) error {
		return s.emit(ctx, audit.Event{
			Kind:      "threat.mitigate",
			TargetID:  t.ID,
			Timestamp: s.now().UTC(),
			Details:   map[string]string{"status": string(t.Status), "step": step},
		})
	})
	if err != nil {
		return threat.Threat{}, err
	}
	s.publish(stream.Event{
		Kind:     stream.KindThreat,
		TargetID: th.ID,
		Severity: string(th.Severity),
		Message:  "threat mitigated",
	})
	return th, nil
}

// ResolveThreat closes a mitigated threat.
func (s *Service) ResolveThreat(ctx context.Context, threatID string) (threat.Threat, error) {
	th, err := s.threats.Resolve(ctx, threatID, func(t threat.Threat) error {
		return s.emit(ctx, audit.Event{
			Kind:      "threat.resolve",
			TargetID:  t.ID,
			Timestamp: s.now().UTC(),
			Details:   map[string]string{"mitigation_steps": fmt.Sprint(len(t.MitigationSteps))},
		})
	})
	if err != nil {
		return threat.Threat{}, err
	}
	s.publish(stream.Event{
		Kind:     stream.KindThreat,
		TargetID: th.ID,
		Severity: string(th.Severity),
		Message:  "threat resolved",
	})
	return th, nil
}

// GetThreat returns one threat.
func (s *Service) GetThreat(ctx context.Context, threatID string) (threat.Threat, error) {
	return s.threats.Get(ctx, threatID)
}

// ListThreats returns all threats in detection order.
func (s *Service) ListThreats(ctx context.Context) []threat.Threat {
	return s.threats.List(ctx)
}

// Escalate opens an incident from an existing threat. A dangling threat
// reference fails without creating a record.
func (s *Service) Escalate(ctx context.Context, input incident.Input) (incident.Incident, error) {
	in, err := s.incidents.Open(ctx, input, func(in incident.Incident) error {
		event := audit.Event{
			Kind:      "incident.open",
			TargetID:  in.ID,
			Timestamp: s.now().UTC(),
			Details: map[string]string{
				"threat_id": in.ThreatID,
				"impact":    string(in.Impact),
			},
		}
		if in.ReportingRequired {
			event.Details["reporting_required"] = "true"
		}
		return s.emit(ctx, event)
	})
	if err != nil {
		return incident.Incident{}, err
	}
	s.publish(stream.Event{
		Kind:     stream.KindIncident,
		TargetID: in.ID,
		Message:  fmt.Sprintf("incident opened with %s impact", in.Impact),
	})
	return in, nil
}

// ResolveIncident freezes an incident's resolution fields.
func (s *Service) ResolveIncident(ctx context.Context, incidentID string) (incident.Incident, error) {
	in, err := s.incidents.Resolve(ctx, incidentID, func(in incident.Incident) error {
		return s.emit(ctx, audit.Event{
			Kind:      "incident.resolve",
			TargetID:  in.ID,
			Timestamp: s.now().UTC(),
			Details:   map[string]string{"resolution_time": in.ResolutionTime.String()},
		})
	})
	if err != nil {
		return incident.Incident{}, err
	}
	s.publish(stream.Event{
		Kind:     stream.KindIncident,
		TargetID: in.ID,
		Message:  "incident resolved",
	})
	return in, nil
}

// UpdateIncident amends an open incident.
func (s *Service) UpdateIncident(ctx context.Context, incidentID string, upd incident.Update) (incident.Incident, error) {
	in, err := s.incidents.Apply(ctx, incidentID, upd, func(in incident.Incident) error {
		return s.emit(ctx, audit.Event{
			Kind:      "incident.update",
			TargetID:  in.ID,
			Timestamp: s.now().UTC(),
			Details: map[string]string{
				"impact":             string(in.Impact),
				"reporting_required": fmt.Sprint(in.ReportingRequired),
			},
		})
	})
	if err != nil {
		return incident.Incident{}, err
	}
	s.publish(stream.Event{
		Kind:     stream.KindIncident,
		TargetID: in.ID,
		Message:  "incident updated",
	})
	return in, nil
}

// AppendLesson records a lessons-learned entry on an incident.
func (s *Service) AppendLesson(ctx context.Context, incidentID, lesson string) (incident.Incident, error) {
	in, err := s.incidents.AppendLesson(ctx, incidentID, lesson, func(in incident.Incident) error {
		return s.emit(ctx, audit.Event{
			Kind:      "incident.lesson",
			TargetID:  in.ID,
			Timestamp: s.now().UTC(),
			Details:   map[string]string{"lessons": fmt.Sprint(len(in.LessonsLearned))},
		})
	})
	if err != nil {
		return incident.Incident{}, err
	}
	s.publish(stream.Event{
		Kind:     stream.KindIncident,
		TargetID: in.ID,
		Message:  "lesson recorded",
	})
	return in, nil
}

// GetIncident returns one incident.
func (s *Service) GetIncident(ctx context.Context, incidentID string) (incident.Incident, error) {
	return s.incidents.Get(ctx, incidentID)
}

// ListIncidents returns all incidents in creation order.
func (s *Service) ListIncidents(ctx context.Context) []incident.Incident {
	return s.incidents.List(ctx)
}

func (s *Service) emitDecision(ctx context.Context, decision rbac.Decision) error {
	details := map[string]string{
		"reason":  string(decision.Reason),
		"allowed": fmt.Sprint(decision.Allowed),
	}
	if decision.EmergencyOverride {
		details["emergency_override_used"] = "true"
	}
	return s.emit(ctx, audit.Event{
		Kind:      "access.check",
		ActorID:   decision.ActorID,
		TargetID:  string(decision.Permission),
		Timestamp: decision.EvaluatedAt,
		Details:   details,
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if err := s.auditor.Emit(ctx, event); err != nil {
		obs.ObserveAuditFailure()
		if errors.Is(err, audit.ErrEmit) {
			return err
		}
		return fmt.Errorf("%w: %v", audit.ErrEmit, err)
	}
	return nil
}

func (s *Service) publish(event stream.Event) {
	if s.events == nil {
		return
	}
	event.Timestamp = s.now().UTC()
	s.events.Publish(event)
}
