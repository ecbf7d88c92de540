package incident

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"medguard.org/internal/ids"
	"medguard.org/internal/obs"
	"medguard.org/internal/threat"
)

// ThreatDirectory is the read-side view of the threat engine the tracker
// needs to resolve escalation references.
type ThreatDirectory interface {
	Get(ctx context.Context, id string) (threat.Threat, error)
}

// Tracker owns incident records keyed by incident id, holding non-owning
// back-references to the threats they originate from. Escalation reads the
// threat before writing the incident; that ordering is fixed across the
// codebase to avoid lock cycles.
type Tracker struct {
	mu        sync.RWMutex
	incidents map[string]*record
	order     []string

	threats ThreatDirectory
	now     func() time.Time
	idFn    func() string
}

type record struct {
	mu sync.Mutex
	in Incident
}

// Option configures the tracker.
type Option func(*Tracker)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.idFn = fn
		}
	}
}

// NewTracker creates an empty tracker bound to a threat directory.
func NewTracker(threats ThreatDirectory, opts ...Option) (*Tracker, error) {
	if threats == nil {
		return nil, fmt.Errorf("incident: threat directory is required")
	}
	t := &Tracker{
		incidents: make(map[string]*record),
		threats:   threats,
		now:       time.Now,
		idFn:      ids.New,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// CommitHook runs with the prospective record before a mutation is
// applied. A non-nil error aborts the mutation and the stored state is
// untouched; callers use this to persist an audit trail ahead of the
// transition becoming visible to readers.
type CommitHook func(Incident) error

// Input describes an escalation request.
type Input struct {
	ThreatID            string
	Impact              Impact
	AffectedSystems     []string
	AffectedPatients    int
	ComplianceViolation bool
	// ReportingRequired is advisory only: the derived rule forces it true
	// whenever patients are affected or compliance was violated.
	ReportingRequired bool
}

// Open escalates a threat into an incident. A dangling threat reference
// fails with ErrUnknownThreat and creates no record. Response time is
// measured from the threat's detection timestamp and must not be negative.
func (t *Tracker) Open(ctx context.Context, input Input, hooks ...CommitHook) (Incident, error) {
	input.ThreatID = strings.TrimSpace(input.ThreatID)
	if input.ThreatID == "" {
		return Incident{}, fmt.Errorf("%w: threat_id is required", ErrInvalidInput)
	}
	if _, err := ParseImpact(string(input.Impact)); err != nil {
		return Incident{}, err
	}
	if input.AffectedPatients < 0 {
		return Incident{}, fmt.Errorf("%w: affected_patients must not be negative", ErrInvalidInput)
	}

	th, err := t.threats.Get(ctx, input.ThreatID)
	if err != nil {
		return Incident{}, fmt.Errorf("%w: %s", ErrUnknownThreat, input.ThreatID)
	}

	now := t.now().UTC()
	responseTime := now.Sub(th.DetectedAt)
	if responseTime < 0 {
		return Incident{}, fmt.Errorf("%w: response time is negative (clock skew?)", ErrInvalidInput)
	}

	in := Incident{
		ID:                  t.idFn(),
		ThreatID:            th.ID,
		Impact:              input.Impact,
		AffectedSystems:     dedupeSystems(input.AffectedSystems),
		AffectedPatients:    input.AffectedPatients,
		ResponseTime:        responseTime,
		ComplianceViolation: input.ComplianceViolation,
		ReportingRequired:   input.ReportingRequired,
		CreatedAt:           now,
	}
	if reportingMandatory(in.AffectedPatients, in.ComplianceViolation) {
		in.ReportingRequired = true
	}

	for _, hook := range hooks {
		if err := hook(copyIncident(in)); err != nil {
			return Incident{}, err
		}
	}

	t.mu.Lock()
	t.incidents[in.ID] = &record{in: in}
	t.order = append(t.order, in.ID)
	t.mu.Unlock()

	obs.ObserveIncidentOpened()
	return in, nil
}

// Get returns a copy of the incident.
func (t *Tracker) Get(ctx context.Context, id string) (Incident, error) {
	rec, err := t.lookup(id)
	if err != nil {
		return Incident{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copyIncident(rec.in), nil
}

// List returns all incidents in creation order.
func (t *Tracker) List(ctx context.Context) []Incident {
	t.mu.RLock()
	ordered := make([]*record, 0, len(t.order))
	for _, id := range t.order {
		ordered = append(ordered, t.incidents[id])
	}
	t.mu.RUnlock()

	out := make([]Incident, 0, len(ordered))
	for _, rec := range ordered {
		rec.mu.Lock()
		out = append(out, copyIncident(rec.in))
		rec.mu.Unlock()
	}
	return out
}

// Update amends impact and scope fields of an open incident. The derived
// reporting rule is re-applied on every write, so the flag cannot be
// cleared while its triggering condition holds.
type Update struct {
	Impact              *Impact
	AffectedSystems     []string
	AffectedPatients    *int
	ComplianceViolation *bool
	ReportingRequired   *bool
}

// Apply updates an open incident.
func (t *Tracker) Apply(ctx context.Context, id string, upd Update, hooks ...CommitHook) (Incident, error) {
	rec, err := t.lookup(id)
	if err != nil {
		return Incident{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.in.Resolved() {
		return Incident{}, fmt.Errorf("%w: incident %s", ErrResolved, id)
	}
	next := copyIncident(rec.in)
	if upd.Impact != nil {
		if _, err := ParseImpact(string(*upd.Impact)); err != nil {
			return Incident{}, err
		}
		next.Impact = *upd.Impact
	}
	if upd.AffectedSystems != nil {
		next.AffectedSystems = dedupeSystems(upd.AffectedSystems)
	}
	if upd.AffectedPatients != nil {
		if *upd.AffectedPatients < 0 {
			return Incident{}, fmt.Errorf("%w: affected_patients must not be negative", ErrInvalidInput)
		}
		next.AffectedPatients = *upd.AffectedPatients
	}
	if upd.ComplianceViolation != nil {
		next.ComplianceViolation = *upd.ComplianceViolation
	}
	if upd.ReportingRequired != nil {
		next.ReportingRequired = *upd.ReportingRequired
	}
	if reportingMandatory(next.AffectedPatients, next.ComplianceViolation) {
		next.ReportingRequired = true
	}
	for _, hook := range hooks {
		if err := hook(copyIncident(next)); err != nil {
			return Incident{}, err
		}
	}
	rec.in = next
	return copyIncident(next), nil
}

// Resolve sets the resolution fields. Resolution time is measured from the
// referenced threat's detection timestamp; afterwards only lessons may be
// appended.
func (t *Tracker) Resolve(ctx context.Context, id string, hooks ...CommitHook) (Incident, error) {
	rec, err := t.lookup(id)
	if err != nil {
		return Incident{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.in.Resolved() {
		return Incident{}, fmt.Errorf("%w: incident %s", ErrResolved, id)
	}
	th, err := t.threats.Get(ctx, rec.in.ThreatID)
	if err != nil {
		return Incident{}, fmt.Errorf("%w: %s", ErrUnknownThreat, rec.in.ThreatID)
	}
	now := t.now().UTC()
	resolutionTime := now.Sub(th.DetectedAt)
	if resolutionTime < 0 {
		return Incident{}, fmt.Errorf("%w: resolution time is negative (clock skew?)", ErrInvalidInput)
	}
	next := copyIncident(rec.in)
	next.ResolutionTime = resolutionTime
	next.ResolvedAt = now
	for _, hook := range hooks {
		if err := hook(copyIncident(next)); err != nil {
			return Incident{}, err
		}
	}
	rec.in = next
	return copyIncident(next), nil
}

// AppendLesson records a lessons-learned entry. Allowed after resolution.
func (t *Tracker) AppendLesson(ctx context.Context, id, lesson string, hooks ...CommitHook) (Incident, error) {
	lesson = strings.TrimSpace(lesson)
	if lesson == "" {
		return Incident{}, fmt.Errorf("%w: lesson text is required", ErrInvalidInput)
	}
	rec, err := t.lookup(id)
	if err != nil {
		return Incident{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next := copyIncident(rec.in)
	next.LessonsLearned = append(next.LessonsLearned, lesson)
	for _, hook := range hooks {
		if err := hook(copyIncident(next)); err != nil {
			return Incident{}, err
		}
	}
	rec.in = next
	return copyIncident(next), nil
}

func (t *Tracker) lookup(id string) (*record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%w: incident %s", ErrNotFound, id)
	}
	return rec, nil
}

func copyIncident(in Incident) Incident {
	in.AffectedSystems = append(in.AffectedSystems[:0:0], in.AffectedSystems...)
	in.LessonsLearned = append(in.LessonsLearned[:0:0], in.LessonsLearned...)
	return in
}

func dedupeSystems(systems []string) []string {
	if len(systems) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(systems))
	out := make([]string, 0, len(systems))
	for _, s := range systems {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
