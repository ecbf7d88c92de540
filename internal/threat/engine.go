package threat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"medguard.org/internal/ids"
	"medguard.org/internal/obs"
)

// Engine ingests detected threats, applies the automatic response policy
// and drives the threat lifecycle. Mutations to one threat are serialized
// on its record; reads and writes of unrelated threats proceed
// concurrently.
type Engine struct {
	mu      sync.RWMutex
	threats map[string]*record
	order   []string

	now  func() time.Time
	idFn func() string
}

type record struct {
	mu sync.Mutex
	t  Threat
}

// Option configures the engine.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.idFn = fn
		}
	}
}

// NewEngine creates an empty threat engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		threats: make(map[string]*record),
		now:     time.Now,
		idFn:    ids.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CommitHook runs with the prospective record before a mutation is
// applied. A non-nil error aborts the mutation and the stored state is
// untouched; callers use this to persist an audit trail ahead of the
// transition becoming visible to readers.
type CommitHook func(Threat) error

// Input describes a detected threat prior to ingestion.
type Input struct {
	Type              Type
	Severity          Severity
	Source            string
	Target            string
	Description       string
	PHIInvolved       bool
	PatientDataAtRisk bool
}

// Report validates and ingests a detected threat. Response policy: a
// critical severity or patient data at risk blocks the threat immediately,
// incrementing the blocked tally exactly once; anything else stays
// detected pending mitigation.
func (e *Engine) Report(ctx context.Context, input Input, hooks ...CommitHook) (Threat, error) {
	if _, err := ParseType(string(input.Type)); err != nil {
		return Threat{}, err
	}
	if _, err := ParseSeverity(string(input.Severity)); err != nil {
		return Threat{}, err
	}
	input.Source = strings.TrimSpace(input.Source)
	input.Target = strings.TrimSpace(input.Target)
	if input.Source == "" || input.Target == "" {
		return Threat{}, fmt.Errorf("%w: source and target are required", ErrInvalidInput)
	}

	now := e.now().UTC()
	t := Threat{
		ID:                e.idFn(),
		Type:              input.Type,
		Severity:          input.Severity,
		Source:            input.Source,
		Target:            input.Target,
		Status:            StatusDetected,
		PHIInvolved:       input.PHIInvolved,
		PatientDataAtRisk: input.PatientDataAtRisk,
		Description:       strings.TrimSpace(input.Description),
		DetectedAt:        now,
		UpdatedAt:         now,
	}
	if t.Severity == SeverityCritical || t.PatientDataAtRisk {
		t.Status = StatusBlocked
		t.AutoBlocked = true
	}

	for _, hook := range hooks {
		if err := hook(copyThreat(t)); err != nil {
			return Threat{}, err
		}
	}

	e.mu.Lock()
	e.threats[t.ID] = &record{t: t}
	e.order = append(e.order, t.ID)
	e.mu.Unlock()

	obs.ObserveThreatDetected(string(t.Type), string(t.Severity))
	if t.AutoBlocked {
		obs.ObserveThreatAutoBlocked()
	}
	return t, nil
}

// Get returns a copy of the threat.
func (e *Engine) Get(ctx context.Context, id string) (Threat, error) {
	rec, err := e.lookup(id)
	if err != nil {
		return Threat{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copyThreat(rec.t), nil
}

// List returns all threats in detection order.
func (e *Engine) List(ctx context.Context) []Threat {
	e.mu.RLock()
	ordered := make([]*record, 0, len(e.order))
	for _, id := range e.order {
		ordered = append(ordered, e.threats[id])
	}
	e.mu.RUnlock()

	out := make([]Threat, 0, len(ordered))
	for _, rec := range ordered {
		rec.mu.Lock()
		out = append(out, copyThreat(rec.t))
		rec.mu.Unlock()
	}
	return out
}

// Mitigate appends a mitigation step and moves the threat to mitigated.
// Valid from detected, blocked and mitigated (additional steps); resolved
// threats are closed.
func (e *Engine) Mitigate(ctx context.Context, id, step string, hooks ...CommitHook) (Threat, error) {
	step = strings.TrimSpace(step)
	if step == "" {
		return Threat{}, fmt.Errorf("%w: mitigation step is required", ErrInvalidInput)
	}
	rec, err := e.lookup(id)
	if err != nil {
		return Threat{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.t.Status == StatusResolved {
		return Threat{}, fmt.Errorf("%w: threat %s is resolved", ErrInvalidTransition, id)
	}
	next := copyThreat(rec.t)
	next.Status = StatusMitigated
	next.MitigationSteps = append(next.MitigationSteps, step)
	next.UpdatedAt = e.now().UTC()
	for _, hook := range hooks {
		if err := hook(copyThreat(next)); err != nil {
			return Threat{}, err
		}
	}
	rec.t = next
	return copyThreat(next), nil
}

// Resolve closes a mitigated threat. A threat cannot be resolved without a
// documented mitigation trail.
func (e *Engine) Resolve(ctx context.Context, id string, hooks ...CommitHook) (Threat, error) {
	rec, err := e.lookup(id)
	if err != nil {
		return Threat{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.t.Status != StatusMitigated {
		return Threat{}, fmt.Errorf("%w: threat %s is %s, only mitigated threats resolve",
			ErrInvalidTransition, id, rec.t.Status)
	}
	if len(rec.t.MitigationSteps) == 0 {
		return Threat{}, fmt.Errorf("%w: mitigation steps are required before resolution", ErrInvalidInput)
	}
	next := copyThreat(rec.t)
	next.Status = StatusResolved
	next.UpdatedAt = e.now().UTC()
	for _, hook := range hooks {
		if err := hook(copyThreat(next)); err != nil {
			return Threat{}, err
		}
	}
	rec.t = next
	return copyThreat(next), nil
}

// Counts tallies lifecycle figures by scanning current records. Blocked
// counts every auto-blocked threat regardless of later transitions, so the
// figure never regresses as threats are mitigated and resolved.
func (e *Engine) Counts(ctx context.Context) Counts {
	var c Counts
	for _, t := range e.List(ctx) {
		c.Detected++
		if t.AutoBlocked {
			c.Blocked++
		}
		switch t.Status {
		case StatusDetected, StatusBlocked:
			c.Active++
		case StatusMitigated:
			c.Mitigated++
		case StatusResolved:
			c.Resolved++
		}
	}
	return c
}

// OpenVulnerabilities counts unresolved threats at or above the given
// severity. Feeds the metrics snapshot.
func (e *Engine) OpenVulnerabilities(ctx context.Context, floor Severity) int {
	n := 0
	for _, t := range e.List(ctx) {
		if t.Status != StatusResolved && t.Severity.AtLeast(floor) {
			n++
		}
	}
	return n
}

func (e *Engine) lookup(id string) (*record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.threats[id]
	if !ok {
		return nil, fmt.Errorf("%w: threat %s", ErrNotFound, id)
	}
	return rec, nil
}

func copyThreat(t Threat) Threat {
	t.MitigationSteps = append(t.MitigationSteps[:0:0], t.MitigationSteps...)
	return t
}
