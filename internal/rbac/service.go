package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medguard.org/internal/permission"
)

// Service resolves effective permissions and produces access decisions.
// Authorization is fail-closed: an unknown actor, an unmatched request and
// a matching restriction all deny.
type Service struct {
	registry *Registry
	store    Store
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the access-control service.
func NewService(registry *Registry, store Store, opts ...ServiceOption) (*Service, error) {
	if registry == nil {
		return nil, errors.New("rbac: registry is required")
	}
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	svc := &Service{registry: registry, store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Registry exposes the role registry.
func (s *Service) Registry() *Registry { return s.registry }

// SetAccess validates and stores an actor's access record.
func (s *Service) SetAccess(ctx context.Context, record AccessControl) (AccessControl, error) {
	record.ActorID = strings.TrimSpace(record.ActorID)
	if record.ActorID == "" {
		return AccessControl{}, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	record.Role = strings.TrimSpace(record.Role)
	if record.Role != "" {
		if _, err := s.registry.Get(ctx, record.Role); err != nil {
			return AccessControl{}, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, record.Role)
		}
	}
	if record.AccessLevel < MinAccessLevel || record.AccessLevel > MaxAccessLevel {
		return AccessControl{}, fmt.Errorf("%w: access_level must be between %d and %d",
			ErrInvalidInput, MinAccessLevel, MaxAccessLevel)
	}
	if record.SessionTimeout < 0 {
		return AccessControl{}, fmt.Errorf("%w: session_timeout must not be negative", ErrInvalidInput)
	}
	record.Permissions = permission.Dedupe(record.Permissions)
	if err := permission.ValidateAll(record.Permissions); err != nil {
		return AccessControl{}, fmt.Errorf("%w: grants: %v", ErrInvalidInput, err)
	}
	record.Restrictions = permission.Dedupe(record.Restrictions)
	if err := permission.ValidateAll(record.Restrictions); err != nil {
		return AccessControl{}, fmt.Errorf("%w: restrictions: %v", ErrInvalidInput, err)
	}

	now := s.now().UTC()
	if existing, err := s.store.Get(ctx, record.ActorID); err == nil {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if err := s.store.Put(ctx, record); err != nil {
		return AccessControl{}, err
	}
	return record, nil
}

// GetAccess returns the actor's access record.
func (s *Service) GetAccess(ctx context.Context, actorID string) (AccessControl, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return AccessControl{}, fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, actorID)
}

// RemoveAccess deletes the actor's access record.
func (s *Service) RemoveAccess(ctx context.Context, actorID string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return fmt.Errorf("%w: actor_id is required", ErrInvalidInput)
	}
	return s.store.Delete(ctx, actorID)
}

// RoleStats recomputes member and permission counts from live data.
func (s *Service) RoleStats(ctx context.Context, roleName string) (RoleStats, error) {
	role, err := s.registry.Get(ctx, roleName)
	if err != nil {
		return RoleStats{}, err
	}
	records, err := s.store.List(ctx)
	if err != nil {
		return RoleStats{}, err
	}
	members := 0
	for _, record := range records {
		if record.Role == role.Name {
			members++
		}
	}
	return RoleStats{Members: members, Permissions: len(role.Permissions)}, nil
}

// Authorize evaluates the requested permission against the actor's
// effective set. Resolution order: restrictions first (a restriction match
// denies absolutely, even against a wildcard grant), then role permissions
// united with explicit grants.
func (s *Service) Authorize(ctx context.Context, actorID string, requested permission.Permission) (Decision, error) {
	if err := permission.Validate(requested); err != nil {
		return Decision{}, err
	}
	decision := Decision{
		ActorID:     actorID,
		Permission:  requested,
		EvaluatedAt: s.now().UTC(),
	}

	record, err := s.store.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			decision.Reason = ReasonDeniedUnknown
			return decision, err
		}
		return Decision{}, err
	}

	restricted, err := permission.MatchAny(record.Restrictions, requested)
	if err != nil {
		return Decision{}, err
	}
	if restricted {
		decision.Reason = ReasonDeniedRestriction
		return decision, nil
	}

	candidates := record.Permissions
	if record.Role != "" {
		rolePerms, err := s.registry.EffectivePermissions(ctx, record.Role)
		if err == nil {
			candidates = append(append([]permission.Permission{}, rolePerms...), record.Permissions...)
		} else if !errors.Is(err, ErrNotFound) {
			return Decision{}, err
		}
	}
	allowed, err := permission.MatchAny(candidates, requested)
	if err != nil {
		return Decision{}, err
	}
	if allowed {
		decision.Allowed = true
		decision.Reason = ReasonAllowed
		return decision, nil
	}
	decision.Reason = ReasonDeniedUnmatched
	return decision, nil
}

// AuthorizeOverride evaluates an explicit emergency-override request. The
// override bypasses restrictions and grant matching but is honored only
// when the actor's record carries the emergency-override flag. Callers
// must pair the resulting decision with an audit event marking the
// override use.
func (s *Service) AuthorizeOverride(ctx context.Context, actorID string, requested permission.Permission) (Decision, error) {
	if err := permission.Validate(requested); err != nil {
		return Decision{}, err
	}
	decision := Decision{
		ActorID:     actorID,
		Permission:  requested,
		EvaluatedAt: s.now().UTC(),
	}

	record, err := s.store.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			decision.Reason = ReasonDeniedUnknown
			return decision, err
		}
		return Decision{}, err
	}
	if !record.EmergencyOverride {
		decision.Reason = ReasonDeniedNoOverride
		return decision, nil
	}
	decision.Allowed = true
	decision.EmergencyOverride = true
	decision.Reason = ReasonAllowedOverride
	return decision, nil
}
