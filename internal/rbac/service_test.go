package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"medguard.org/internal/permission"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewRegistry(), NewMemoryStore())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestAuthorizeRoleGrant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Registry().Register(ctx, Role{
		Name:        "radiologist",
		Permissions: []permission.Permission{"imaging:study:*"},
	}); err != nil {
		t.Fatalf("register role: %v", err)
	}
	if _, err := svc.SetAccess(ctx, AccessControl{
		ActorID:        "dr-jones",
		Role:           "radiologist",
		AccessLevel:    5,
		SessionTimeout: 30 * time.Minute,
	}); err != nil {
		t.Fatalf("set access: %v", err)
	}

	d, err := svc.Authorize(ctx, "dr-jones", "imaging:study:read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allowed || d.Reason != ReasonAllowed {
		t.Fatalf("expected allow, got %+v", d)
	}

	d, err = svc.Authorize(ctx, "dr-jones", "imaging:annotation:delete")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed || d.Reason != ReasonDeniedUnmatched {
		t.Fatalf("expected deny unmatched, got %+v", d)
	}
}

func TestRestrictionOverridesIdenticalGrant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Registry().Register(ctx, Role{
		Name:        "clinician",
		Permissions: []permission.Permission{"patient:data:read"},
	}); err != nil {
		t.Fatalf("register role: %v", err)
	}
	if _, err := svc.SetAccess(ctx, AccessControl{
		ActorID:      "suspended-user",
		Role:         "clinician",
		Restrictions: []permission.Permission{"patient:data:read"},
		AccessLevel:  3,
	}); err != nil {
		t.Fatalf("set access: %v", err)
	}

	d, err := svc.Authorize(ctx, "suspended-user", "patient:data:read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed || d.Reason != ReasonDeniedRestriction {
		t.Fatalf("restriction must win over identical grant, got %+v", d)
	}
}

func TestRestrictionOverridesWildcardGrant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SetAccess(ctx, AccessControl{
		ActorID:      "admin",
		Permissions:  []permission.Permission{"*"},
		Restrictions: []permission.Permission{"patient:data:export"},
		AccessLevel:  10,
	}); err != nil {
		t.Fatalf("set access: %v", err)
	}

	d, err := svc.Authorize(ctx, "admin", "patient:data:export")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed || d.Reason != ReasonDeniedRestriction {
		t.Fatalf("restriction must win over superuser grant, got %+v", d)
	}

	d, err = svc.Authorize(ctx, "admin", "patient:data:read")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("unrestricted request under wildcard must allow, got %+v", d)
	}
}

func TestAuthorizeUnknownActor(t *testing.T) {
	svc := newTestService(t)
	d, err := svc.Authorize(context.Background(), "ghost", "imaging:study:read")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if d.Allowed || d.Reason != ReasonDeniedUnknown {
		t.Fatalf("unknown actor must deny, got %+v", d)
	}
}

func TestAuthorizeInvalidRequest(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Authorize(context.Background(), "dr-jones", ""); !errors.Is(err, permission.ErrInvalidPattern) {
		t.Fatalf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestAuthorizeOverride(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SetAccess(ctx, AccessControl{
		ActorID:           "er-doc",
		Restrictions:      []permission.Permission{"patient:data:read"},
		AccessLevel:       7,
		EmergencyOverride: true,
	}); err != nil {
		t.Fatalf("set access: %v", err)
	}
	if _, err := svc.SetAccess(ctx, AccessControl{
		ActorID:     "clerk",
		AccessLevel: 2,
	}); err != nil {
		t.Fatalf("set access: %v", err)
	}

	d, err := svc.AuthorizeOverride(ctx, "er-doc", "patient:data:read")
	if err != nil {
		t.Fatalf("authorize override: %v", err)
	}
	if !d.Allowed || !d.EmergencyOverride || d.Reason != ReasonAllowedOverride {
		t.Fatalf("expected override allow, got %+v", d)
	}

	d, err = svc.AuthorizeOverride(ctx, "clerk", "patient:data:read")
	if err != nil {
		t.Fatalf("authorize override: %v", err)
	}
	if d.Allowed || d.Reason != ReasonDeniedNoOverride {
		t.Fatalf("override without flag must deny, got %+v", d)
	}
}

func TestSetAccessValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SetAccess(ctx, AccessControl{ActorID: "a", AccessLevel: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected access level validation error, got %v", err)
	}
	if _, err := svc.SetAccess(ctx, AccessControl{ActorID: "a", AccessLevel: 11}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected access level validation error, got %v", err)
	}
	if _, err := svc.SetAccess(ctx, AccessControl{ActorID: "a", AccessLevel: 5, Role: "missing"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown role error, got %v", err)
	}
	if _, err := svc.SetAccess(ctx, AccessControl{
		ActorID:     "a",
		AccessLevel: 5,
		Permissions: []permission.Permission{"user::read"},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected malformed grant error, got %v", err)
	}
}

func TestRoleStatsRecomputed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Registry().Register(ctx, Role{
		Name:        "nurse",
		Permissions: []permission.Permission{"patient:vitals:read", "patient:vitals:record"},
	}); err != nil {
		t.Fatalf("register role: %v", err)
	}

	stats, err := svc.RoleStats(ctx, "nurse")
	if err != nil {
		t.Fatalf("role stats: %v", err)
	}
	if stats.Members != 0 || stats.Permissions != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	for _, actor := range []string{"n1", "n2", "n3"} {
		if _, err := svc.SetAccess(ctx, AccessControl{ActorID: actor, Role: "nurse", AccessLevel: 3}); err != nil {
			t.Fatalf("set access %s: %v", actor, err)
		}
	}
	stats, err = svc.RoleStats(ctx, "nurse")
	if err != nil {
		t.Fatalf("role stats: %v", err)
	}
	if stats.Members != 3 {
		t.Fatalf("expected 3 members, got %+v", stats)
	}

	if err := svc.RemoveAccess(ctx, "n2"); err != nil {
		t.Fatalf("remove access: %v", err)
	}
	stats, _ = svc.RoleStats(ctx, "nurse")
	if stats.Members != 2 {
		t.Fatalf("expected member count to follow live data, got %+v", stats)
	}
}
