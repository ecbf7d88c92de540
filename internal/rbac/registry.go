package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"medguard.org/internal/permission"
)

// Registry maps role names to permission sets. Patterns are validated at
// registration time; the matcher never sees a malformed granted pattern.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]Role
	now   func() time.Time
}

// NewRegistry creates an empty role registry.
func NewRegistry() *Registry {
	return &Registry{
		roles: make(map[string]Role),
		now:   time.Now,
	}
}

// Register adds a role. Duplicate names and malformed permission patterns
// are rejected.
func (r *Registry) Register(ctx context.Context, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role.Permissions = permission.Dedupe(role.Permissions)
	if err := permission.ValidateAll(role.Permissions); err != nil {
		return Role{}, fmt.Errorf("%w: role %s: %v", ErrInvalidInput, role.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role.Name]; ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrAlreadyExists, role.Name)
	}
	now := r.now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	r.roles[role.Name] = role
	return copyRole(role), nil
}

// Get returns the role by name.
func (r *Registry) Get(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, name)
	}
	return copyRole(role), nil
}

// List returns all roles sorted by name.
func (r *Registry) List(ctx context.Context) []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, copyRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EffectivePermissions returns the role's permission set. Insertion order
// is preserved for display; matching is order-independent.
func (r *Registry) EffectivePermissions(ctx context.Context, name string) ([]permission.Permission, error) {
	role, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return role.Permissions, nil
}

func copyRole(role Role) Role {
	perms := make([]permission.Permission, len(role.Permissions))
	copy(perms, role.Permissions)
	role.Permissions = perms
	return role
}
