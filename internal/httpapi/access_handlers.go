package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medguard.org/internal/audit"
	"medguard.org/internal/permission"
	"medguard.org/internal/rbac"
)

type accessCheckRequest struct {
	ActorID           string `json:"actor_id"`
	Permission        string `json:"permission"`
	EmergencyOverride bool   `json:"emergency_override"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type setAccessRequest struct {
	Role              string   `json:"role"`
	Permissions       []string `json:"permissions"`
	Restrictions      []string `json:"restrictions"`
	AccessLevel       int      `json:"access_level"`
	EmergencyOverride bool     `json:"emergency_override"`
	MFARequired       bool     `json:"mfa_required"`
	SessionTimeoutSec int      `json:"session_timeout_seconds"`
	AuditRequired     bool     `json:"audit_required"`
}

func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ActorID) == "" {
		writeError(w, r, http.StatusBadRequest, "actor_id is required")
		return
	}

	perm := permission.Permission(req.Permission)
	var (
		decision rbac.Decision
		err      error
	)
	if req.EmergencyOverride {
		decision, err = a.security.CheckAccessWithOverride(r.Context(), req.ActorID, perm)
	} else {
		decision, err = a.security.CheckAccess(r.Context(), req.ActorID, perm)
	}
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRole(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.security.Access().Registry().List(r.Context()))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.security.Access().Registry().Register(r.Context(), rbac.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: toPermissions(req.Permissions),
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.Name))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		role, err := a.security.Access().Registry().Get(r.Context(), parts[0])
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case len(parts) == 2 && parts[1] == "stats":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		stats, err := a.security.Access().RoleStats(r.Context(), parts[0])
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleActorResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/actors/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "access" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	actorID := parts[0]

	switch r.Method {
	case http.MethodPut:
		a.setAccess(w, r, actorID)
	case http.MethodGet:
		record, err := a.security.Access().GetAccess(r.Context(), actorID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodDelete:
		if err := a.security.Access().RemoveAccess(r.Context(), actorID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) setAccess(w http.ResponseWriter, r *http.Request, actorID string) {
	var req setAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionTimeoutSec < 0 {
		writeError(w, r, http.StatusBadRequest, "session_timeout_seconds must not be negative")
		return
	}
	record, err := a.security.Access().SetAccess(r.Context(), rbac.AccessControl{
		ActorID:           actorID,
		Role:              req.Role,
		Permissions:       toPermissions(req.Permissions),
		Restrictions:      toPermissions(req.Restrictions),
		AccessLevel:       req.AccessLevel,
		EmergencyOverride: req.EmergencyOverride,
		MFARequired:       req.MFARequired,
		SessionTimeout:    time.Duration(req.SessionTimeoutSec) * time.Second,
		AuditRequired:     req.AuditRequired,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func toPermissions(raw []string) []permission.Permission {
	if len(raw) == 0 {
		return nil
	}
	out := make([]permission.Permission, 0, len(raw))
	for _, p := range raw {
		out = append(out, permission.Permission(p))
	}
	return out
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, permission.ErrInvalidPattern):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, audit.ErrEmit):
		writeError(w, r, http.StatusInternalServerError, "audit pipeline unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "access control operation failed")
	}
}
