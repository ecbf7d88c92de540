package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medguard.org/internal/audit"
	"medguard.org/internal/incident"
)

type escalateRequest struct {
	ThreatID            string   `json:"threat_id"`
	Impact              string   `json:"impact"`
	AffectedSystems     []string `json:"affected_systems"`
	AffectedPatients    int      `json:"affected_patients"`
	ComplianceViolation bool     `json:"compliance_violation"`
	ReportingRequired   bool     `json:"reporting_required"`
}

type updateIncidentRequest struct {
	Impact              *string  `json:"impact"`
	AffectedSystems     []string `json:"affected_systems"`
	AffectedPatients    *int     `json:"affected_patients"`
	ComplianceViolation *bool    `json:"compliance_violation"`
	ReportingRequired   *bool    `json:"reporting_required"`
}

type lessonRequest struct {
	Lesson string `json:"lesson"`
}

func (a *API) handleIncidentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.escalateIncident(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.security.ListIncidents(r.Context()))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) escalateIncident(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in, err := a.security.Escalate(r.Context(), incident.Input{
		ThreatID:            req.ThreatID,
		Impact:              incident.Impact(req.Impact),
		AffectedSystems:     req.AffectedSystems,
		AffectedPatients:    req.AffectedPatients,
		ComplianceViolation: req.ComplianceViolation,
		ReportingRequired:   req.ReportingRequired,
	})
	if err != nil {
		handleIncidentError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/incidents/%s", in.ID))
	writeJSON(w, http.StatusCreated, in)
}

func (a *API) handleIncidentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/incidents/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleIncidentByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		in, err := a.security.ResolveIncident(r.Context(), parts[0])
		if err != nil {
			handleIncidentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	case len(parts) == 2 && parts[1] == "lessons":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req lessonRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		in, err := a.security.AppendLesson(r.Context(), parts[0], req.Lesson)
		if err != nil {
			handleIncidentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleIncidentByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		in, err := a.security.GetIncident(r.Context(), id)
		if err != nil {
			handleIncidentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	case http.MethodPatch:
		var req updateIncidentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd := incident.Update{
			AffectedSystems:     req.AffectedSystems,
			AffectedPatients:    req.AffectedPatients,
			ComplianceViolation: req.ComplianceViolation,
			ReportingRequired:   req.ReportingRequired,
		}
		if req.Impact != nil {
			impact := incident.Impact(*req.Impact)
			upd.Impact = &impact
		}
		in, err := a.security.UpdateIncident(r.Context(), id, upd)
		if err != nil {
			handleIncidentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func handleIncidentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, incident.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, incident.ErrUnknownThreat):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, incident.ErrResolved):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, incident.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, audit.ErrEmit):
		writeError(w, r, http.StatusInternalServerError, "audit pipeline unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "incident operation failed")
	}
}
