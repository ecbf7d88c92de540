package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medguard.org/internal/audit"
	"medguard.org/internal/threat"
)

type reportThreatRequest struct {
	Type              string `json:"type"`
	Severity          string `json:"severity"`
	Source            string `json:"source"`
	Target            string `json:"target"`
	Description       string `json:"description"`
	PHIInvolved       bool   `json:"phi_involved"`
	PatientDataAtRisk bool   `json:"patient_data_at_risk"`
}

type mitigateRequest struct {
	Step string `json:"step"`
}

func (a *API) handleThreatsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.reportThreat(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.security.ListThreats(r.Context()))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) reportThreat(w http.ResponseWriter, r *http.Request) {
	var req reportThreatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	t, err := a.security.ReportThreat(r.Context(), threat.Input{
		Type:              threat.Type(req.Type),
		Severity:          threat.Severity(req.Severity),
		Source:            req.Source,
		Target:            req.Target,
		Description:       req.Description,
		PHIInvolved:       req.PHIInvolved,
		PatientDataAtRisk: req.PatientDataAtRisk,
	})
	if err != nil {
		handleThreatError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/threats/%s", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleThreatResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/threats/"), "/")
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
		t, err := a.security.GetThreat(r.Context(), parts[0])
		if err != nil {
			handleThreatError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case len(parts) == 2 && parts[1] == "mitigate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req mitigateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		t, err := a.security.MitigateThreat(r.Context(), parts[0], req.Step)
		if err != nil {
			handleThreatError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case len(parts) == 2 && parts[1] == "resolve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		t, err := a.security.ResolveThreat(r.Context(), parts[0])
		if err != nil {
			handleThreatError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func handleThreatError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, threat.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, threat.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, threat.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, audit.ErrEmit):
		writeError(w, r, http.StatusInternalServerError, "audit pipeline unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "threat operation failed")
	}
}
