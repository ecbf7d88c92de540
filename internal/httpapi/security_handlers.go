package httpapi

import "net/http"

func (a *API) handleSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	snapshot, err := a.security.SnapshotMetrics(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "metrics snapshot failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
