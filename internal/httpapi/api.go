// Package httpapi is the HTTP surface over the security core: access
// checks, threat lifecycle, incident escalation and the event feed.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"medguard.org/internal/obs"
	"medguard.org/internal/security"
	"medguard.org/internal/stream"
)

// ReadyProbe reports service readiness (for example, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config collects the HTTP layer's dependencies and tuning knobs.
type Config struct {
	Security *security.Service
	// Events is optional; when nil /v1/events responds 503.
	Events  *stream.Stream
	Probe   ReadyProbe
	Version string

	// Zero values select the defaults below.
	RateLimitBurst     int
	RateLimitPerSecond int
	MaxBodyBytes       int64
}

const (
	defaultRateBurst     = 20
	defaultRatePerSecond = 10
	defaultMaxBodyBytes  = 1 << 20
)

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	security *security.Service
	events   *stream.Stream
	probe    ReadyProbe
	version  string

	rateBurst     int
	ratePerSecond int
	maxBodyBytes  int64
}

func New(cfg Config) (*API, error) {
	if cfg.Security == nil {
		return nil, errors.New("httpapi: security service is required")
	}
	a := &API{
		mux:           http.NewServeMux(),
		security:      cfg.Security,
		events:        cfg.Events,
		probe:         cfg.Probe,
		version:       cfg.Version,
		rateBurst:     cfg.RateLimitBurst,
		ratePerSecond: cfg.RateLimitPerSecond,
		maxBodyBytes:  cfg.MaxBodyBytes,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = defaultRateBurst
	}
	if a.ratePerSecond <= 0 {
		a.ratePerSecond = defaultRatePerSecond
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = defaultMaxBodyBytes
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// access control
	a.mux.HandleFunc("/v1/access/check", a.handleAccessCheck)
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/actors/", a.handleActorResource)

	// threat lifecycle
	a.mux.HandleFunc("/v1/threats", a.handleThreatsCollection)
	a.mux.HandleFunc("/v1/threats/", a.handleThreatResource)

	// incidents
	a.mux.HandleFunc("/v1/incidents", a.handleIncidentsCollection)
	a.mux.HandleFunc("/v1/incidents/", a.handleIncidentResource)

	// posture snapshot and event feed
	a.mux.HandleFunc("/v1/security/metrics", a.handleSecurityMetrics)
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "medguard-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "medguard-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
