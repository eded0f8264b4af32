// Package httpapi is the HTTP surface. Handlers read through the scoped
// session placed in the request context by the authorization middleware and
// never filter by tenant themselves; the row-level policies do that.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"salus.clinic/internal/fault"
	"salus.clinic/internal/obs"
	"salus.clinic/internal/store/pg"
	"salus.clinic/internal/tenancy"
)

// TenantResolver authenticates a bearer token and scopes the session.
type TenantResolver interface {
	Resolve(ctx context.Context, sess *pg.Session, token string) (tenancy.Context, error)
}

// API composes the routes and their middleware.
type API struct {
	mux      *http.ServeMux
	provider *pg.Provider
	resolver TenantResolver
	version  string
	log      zerolog.Logger
}

// New wires the routes.
func New(provider *pg.Provider, resolver TenantResolver, version string) *API {
	a := &API{
		mux:      http.NewServeMux(),
		provider: provider,
		resolver: resolver,
		version:  version,
		log:      obs.With("httpapi"),
	}

	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.ready)
	a.mux.HandleFunc("GET /v1/info", a.info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("GET /v1/profile", a.authorize(http.HandlerFunc(a.getProfile)))
	a.mux.Handle("POST /v1/auth/revoke", a.authorize(http.HandlerFunc(a.revokeToken)))

	a.mux.Handle("GET /v1/patients", a.authorize(http.HandlerFunc(a.listPatients)))
	a.mux.Handle("GET /v1/patients/{id}", a.authorize(http.HandlerFunc(a.getPatient)))
	a.mux.Handle("GET /v1/appointments", a.authorize(http.HandlerFunc(a.listAppointments)))
	a.mux.Handle("GET /v1/appointments/{id}", a.authorize(http.HandlerFunc(a.getAppointment)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "salus-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.provider.Ping(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "salus-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondFault(w http.ResponseWriter, err error) {
	code := fault.HTTPStatus(err)
	body := map[string]any{"error": http.StatusText(code)}
	if reason := fault.ReasonOf(err); reason != "" {
		body["reason"] = reason
		// Classified messages are caller-safe; internal causes are not.
		if reason != "internal" {
			body["error"] = err.Error()
		}
	}
	writeJSON(w, code, body)
}
