package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"civicdesk.org/internal/auth"
	"civicdesk.org/internal/complaint"
	"civicdesk.org/internal/escalate"
	"civicdesk.org/internal/feed"
	"civicdesk.org/internal/obs"
)

// ReadyProbe reports readiness (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	complaints *complaint.Service
	sched      *escalate.Scheduler
	feed       *feed.Feed
	readyProbe ReadyProbe
	version    string
}

func New(authSvc *auth.Service, complaints *complaint.Service, sched *escalate.Scheduler, eventFeed *feed.Feed, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       authSvc,
		complaints: complaints,
		sched:      sched,
		feed:       eventFeed,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/signup", a.handleSignup)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("POST /v1/auth/password-reset", a.handlePasswordResetRequest)
	a.mux.HandleFunc("POST /v1/auth/password-reset/confirm", a.handlePasswordReset)

	a.mux.HandleFunc("POST /v1/complaints", a.optionalAuth(a.handleCreateComplaint))
	a.mux.HandleFunc("GET /v1/complaints", a.requireMinRole(auth.RoleAdmin, a.handleListComplaints))
	a.mux.HandleFunc("GET /v1/complaints/{id}", a.requireAuth(a.handleGetComplaint))
	a.mux.HandleFunc("POST /v1/complaints/{id}/status", a.requireMinRole(auth.RoleAdmin, a.handleSetStatus))
	a.mux.HandleFunc("GET /v1/complaints/{id}/escalations", a.requireMinRole(auth.RoleAdmin, a.handleListEscalations))

	a.mux.HandleFunc("POST /v1/escalations/run", a.requireMinRole(auth.RoleAdmin, a.handleRunSweep))
	a.mux.HandleFunc("GET /v1/events", a.requireMinRole(auth.RoleAdmin, a.handleEvents))
	a.mux.HandleFunc("POST /v1/users/role", a.requireRole([]auth.Role{auth.RoleSuperadmin}, a.handleSetRole))
	a.mux.HandleFunc("POST /v1/users/status", a.requireRole([]auth.Role{auth.RoleSuperadmin}, a.handleSetUserStatus))

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "civicdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
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
		"name":    "civicdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
