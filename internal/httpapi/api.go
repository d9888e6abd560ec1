// Package httpapi exposes the authorization engine over HTTP and hosts the
// request-time guard that composes token validation, the revocation registry
// and permission aggregation.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"vaultdesk.io/internal/obs"
	"vaultdesk.io/internal/rbac"
	"vaultdesk.io/internal/token"
)

// ReadyProbe reports readiness, pinging the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the collaborators of the API. RBAC, Tokens and Blacklist
// are required.
type Options struct {
	Ready     ReadyProbe
	Version   string
	RBAC      *rbac.Service
	Tokens    *token.Service
	Blacklist token.Blacklist

	// Auth endpoints get their own per-IP rate limit.
	AuthRatePerSecond int
	AuthRateBurst     int
	MaxBodyBytes      int64
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	rbac      *rbac.Service
	tokens    *token.Service
	blacklist token.Blacklist
	validate  *validator.Validate

	maxBodyBytes int64
}

func New(opts Options) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   opts.Ready,
		version:      opts.Version,
		rbac:         opts.RBAC,
		tokens:       opts.Tokens,
		blacklist:    opts.Blacklist,
		validate:     validator.New(),
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	perSecond, burst := opts.AuthRatePerSecond, opts.AuthRateBurst
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth endpoints carry a dedicated per-IP limit against credential
	// stuffing and refresh storms
	authLimited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, burst, perSecond)
	}
	a.mux.Handle("/v1/auth/login", authLimited(a.handleLogin))
	a.mux.Handle("/v1/auth/refresh", authLimited(a.handleRefresh))
	a.mux.Handle("/v1/auth/logout", authLimited(a.handleLogout))

	// UI permission gating; never an enforcement point
	a.mux.HandleFunc("/v1/permissions/check", a.handlePermissionCheck)

	// rbac management
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/from-template", a.handleRoleFromTemplate)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permission-templates", a.handleTemplates)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- ops handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
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
		"name":    obs.ServiceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
