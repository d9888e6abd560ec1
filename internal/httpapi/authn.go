package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"vaultdesk.io/internal/audit"
	"vaultdesk.io/internal/authz"
	"vaultdesk.io/internal/obs"
	"vaultdesk.io/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// One message for every authentication failure so callers cannot probe
	// which check rejected them.
	msgUnauthenticated = "invalid or missing credentials"
)

// Logout is public: it authenticates by itself and must stay best-effort so
// a client holding a broken token can still log out locally.
var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth is the guard: bearer extraction, access-token validation, the
// revocation check, then permission aggregation into the request context. A
// revoked token fails here even though its signature and expiry are fine.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.denyUnauthenticated(w, r, "missing_token")
			return
		}

		claims, err := a.tokens.Validate(raw, token.TypeAccess)
		if err != nil {
			a.denyUnauthenticated(w, r, "invalid_token")
			return
		}

		revoked, err := a.blacklist.IsRevoked(r.Context(), claims.ID)
		if err != nil || revoked {
			a.denyUnauthenticated(w, r, "revoked")
			return
		}

		up, err := a.rbac.ComputeUserPermissions(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		up.Email = claims.Email

		ctx := authz.ContextWithPrincipal(r.Context(), *up)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) denyUnauthenticated(w http.ResponseWriter, r *http.Request, reason string) {
	metric := "unauthenticated"
	if reason == "revoked" {
		metric = "revoked"
	}
	obs.AuthzDenied(metric)
	_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
		"reason": reason,
		"path":   r.URL.Path,
	})
	writeError(w, r, http.StatusUnauthorized, msgUnauthenticated)
}

// ensurePermission enforces a (resource, permission) requirement on the
// authenticated principal. Denials are audited with the actor and the
// requirement that failed.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, resource authz.Resource, perm authz.Permission) bool {
	up, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		a.denyUnauthenticated(w, r, "missing_principal")
		return false
	}
	if !authz.HasPermission(up, resource, perm) {
		obs.AuthzDenied("forbidden")
		_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
			"reason":     "forbidden",
			"path":       r.URL.Path,
			"resource":   resource.String(),
			"permission": perm.String(),
		})
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
