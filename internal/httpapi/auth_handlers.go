package httpapi

import (
	"net/http"
	"time"

	"vaultdesk.io/internal/audit"
	"vaultdesk.io/internal/authz"
	"vaultdesk.io/internal/obs"
	"vaultdesk.io/internal/token"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken      string                 `json:"access_token"`
	RefreshToken     string                 `json:"refresh_token"`
	AccessExpiresAt  time.Time              `json:"access_expires_at"`
	RefreshExpiresAt time.Time              `json:"refresh_expires_at"`
	User             *authz.UserPermissions `json:"user,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	user, err := a.rbac.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.rejected", map[string]any{
			"email": req.Email,
		})
		writeError(w, r, http.StatusUnauthorized, msgUnauthenticated)
		return
	}

	up, err := a.rbac.ComputeUserPermissions(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	up.Email = user.Email

	pair, err := a.tokens.IssuePair(token.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Role:   up.Role,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             up,
	})
}

// handleRefresh exchanges a refresh token for a rotated pair. The consumed
// refresh token's identifier goes straight onto the blacklist, so a replay of
// the old token is rejected even though its signature stays valid.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	claims, err := a.tokens.Validate(req.RefreshToken, token.TypeRefresh)
	if err != nil {
		obs.TokenRefresh("rejected")
		writeError(w, r, http.StatusUnauthorized, msgUnauthenticated)
		return
	}

	// Single-use: consume the token's identifier for whatever lifetime it has
	// left BEFORE minting the new pair. Consume is an atomic test-and-set, so
	// of any number of concurrent exchanges of the same token exactly one
	// proceeds; the rest read as replays.
	consumed, err := a.blacklist.Consume(r.Context(), claims.ID, a.tokens.RemainingLifetime(req.RefreshToken))
	if err != nil {
		obs.TokenRefresh("rejected")
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}
	if !consumed {
		obs.TokenRefresh("rejected")
		_ = audit.LogEvent(r.Context(), "auth.refresh.replayed", map[string]any{
			"user_id": claims.Subject,
		})
		writeError(w, r, http.StatusUnauthorized, msgUnauthenticated)
		return
	}
	obs.TokenRevoked()

	// Role label is recomputed, not trusted from the old token.
	up, err := a.rbac.ComputeUserPermissions(r.Context(), claims.Subject)
	if err != nil {
		obs.TokenRefresh("rejected")
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}

	pair, err := a.tokens.IssuePair(token.Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   up.Role,
	})
	if err != nil {
		obs.TokenRefresh("rejected")
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}
	obs.TokenRefresh("ok")
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": claims.Subject,
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// handleLogout revokes the caller's access token. It never fails from the
// client's perspective: an unauthenticated or already-revoked call still gets
// 204 so local logout is never blocked.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	raw, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	claims, err := a.tokens.Validate(raw, token.TypeAccess)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := a.blacklist.Revoke(r.Context(), claims.ID, a.tokens.RemainingLifetime(raw)); err == nil {
		obs.TokenRevoked()
		_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
			"user_id": claims.Subject,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionCheckRequest struct {
	Resource   string `json:"resource"`
	Permission string `json:"permission"`
}

type permissionCheckResponse struct {
	HasPermission bool `json:"has_permission"`
}

// handlePermissionCheck drives conditional UI rendering. It fails closed:
// any parse or lookup problem reads as "no".
func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req permissionCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusOK, permissionCheckResponse{HasPermission: false})
		return
	}
	resource, err := authz.ParseResource(req.Resource)
	if err != nil {
		writeJSON(w, http.StatusOK, permissionCheckResponse{HasPermission: false})
		return
	}
	perm, err := authz.ParsePermission(req.Permission)
	if err != nil {
		writeJSON(w, http.StatusOK, permissionCheckResponse{HasPermission: false})
		return
	}
	up, _ := authz.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, permissionCheckResponse{
		HasPermission: authz.HasPermission(up, resource, perm),
	})
}
