package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vaultdesk.io/internal/audit"
	"vaultdesk.io/internal/authz"
	"vaultdesk.io/internal/rbac"
)

type createRoleRequest struct {
	Name        string        `json:"name" validate:"required"`
	Description string        `json:"description" validate:"required"`
	Grants      []authz.Grant `json:"grants"`
}

type roleFromTemplateRequest struct {
	TemplateID  string `json:"template_id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
}

type updateRoleRequest struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	Grants      []authz.Grant `json:"grants"`
}

type replaceGrantsRequest struct {
	Grants []authz.Grant `json:"grants" validate:"required"`
}

type createTemplateRequest struct {
	Name        string        `json:"name" validate:"required"`
	Description string        `json:"description" validate:"required"`
	Grants      []authz.Grant `json:"grants"`
	Default     bool          `json:"default"`
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, authz.ResourceRoles, authz.PermissionRead) {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, authz.ResourceRoles, authz.PermissionCreate) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, validationMessage(err))
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description, req.Grants)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.created", map[string]any{
			"role_id": role.ID,
			"name":    role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleFromTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, authz.ResourceRoles, authz.PermissionCreate) {
		return
	}
	var req roleFromTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}
	role, err := a.rbac.CreateRoleFromTemplate(r.Context(), req.TemplateID, req.Name, req.Description)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.created", map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"template_id": req.TemplateID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
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
		a.handleRole(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRoleGrants(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, authz.ResourceRoles, authz.PermissionRead) {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		if !a.ensurePermission(w, r, authz.ResourceRoles, authz.PermissionUpdate) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), roleID, rbac.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
			Grants:      req.Grants,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.updated", map[string]any{
			"role_id": role.ID,
		})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, authz.ResourceRoles, authz.PermissionDelete) {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.deleted", map[string]any{
			"role_id": roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// handleRoleGrants replaces a role's grant list wholesale.
func (a *API) handleRoleGrants(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, authz.ResourcePermissions, authz.PermissionUpdate) {
		return
	}
	var req replaceGrantsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.UpdateRole(r.Context(), roleID, rbac.RoleUpdate{Grants: req.Grants})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.grants.replaced", map[string]any{
		"role_id": roleID,
		"count":   len(role.Grants),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, authz.ResourcePermissions, authz.PermissionRead) {
			return
		}
		templates, err := a.rbac.ListTemplates(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
	case http.MethodPost:
		if !a.ensurePermission(w, r, authz.ResourcePermissions, authz.PermissionCreate) {
			return
		}
		var req createTemplateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, validationMessage(err))
			return
		}
		tpl, err := a.rbac.CreateTemplate(r.Context(), req.Name, req.Description, req.Grants, req.Default)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.template.created", map[string]any{
			"template_id": tpl.ID,
			"name":        tpl.Name,
		})
		writeJSON(w, http.StatusCreated, tpl)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "assignments":
		a.handleUserAssignments(w, r, userID)
	case len(parts) == 3 && parts[1] == "assignments":
		a.handleUserAssignment(w, r, userID, parts[2])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserAssignments(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, authz.ResourceUsers, authz.PermissionRead) {
			return
		}
		assignments, err := a.rbac.ListAssignments(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
	case http.MethodPost:
		if !a.ensurePermission(w, r, authz.ResourceUsers, authz.PermissionUpdate) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.validate.Struct(req); err != nil {
			writeError(w, r, http.StatusBadRequest, validationMessage(err))
			return
		}
		assignment, err := a.rbac.Assign(r.Context(), userID, req.RoleID, req.ExpiresAt)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.assigned", map[string]any{
			"user_id": userID,
			"role_id": req.RoleID,
		})
		writeJSON(w, http.StatusCreated, assignment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleUserAssignment revokes a single binding. Idempotent: revoking a
// missing binding still answers 204.
func (a *API) handleUserAssignment(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, authz.ResourceUsers, authz.PermissionUpdate) {
		return
	}
	if err := a.rbac.Revoke(r.Context(), userID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.revoked", map[string]any{
		"user_id": userID,
		"role_id": roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, authz.ResourceUsers, authz.PermissionRead) {
		return
	}
	up, err := a.rbac.ComputeUserPermissions(r.Context(), userID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrSystemRole):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, rbac.ErrRoleInUse), errors.Is(err, rbac.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, rbac.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, msgUnauthenticated)
	default:
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}
