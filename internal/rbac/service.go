package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"vaultdesk.io/internal/authz"
	"vaultdesk.io/internal/ids"
)

const (
	minNameLen        = 2
	maxNameLen        = 50
	minDescriptionLen = 5
	maxDescriptionLen = 200
)

// Service enforces the business rules of the role and assignment stores. All
// reads on the aggregation path see committed store state; the service keeps
// no cache.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service around the given store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validateRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < minNameLen || len(name) > maxNameLen {
		return "", fmt.Errorf("%w: name must be between %d and %d characters", ErrInvalidInput, minNameLen, maxNameLen)
	}
	return name, nil
}

func validateDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if len(desc) < minDescriptionLen || len(desc) > maxDescriptionLen {
		return "", fmt.Errorf("%w: description must be between %d and %d characters", ErrInvalidInput, minDescriptionLen, maxDescriptionLen)
	}
	return desc, nil
}

// callerIsSuperAdmin inspects the authenticated principal attached to ctx.
// Requests arriving outside the HTTP guard (seeding, CLI) carry no principal
// and are treated as non-privileged.
func callerIsSuperAdmin(ctx context.Context) bool {
	up, ok := authz.PrincipalFromContext(ctx)
	return ok && up.Role == authz.RoleSuperAdmin
}

// CreateRole validates and persists a new role. A name collision yields
// ErrConflict so callers can distinguish it from generic validation failure.
func (s *Service) CreateRole(ctx context.Context, name, description string, grants []authz.Grant) (*Role, error) {
	name, err := validateRoleName(name)
	if err != nil {
		return nil, err
	}
	description, err = validateDescription(description)
	if err != nil {
		return nil, err
	}
	normalized, err := authz.NormalizeGrants(grants)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	if _, err := s.store.Roles(ctx).FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: role name %q already exists", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		Grants:      normalized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: role name %q already exists", ErrConflict, name)
		}
		return nil, err
	}
	return role, nil
}

// CreateRoleFromTemplate seeds a new role with a template's grant bundle.
func (s *Service) CreateRoleFromTemplate(ctx context.Context, templateID, name, description string) (*Role, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return nil, fmt.Errorf("%w: template_id is required", ErrInvalidInput)
	}
	tpl, err := s.store.Templates(ctx).Find(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.CreateRole(ctx, name, description, tpl.Grants)
}

// GetRole loads a single role.
func (s *Service) GetRole(ctx context.Context, id string) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Find(ctx, id)
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// RoleUpdate carries the fields of an update request. A nil field is left
// unchanged; a non-nil Grants always replaces the stored list wholesale.
type RoleUpdate struct {
	Name        *string
	Description *string
	Grants      []authz.Grant
}

// UpdateRole applies upd to the role. System roles may only be touched by a
// super-admin caller.
func (s *Service) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	roles := s.store.Roles(ctx)
	role, err := roles.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.System && !callerIsSuperAdmin(ctx) {
		return nil, ErrSystemRole
	}
	if upd.Name != nil {
		name, err := validateRoleName(*upd.Name)
		if err != nil {
			return nil, err
		}
		if name != role.Name {
			if _, err := roles.FindByName(ctx, name); err == nil {
				return nil, fmt.Errorf("%w: role name %q already exists", ErrConflict, name)
			} else if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
		role.Name = name
	}
	if upd.Description != nil {
		desc, err := validateDescription(*upd.Description)
		if err != nil {
			return nil, err
		}
		role.Description = desc
	}
	if upd.Grants != nil {
		normalized, err := authz.NormalizeGrants(upd.Grants)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
		}
		role.Grants = normalized
	}
	role.UpdatedAt = s.now().UTC()
	if err := roles.Update(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a role. Deletion is rejected while any effective
// assignment still references the role; callers must revoke those first.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.Roles(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if role.System && !callerIsSuperAdmin(ctx) {
		return ErrSystemRole
	}
	inUse, err := s.store.Assignments(ctx).CountEffectiveByRole(ctx, id, s.now().UTC())
	if err != nil {
		return err
	}
	if inUse > 0 {
		return fmt.Errorf("%w: %d active assignments", ErrRoleInUse, inUse)
	}
	return s.store.Roles(ctx).Delete(ctx, id)
}

// CreateTemplate persists a reusable grant bundle.
func (s *Service) CreateTemplate(ctx context.Context, name, description string, grants []authz.Grant, isDefault bool) (*PermissionTemplate, error) {
	name, err := validateRoleName(name)
	if err != nil {
		return nil, err
	}
	description, err = validateDescription(description)
	if err != nil {
		return nil, err
	}
	normalized, err := authz.NormalizeGrants(grants)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	tpl := &PermissionTemplate{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		Grants:      normalized,
		Default:     isDefault,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Templates(ctx).Create(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// ListTemplates returns the template catalog.
func (s *Service) ListTemplates(ctx context.Context) ([]*PermissionTemplate, error) {
	return s.store.Templates(ctx).List(ctx)
}

// Assign binds a role to a user. An expiry, when present, must lie strictly
// in the future. Assigning an already-effective pair returns the existing
// binding unchanged so retries are harmless.
func (s *Service) Assign(ctx context.Context, userID, roleID string, expiresAt *time.Time) (*Assignment, error) {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return nil, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return nil, err
	}
	existing, err := s.store.Assignments(ctx).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.RoleID == roleID && a.EffectiveAt(now) {
			return a, nil
		}
	}
	assignment := &Assignment{
		ID:         ids.New(),
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: now,
		ExpiresAt:  expiresAt,
		Active:     true,
	}
	if up, ok := authz.PrincipalFromContext(ctx); ok {
		assignment.AssignedBy = up.UserID
	}
	if err := s.store.Assignments(ctx).Create(ctx, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

// Revoke deactivates the binding of a role to a user. Revoking a missing or
// already-revoked binding is a no-op, never an error; an expired binding is
// never resurrected because deactivation only clears the active flag.
func (s *Service) Revoke(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.Assignments(ctx).Deactivate(ctx, userID, roleID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ListAssignments returns every binding of the user, effective or not.
func (s *Service) ListAssignments(ctx context.Context, userID string) ([]*Assignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Assignments(ctx).ListByUser(ctx, userID)
}

// ComputeUserPermissions aggregates the grants of every effective assignment
// of the user, unioning action sets per resource. A super-admin assignment
// bypasses aggregation and grants everything.
func (s *Service) ComputeUserPermissions(ctx context.Context, userID string) (*authz.UserPermissions, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	assignments, err := s.store.Assignments(ctx).ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var roleNames []string
	var grants []authz.Grant
	for _, a := range assignments {
		if !a.EffectiveAt(now) {
			continue
		}
		role, err := s.store.Roles(ctx).Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Assignment outlived its role; treat as granting nothing.
				continue
			}
			return nil, err
		}
		if role.Name == authz.RoleSuperAdmin {
			return &authz.UserPermissions{
				UserID: userID,
				Role:   authz.RoleSuperAdmin,
				Grants: superAdminGrants(),
			}, nil
		}
		roleNames = append(roleNames, role.Name)
		grants = append(grants, role.Grants...)
	}
	up := &authz.UserPermissions{UserID: userID, Role: displayRole(roleNames)}
	if len(grants) > 0 {
		merged, err := authz.NormalizeGrants(grants)
		if err != nil {
			return nil, err
		}
		up.Grants = merged
	}
	return up, nil
}

// displayRole picks the label shown for a user holding several roles:
// super_admin wins, then admin, then the lexicographically smallest name for
// determinism. Labeling only; it never affects the permission union.
func displayRole(names []string) string {
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	for _, n := range names {
		if n == authz.RoleSuperAdmin {
			return authz.RoleSuperAdmin
		}
	}
	for _, n := range names {
		if n == authz.RoleAdmin {
			return authz.RoleAdmin
		}
	}
	return names[0]
}

// superAdminGrants renders the full catalog for display purposes. The
// evaluator short-circuits on the role label and never consults this list.
func superAdminGrants() []authz.Grant {
	resources := authz.Resources()
	out := make([]authz.Grant, 0, len(resources))
	for _, r := range resources {
		out = append(out, authz.Grant{Resource: r, Actions: []authz.Permission{authz.PermissionManage}})
	}
	return out
}
