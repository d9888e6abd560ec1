package rbac

import (
	"context"
	"time"
)

// Store describes persistence operations required by the rbac subsystem.
// Implementations must return the package sentinel errors for the conditions
// they detect (unique violation -> ErrConflict, missing row -> ErrNotFound).
type Store interface {
	Roles(ctx context.Context) RoleStore
	Assignments(ctx context.Context) AssignmentStore
	Templates(ctx context.Context) TemplateStore
	Users(ctx context.Context) UserStore
}

// RoleStore manages role records.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	// Update replaces the stored record wholesale, including its grant list.
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Role, error)
}

// AssignmentStore manages user-role bindings.
type AssignmentStore interface {
	Create(ctx context.Context, a *Assignment) error
	// Deactivate clears the active flag on every binding of the pair. It
	// reports ErrNotFound when no row matched; callers decide whether that
	// matters.
	Deactivate(ctx context.Context, userID, roleID string) error
	ListByUser(ctx context.Context, userID string) ([]*Assignment, error)
	// CountEffectiveByRole counts assignments of the role that are active and
	// unexpired at the given instant.
	CountEffectiveByRole(ctx context.Context, roleID string, now time.Time) (int, error)
}

// TemplateStore manages permission templates.
type TemplateStore interface {
	Create(ctx context.Context, tpl *PermissionTemplate) error
	Find(ctx context.Context, id string) (*PermissionTemplate, error)
	List(ctx context.Context) ([]*PermissionTemplate, error)
}

// UserStore manages admin operator accounts.
type UserStore interface {
	Create(ctx context.Context, u *AdminUser) error
	Find(ctx context.Context, id string) (*AdminUser, error)
	FindByEmail(ctx context.Context, email string) (*AdminUser, error)
}
