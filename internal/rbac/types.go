package rbac

import (
	"time"

	"vaultdesk.io/internal/authz"
)

// Role groups grants under a name. System roles ship with the product and are
// immutable for everyone except a super admin.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Grants      []authz.Grant `json:"grants"`
	System      bool          `json:"system"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Assignment binds a role to an admin user. Expiry is evaluated lazily at
// permission-aggregation time; nothing deletes expired rows in the background.
type Assignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Active     bool       `json:"active"`
}

// EffectiveAt reports whether the assignment grants anything at the given
// instant: it must be active and, when an expiry is set, strictly before it.
func (a Assignment) EffectiveAt(now time.Time) bool {
	if !a.Active {
		return false
	}
	if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
		return false
	}
	return true
}

// PermissionTemplate is a named, reusable grant bundle used to seed new
// roles. Templates are never consulted at request time.
type PermissionTemplate struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Grants      []authz.Grant `json:"grants"`
	Default     bool          `json:"default"`
	CreatedAt   time.Time     `json:"created_at"`
}

// AdminUser is a back-office operator account. Only active accounts may log
// in; the password hash is bcrypt.
type AdminUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)
