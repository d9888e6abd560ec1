// Package authz defines the closed permission vocabulary of the back office
// and the pure evaluation rules applied to it. It has no I/O and no
// dependencies on the stores; aggregation of a user's permissions happens in
// the rbac package, evaluation happens here.
package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Resource is a protected noun. The set is closed and versioned: adding a
// resource is a code change, never configuration.
type Resource string

const (
	ResourceDashboard          Resource = "dashboard"
	ResourceSettings           Resource = "settings"
	ResourcePermissions        Resource = "permissions"
	ResourceRoles              Resource = "roles"
	ResourceUsers              Resource = "users"
	ResourceWalletTransactions Resource = "wallet-transactions"
	ResourceCustomerSupport    Resource = "customer-support"
	ResourceAdminUsers         Resource = "admin-users"
	ResourceReports            Resource = "reports"
)

var allResources = []Resource{
	ResourceDashboard,
	ResourceSettings,
	ResourcePermissions,
	ResourceRoles,
	ResourceUsers,
	ResourceWalletTransactions,
	ResourceCustomerSupport,
	ResourceAdminUsers,
	ResourceReports,
}

// Resources returns the full resource catalog in declaration order.
func Resources() []Resource {
	out := make([]Resource, len(allResources))
	copy(out, allResources)
	return out
}

// Valid reports whether r belongs to the catalog.
func (r Resource) Valid() bool {
	for _, known := range allResources {
		if r == known {
			return true
		}
	}
	return false
}

func (r Resource) String() string { return string(r) }

// ParseResource normalizes and validates a resource name received at the
// system boundary.
func ParseResource(raw string) (Resource, error) {
	r := Resource(strings.TrimSpace(strings.ToLower(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown resource %q", raw)
	}
	return r, nil
}

// Permission is an action class on a resource. Manage is a superset flag:
// holding it implies every other permission on the same resource.
type Permission string

const (
	PermissionCreate Permission = "create"
	PermissionRead   Permission = "read"
	PermissionUpdate Permission = "update"
	PermissionDelete Permission = "delete"
	PermissionManage Permission = "manage"
)

var allPermissions = []Permission{
	PermissionCreate,
	PermissionRead,
	PermissionUpdate,
	PermissionDelete,
	PermissionManage,
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

func (p Permission) String() string { return string(p) }

// ParsePermission normalizes and validates a permission name received at the
// system boundary.
func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.TrimSpace(strings.ToLower(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown permission %q", raw)
	}
	return p, nil
}

// Well-known role labels. SuperAdmin bypasses grant evaluation entirely.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
)

// Grant couples a resource with the actions allowed on it. A resource absent
// from a role's grant list means zero access to that resource.
type Grant struct {
	Resource Resource     `json:"resource"`
	Actions  []Permission `json:"actions"`
}

// Validate checks the structural invariants of a single grant.
func (g Grant) Validate() error {
	if !g.Resource.Valid() {
		return fmt.Errorf("unknown resource %q", string(g.Resource))
	}
	if len(g.Actions) == 0 {
		return fmt.Errorf("grant for %s has no actions", g.Resource)
	}
	for _, a := range g.Actions {
		if !a.Valid() {
			return fmt.Errorf("unknown permission %q on %s", string(a), g.Resource)
		}
	}
	return nil
}

// NormalizeGrants validates a grant list received at the boundary and merges
// duplicate resources by unioning their action sets. The result is sorted by
// resource for stable storage and comparison.
func NormalizeGrants(grants []Grant) ([]Grant, error) {
	if len(grants) == 0 {
		return nil, fmt.Errorf("at least one grant is required")
	}
	byResource := make(map[Resource]map[Permission]struct{}, len(grants))
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		set, ok := byResource[g.Resource]
		if !ok {
			set = make(map[Permission]struct{}, len(g.Actions))
			byResource[g.Resource] = set
		}
		for _, a := range g.Actions {
			set[a] = struct{}{}
		}
	}
	out := make([]Grant, 0, len(byResource))
	for res, set := range byResource {
		out = append(out, Grant{Resource: res, Actions: sortedActions(set)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out, nil
}

func sortedActions(set map[Permission]struct{}) []Permission {
	out := make([]Permission, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UserPermissions is the computed aggregate the evaluator consumes. It is
// never stored; the rbac package derives it from effective assignments at
// check time. Role carries the highest-precedence role label and is used for
// display and for the super-admin short-circuit only.
type UserPermissions struct {
	UserID string  `json:"user_id"`
	Email  string  `json:"email,omitempty"`
	Role   string  `json:"role"`
	Grants []Grant `json:"grants"`
}
