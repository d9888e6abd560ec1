package authz

// HasPermission decides whether the aggregated permissions allow perm on
// resource. Missing or ambiguous data always resolves to deny; callers log
// denials, the evaluator itself is silent and side-effect free.
func HasPermission(up *UserPermissions, resource Resource, perm Permission) bool {
	if up == nil {
		return false
	}
	if up.Role == RoleSuperAdmin {
		return true
	}
	if !resource.Valid() || !perm.Valid() {
		return false
	}
	for _, g := range up.Grants {
		if g.Resource != resource {
			continue
		}
		for _, a := range g.Actions {
			if a == perm || a == PermissionManage {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission reports whether at least one of perms is allowed on
// resource. An empty perms list denies.
func HasAnyPermission(up *UserPermissions, resource Resource, perms ...Permission) bool {
	for _, p := range perms {
		if HasPermission(up, resource, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of perms is allowed on
// resource. An empty perms list denies.
func HasAllPermissions(up *UserPermissions, resource Resource, perms ...Permission) bool {
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		if !HasPermission(up, resource, p) {
			return false
		}
	}
	return true
}
