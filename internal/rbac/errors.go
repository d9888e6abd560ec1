package rbac

import "errors"

var (
	ErrNotFound     = errors.New("rbac: not found")
	ErrConflict     = errors.New("rbac: already exists")
	ErrInvalidInput = errors.New("rbac: invalid input")
	ErrRoleInUse    = errors.New("rbac: role has active assignments")
	ErrSystemRole   = errors.New("rbac: system role is immutable")
	ErrUnauthorized = errors.New("rbac: unauthorized")
)
