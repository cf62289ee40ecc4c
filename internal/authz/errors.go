package authz

import "errors"

var (
	// ErrResolutionUnavailable indicates an infrastructure failure while
	// resolving permissions. The decision surface converts it to a deny.
	ErrResolutionUnavailable = errors.New("authz: resolution unavailable")
	// ErrSystemRoleImmutable indicates an attempted mutation of a system role.
	ErrSystemRoleImmutable = errors.New("authz: system role immutable")
	// ErrRoleInUse indicates a role deletion while active assignments remain.
	ErrRoleInUse = errors.New("authz: role has active assignments")
	// ErrUnauthorized indicates the actor lacks the privilege level for an
	// administrative operation.
	ErrUnauthorized = errors.New("authz: insufficient privilege")
	// ErrNotFound indicates a referenced role, permission or assignment does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrDuplicate indicates a uniqueness conflict in the underlying store.
	ErrDuplicate = errors.New("authz: duplicate")
	// ErrInvalidInput indicates a structurally invalid administrative request.
	ErrInvalidInput = errors.New("authz: invalid input")
)
