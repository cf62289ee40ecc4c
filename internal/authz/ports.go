package authz

import (
	"context"
	"time"
)

// RoleRepository provides access to the role catalog.
type RoleRepository interface {
	Get(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	ListAll(ctx context.Context) ([]Role, error)
	Create(ctx context.Context, role Role) (Role, error)
	Update(ctx context.Context, role Role) (Role, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// PermissionRepository provides access to the permission catalog and the
// role -> permission grants.
type PermissionRepository interface {
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListAllPermissions(ctx context.Context) ([]Permission, error)
	ListGrantsForRole(ctx context.Context, roleID int64) ([]RoleGrant, error)
	AttachGrant(ctx context.Context, grant RoleGrant) error
	DetachGrant(ctx context.Context, roleID, permissionID int64) error
	PurgeExpiredGrants(ctx context.Context, before time.Time) (int64, error)
}

// AssignmentRepository provides access to user -> role assignments.
type AssignmentRepository interface {
	ListActiveAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error)
	Upsert(ctx context.Context, assignment RoleAssignment) error
	Deactivate(ctx context.Context, userID, roleID int64) error
	CountActiveByRole(ctx context.Context, roleID int64) (int64, error)
	ReassignRole(ctx context.Context, fromRoleID, toRoleID int64) (int64, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditSink persists audit records. Writes are best-effort from the caller's
// point of view; the Recorder swallows sink failures.
type AuditSink interface {
	Write(ctx context.Context, record AuditRecord) error
}

// MembershipLookup answers organization membership questions for
// context-conditional checks.
type MembershipLookup interface {
	IsMember(ctx context.Context, userID int64, organizationID string) (bool, error)
}
