package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AdminConfig collects the administration service's collaborators.
type AdminConfig struct {
	Roles       RoleRepository
	Permissions PermissionRepository
	Assignments AssignmentRepository
	Resolver    *Resolver
	Audit       *Recorder
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Admin performs controlled mutation of role, grant and assignment data.
// Every successful mutation evicts the affected resolver cache entries
// before returning, so the next resolution reflects the change.
type Admin struct {
	roles       RoleRepository
	permissions PermissionRepository
	assignments AssignmentRepository
	resolver    *Resolver
	audit       *Recorder
	logger      *slog.Logger
	now         func() time.Time
	roleLocks   lockTable
}

// NewAdmin constructs an Admin service.
func NewAdmin(cfg AdminConfig) *Admin {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Admin{
		roles:       cfg.Roles,
		permissions: cfg.Permissions,
		assignments: cfg.Assignments,
		resolver:    cfg.Resolver,
		audit:       cfg.Audit,
		logger:      logger,
		now:         clock,
	}
}

// AssignOptions carries the optional attributes of a role assignment.
type AssignOptions struct {
	Context   map[string]string
	ExpiresAt *time.Time
}

// GrantOptions carries the optional attributes of a permission grant.
type GrantOptions struct {
	Conditions map[string]any
	ExpiresAt  *time.Time
}

// CanAssignRole reports whether the assigner holds a role strictly more
// privileged (lower level) than the target role.
func (a *Admin) CanAssignRole(ctx context.Context, assignerID, roleID int64) (bool, error) {
	target, err := a.roles.Get(ctx, roleID)
	if err != nil {
		return false, err
	}
	res, err := a.resolver.Resolve(ctx, assignerID)
	if err != nil {
		return false, err
	}
	highest, ok := res.HighestRole()
	if !ok {
		return false, nil
	}
	return highest.Level < target.Level, nil
}

// AssignRole grants roleID to userID on behalf of assignerID.
func (a *Admin) AssignRole(ctx context.Context, assignerID, userID, roleID int64, opts AssignOptions) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	target, err := a.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if !target.IsActive {
		return fmt.Errorf("%w: role %q is inactive", ErrNotFound, target.Name)
	}
	if err := a.requirePrivilege(ctx, assignerID, target, AuditActionRoleAssigned, userID); err != nil {
		return err
	}

	assignment := RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: &assignerID,
		Context:    opts.Context,
		AssignedAt: a.now().UTC(),
		ExpiresAt:  opts.ExpiresAt,
		IsActive:   true,
	}
	if err := a.assignments.Upsert(ctx, assignment); err != nil {
		return fmt.Errorf("assign role %q to user %d: %w", target.Name, userID, err)
	}
	if err := a.resolver.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("role assigned but cache eviction failed: %w", err)
	}
	a.recordMutation(ctx, assignerID, userID, AuditActionRoleAssigned, target)
	return nil
}

// RevokeRole soft-revokes roleID from userID. The assignment row is kept
// with IsActive=false; it is never hard-deleted here.
func (a *Admin) RevokeRole(ctx context.Context, assignerID, userID, roleID int64) error {
	target, err := a.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if err := a.requirePrivilege(ctx, assignerID, target, AuditActionRoleRevoked, userID); err != nil {
		return err
	}
	if err := a.assignments.Deactivate(ctx, userID, roleID); err != nil {
		return fmt.Errorf("revoke role %q from user %d: %w", target.Name, userID, err)
	}
	if err := a.resolver.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("role revoked but cache eviction failed: %w", err)
	}
	a.recordMutation(ctx, assignerID, userID, AuditActionRoleRevoked, target)
	return nil
}

// CreateRole inserts a new role after validating its invariants.
func (a *Admin) CreateRole(ctx context.Context, actorID int64, role Role) (Role, error) {
	if err := a.validateRole(ctx, role); err != nil {
		return Role{}, err
	}
	role.Name = normalize(role.Name)
	role.IsActive = true
	created, err := a.roles.Create(ctx, role)
	if err != nil {
		return Role{}, fmt.Errorf("create role %q: %w", role.Name, err)
	}
	a.recordMutation(ctx, actorID, 0, AuditActionRoleCreated, created)
	return created, nil
}

// UpdateRole mutates a non-system role.
func (a *Admin) UpdateRole(ctx context.Context, actorID int64, role Role) (Role, error) {
	existing, err := a.roles.Get(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	if existing.IsSystemRole {
		return Role{}, fmt.Errorf("%w: role %q", ErrSystemRoleImmutable, existing.Name)
	}
	if err := a.validateRole(ctx, role); err != nil {
		return Role{}, err
	}
	role.Name = normalize(role.Name)
	updated, err := a.roles.Update(ctx, role)
	if err != nil {
		return Role{}, fmt.Errorf("update role %q: %w", role.Name, err)
	}
	// Level or name changes affect every holder; the per-user cache cannot
	// target them individually.
	if err := a.resolver.InvalidateAll(ctx); err != nil {
		return Role{}, fmt.Errorf("role updated but cache eviction failed: %w", err)
	}
	a.recordMutation(ctx, actorID, 0, AuditActionRoleUpdated, updated)
	return updated, nil
}

// DeleteRole soft-deletes a role. When active assignments remain the call
// fails with ErrRoleInUse unless reassignTo names a replacement role;
// assignments are never silently orphaned.
func (a *Admin) DeleteRole(ctx context.Context, actorID, roleID int64, reassignTo *int64) error {
	existing, err := a.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if existing.IsSystemRole {
		return fmt.Errorf("%w: role %q", ErrSystemRoleImmutable, existing.Name)
	}

	holders, err := a.assignments.CountActiveByRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("count holders of role %q: %w", existing.Name, err)
	}
	if holders > 0 {
		if reassignTo == nil {
			return fmt.Errorf("%w: role %q has %d active holders", ErrRoleInUse, existing.Name, holders)
		}
		if *reassignTo == roleID {
			return fmt.Errorf("%w: cannot reassign role to itself", ErrInvalidInput)
		}
		replacement, err := a.roles.Get(ctx, *reassignTo)
		if err != nil {
			return err
		}
		if !replacement.IsActive {
			return fmt.Errorf("%w: replacement role %q is inactive", ErrInvalidInput, replacement.Name)
		}
		if _, err := a.assignments.ReassignRole(ctx, roleID, *reassignTo); err != nil {
			return fmt.Errorf("reassign holders of role %q: %w", existing.Name, err)
		}
	}

	if err := a.roles.SetActive(ctx, roleID, false); err != nil {
		return fmt.Errorf("delete role %q: %w", existing.Name, err)
	}
	if err := a.resolver.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("role deleted but cache eviction failed: %w", err)
	}
	a.recordMutation(ctx, actorID, 0, AuditActionRoleDeleted, existing)
	return nil
}

// GrantPermission attaches a permission to a role. Writes for the same role
// are serialized to avoid lost updates on the grant set.
func (a *Admin) GrantPermission(ctx context.Context, actorID, roleID, permissionID int64, opts GrantOptions) error {
	unlock := a.roleLocks.lock(roleID)
	defer unlock()

	role, err := a.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	perm, err := a.permissions.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	grant := RoleGrant{
		RoleID:         roleID,
		PermissionID:   permissionID,
		PermissionName: perm.Name,
		Resource:       perm.Resource,
		Action:         perm.Action,
		GrantedBy:      &actorID,
		Conditions:     opts.Conditions,
		GrantedAt:      a.now().UTC(),
		ExpiresAt:      opts.ExpiresAt,
	}
	if err := a.permissions.AttachGrant(ctx, grant); err != nil {
		return fmt.Errorf("grant %q to role %q: %w", perm.Name, role.Name, err)
	}
	// Role-level changes affect every holder; over-invalidation is accepted.
	if err := a.resolver.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("permission granted but cache eviction failed: %w", err)
	}
	a.recordGrantMutation(ctx, actorID, AuditActionPermissionGranted, role, perm)
	return nil
}

// RevokePermission detaches a permission from a role.
func (a *Admin) RevokePermission(ctx context.Context, actorID, roleID, permissionID int64) error {
	unlock := a.roleLocks.lock(roleID)
	defer unlock()

	role, err := a.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	perm, err := a.permissions.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	if err := a.permissions.DetachGrant(ctx, roleID, permissionID); err != nil {
		return fmt.Errorf("revoke %q from role %q: %w", perm.Name, role.Name, err)
	}
	if err := a.resolver.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("permission revoked but cache eviction failed: %w", err)
	}
	a.recordGrantMutation(ctx, actorID, AuditActionPermissionRevoked, role, perm)
	return nil
}

// PurgeExpired hard-deletes assignment and grant rows whose expiry already
// excludes them from resolution. Run periodically to keep tables bounded;
// resolution semantics are unchanged by the purge.
func (a *Admin) PurgeExpired(ctx context.Context) (int64, error) {
	now := a.now().UTC()
	assignments, err := a.assignments.PurgeExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired assignments: %w", err)
	}
	grants, err := a.permissions.PurgeExpiredGrants(ctx, now)
	if err != nil {
		return assignments, fmt.Errorf("purge expired grants: %w", err)
	}
	return assignments + grants, nil
}

func (a *Admin) requirePrivilege(ctx context.Context, assignerID int64, target Role, action string, userID int64) error {
	res, err := a.resolver.Resolve(ctx, assignerID)
	if err != nil {
		return fmt.Errorf("resolve assigner %d: %w", assignerID, err)
	}
	highest, ok := res.HighestRole()
	if ok && highest.Level < target.Level {
		return nil
	}
	a.audit.Record(ctx, AuditRecord{
		UserID:     userID,
		ActorID:    assignerID,
		Action:     AuditActionAdminDenied,
		Permission: target.Name,
		Result:     DecisionDenied,
		Reason:     fmt.Sprintf("attempted %s above privilege level", action),
	})
	return fmt.Errorf("%w: assigner %d cannot administer role %q (level %d)", ErrUnauthorized, assignerID, target.Name, target.Level)
}

func (a *Admin) validateRole(ctx context.Context, role Role) error {
	if normalize(role.Name) == "" {
		return fmt.Errorf("%w: role name required", ErrInvalidInput)
	}
	if role.Level < 0 {
		return fmt.Errorf("%w: role level must be non-negative", ErrInvalidInput)
	}
	if role.ParentRoleID != nil {
		if *role.ParentRoleID == role.ID && role.ID != 0 {
			return fmt.Errorf("%w: role cannot be its own parent", ErrInvalidInput)
		}
		parent, err := a.roles.Get(ctx, *role.ParentRoleID)
		if err != nil {
			return err
		}
		// A parent must not be less privileged than its child.
		if parent.Level > role.Level {
			return fmt.Errorf("%w: parent role %q (level %d) is less privileged than level %d", ErrInvalidInput, parent.Name, parent.Level, role.Level)
		}
	}
	return nil
}

func (a *Admin) recordMutation(ctx context.Context, actorID, userID int64, action string, role Role) {
	a.audit.Record(ctx, AuditRecord{
		UserID:  userID,
		ActorID: actorID,
		Action:  action,
		Result:  DecisionAllowed,
		Meta:    map[string]any{"role_id": role.ID, "role_name": role.Name, "role_level": role.Level},
	})
}

func (a *Admin) recordGrantMutation(ctx context.Context, actorID int64, action string, role Role, perm Permission) {
	a.audit.Record(ctx, AuditRecord{
		ActorID:    actorID,
		Action:     action,
		Permission: perm.Name,
		Result:     DecisionAllowed,
		Meta:       map[string]any{"role_id": role.ID, "role_name": role.Name},
	})
}

// lockTable hands out one mutex per role id.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (t *lockTable) lock(id int64) func() {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[int64]*sync.Mutex)
	}
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}
