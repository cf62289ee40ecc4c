package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signalboard/signalboard/internal/platform/db"
)

// PGStore implements the repository ports and the audit sink on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var (
	_ RoleRepository       = (*PGStore)(nil)
	_ PermissionRepository = (*PGStore)(nil)
	_ AssignmentRepository = (*PGStore)(nil)
	_ AuditSink            = (*PGStore)(nil)
	_ MembershipLookup     = (*PGStore)(nil)
)

const roleColumns = `id, name, display_name, description, level, parent_role_id, is_system, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&role.Level, &role.ParentRoleID, &role.IsSystemRole, &role.IsActive,
		&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// Get fetches a role by id.
func (s *PGStore) Get(ctx context.Context, id int64) (Role, error) {
	return scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetByName fetches a role by its machine name.
func (s *PGStore) GetByName(ctx context.Context, name string) (Role, error) {
	return scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, normalize(name)))
}

// ListAll returns all roles ordered by level then name.
func (s *PGStore) ListAll(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Create inserts a new role.
func (s *PGStore) Create(ctx context.Context, role Role) (Role, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO roles (name, display_name, description, level, parent_role_id, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING `+roleColumns,
		role.Name, jsonOrNil(role.DisplayName), jsonOrNil(role.Description),
		role.Level, role.ParentRoleID, role.IsSystemRole, role.IsActive)
	created, err := scanRole(row)
	if err != nil {
		return Role{}, mapPGError(err)
	}
	return created, nil
}

// Update mutates an existing role.
func (s *PGStore) Update(ctx context.Context, role Role) (Role, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE roles
		SET name = $2, display_name = $3, description = $4, level = $5, parent_role_id = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns,
		role.ID, role.Name, jsonOrNil(role.DisplayName), jsonOrNil(role.Description),
		role.Level, role.ParentRoleID)
	updated, err := scanRole(row)
	if err != nil {
		return Role{}, mapPGError(err)
	}
	return updated, nil
}

// SetActive toggles the soft-delete flag.
func (s *PGStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE roles SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const permissionColumns = `id, name, resource, action, category, conditions, is_system`

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Resource, &perm.Action,
		&perm.Category, &perm.Conditions, &perm.IsSystemPermission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return perm, nil
}

// GetPermission fetches a permission by id.
func (s *PGStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(s.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
}

// GetPermissionByName fetches a permission by its canonical name.
func (s *PGStore) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	return scanPermission(s.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, normalize(name)))
}

// ListAllPermissions returns the permission catalog ordered by name.
func (s *PGStore) ListAllPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// ListGrantsForRole returns the grants attached to a role, with the
// permission identity denormalized for resolution.
func (s *PGStore) ListGrantsForRole(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.role_id, g.permission_id, p.name, p.resource, p.action,
		       g.granted_by, g.conditions, g.granted_at, g.expires_at
		FROM role_grants g
		JOIN permissions p ON p.id = g.permission_id
		WHERE g.role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []RoleGrant
	for rows.Next() {
		var grant RoleGrant
		if err := rows.Scan(&grant.RoleID, &grant.PermissionID, &grant.PermissionName,
			&grant.Resource, &grant.Action, &grant.GrantedBy, &grant.Conditions,
			&grant.GrantedAt, &grant.ExpiresAt); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// AttachGrant upserts a grant keyed by (role_id, permission_id).
func (s *PGStore) AttachGrant(ctx context.Context, grant RoleGrant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_grants (role_id, permission_id, granted_by, conditions, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (role_id, permission_id)
		DO UPDATE SET granted_by = EXCLUDED.granted_by, conditions = EXCLUDED.conditions,
		              granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at`,
		grant.RoleID, grant.PermissionID, grant.GrantedBy, jsonOrNil(grant.Conditions),
		grant.GrantedAt, grant.ExpiresAt)
	return mapPGError(err)
}

// DetachGrant removes a grant.
func (s *PGStore) DetachGrant(ctx context.Context, roleID, permissionID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_grants WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpiredGrants deletes grants whose expiry already excludes them.
func (s *PGStore) PurgeExpiredGrants(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_grants WHERE expires_at IS NOT NULL AND expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveAssignments returns assignments that are active and not expired.
// The resolver re-applies the same filter against its own clock.
func (s *PGStore) ListActiveAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, role_id, assigned_by, context, assigned_at, expires_at, is_active
		FROM role_assignments
		WHERE user_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > NOW())`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		var assignment RoleAssignment
		if err := rows.Scan(&assignment.UserID, &assignment.RoleID, &assignment.AssignedBy,
			&assignment.Context, &assignment.AssignedAt, &assignment.ExpiresAt,
			&assignment.IsActive); err != nil {
			return nil, err
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

// Upsert inserts or reactivates an assignment keyed by
// (user_id, role_id, context); the same role held under different scoping
// contexts stays as separate rows. An absent context is stored as '{}' so
// unscoped assignments share one identity under the unique index.
func (s *PGStore) Upsert(ctx context.Context, assignment RoleAssignment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_assignments (user_id, role_id, assigned_by, context, assigned_at, expires_at, is_active)
		VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), $5, $6, TRUE)
		ON CONFLICT (user_id, role_id, context)
		DO UPDATE SET assigned_by = EXCLUDED.assigned_by,
		              assigned_at = EXCLUDED.assigned_at, expires_at = EXCLUDED.expires_at,
		              is_active = TRUE`,
		assignment.UserID, assignment.RoleID, assignment.AssignedBy,
		jsonOrNil(assignment.Context), assignment.AssignedAt, assignment.ExpiresAt)
	return mapPGError(err)
}

// Deactivate soft-revokes an assignment.
func (s *PGStore) Deactivate(ctx context.Context, userID, roleID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE role_assignments SET is_active = FALSE
		WHERE user_id = $1 AND role_id = $2 AND is_active`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveByRole counts live holders of a role.
func (s *PGStore) CountActiveByRole(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM role_assignments
		WHERE role_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > NOW())`, roleID).Scan(&count)
	return count, err
}

// ReassignRole moves active assignments from one role to another. Holders
// already carrying the target role keep that assignment; their old one is
// deactivated. Both steps run in one transaction.
func (s *PGStore) ReassignRole(ctx context.Context, fromRoleID, toRoleID int64) (int64, error) {
	var moved int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE role_assignments a SET role_id = $2
			WHERE a.role_id = $1 AND a.is_active
			  AND NOT EXISTS (
				SELECT 1 FROM role_assignments b
				WHERE b.user_id = a.user_id AND b.role_id = $2
			  )`, fromRoleID, toRoleID)
		if err != nil {
			return err
		}
		moved = tag.RowsAffected()
		_, err = tx.Exec(ctx, `UPDATE role_assignments SET is_active = FALSE WHERE role_id = $1 AND is_active`, fromRoleID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// PurgeExpired deletes assignments whose expiry already excludes them.
func (s *PGStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_assignments WHERE expires_at IS NOT NULL AND expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Write appends an audit record.
func (s *PGStore) Write(ctx context.Context, record AuditRecord) error {
	meta, err := json.Marshal(record.Meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, actor_id, action, permission, resource_id, result, reason, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID, record.UserID, record.ActorID, record.Action, record.Permission,
		record.ResourceID, string(record.Result), record.Reason, meta, record.At)
	return err
}

// IsMember reports whether the user is a verified member of the organization.
func (s *PGStore) IsMember(ctx context.Context, userID int64, organizationID string) (bool, error) {
	var member bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM organization_members
			WHERE user_id = $1 AND organization_id = $2 AND is_verified
		)`, userID, organizationID).Scan(&member)
	return member, err
}

func jsonOrNil[M ~map[string]V, V any](m M) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
