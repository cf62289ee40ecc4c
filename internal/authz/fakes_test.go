package authz

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"
)

var errStoreDown = errors.New("store down")

// memoryStore backs every port with maps so service behaviour can be tested
// without a database. Call counters let tests assert cache behaviour.
type memoryStore struct {
	mu          sync.Mutex
	roles       map[int64]Role
	perms       map[int64]Permission
	grants      map[int64][]RoleGrant
	assignments map[int64][]RoleAssignment
	members     map[string]map[int64]bool
	audits      []AuditRecord
	nextRoleID  int64

	listAssignmentCalls int
	listGrantCalls      int

	failAssignments bool
	failRoles       bool
	failGrants      bool
	failAudit       bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		roles:       make(map[int64]Role),
		perms:       make(map[int64]Permission),
		grants:      make(map[int64][]RoleGrant),
		assignments: make(map[int64][]RoleAssignment),
		members:     make(map[string]map[int64]bool),
	}
}

func (s *memoryStore) addRole(role Role) Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == 0 {
		s.nextRoleID++
		role.ID = s.nextRoleID
	} else if role.ID > s.nextRoleID {
		s.nextRoleID = role.ID
	}
	s.roles[role.ID] = role
	return role
}

func (s *memoryStore) addPermission(p Permission) Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[p.ID] = p
	return p
}

func (s *memoryStore) grant(roleID int64, p Permission, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[roleID] = append(s.grants[roleID], RoleGrant{
		RoleID:         roleID,
		PermissionID:   p.ID,
		PermissionName: p.Name,
		Resource:       p.Resource,
		Action:         p.Action,
		GrantedAt:      time.Now(),
		ExpiresAt:      expiresAt,
	})
}

func (s *memoryStore) assign(userID, roleID int64, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[userID] = append(s.assignments[userID], RoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: time.Now(),
		ExpiresAt:  expiresAt,
		IsActive:   true,
	})
}

func (s *memoryStore) Get(_ context.Context, id int64) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRoles {
		return Role{}, errStoreDown
	}
	role, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (s *memoryStore) GetByName(_ context.Context, name string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *memoryStore) ListAll(_ context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, role)
	}
	return out, nil
}

func (s *memoryStore) Create(_ context.Context, role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return Role{}, ErrDuplicate
		}
	}
	s.nextRoleID++
	role.ID = s.nextRoleID
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	s.roles[role.ID] = role
	return role, nil
}

func (s *memoryStore) Update(_ context.Context, role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.roles[role.ID]
	if !ok {
		return Role{}, ErrNotFound
	}
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = time.Now()
	role.IsActive = existing.IsActive
	s.roles[role.ID] = role
	return role, nil
}

func (s *memoryStore) SetActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return ErrNotFound
	}
	role.IsActive = active
	s.roles[id] = role
	return nil
}

func (s *memoryStore) GetPermission(_ context.Context, id int64) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (s *memoryStore) GetPermissionByName(_ context.Context, name string) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (s *memoryStore) ListAllPermissions(_ context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *memoryStore) ListGrantsForRole(_ context.Context, roleID int64) ([]RoleGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listGrantCalls++
	if s.failGrants {
		return nil, errStoreDown
	}
	return append([]RoleGrant(nil), s.grants[roleID]...), nil
}

func (s *memoryStore) AttachGrant(_ context.Context, grant RoleGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.grants[grant.RoleID] {
		if existing.PermissionID == grant.PermissionID {
			return ErrDuplicate
		}
	}
	s.grants[grant.RoleID] = append(s.grants[grant.RoleID], grant)
	return nil
}

func (s *memoryStore) DetachGrant(_ context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.grants[roleID][:0]
	for _, g := range s.grants[roleID] {
		if g.PermissionID != permissionID {
			kept = append(kept, g)
		}
	}
	s.grants[roleID] = kept
	return nil
}

func (s *memoryStore) PurgeExpiredGrants(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for roleID, grants := range s.grants {
		kept := grants[:0]
		for _, g := range grants {
			if g.ExpiresAt != nil && g.ExpiresAt.Before(before) {
				purged++
				continue
			}
			kept = append(kept, g)
		}
		s.grants[roleID] = kept
	}
	return purged, nil
}

func (s *memoryStore) ListActiveAssignments(_ context.Context, userID int64) ([]RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listAssignmentCalls++
	if s.failAssignments {
		return nil, errStoreDown
	}
	var out []RoleAssignment
	for _, a := range s.assignments[userID] {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memoryStore) Upsert(_ context.Context, assignment RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Assignment identity is (user, role, context); the same role under a
	// different scoping context is a separate row.
	for i, existing := range s.assignments[assignment.UserID] {
		if existing.RoleID == assignment.RoleID && maps.Equal(existing.Context, assignment.Context) {
			s.assignments[assignment.UserID][i] = assignment
			return nil
		}
	}
	s.assignments[assignment.UserID] = append(s.assignments[assignment.UserID], assignment)
	return nil
}

func (s *memoryStore) Deactivate(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found bool
	for i, a := range s.assignments[userID] {
		if a.RoleID == roleID && a.IsActive {
			a.IsActive = false
			s.assignments[userID][i] = a
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *memoryStore) CountActiveByRole(_ context.Context, roleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, list := range s.assignments {
		for _, a := range list {
			if a.RoleID == roleID && a.IsActive {
				count++
			}
		}
	}
	return count, nil
}

func (s *memoryStore) ReassignRole(_ context.Context, fromRoleID, toRoleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved int64
	for userID, list := range s.assignments {
		hasTarget := false
		for _, a := range list {
			if a.RoleID == toRoleID && a.IsActive {
				hasTarget = true
			}
		}
		for i, a := range list {
			if a.RoleID != fromRoleID || !a.IsActive {
				continue
			}
			if hasTarget {
				a.IsActive = false
			} else {
				a.RoleID = toRoleID
				moved++
			}
			s.assignments[userID][i] = a
		}
	}
	return moved, nil
}

func (s *memoryStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for userID, list := range s.assignments {
		kept := list[:0]
		for _, a := range list {
			if a.ExpiresAt != nil && a.ExpiresAt.Before(before) {
				purged++
				continue
			}
			kept = append(kept, a)
		}
		s.assignments[userID] = kept
	}
	return purged, nil
}

func (s *memoryStore) Write(_ context.Context, record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAudit {
		return errStoreDown
	}
	s.audits = append(s.audits, record)
	return nil
}

func (s *memoryStore) IsMember(_ context.Context, userID int64, organizationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[organizationID][userID], nil
}

func (s *memoryStore) addMember(organizationID string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[organizationID] == nil {
		s.members[organizationID] = make(map[int64]bool)
	}
	s.members[organizationID][userID] = true
}

func (s *memoryStore) assignmentCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listAssignmentCalls
}

func (s *memoryStore) auditRecords() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditRecord(nil), s.audits...)
}

var (
	_ RoleRepository       = (*memoryStore)(nil)
	_ PermissionRepository = (*memoryStore)(nil)
	_ AssignmentRepository = (*memoryStore)(nil)
	_ AuditSink            = (*memoryStore)(nil)
	_ MembershipLookup     = (*memoryStore)(nil)
)
