package authz

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// Wildcard matches any resource or action when stored in a grant.
const Wildcard = "*"

// PermissionName derives the canonical permission name for a resource/action pair.
func PermissionName(resource, action string) string {
	return normalize(resource) + ":" + normalize(action)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Role is a named bundle of permissions with a privilege level.
// Lower Level means more privileged.
type Role struct {
	ID           int64
	Name         string
	DisplayName  map[string]string // BCP-47 tag -> localized label
	Description  map[string]string
	Level        int
	ParentRoleID *int64
	IsSystemRole bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayIn returns the display name best matching the requested language,
// falling back to the machine name when no label is available.
func (r Role) DisplayIn(tag language.Tag) string {
	if len(r.DisplayName) == 0 {
		return r.Name
	}
	keys := make([]string, 0, len(r.DisplayName))
	for k := range r.DisplayName {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tags := make([]language.Tag, 0, len(keys))
	for _, k := range keys {
		parsed, err := language.Parse(k)
		if err != nil {
			continue
		}
		tags = append(tags, parsed)
	}
	if len(tags) == 0 {
		return r.Name
	}
	matcher := language.NewMatcher(tags)
	_, idx, _ := matcher.Match(tag)
	if label := r.DisplayName[keys[idx]]; label != "" {
		return label
	}
	return r.Name
}

// Permission is an atomic (resource, action) capability.
type Permission struct {
	ID                 int64
	Name               string
	Resource           string
	Action             string
	Category           string
	Conditions         map[string]any
	IsSystemPermission bool
}

// RoleGrant attaches a permission to a role, optionally time-bounded.
// PermissionName, Resource and Action are denormalized from the permission
// catalog so resolution does not need a second lookup.
type RoleGrant struct {
	RoleID         int64
	PermissionID   int64
	PermissionName string
	Resource       string
	Action         string
	GrantedBy      *int64
	Conditions     map[string]any
	GrantedAt      time.Time
	ExpiresAt      *time.Time
}

// EffectiveAt reports whether the grant contributes to resolution at the given instant.
func (g RoleGrant) EffectiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// RoleAssignment attaches a role to a user, optionally scoped and time-bounded.
type RoleAssignment struct {
	UserID     int64
	RoleID     int64
	AssignedBy *int64
	Context    map[string]string
	AssignedAt time.Time
	ExpiresAt  *time.Time
	IsActive   bool
}

// EffectiveAt reports whether the assignment contributes to resolution at the
// given instant. Expiry and soft-revocation are equivalent to absence.
func (a RoleAssignment) EffectiveAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// EffectiveRole is a role as seen in a resolution.
type EffectiveRole struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Resolution is the computed, cacheable set of effective roles and
// permissions for a user.
type Resolution struct {
	UserID      int64           `json:"user_id"`
	Roles       []EffectiveRole `json:"roles"`
	Permissions []string        `json:"permissions"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

// HasRole reports whether the resolution contains the named role.
func (r Resolution) HasRole(name string) bool {
	name = normalize(name)
	for _, role := range r.Roles {
		if role.Name == name {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the resolution contains at least one of the named roles.
func (r Resolution) HasAnyRole(names ...string) bool {
	for _, name := range names {
		if r.HasRole(name) {
			return true
		}
	}
	return false
}

// HasPermission reports whether the resolution contains the named permission.
func (r Resolution) HasPermission(name string) bool {
	name = normalize(name)
	for _, p := range r.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Matches reports whether any resolved permission covers the resource/action
// pair, honoring wildcards stored in either position of a grant.
func (r Resolution) Matches(resource, action string) bool {
	resource = normalize(resource)
	action = normalize(action)
	candidates := [4]string{
		resource + ":" + action,
		Wildcard + ":" + action,
		resource + ":" + Wildcard,
		Wildcard + ":" + Wildcard,
	}
	for _, p := range r.Permissions {
		for _, c := range candidates {
			if p == c {
				return true
			}
		}
	}
	return false
}

// HighestRole returns the most privileged resolved role (minimum level).
// Ties resolve to the lexicographically smallest name.
func (r Resolution) HighestRole() (EffectiveRole, bool) {
	if len(r.Roles) == 0 {
		return EffectiveRole{}, false
	}
	best := r.Roles[0]
	for _, role := range r.Roles[1:] {
		if role.Level < best.Level || (role.Level == best.Level && role.Name < best.Name) {
			best = role
		}
	}
	return best, true
}

// DecisionContext carries the optional scoping attributes evaluated after the
// base grant check.
type DecisionContext struct {
	OwnerID        *int64
	OrganizationID string
	ResourceID     string
}

// Decision is the outcome of an authorization check.
type Decision string

// Decision outcomes.
const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// Audit actions recorded by the engine.
const (
	AuditActionDecision          = "decision"
	AuditActionRoleAssigned      = "role_assigned"
	AuditActionRoleRevoked       = "role_revoked"
	AuditActionRoleCreated       = "role_created"
	AuditActionRoleUpdated       = "role_updated"
	AuditActionRoleDeleted       = "role_deleted"
	AuditActionPermissionGranted = "permission_granted"
	AuditActionPermissionRevoked = "permission_revoked"
	AuditActionAdminDenied       = "admin_denied"
)

// AuditRecord is an append-only trace of a decision or an administrative mutation.
type AuditRecord struct {
	ID         uuid.UUID
	UserID     int64
	ActorID    int64
	Action     string
	Permission string
	ResourceID string
	Result     Decision
	Reason     string
	Meta       map[string]any
	At         time.Time
}
