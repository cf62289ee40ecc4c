package authz

import (
	"context"
	"log/slog"
	"strings"
)

// Role names that short-circuit permission checks. An admin role bypasses
// every permission check; this is the documented super-user rule, applied
// first so it is auditable and testable on its own.
var (
	adminRoles     = []string{"admin", "super_admin"}
	moderatorRoles = []string{"moderator", "admin", "super_admin"}
)

// DecisionMetrics observes decision outcomes.
type DecisionMetrics interface {
	Decision(allowed bool)
}

// CheckerConfig collects the checker's collaborators.
type CheckerConfig struct {
	Resolver    *Resolver
	Audit       *Recorder
	Memberships MembershipLookup
	Metrics     DecisionMetrics
	Logger      *slog.Logger
}

// Checker is the public decision surface. Every method fails closed: a
// caller cannot distinguish "denied by policy" from "resolution failed".
type Checker struct {
	resolver    *Resolver
	audit       *Recorder
	memberships MembershipLookup
	metrics     DecisionMetrics
	logger      *slog.Logger
}

// NewChecker constructs a Checker.
func NewChecker(cfg CheckerConfig) *Checker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		resolver:    cfg.Resolver,
		audit:       cfg.Audit,
		memberships: cfg.Memberships,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// HasPermission reports whether the user holds the named permission.
func (c *Checker) HasPermission(ctx context.Context, userID int64, permission string) bool {
	permission = normalize(permission)
	allowed, reason := c.evaluateName(ctx, userID, permission)
	c.record(ctx, userID, permission, "", allowed, reason)
	return allowed
}

// HasResourcePermission reports whether the user may perform action on
// resource, honoring wildcard grants.
func (c *Checker) HasResourcePermission(ctx context.Context, userID int64, resource, action string) bool {
	allowed, reason := c.evaluateResource(ctx, userID, resource, action)
	c.record(ctx, userID, PermissionName(resource, action), "", allowed, reason)
	return allowed
}

// HasAnyPermission reports whether at least one of the named permissions is
// held. Resolution happens once; candidates short-circuit on the first hit.
func (c *Checker) HasAnyPermission(ctx context.Context, userID int64, permissions ...string) bool {
	res, denyReason, ok := c.resolution(ctx, userID)
	joined := strings.Join(permissions, ",")
	if !ok {
		c.record(ctx, userID, joined, "", false, denyReason)
		return false
	}
	if res.HasAnyRole(adminRoles...) {
		c.record(ctx, userID, joined, "", true, "admin bypass")
		return true
	}
	for _, permission := range permissions {
		if res.HasPermission(permission) {
			c.record(ctx, userID, joined, "", true, "granted "+normalize(permission))
			return true
		}
	}
	c.record(ctx, userID, joined, "", false, "no candidate granted")
	return false
}

// HasAllPermissions reports whether every named permission is held,
// short-circuiting on the first miss.
func (c *Checker) HasAllPermissions(ctx context.Context, userID int64, permissions ...string) bool {
	res, denyReason, ok := c.resolution(ctx, userID)
	joined := strings.Join(permissions, ",")
	if !ok {
		c.record(ctx, userID, joined, "", false, denyReason)
		return false
	}
	if res.HasAnyRole(adminRoles...) {
		c.record(ctx, userID, joined, "", true, "admin bypass")
		return true
	}
	for _, permission := range permissions {
		if !res.HasPermission(permission) {
			c.record(ctx, userID, joined, "", false, "missing "+normalize(permission))
			return false
		}
	}
	c.record(ctx, userID, joined, "", true, "all granted")
	return true
}

// HasContextPermission requires the base resource/action check to pass and
// then applies the context rules: ownership overrides, and an organization
// scope requires verified membership even when the base check passed.
func (c *Checker) HasContextPermission(ctx context.Context, userID int64, resource, action string, dctx DecisionContext) bool {
	name := PermissionName(resource, action)
	allowed, reason := c.evaluateResource(ctx, userID, resource, action)
	if !allowed {
		c.record(ctx, userID, name, dctx.ResourceID, false, reason)
		return false
	}
	switch {
	case dctx.OwnerID != nil && *dctx.OwnerID == userID:
		reason = "ownership override"
	case dctx.OrganizationID != "":
		member, err := c.isMember(ctx, userID, dctx.OrganizationID)
		if err != nil {
			c.logger.Warn("membership lookup", slog.Int64("user_id", userID), slog.Any("error", err))
			c.record(ctx, userID, name, dctx.ResourceID, false, "membership lookup unavailable")
			return false
		}
		if !member {
			c.record(ctx, userID, name, dctx.ResourceID, false, "not an organization member")
			return false
		}
		reason = "organization member"
	}
	c.record(ctx, userID, name, dctx.ResourceID, true, reason)
	return true
}

// IsAdmin reports whether the user holds an admin-tier role.
func (c *Checker) IsAdmin(ctx context.Context, userID int64) bool {
	res, _, ok := c.resolution(ctx, userID)
	return ok && res.HasAnyRole(adminRoles...)
}

// IsModerator reports whether the user holds a moderator-or-above role.
func (c *Checker) IsModerator(ctx context.Context, userID int64) bool {
	res, _, ok := c.resolution(ctx, userID)
	return ok && res.HasAnyRole(moderatorRoles...)
}

// UserRoles returns the user's effective roles.
func (c *Checker) UserRoles(ctx context.Context, userID int64) ([]EffectiveRole, error) {
	res, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return res.Roles, nil
}

// UserPermissions returns the user's effective permission names.
func (c *Checker) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	res, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return res.Permissions, nil
}

// HighestRole returns the user's most privileged role, or ErrNotFound when
// the user holds none.
func (c *Checker) HighestRole(ctx context.Context, userID int64) (EffectiveRole, error) {
	res, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		return EffectiveRole{}, err
	}
	role, ok := res.HighestRole()
	if !ok {
		return EffectiveRole{}, ErrNotFound
	}
	return role, nil
}

func (c *Checker) evaluateName(ctx context.Context, userID int64, permission string) (bool, string) {
	if permission == "" {
		return false, "empty permission"
	}
	res, reason, ok := c.resolution(ctx, userID)
	if !ok {
		return false, reason
	}
	if res.HasAnyRole(adminRoles...) {
		return true, "admin bypass"
	}
	if res.HasPermission(permission) {
		return true, "granted"
	}
	return false, "not granted"
}

func (c *Checker) evaluateResource(ctx context.Context, userID int64, resource, action string) (bool, string) {
	if normalize(resource) == "" || normalize(action) == "" {
		return false, "empty resource or action"
	}
	res, reason, ok := c.resolution(ctx, userID)
	if !ok {
		return false, reason
	}
	if res.HasAnyRole(adminRoles...) {
		return true, "admin bypass"
	}
	if res.Matches(resource, action) {
		return true, "granted"
	}
	return false, "not granted"
}

// resolution resolves the user or explains the deny. An unauthenticated
// principal is denied without a repository call.
func (c *Checker) resolution(ctx context.Context, userID int64) (Resolution, string, bool) {
	if userID <= 0 {
		return Resolution{}, "unauthenticated principal", false
	}
	res, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		c.logger.Warn("resolution failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return Resolution{}, "resolution unavailable", false
	}
	return res, "", true
}

func (c *Checker) isMember(ctx context.Context, userID int64, organizationID string) (bool, error) {
	if c.memberships == nil {
		return false, ErrResolutionUnavailable
	}
	return c.memberships.IsMember(ctx, userID, organizationID)
}

func (c *Checker) record(ctx context.Context, userID int64, permission, resourceID string, allowed bool, reason string) {
	if c.metrics != nil {
		c.metrics.Decision(allowed)
	}
	result := DecisionDenied
	if allowed {
		result = DecisionAllowed
	}
	c.audit.Record(ctx, AuditRecord{
		UserID:     userID,
		Action:     AuditActionDecision,
		Permission: permission,
		ResourceID: resourceID,
		Result:     result,
		Reason:     reason,
	})
}
