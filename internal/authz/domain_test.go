package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestPermissionName(t *testing.T) {
	assert.Equal(t, "signals:view", PermissionName("signals", "view"))
	assert.Equal(t, "signals:view", PermissionName(" Signals ", " VIEW "))
	assert.Equal(t, "*:view", PermissionName("*", "view"))
}

func TestResolutionMatches(t *testing.T) {
	res := Resolution{Permissions: []string{"signals:view", "alerts:*", "*:export"}}

	assert.True(t, res.Matches("signals", "view"))
	assert.True(t, res.Matches("Signals", "VIEW"))
	assert.True(t, res.Matches("alerts", "manage"))
	assert.True(t, res.Matches("reports", "export"))
	assert.False(t, res.Matches("signals", "delete"))
	assert.False(t, res.Matches("reports", "view"))

	super := Resolution{Permissions: []string{"*:*"}}
	assert.True(t, super.Matches("anything", "at_all"))
}

func TestResolutionHighestRoleTieBreak(t *testing.T) {
	res := Resolution{Roles: []EffectiveRole{
		{ID: 3, Name: "zeta", Level: 50},
		{ID: 1, Name: "alpha", Level: 50},
		{ID: 2, Name: "omega", Level: 90},
	}}

	role, ok := res.HighestRole()
	require.True(t, ok)
	assert.Equal(t, "alpha", role.Name)

	_, ok = Resolution{}.HighestRole()
	assert.False(t, ok)
}

func TestAssignmentEffectiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, RoleAssignment{IsActive: true}.EffectiveAt(now))
	assert.True(t, RoleAssignment{IsActive: true, ExpiresAt: &future}.EffectiveAt(now))
	assert.False(t, RoleAssignment{IsActive: true, ExpiresAt: &past}.EffectiveAt(now))
	assert.False(t, RoleAssignment{IsActive: true, ExpiresAt: &now}.EffectiveAt(now))
	assert.False(t, RoleAssignment{IsActive: false}.EffectiveAt(now))
}

func TestGrantEffectiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, RoleGrant{}.EffectiveAt(now))
	assert.True(t, RoleGrant{ExpiresAt: &future}.EffectiveAt(now))
	assert.False(t, RoleGrant{ExpiresAt: &past}.EffectiveAt(now))
}

func TestRoleDisplayIn(t *testing.T) {
	role := Role{
		Name: "premium_user",
		DisplayName: map[string]string{
			"en": "Premium user",
			"id": "Pengguna premium",
		},
	}

	assert.Equal(t, "Premium user", role.DisplayIn(language.English))
	assert.Equal(t, "Pengguna premium", role.DisplayIn(language.Indonesian))
	// Unknown language falls back to a supported one, never to the map key order.
	assert.Equal(t, "Premium user", role.DisplayIn(language.German))

	assert.Equal(t, "bare", Role{Name: "bare"}.DisplayIn(language.English))
	assert.Equal(t, "broken", Role{
		Name:        "broken",
		DisplayName: map[string]string{"not-a-tag!!": "x"},
	}.DisplayIn(language.English))
}

func TestResolutionRoleAndPermissionLookups(t *testing.T) {
	res := Resolution{
		Roles:       []EffectiveRole{{Name: "manager", Level: 50}},
		Permissions: []string{"signals:view"},
	}

	assert.True(t, res.HasRole("manager"))
	assert.True(t, res.HasRole(" MANAGER "))
	assert.False(t, res.HasRole("admin"))
	assert.True(t, res.HasAnyRole("admin", "manager"))
	assert.False(t, res.HasAnyRole("admin", "super_admin"))
	assert.True(t, res.HasPermission("signals:view"))
	assert.False(t, res.HasPermission("signals:edit"))
}
