package shared

// Core platform permissions.
const (
	PermSignalsView   = "signals:view"
	PermSignalsCreate = "signals:create"
	PermSignalsEdit   = "signals:edit"
	PermSignalsDelete = "signals:delete"

	PermAlertsView   = "alerts:view"
	PermAlertsManage = "alerts:manage"

	PermUsersView = "users:view"
	PermUsersEdit = "users:edit"

	PermRolesView = "roles:view"
	PermRolesEdit = "roles:edit"

	PermAuditView = "audit:view"
)

// CoreScopes lists all permissions seeded for the platform.
func CoreScopes() []string {
	return []string{
		PermSignalsView,
		PermSignalsCreate,
		PermSignalsEdit,
		PermSignalsDelete,
		PermAlertsView,
		PermAlertsManage,
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesEdit,
		PermAuditView,
	}
}
