package authz

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/signalboard/signalboard/internal/platform/httpx"
	"github.com/signalboard/signalboard/internal/shared"
)

// AdminHandler exposes role administration over JSON. Every route requires
// an authenticated principal; the principal is the audit actor.
type AdminHandler struct {
	logger    *slog.Logger
	admin     *Admin
	validator *validator.Validate
}

// NewAdminHandler builds an AdminHandler instance.
func NewAdminHandler(logger *slog.Logger, admin *Admin) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{logger: logger, admin: admin, validator: validator.New()}
}

// MountRoutes registers administration routes behind the given guard.
func (h *AdminHandler) MountRoutes(r chi.Router, guard Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAll(shared.PermRolesEdit))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{roleID}", h.updateRole)
		r.Delete("/roles/{roleID}", h.deleteRole)
		r.Post("/roles/{roleID}/permissions", h.grantPermission)
		r.Delete("/roles/{roleID}/permissions/{permissionID}", h.revokePermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(guard.RequireAll(shared.PermUsersEdit))
		r.Post("/users/{userID}/roles", h.assignRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.revokeRole)
	})
}

type roleForm struct {
	Name         string            `json:"name" validate:"required,min=1,max=64"`
	DisplayName  map[string]string `json:"display_name"`
	Description  map[string]string `json:"description"`
	Level        int               `json:"level" validate:"gte=0"`
	ParentRoleID *int64            `json:"parent_role_id"`
}

type assignForm struct {
	RoleID    int64             `json:"role_id" validate:"required,gt=0"`
	Context   map[string]string `json:"context"`
	ExpiresAt *time.Time        `json:"expires_at"`
}

type grantForm struct {
	PermissionID int64          `json:"permission_id" validate:"required,gt=0"`
	Conditions   map[string]any `json:"conditions"`
	ExpiresAt    *time.Time     `json:"expires_at"`
}

type roleView struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Label        string            `json:"label"`
	DisplayName  map[string]string `json:"display_name,omitempty"`
	Level        int               `json:"level"`
	ParentRoleID *int64            `json:"parent_role_id,omitempty"`
	IsSystemRole bool              `json:"is_system_role"`
	IsActive     bool              `json:"is_active"`
}

func toRoleView(role Role, tag language.Tag) roleView {
	return roleView{
		ID:           role.ID,
		Name:         role.Name,
		Label:        role.DisplayIn(tag),
		DisplayName:  role.DisplayName,
		Level:        role.Level,
		ParentRoleID: role.ParentRoleID,
		IsSystemRole: role.IsSystemRole,
		IsActive:     role.IsActive,
	}
}

// requestLanguage negotiates the label language from Accept-Language,
// defaulting to English.
func requestLanguage(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	return tags[0]
}

func (h *AdminHandler) createRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	created, err := h.admin.CreateRole(r.Context(), actorID, Role{
		Name:         form.Name,
		DisplayName:  form.DisplayName,
		Description:  form.Description,
		Level:        form.Level,
		ParentRoleID: form.ParentRoleID,
	})
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleView(created, requestLanguage(r)))
}

func (h *AdminHandler) updateRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	roleID, ok := parseIDParam(r, "roleID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	var form roleForm
	if !h.decode(w, r, &form) {
		return
	}
	updated, err := h.admin.UpdateRole(r.Context(), actorID, Role{
		ID:           roleID,
		Name:         form.Name,
		DisplayName:  form.DisplayName,
		Description:  form.Description,
		Level:        form.Level,
		ParentRoleID: form.ParentRoleID,
	})
	if err != nil {
		h.respondError(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleView(updated, requestLanguage(r)))
}

func (h *AdminHandler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	roleID, ok := parseIDParam(r, "roleID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	var reassignTo *int64
	if raw := r.URL.Query().Get("reassign_to"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid reassign_to")
			return
		}
		reassignTo = &id
	}
	if err := h.admin.DeleteRole(r.Context(), actorID, roleID, reassignTo); err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *AdminHandler) grantPermission(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	roleID, ok := parseIDParam(r, "roleID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	var form grantForm
	if !h.decode(w, r, &form) {
		return
	}
	err := h.admin.GrantPermission(r.Context(), actorID, roleID, form.PermissionID, GrantOptions{
		Conditions: form.Conditions,
		ExpiresAt:  form.ExpiresAt,
	})
	if err != nil {
		h.respondError(w, "grant permission", err)
		return
	}
	httpx.NoContent(w)
}

func (h *AdminHandler) revokePermission(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	roleID, ok := parseIDParam(r, "roleID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	permissionID, ok := parseIDParam(r, "permissionID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id")
		return
	}
	if err := h.admin.RevokePermission(r.Context(), actorID, roleID, permissionID); err != nil {
		h.respondError(w, "revoke permission", err)
		return
	}
	httpx.NoContent(w)
}

func (h *AdminHandler) assignRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	userID, ok := parseIDParam(r, "userID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var form assignForm
	if !h.decode(w, r, &form) {
		return
	}
	err := h.admin.AssignRole(r.Context(), actorID, userID, form.RoleID, AssignOptions{
		Context:   form.Context,
		ExpiresAt: form.ExpiresAt,
	})
	if err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	httpx.NoContent(w)
}

func (h *AdminHandler) revokeRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	userID, ok := parseIDParam(r, "userID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	roleID, ok := parseIDParam(r, "roleID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	if err := h.admin.RevokeRole(r.Context(), actorID, userID, roleID); err != nil {
		h.respondError(w, "revoke role", err)
		return
	}
	httpx.NoContent(w)
}

// decode reads and validates the request body, responding on failure.
func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(form); err != nil {
		detail := "invalid request"
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			detail = fieldErrs[0].Error()
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", detail)
		return false
	}
	return true
}

func (h *AdminHandler) respondError(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	respondError(w, err)
}

func parseIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
