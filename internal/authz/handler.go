package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/signalboard/signalboard/internal/platform/httpx"
)

// Handler exposes the decision and query API over JSON.
type Handler struct {
	logger  *slog.Logger
	checker *Checker
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, checker *Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, checker: checker}
}

// MountRoutes registers decision and query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Get("/users/{userID}/roles", h.userRoles)
	r.Get("/users/{userID}/permissions", h.userPermissions)
	r.Get("/users/{userID}/highest-role", h.highestRole)
}

type checkContext struct {
	OwnerID        *int64 `json:"owner_id"`
	OrganizationID string `json:"organization_id"`
	ResourceID     string `json:"resource_id"`
}

type checkRequest struct {
	UserID     int64         `json:"user_id"`
	Permission string        `json:"permission"`
	Resource   string        `json:"resource"`
	Action     string        `json:"action"`
	Context    *checkContext `json:"context"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// check answers a single decision. Two call shapes are accepted: a bare
// permission name, or a resource/action pair with an optional context.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}

	var allowed bool
	switch {
	case req.Permission != "":
		allowed = h.checker.HasPermission(r.Context(), req.UserID, req.Permission)
	case req.Resource != "" && req.Action != "":
		if req.Context != nil {
			allowed = h.checker.HasContextPermission(r.Context(), req.UserID, req.Resource, req.Action, DecisionContext{
				OwnerID:        req.Context.OwnerID,
				OrganizationID: req.Context.OrganizationID,
				ResourceID:     req.Context.ResourceID,
			})
		} else {
			allowed = h.checker.HasResourcePermission(r.Context(), req.UserID, req.Resource, req.Action)
		}
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission or resource/action required")
		return
	}

	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	roles, err := h.checker.UserRoles(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user roles", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Resolution Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	perms, err := h.checker.UserPermissions(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Resolution Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) highestRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	role, err := h.checker.HighestRole(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

// respondError maps engine errors to RFC7807 responses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrSystemRoleImmutable):
		httpx.Problem(w, http.StatusConflict, "System Role Immutable", err.Error())
	case errors.Is(err, ErrRoleInUse):
		httpx.Problem(w, http.StatusConflict, "Role In Use", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrResolutionUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Resolution Unavailable", "")
	default:
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseUserID(r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}
