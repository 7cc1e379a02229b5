package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/clinvera/clinvera/internal/platform/httpx"
)

// UserDirectory resolves user records for permission and assignment lookups.
type UserDirectory interface {
	UserByID(ctx context.Context, id int64) (User, error)
}

// Handler wires the RBAC HTTP surface: role CRUD, the permission catalog,
// and single/bulk role assignment.
type Handler struct {
	logger     *slog.Logger
	catalog    *Catalog
	lifecycle  *Lifecycle
	assignment *Assignment
	resolver   *Resolver
	users      UserDirectory
	guard      ScopeGuard
	mw         Middleware
	validator  *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(
	logger *slog.Logger,
	catalog *Catalog,
	lifecycle *Lifecycle,
	assignment *Assignment,
	resolver *Resolver,
	users UserDirectory,
	guard ScopeGuard,
	mw Middleware,
) *Handler {
	return &Handler{
		logger:     logger,
		catalog:    catalog,
		lifecycle:  lifecycle,
		assignment: assignment,
		resolver:   resolver,
		users:      users,
		guard:      guard,
		mw:         mw,
		validator:  validator.New(),
	}
}

// MountRoutes registers all RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequirePermission(PermRolesView))
			r.Get("/", h.listRoles)
			r.Get("/{roleID}", h.getRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequirePermission(PermRolesManage))
			r.Post("/", h.createRole)
			r.Put("/{roleID}/permissions", h.updateRolePermissions)
			r.Delete("/{roleID}", h.deleteRole)
		})
	})

	r.With(h.mw.RequirePermission(PermRolesView)).Get("/permissions", h.listPermissions)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.With(h.mw.RequirePermission(PermUsersManage)).Put("/role", h.assignUserRole)
		r.With(h.mw.RequirePermission(PermUsersView)).Get("/permissions", h.userPermissions)
	})

	r.With(h.mw.RequirePermission(PermUsersManage)).Post("/bulk-assign-roles", h.bulkAssignRoles)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.catalog.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.catalog.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	groups, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, groups)
}

type createRoleRequest struct {
	Name          string  `json:"name" validate:"required,min=2,max=64"`
	Description   string  `json:"description" validate:"max=255"`
	PermissionIDs []int64 `json:"permissionIds" validate:"dive,gt=0"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	role, err := h.lifecycle.CreateRole(r.Context(), *actor, requestMeta(r), CreateRoleInput{
		Name:          req.Name,
		Description:   req.Description,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		h.logger.Error("create role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

type updateRolePermissionsRequest struct {
	PermissionIDs []int64 `json:"permissionIds" validate:"dive,gt=0"`
}

func (h *Handler) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req updateRolePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	if err := h.lifecycle.UpdateRolePermissions(r.Context(), *actor, requestMeta(r), id, req.PermissionIDs); err != nil {
		h.logger.Error("update role permissions", slog.Int64("role_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	actor := ActorFromContext(r.Context())
	if err := h.lifecycle.DeleteRole(r.Context(), *actor, requestMeta(r), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type assignRoleRequest struct {
	RoleID *int64 `json:"roleId" validate:"omitempty,gt=0"`
}

func (h *Handler) assignUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	user, err := h.assignment.AssignRole(r.Context(), *actor, requestMeta(r), userID, req.RoleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

type bulkAssignRequest struct {
	UserIDs []int64 `json:"userIds" validate:"required,min=1,dive,gt=0"`
	RoleID  *int64  `json:"roleId" validate:"omitempty,gt=0"`
}

func (h *Handler) bulkAssignRoles(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	results, err := h.assignment.AssignRoleToUsers(r.Context(), *actor, requestMeta(r), req.UserIDs, req.RoleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, results)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	actor := ActorFromContext(r.Context())
	user, err := h.users.UserByID(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !h.guard.Allows(*actor, user.OrganizationID) {
		// Cross-organization lookups must not confirm the user exists.
		httpx.RespondError(w, fmt.Errorf("rbac: user %d: %w", userID, httpx.ErrNotFound))
		return
	}
	perms, err := h.resolver.EffectivePermissions(r.Context(), user)
	if err != nil {
		h.logger.Error("resolve user permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms.Names())
}

// decode reads and validates the JSON body, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		detail := "invalid request"
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			detail = errs[0].Error()
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", detail)
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func requestMeta(r *http.Request) RequestMeta {
	return RequestMeta{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}
