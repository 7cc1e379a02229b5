package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/clinvera/clinvera/internal/audit"
	"github.com/clinvera/clinvera/internal/platform/httpx"
)

// LifecycleStore defines the transactional mutations behind role lifecycle.
type LifecycleStore interface {
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	CreateRole(ctx context.Context, params CreateRoleParams) (Role, error)
	ReplaceRolePermissions(ctx context.Context, params ReplaceRolePermissionsParams) error
	DeleteRole(ctx context.Context, params DeleteRoleParams) error
}

// CacheInvalidator is bumped after every committed lifecycle mutation so the
// permission cache never serves a stale role set beyond its TTL.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// RequestMeta carries request attribution for audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Lifecycle manages role create, permission-set replace and delete. Input is
// validated before any transaction opens; each successful mutation commits
// its audit entry in the same transaction and then invalidates the cache.
type Lifecycle struct {
	store  LifecycleStore
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewLifecycle builds a Lifecycle service. cache may be nil.
func NewLifecycle(store LifecycleStore, cache CacheInvalidator, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{store: store, cache: cache, logger: logger}
}

// CreateRoleInput is the validated shape of a role creation request.
type CreateRoleInput struct {
	Name          string
	Description   string
	PermissionIDs []int64
}

// CreateRole validates and inserts a new role with its permission set.
func (s *Lifecycle) CreateRole(ctx context.Context, actor Actor, meta RequestMeta, input CreateRoleInput) (RoleDetail, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return RoleDetail{}, fmt.Errorf("rbac: role name required: %w", httpx.ErrValidation)
	}
	ids := dedupeIDs(input.PermissionIDs)
	perms, err := s.resolvePermissions(ctx, ids)
	if err != nil {
		return RoleDetail{}, err
	}

	role, err := s.store.CreateRole(ctx, CreateRoleParams{
		Name:          name,
		Description:   strings.TrimSpace(input.Description),
		PermissionIDs: ids,
		Audit: audit.Entry{
			ActorID:   actor.ID,
			Action:    "role.create",
			Entity:    "role",
			Details:   map[string]any{"name": name, "permission_ids": ids},
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		},
	})
	if err != nil {
		return RoleDetail{}, err
	}
	s.invalidate(ctx, "role.create", role.ID)
	return RoleDetail{Role: role, Permissions: perms, UserCount: 0}, nil
}

// UpdateRolePermissions replaces the role's complete permission set.
// Re-applying an identical set is a no-op to observers.
func (s *Lifecycle) UpdateRolePermissions(ctx context.Context, actor Actor, meta RequestMeta, roleID int64, permissionIDs []int64) error {
	ids := dedupeIDs(permissionIDs)
	if _, err := s.resolvePermissions(ctx, ids); err != nil {
		return err
	}

	err := s.store.ReplaceRolePermissions(ctx, ReplaceRolePermissionsParams{
		RoleID:        roleID,
		PermissionIDs: ids,
		Audit: audit.Entry{
			ActorID:   actor.ID,
			Action:    "role.permissions_replace",
			Entity:    "role",
			EntityID:  strconv.FormatInt(roleID, 10),
			Details:   map[string]any{"permission_ids": ids},
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		},
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, "role.permissions_replace", roleID)
	return nil
}

// DeleteRole removes a role. The store refuses the delete while any user
// still holds the role or when the role is a system default.
func (s *Lifecycle) DeleteRole(ctx context.Context, actor Actor, meta RequestMeta, roleID int64) error {
	err := s.store.DeleteRole(ctx, DeleteRoleParams{
		RoleID: roleID,
		Audit: audit.Entry{
			ActorID:   actor.ID,
			Action:    "role.delete",
			Entity:    "role",
			EntityID:  strconv.FormatInt(roleID, 10),
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		},
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, "role.delete", roleID)
	return nil
}

func (s *Lifecycle) resolvePermissions(ctx context.Context, ids []int64) ([]Permission, error) {
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("rbac: invalid permission id %d: %w", id, httpx.ErrValidation)
		}
	}
	perms, err := s.store.PermissionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(perms) != len(ids) {
		known := make(map[int64]struct{}, len(perms))
		for _, p := range perms {
			known[p.ID] = struct{}{}
		}
		var missing []int64
		for _, id := range ids {
			if _, ok := known[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("rbac: unknown permission id(s) %v: %w", missing, httpx.ErrValidation)
	}
	return perms, nil
}

// invalidate bumps the cache version. Bump failure is logged but does not
// fail the committed mutation; the cache TTL bounds staleness.
func (s *Lifecycle) invalidate(ctx context.Context, action string, roleID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil && s.logger != nil {
		s.logger.Warn("permission cache bump failed",
			slog.String("action", action), slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
