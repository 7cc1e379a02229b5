package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinvera/clinvera/internal/audit"
	"github.com/clinvera/clinvera/internal/platform/db"
	"github.com/clinvera/clinvera/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for roles, permissions
// and role assignments. Every mutating method writes its audit entry inside
// the same transaction as the change it records: a lost audit row can never
// accompany a committed mutation.
type Repository struct {
	pool  *pgxpool.Pool
	audit *audit.Logger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, auditLogger *audit.Logger) *Repository {
	return &Repository{pool: pool, audit: auditLogger}
}

// ListPermissions returns the full permission catalog ordered by category and name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, category FROM permissions ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// PermissionsByIDs fetches the permissions matching the given IDs. Missing
// IDs are simply absent from the result; callers compare lengths.
func (r *Repository) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, category FROM permissions WHERE id = ANY($1) ORDER BY category, name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// ListRoles returns all roles with live permission and user counts.
func (r *Repository) ListRoles(ctx context.Context) ([]RoleSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.name, r.description, r.is_system_default, r.created_at, r.updated_at,
		       (SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id) AS permission_count,
		       (SELECT COUNT(*) FROM users u WHERE u.role_id = r.id) AS user_count
		FROM roles r
		ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]RoleSummary, 0)
	for rows.Next() {
		var s RoleSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.IsSystemDefault, &s.CreatedAt, &s.UpdatedAt, &s.PermissionCount, &s.UserCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// RoleByID fetches a bare role row.
func (r *Repository) RoleByID(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, is_system_default, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.IsSystemDefault, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("rbac: role %d: %w", id, httpx.ErrNotFound)
		}
		return Role{}, err
	}
	return role, nil
}

// GetRole fetches a role with its full permission list and live user count.
func (r *Repository) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := r.RoleByID(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.description, p.category
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.category, p.name`, id)
	if err != nil {
		return RoleDetail{}, err
	}
	defer rows.Close()
	perms, err := scanPermissions(rows)
	if err != nil {
		return RoleDetail{}, err
	}
	var userCount int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1`, id).Scan(&userCount); err != nil {
		return RoleDetail{}, err
	}
	return RoleDetail{Role: role, Permissions: perms, UserCount: userCount}, nil
}

// RolePermissionNames returns the permission names granted to a role and
// whether the role exists. Implements PermissionSource.
func (r *Repository) RolePermissionNames(ctx context.Context, roleID int64) ([]string, bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, false, err
		}
		names = append(names, name)
	}
	return names, true, rows.Err()
}

// ListRoleIDs returns all role IDs, used by the cache warmup job.
func (r *Repository) ListRoleIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateRoleParams collects inputs for a transactional role insert.
type CreateRoleParams struct {
	Name          string
	Description   string
	PermissionIDs []int64
	Audit         audit.Entry
}

// CreateRole inserts the role, its complete permission set and the audit
// entry in one transaction. A duplicate name surfaces as a conflict.
func (r *Repository) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	var role Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO roles (name, description, is_system_default, created_at, updated_at)
			VALUES ($1, $2, FALSE, NOW(), NOW())
			RETURNING id, name, description, is_system_default, created_at, updated_at`,
			params.Name, params.Description).
			Scan(&role.ID, &role.Name, &role.Description, &role.IsSystemDefault, &role.CreatedAt, &role.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("rbac: role name %q already exists: %w", params.Name, httpx.ErrConflict)
			}
			return err
		}
		if err := insertRolePermissions(ctx, tx, role.ID, params.PermissionIDs); err != nil {
			return err
		}
		// The role ID only exists after the insert.
		if params.Audit.EntityID == "" {
			params.Audit.EntityID = strconv.FormatInt(role.ID, 10)
		}
		return r.audit.RecordIn(ctx, tx, params.Audit)
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ReplaceRolePermissionsParams collects inputs for a full permission-set replace.
type ReplaceRolePermissionsParams struct {
	RoleID        int64
	PermissionIDs []int64
	Audit         audit.Entry
}

// ReplaceRolePermissions atomically swaps the role's permission set: readers
// never observe a partially replaced set. Re-applying an identical set is an
// observable no-op.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, params ReplaceRolePermissionsParams) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, params.RoleID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("rbac: role %d: %w", params.RoleID, httpx.ErrNotFound)
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, params.RoleID); err != nil {
			return err
		}
		if err := insertRolePermissions(ctx, tx, params.RoleID, params.PermissionIDs); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, params.RoleID); err != nil {
			return err
		}
		return r.audit.RecordIn(ctx, tx, params.Audit)
	})
}

// DeleteRoleParams collects inputs for a guarded role delete.
type DeleteRoleParams struct {
	RoleID int64
	Audit  audit.Entry
}

// DeleteRole removes the role and its permission rows. The delete is refused
// while any user still holds the role, and system-default roles are never
// deletable.
func (r *Repository) DeleteRole(ctx context.Context, params DeleteRoleParams) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var isSystemDefault bool
		err := tx.QueryRow(ctx, `SELECT is_system_default FROM roles WHERE id = $1 FOR UPDATE`, params.RoleID).Scan(&isSystemDefault)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("rbac: role %d: %w", params.RoleID, httpx.ErrNotFound)
			}
			return err
		}
		if isSystemDefault {
			return fmt.Errorf("rbac: system default role cannot be deleted: %w", httpx.ErrConflict)
		}
		var userCount int64
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1`, params.RoleID).Scan(&userCount); err != nil {
			return err
		}
		if userCount > 0 {
			return fmt.Errorf("rbac: role is assigned to %d user(s): %w", userCount, httpx.ErrConflict)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, params.RoleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, params.RoleID); err != nil {
			return err
		}
		return r.audit.RecordIn(ctx, tx, params.Audit)
	})
}

// UserByID fetches a user record.
func (r *Repository) UserByID(ctx context.Context, id int64) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, email, name, COALESCE(legacy_role, ''), role_id FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.OrganizationID, &user.Email, &user.Name, &user.LegacyRole, &user.RoleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("rbac: user %d: %w", id, httpx.ErrNotFound)
		}
		return User{}, err
	}
	return user, nil
}

// AssignUserRoleParams collects inputs for a single-user role assignment.
// A nil Role clears the assignment. ScopeOrganizationID, when set, restricts
// the update to users of that organization; mismatches surface as not-found
// so the user's existence is not confirmed across tenants.
type AssignUserRoleParams struct {
	UserID              int64
	Role                *Role
	ScopeOrganizationID *int64
	Audit               audit.Entry
}

// AssignUserRole updates the user's role, mirrors the legacy label and writes
// the audit entry, all in one transaction.
func (r *Repository) AssignUserRole(ctx context.Context, params AssignUserRoleParams) (User, error) {
	var user User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var organizationID int64
		err := tx.QueryRow(ctx, `SELECT organization_id FROM users WHERE id = $1 FOR UPDATE`, params.UserID).Scan(&organizationID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("rbac: user %d: %w", params.UserID, httpx.ErrNotFound)
			}
			return err
		}
		if params.ScopeOrganizationID != nil && organizationID != *params.ScopeOrganizationID {
			return fmt.Errorf("rbac: user %d: %w", params.UserID, httpx.ErrNotFound)
		}

		if params.Role != nil {
			err = tx.QueryRow(ctx, `
				UPDATE users SET role_id = $2, legacy_role = $3 WHERE id = $1
				RETURNING id, organization_id, email, name, COALESCE(legacy_role, ''), role_id`,
				params.UserID, params.Role.ID, strings.ToLower(params.Role.Name)).
				Scan(&user.ID, &user.OrganizationID, &user.Email, &user.Name, &user.LegacyRole, &user.RoleID)
		} else {
			err = tx.QueryRow(ctx, `
				UPDATE users SET role_id = NULL WHERE id = $1
				RETURNING id, organization_id, email, name, COALESCE(legacy_role, ''), role_id`,
				params.UserID).
				Scan(&user.ID, &user.OrganizationID, &user.Email, &user.Name, &user.LegacyRole, &user.RoleID)
		}
		if err != nil {
			return err
		}
		return r.audit.RecordIn(ctx, tx, params.Audit)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func insertRolePermissions(ctx context.Context, tx pgx.Tx, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::bigint[])`, roleID, permissionIDs)
	return err
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	perms := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
