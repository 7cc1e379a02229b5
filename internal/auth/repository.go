package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinvera/clinvera/internal/platform/httpx"
	"github.com/clinvera/clinvera/internal/rbac"
)

// Repository loads actor records from the users table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActorByID fetches the actor snapshot used for authorization decisions.
func (r *Repository) ActorByID(ctx context.Context, id int64) (rbac.Actor, error) {
	var actor rbac.Actor
	err := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, COALESCE(legacy_role, ''), role_id, is_platform_level FROM users WHERE id = $1`, id).
		Scan(&actor.ID, &actor.OrganizationID, &actor.LegacyRole, &actor.RoleID, &actor.IsPlatformLevel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Actor{}, fmt.Errorf("auth: user %d: %w", id, httpx.ErrNotFound)
		}
		return rbac.Actor{}, err
	}
	return actor, nil
}
