package rbac

import (
	"context"
)

// CatalogStore defines read access for catalog lookups.
type CatalogStore interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListRoles(ctx context.Context) ([]RoleSummary, error)
	GetRole(ctx context.Context, id int64) (RoleDetail, error)
}

// PermissionGroup bundles a category's permissions for listing.
type PermissionGroup struct {
	Category    string       `json:"category"`
	Permissions []Permission `json:"permissions"`
}

// Catalog serves read-only role and permission lookups.
type Catalog struct {
	store CatalogStore
}

// NewCatalog builds a Catalog instance.
func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{store: store}
}

// ListPermissions returns the permission catalog grouped by category. The
// store orders by category then name, so groups come out stable.
func (c *Catalog) ListPermissions(ctx context.Context) ([]PermissionGroup, error) {
	perms, err := c.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]PermissionGroup, 0)
	for _, p := range perms {
		if len(groups) == 0 || groups[len(groups)-1].Category != p.Category {
			groups = append(groups, PermissionGroup{Category: p.Category})
		}
		last := &groups[len(groups)-1]
		last.Permissions = append(last.Permissions, p)
	}
	return groups, nil
}

// ListRoles returns all roles with permission and user counts.
func (c *Catalog) ListRoles(ctx context.Context) ([]RoleSummary, error) {
	return c.store.ListRoles(ctx)
}

// GetRole fetches a role with its full permission list.
func (c *Catalog) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	return c.store.GetRole(ctx, id)
}
