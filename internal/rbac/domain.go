// Package rbac implements role-based access control with organization scoping:
// the permission catalog, the effective-permission resolver, role lifecycle,
// role assignment, and the request-time authorization gate.
package rbac

import (
	"context"
	"sort"
	"time"
)

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Role represents a high-level permission grouping.
type Role struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	IsSystemDefault bool      `json:"isSystemDefault"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// RoleSummary augments a role with live counts for listings.
type RoleSummary struct {
	Role
	PermissionCount int   `json:"permissionCount"`
	UserCount       int64 `json:"userCount"`
}

// RoleDetail carries a role together with its full permission set.
type RoleDetail struct {
	Role
	Permissions []Permission `json:"permissions"`
	UserCount   int64        `json:"userCount"`
}

// User is the slice of a user record this subsystem reads and mutates.
// LegacyRole is the free-text label predating the granular model; RoleID,
// when set, points at the authoritative role.
type User struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organizationId"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	LegacyRole     string `json:"legacyRole"`
	RoleID         *int64 `json:"roleId"`
}

// Actor describes the authenticated caller as supplied by the identity layer.
type Actor struct {
	ID              int64
	OrganizationID  int64
	LegacyRole      string
	RoleID          *int64
	IsPlatformLevel bool
}

// User returns the actor's user snapshot for permission resolution.
func (a Actor) User() User {
	return User{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		LegacyRole:     a.LegacyRole,
		RoleID:         a.RoleID,
	}
}

// PermissionSet is a resolved set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the named permission.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permission names in sorted order.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the authenticated actor, nil when absent.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
