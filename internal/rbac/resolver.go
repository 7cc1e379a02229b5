package rbac

import (
	"context"
	"fmt"
	"strings"
)

// PermissionSource yields the permission names granted to a role. The second
// return value reports whether the role exists at all, which drives the
// legacy fallback.
type PermissionSource interface {
	RolePermissionNames(ctx context.Context, roleID int64) ([]string, bool, error)
}

// Resolver computes a user's effective permission set. Precedence: a set
// RoleID that resolves to an existing role is authoritative; otherwise the
// legacy label's bundle applies; otherwise the set is empty (deny by default).
type Resolver struct {
	source  PermissionSource
	bundles map[string]PermissionSet
}

// NewResolver constructs a Resolver. A nil bundle map falls back to the
// built-in legacy bundles.
func NewResolver(source PermissionSource, bundles map[string]PermissionSet) *Resolver {
	if bundles == nil {
		bundles = LegacyBundles()
	}
	return &Resolver{source: source, bundles: bundles}
}

// EffectivePermissions resolves the user's permission set. Deterministic for
// a given role/permission/bundle state; performs no writes.
func (r *Resolver) EffectivePermissions(ctx context.Context, user User) (PermissionSet, error) {
	if user.RoleID != nil {
		names, found, err := r.source.RolePermissionNames(ctx, *user.RoleID)
		if err != nil {
			return nil, fmt.Errorf("rbac: resolve role %d: %w", *user.RoleID, err)
		}
		if found {
			return NewPermissionSet(names...), nil
		}
	}
	legacy := strings.ToLower(strings.TrimSpace(user.LegacyRole))
	if legacy != "" {
		if bundle, ok := r.bundles[legacy]; ok {
			return bundle, nil
		}
	}
	return PermissionSet{}, nil
}
