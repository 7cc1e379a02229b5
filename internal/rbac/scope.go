package rbac

// ScopeGuard enforces organization isolation. Platform-level actors bypass
// the check; everyone else is confined to their own organization.
//
// When a guarded lookup targets a specific resource in another organization,
// callers surface ErrNotFound rather than ErrForbidden so the resource's
// existence is not confirmed across tenant boundaries.
type ScopeGuard struct{}

// Allows reports whether the actor may read or mutate resources owned by the
// target organization.
func (ScopeGuard) Allows(actor Actor, targetOrganizationID int64) bool {
	if actor.IsPlatformLevel {
		return true
	}
	return actor.OrganizationID == targetOrganizationID
}

// ScopeOrganizationID returns the organization a store lookup must match, or
// nil when the actor may see every organization.
func (ScopeGuard) ScopeOrganizationID(actor Actor) *int64 {
	if actor.IsPlatformLevel {
		return nil
	}
	org := actor.OrganizationID
	return &org
}
