package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/clinvera/clinvera/internal/audit"
	"github.com/clinvera/clinvera/internal/platform/httpx"
)

// AssignmentStore defines the transactional mutations behind role assignment.
type AssignmentStore interface {
	RoleByID(ctx context.Context, id int64) (Role, error)
	AssignUserRole(ctx context.Context, params AssignUserRoleParams) (User, error)
}

// AssignmentResult reports the outcome for one user of a bulk assignment.
type AssignmentResult struct {
	UserID int64  `json:"userId"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Assignment coordinates single and bulk role assignment. Bulk batches are
// not all-or-nothing: each user's update, legacy mirror and audit entry form
// one transaction, and one user's failure never blocks the rest.
type Assignment struct {
	store  AssignmentStore
	guard  ScopeGuard
	logger *slog.Logger
}

// NewAssignment builds an Assignment service.
func NewAssignment(store AssignmentStore, guard ScopeGuard, logger *slog.Logger) *Assignment {
	return &Assignment{store: store, guard: guard, logger: logger}
}

// AssignRole assigns (or, with a nil roleID, clears) a single user's role.
func (s *Assignment) AssignRole(ctx context.Context, actor Actor, meta RequestMeta, userID int64, roleID *int64) (User, error) {
	role, err := s.validateRole(ctx, roleID)
	if err != nil {
		return User{}, err
	}
	return s.assignOne(ctx, actor, meta, userID, role, "")
}

// AssignRoleToUsers applies the assignment to every user in the batch. The
// role is validated once up front; an unknown role fails the whole call
// before any user is touched. The result always has one entry per input ID.
func (s *Assignment) AssignRoleToUsers(ctx context.Context, actor Actor, meta RequestMeta, userIDs []int64, roleID *int64) ([]AssignmentResult, error) {
	role, err := s.validateRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	results := make([]AssignmentResult, 0, len(userIDs))
	for _, userID := range userIDs {
		if _, err := s.assignOne(ctx, actor, meta, userID, role, batchID); err != nil {
			results = append(results, AssignmentResult{UserID: userID, Error: userSafeAssignError(err)})
			if s.logger != nil && !errors.Is(err, httpx.ErrNotFound) {
				s.logger.Error("bulk role assignment",
					slog.String("batch_id", batchID), slog.Int64("user_id", userID), slog.Any("error", err))
			}
			continue
		}
		results = append(results, AssignmentResult{UserID: userID, OK: true})
	}
	return results, nil
}

func (s *Assignment) assignOne(ctx context.Context, actor Actor, meta RequestMeta, userID int64, role *Role, batchID string) (User, error) {
	action := "user.role_assign"
	details := map[string]any{}
	if role != nil {
		details["role_id"] = role.ID
		details["role_name"] = role.Name
	} else {
		action = "user.role_clear"
	}
	if batchID != "" {
		details["batch_id"] = batchID
	}

	return s.store.AssignUserRole(ctx, AssignUserRoleParams{
		UserID:              userID,
		Role:                role,
		ScopeOrganizationID: s.guard.ScopeOrganizationID(actor),
		Audit: audit.Entry{
			ActorID:   actor.ID,
			Action:    action,
			Entity:    "user",
			EntityID:  strconv.FormatInt(userID, 10),
			Details:   details,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		},
	})
}

// validateRole resolves the target role once. A missing role is a request
// level validation error, distinct from per-user failures.
func (s *Assignment) validateRole(ctx context.Context, roleID *int64) (*Role, error) {
	if roleID == nil {
		return nil, nil
	}
	role, err := s.store.RoleByID(ctx, *roleID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return nil, fmt.Errorf("rbac: unknown role %d: %w", *roleID, httpx.ErrValidation)
		}
		return nil, err
	}
	return &role, nil
}

func userSafeAssignError(err error) string {
	if errors.Is(err, httpx.ErrNotFound) {
		return "user not found"
	}
	return "assignment failed"
}
