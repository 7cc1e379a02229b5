package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clinvera/clinvera/internal/rbac"
)

// RoleLister enumerates role IDs eligible for cache warmup.
type RoleLister interface {
	ListRoleIDs(ctx context.Context) ([]int64, error)
}

// PermissionCacheWarmupJob primes the role permission cache so the first
// request after a deploy or invalidation does not pay the database round trip.
type PermissionCacheWarmupJob struct {
	Cache  *rbac.PermissionCache
	Roles  RoleLister
	Logger *slog.Logger
	clock  func() time.Time
}

// NewPermissionCacheWarmupJob wires dependencies for the warmup handler.
func NewPermissionCacheWarmupJob(cache *rbac.PermissionCache, roles RoleLister, logger *slog.Logger) *PermissionCacheWarmupJob {
	return &PermissionCacheWarmupJob{
		Cache:  cache,
		Roles:  roles,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes permission cache warmup tasks.
func (j *PermissionCacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload PermissionCacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger()
	started := j.now()

	roleIDs := payload.RoleIDs
	if len(roleIDs) == 0 {
		if j.Roles == nil {
			return errors.New("cache warmup: role lister not configured")
		}
		ids, err := j.Roles.ListRoleIDs(ctx)
		if err != nil {
			logger.Error("list roles for warmup", slog.Any("error", err))
			return err
		}
		roleIDs = ids
	}

	warmed := 0
	for _, roleID := range roleIDs {
		roleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, _, err := j.Cache.RolePermissionNames(roleCtx, roleID)
		cancel()
		if err != nil {
			logger.Error("warm role", slog.Int64("role_id", roleID), slog.Any("error", err))
			return err
		}
		warmed++
	}

	logger.Info("completed permission cache warmup",
		slog.Int("roles", warmed),
		slog.Duration("duration", time.Since(started)))
	return nil
}

func (j *PermissionCacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPermissionCacheWarmup))
}

func (j *PermissionCacheWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
