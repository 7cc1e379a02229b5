package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionCacheWarmup pre-populates the role permission cache.
	TaskPermissionCacheWarmup = "rbac:cache_warmup"
)

// PermissionCacheWarmupPayload scopes a warmup run. An empty RoleIDs slice
// means every role.
type PermissionCacheWarmupPayload struct {
	RoleIDs []int64 `json:"roleIds,omitempty"`
}

// NewPermissionCacheWarmupTask constructs an Asynq task.
func NewPermissionCacheWarmupTask(payload PermissionCacheWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionCacheWarmup, data), nil
}
