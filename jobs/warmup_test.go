package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clinvera/clinvera/internal/rbac"
)

type fakeSource struct {
	perms map[int64][]string
	calls []int64
}

func (f *fakeSource) RolePermissionNames(ctx context.Context, roleID int64) ([]string, bool, error) {
	f.calls = append(f.calls, roleID)
	names, ok := f.perms[roleID]
	return names, ok, nil
}

type fakeRoleLister struct {
	ids []int64
	err error
}

func (f *fakeRoleLister) ListRoleIDs(ctx context.Context) ([]int64, error) {
	return f.ids, f.err
}

func newWarmupJob(source rbac.PermissionSource, roles RoleLister) *PermissionCacheWarmupJob {
	cache := rbac.NewPermissionCache(nil, time.Minute, source)
	return NewPermissionCacheWarmupJob(cache, roles, nil)
}

func TestWarmupHandlesAllRoles(t *testing.T) {
	source := &fakeSource{perms: map[int64][]string{1: {"patients.view"}, 2: {}}}
	job := newWarmupJob(source, &fakeRoleLister{ids: []int64{1, 2}})

	task, err := NewPermissionCacheWarmupTask(PermissionCacheWarmupPayload{})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(source.calls) != 2 {
		t.Fatalf("expected 2 warmed roles, got %v", source.calls)
	}
}

func TestWarmupScopedPayloadSkipsLister(t *testing.T) {
	source := &fakeSource{perms: map[int64][]string{7: {"billing.view"}}}
	lister := &fakeRoleLister{err: errors.New("must not be called")}
	job := newWarmupJob(source, lister)

	task, err := NewPermissionCacheWarmupTask(PermissionCacheWarmupPayload{RoleIDs: []int64{7}})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(source.calls) != 1 || source.calls[0] != 7 {
		t.Fatalf("expected only role 7 warmed, got %v", source.calls)
	}
}

func TestWarmupMalformedPayloadSkipsRetry(t *testing.T) {
	job := newWarmupJob(&fakeSource{}, &fakeRoleLister{})

	task := asynq.NewTask(TaskPermissionCacheWarmup, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}
}
