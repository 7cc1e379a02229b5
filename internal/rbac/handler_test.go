package rbac_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinvera/clinvera/internal/platform/httpx"
	"github.com/clinvera/clinvera/internal/rbac"
)

// memoryStore backs the whole RBAC surface in memory for handler tests.
type memoryStore struct {
	permissions map[int64]rbac.Permission
	roles       map[int64]rbac.Role
	rolePerms   map[int64][]int64
	users       map[int64]rbac.User
	nextRoleID  int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		permissions: make(map[int64]rbac.Permission),
		roles:       make(map[int64]rbac.Role),
		rolePerms:   make(map[int64][]int64),
		users:       make(map[int64]rbac.User),
		nextRoleID:  1,
	}
}

func (m *memoryStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	out := make([]rbac.Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryStore) PermissionsByIDs(ctx context.Context, ids []int64) ([]rbac.Permission, error) {
	out := make([]rbac.Permission, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.permissions[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) ListRoles(ctx context.Context) ([]rbac.RoleSummary, error) {
	out := make([]rbac.RoleSummary, 0, len(m.roles))
	for id, role := range m.roles {
		out = append(out, rbac.RoleSummary{Role: role, PermissionCount: len(m.rolePerms[id])})
	}
	return out, nil
}

func (m *memoryStore) RoleByID(ctx context.Context, id int64) (rbac.Role, error) {
	role, ok := m.roles[id]
	if !ok {
		return rbac.Role{}, fmt.Errorf("rbac: role %d: %w", id, httpx.ErrNotFound)
	}
	return role, nil
}

func (m *memoryStore) GetRole(ctx context.Context, id int64) (rbac.RoleDetail, error) {
	role, err := m.RoleByID(ctx, id)
	if err != nil {
		return rbac.RoleDetail{}, err
	}
	perms := make([]rbac.Permission, 0)
	for _, pid := range m.rolePerms[id] {
		perms = append(perms, m.permissions[pid])
	}
	return rbac.RoleDetail{Role: role, Permissions: perms}, nil
}

func (m *memoryStore) RolePermissionNames(ctx context.Context, roleID int64) ([]string, bool, error) {
	if _, ok := m.roles[roleID]; !ok {
		return nil, false, nil
	}
	names := make([]string, 0)
	for _, pid := range m.rolePerms[roleID] {
		names = append(names, m.permissions[pid].Name)
	}
	return names, true, nil
}

func (m *memoryStore) CreateRole(ctx context.Context, params rbac.CreateRoleParams) (rbac.Role, error) {
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, params.Name) {
			return rbac.Role{}, fmt.Errorf("rbac: role name %q already exists: %w", params.Name, httpx.ErrConflict)
		}
	}
	id := m.nextRoleID
	m.nextRoleID++
	now := time.Now()
	role := rbac.Role{ID: id, Name: params.Name, Description: params.Description, CreatedAt: now, UpdatedAt: now}
	m.roles[id] = role
	m.rolePerms[id] = params.PermissionIDs
	return role, nil
}

func (m *memoryStore) ReplaceRolePermissions(ctx context.Context, params rbac.ReplaceRolePermissionsParams) error {
	if _, ok := m.roles[params.RoleID]; !ok {
		return fmt.Errorf("rbac: role %d: %w", params.RoleID, httpx.ErrNotFound)
	}
	m.rolePerms[params.RoleID] = params.PermissionIDs
	return nil
}

func (m *memoryStore) DeleteRole(ctx context.Context, params rbac.DeleteRoleParams) error {
	role, ok := m.roles[params.RoleID]
	if !ok {
		return fmt.Errorf("rbac: role %d: %w", params.RoleID, httpx.ErrNotFound)
	}
	if role.IsSystemDefault {
		return fmt.Errorf("rbac: system default role cannot be deleted: %w", httpx.ErrConflict)
	}
	for _, u := range m.users {
		if u.RoleID != nil && *u.RoleID == params.RoleID {
			return fmt.Errorf("rbac: role is assigned to user(s): %w", httpx.ErrConflict)
		}
	}
	delete(m.roles, params.RoleID)
	delete(m.rolePerms, params.RoleID)
	return nil
}

func (m *memoryStore) UserByID(ctx context.Context, id int64) (rbac.User, error) {
	user, ok := m.users[id]
	if !ok {
		return rbac.User{}, fmt.Errorf("rbac: user %d: %w", id, httpx.ErrNotFound)
	}
	return user, nil
}

func (m *memoryStore) AssignUserRole(ctx context.Context, params rbac.AssignUserRoleParams) (rbac.User, error) {
	user, ok := m.users[params.UserID]
	if !ok {
		return rbac.User{}, fmt.Errorf("rbac: user %d: %w", params.UserID, httpx.ErrNotFound)
	}
	if params.ScopeOrganizationID != nil && user.OrganizationID != *params.ScopeOrganizationID {
		return rbac.User{}, fmt.Errorf("rbac: user %d: %w", params.UserID, httpx.ErrNotFound)
	}
	if params.Role != nil {
		roleID := params.Role.ID
		user.RoleID = &roleID
		user.LegacyRole = strings.ToLower(params.Role.Name)
	} else {
		user.RoleID = nil
	}
	m.users[params.UserID] = user
	return user, nil
}

func newTestRouter(store *memoryStore, actor *rbac.Actor) http.Handler {
	guard := rbac.ScopeGuard{}
	resolver := rbac.NewResolver(store, nil)
	mw := rbac.Middleware{Resolver: resolver}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := rbac.NewHandler(
		logger,
		rbac.NewCatalog(store),
		rbac.NewLifecycle(store, nil, nil),
		rbac.NewAssignment(store, guard, nil),
		resolver,
		store,
		guard,
		mw,
	)

	r := chi.NewRouter()
	if actor != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(rbac.ContextWithActor(req.Context(), actor)))
			})
		})
	}
	handler.MountRoutes(r)
	return r
}

func seedStore() *memoryStore {
	store := newMemoryStore()
	store.permissions[1] = rbac.Permission{ID: 1, Name: rbac.PermPatientsView, Category: "patients"}
	store.permissions[2] = rbac.Permission{ID: 2, Name: rbac.PermRolesManage, Category: "administration"}
	store.roles[5] = rbac.Role{ID: 5, Name: "Doctor"}
	store.rolePerms[5] = []int64{1}
	store.nextRoleID = 6
	store.users[20] = rbac.User{ID: 20, OrganizationID: 1, Email: "staff@clinic.test"}
	store.users[30] = rbac.User{ID: 30, OrganizationID: 2, Email: "other@clinic.test", LegacyRole: "doctor"}
	return store
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

var adminActor = &rbac.Actor{ID: 99, OrganizationID: 1, LegacyRole: "admin"}

func TestRolesRequireAuthentication(t *testing.T) {
	router := newTestRouter(seedStore(), nil)

	res := doJSON(t, router, http.MethodGet, "/roles", "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestRolesForbiddenWithoutPermission(t *testing.T) {
	store := seedStore()
	actor := &rbac.Actor{ID: 50, OrganizationID: 1, LegacyRole: "lab_technician"}
	router := newTestRouter(store, actor)

	res := doJSON(t, router, http.MethodGet, "/roles", "")
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestCreateRoleFlow(t *testing.T) {
	store := seedStore()
	router := newTestRouter(store, adminActor)

	res := doJSON(t, router, http.MethodPost, "/roles", `{"name":"Triage","permissionIds":[1]}`)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", res.Code, res.Body.String())
	}

	var detail rbac.RoleDetail
	if err := json.Unmarshal(res.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if detail.Name != "Triage" || len(detail.Permissions) != 1 {
		t.Fatalf("unexpected role detail: %+v", detail)
	}
}

func TestCreateRoleDuplicateNameConflicts(t *testing.T) {
	router := newTestRouter(seedStore(), adminActor)

	res := doJSON(t, router, http.MethodPost, "/roles", `{"name":"doctor"}`)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", res.Code, res.Body.String())
	}
}

func TestCreateRoleUnknownPermissionRejected(t *testing.T) {
	router := newTestRouter(seedStore(), adminActor)

	res := doJSON(t, router, http.MethodPost, "/roles", `{"name":"Triage","permissionIds":[1,77]}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", res.Code, res.Body.String())
	}
}

func TestCreateRoleMalformedBody(t *testing.T) {
	router := newTestRouter(seedStore(), adminActor)

	res := doJSON(t, router, http.MethodPost, "/roles", `{"name":`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestDeleteRoleInUseConflicts(t *testing.T) {
	store := seedStore()
	roleID := int64(5)
	user := store.users[20]
	user.RoleID = &roleID
	store.users[20] = user
	router := newTestRouter(store, adminActor)

	res := doJSON(t, router, http.MethodDelete, "/roles/5", "")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", res.Code, res.Body.String())
	}
	if _, ok := store.roles[5]; !ok {
		t.Fatalf("role must survive a refused delete")
	}
}

func TestReplaceRolePermissionsIdempotent(t *testing.T) {
	store := seedStore()
	router := newTestRouter(store, adminActor)

	permNames := func() []string {
		res := doJSON(t, router, http.MethodGet, "/roles/5", "")
		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
		}
		var detail rbac.RoleDetail
		if err := json.Unmarshal(res.Body.Bytes(), &detail); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		names := make([]string, 0, len(detail.Permissions))
		for _, p := range detail.Permissions {
			names = append(names, p.Name)
		}
		return names
	}

	var observed [][]string
	for i := 0; i < 2; i++ {
		res := doJSON(t, router, http.MethodPut, "/roles/5/permissions", `{"permissionIds":[1,2]}`)
		if res.Code != http.StatusOK {
			t.Fatalf("replace %d: expected 200, got %d body=%s", i+1, res.Code, res.Body.String())
		}
		observed = append(observed, permNames())
	}

	if len(observed[0]) != 2 {
		t.Fatalf("expected 2 permissions after replace, got %v", observed[0])
	}
	// Re-applying the identical set must leave the observable set unchanged.
	if len(observed[0]) != len(observed[1]) {
		t.Fatalf("replace is not idempotent: %v vs %v", observed[0], observed[1])
	}
	for i := range observed[0] {
		if observed[0][i] != observed[1][i] {
			t.Fatalf("replace is not idempotent: %v vs %v", observed[0], observed[1])
		}
	}
}

func TestReplaceRolePermissionsUnknownRole(t *testing.T) {
	router := newTestRouter(seedStore(), adminActor)

	res := doJSON(t, router, http.MethodPut, "/roles/404/permissions", `{"permissionIds":[1]}`)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", res.Code, res.Body.String())
	}
}

func TestAssignUserRoleMirrorsLegacyLabel(t *testing.T) {
	store := seedStore()
	router := newTestRouter(store, adminActor)

	res := doJSON(t, router, http.MethodPut, "/users/20/role", `{"roleId":5}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
	}

	var user rbac.User
	if err := json.Unmarshal(res.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if user.RoleID == nil || *user.RoleID != 5 {
		t.Fatalf("expected role 5 assigned, got %+v", user)
	}
	if user.LegacyRole != "doctor" {
		t.Fatalf("expected legacy label mirror 'doctor', got %q", user.LegacyRole)
	}
}

func TestUserPermissionsCrossOrgHidden(t *testing.T) {
	router := newTestRouter(seedStore(), adminActor)

	// User 30 exists but belongs to another organization.
	res := doJSON(t, router, http.MethodGet, "/users/30/permissions", "")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-organization lookup, got %d", res.Code)
	}
}

func TestUserPermissionsPlatformActorSeesAllOrgs(t *testing.T) {
	store := seedStore()
	platform := &rbac.Actor{ID: 99, OrganizationID: 1, LegacyRole: "admin", IsPlatformLevel: true}
	router := newTestRouter(store, platform)

	res := doJSON(t, router, http.MethodGet, "/users/30/permissions", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
	}

	var names []string
	if err := json.Unmarshal(res.Body.Bytes(), &names); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected legacy doctor bundle to resolve, got none")
	}
}

func TestBulkAssignMixedResults(t *testing.T) {
	store := seedStore()
	router := newTestRouter(store, adminActor)

	res := doJSON(t, router, http.MethodPost, "/bulk-assign-roles", `{"userIds":[20,21,30],"roleId":5}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", res.Code, res.Body.String())
	}

	var results []rbac.AssignmentResult
	if err := json.Unmarshal(res.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected one result per input user, got %d", len(results))
	}
	if !results[0].OK {
		t.Fatalf("expected user 20 to succeed: %+v", results[0])
	}
	// User 21 does not exist; user 30 is in another organization. Both surface
	// the same user-safe message.
	for _, r := range results[1:] {
		if r.OK || r.Error != "user not found" {
			t.Fatalf("expected masked failure, got %+v", r)
		}
	}
}

func TestBulkAssignUnknownRoleFailsWholeRequest(t *testing.T) {
	store := seedStore()
	router := newTestRouter(store, adminActor)

	res := doJSON(t, router, http.MethodPost, "/bulk-assign-roles", `{"userIds":[20],"roleId":404}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", res.Code, res.Body.String())
	}
	if user := store.users[20]; user.RoleID != nil {
		t.Fatalf("no assignment may happen when the role is unknown")
	}
}

func TestBulkAssignEmptyBatchRejected(t *testing.T) {
	router := newTestRouter(seedStore(), adminActor)

	res := doJSON(t, router, http.MethodPost, "/bulk-assign-roles", `{"userIds":[]}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
