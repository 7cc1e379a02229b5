package rbac

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

var errTestSource = errors.New("source down")

func gateRequest(t *testing.T, mw Middleware, perms []string, actor *Actor) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	handlerRan := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if actor != nil {
		req = req.WithContext(ContextWithActor(req.Context(), actor))
	}
	res := httptest.NewRecorder()
	mw.RequireAny(perms...)(next).ServeHTTP(res, req)
	return res, handlerRan
}

func TestRequirePermissionUnauthenticated(t *testing.T) {
	mw := Middleware{Resolver: NewResolver(&stubSource{}, nil)}

	res, handlerRan := gateRequest(t, mw, []string{PermRolesView}, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if handlerRan {
		t.Fatalf("handler must not run for unauthenticated requests")
	}
}

func TestRequirePermissionDenied(t *testing.T) {
	mw := Middleware{Resolver: NewResolver(&stubSource{}, nil)}
	actor := &Actor{ID: 3, OrganizationID: 1, LegacyRole: "receptionist"}

	res, handlerRan := gateRequest(t, mw, []string{PermRolesManage}, actor)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	if handlerRan {
		t.Fatalf("handler must not run for denied requests")
	}
}

func TestRequirePermissionAllowed(t *testing.T) {
	mw := Middleware{Resolver: NewResolver(&stubSource{}, nil)}
	actor := &Actor{ID: 3, OrganizationID: 1, LegacyRole: "admin"}

	res, handlerRan := gateRequest(t, mw, []string{PermRolesManage}, actor)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if !handlerRan {
		t.Fatalf("expected handler to run")
	}
}

func TestRequireAnyGrantsOnSecondPermission(t *testing.T) {
	mw := Middleware{Resolver: NewResolver(&stubSource{}, nil)}
	actor := &Actor{ID: 4, OrganizationID: 1, LegacyRole: "billing_clerk"}

	res, handlerRan := gateRequest(t, mw, []string{PermRolesManage, PermBillingView}, actor)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if !handlerRan {
		t.Fatalf("expected handler to run when any permission matches")
	}
}

func TestRequirePermissionResolverFailure(t *testing.T) {
	source := &stubSource{err: errTestSource}
	mw := Middleware{Resolver: NewResolver(source, nil)}
	actor := &Actor{ID: 5, OrganizationID: 1, RoleID: int64Ptr(9)}

	res, handlerRan := gateRequest(t, mw, []string{PermRolesView}, actor)
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if handlerRan {
		t.Fatalf("handler must not run when resolution fails")
	}
}
