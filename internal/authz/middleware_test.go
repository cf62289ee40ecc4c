package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/signalboard/signalboard/internal/shared"
)

func newGuardedRouter(t *testing.T, f *checkerFixture) chi.Router {
	t.Helper()
	guard := Middleware{Checker: f.checker}
	r := chi.NewRouter()
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	r.With(guard.RequireAll("signals:view")).Get("/signals", ok)
	r.With(guard.RequireAny("signals:edit", "signals:view")).Get("/feed", ok)
	r.With(guard.RequirePermission("alerts", "manage")).Get("/alerts", ok)
	return r
}

func doRequest(r chi.Router, path string, userID int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID > 0 {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRejectsMissingPrincipal(t *testing.T) {
	f := newCheckerFixture(t)
	router := newGuardedRouter(t, f)

	rec := doRequest(router, "/signals", 0)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMiddlewareEnforcesPermissions(t *testing.T) {
	f := newCheckerFixture(t)
	f.grantTo(7, "analyst", 70, Permission{ID: 1, Name: "signals:view", Resource: "signals", Action: "view"})
	router := newGuardedRouter(t, f)

	require.Equal(t, http.StatusOK, doRequest(router, "/signals", 7).Code)
	require.Equal(t, http.StatusOK, doRequest(router, "/feed", 7).Code)
	require.Equal(t, http.StatusForbidden, doRequest(router, "/alerts", 7).Code)
	require.Equal(t, http.StatusForbidden, doRequest(router, "/signals", 8).Code)
}

func TestMiddlewareAdminBypass(t *testing.T) {
	f := newCheckerFixture(t)
	f.grantTo(1, "admin", 0)
	router := newGuardedRouter(t, f)

	require.Equal(t, http.StatusOK, doRequest(router, "/signals", 1).Code)
	require.Equal(t, http.StatusOK, doRequest(router, "/alerts", 1).Code)
}

func TestMiddlewareWildcardGrant(t *testing.T) {
	f := newCheckerFixture(t)
	f.grantTo(7, "alert_manager", 60, Permission{ID: 1, Name: "alerts:*", Resource: "alerts", Action: "*"})
	router := newGuardedRouter(t, f)

	require.Equal(t, http.StatusOK, doRequest(router, "/alerts", 7).Code)
}

func TestMiddlewareFailsClosedWhenStoreDown(t *testing.T) {
	f := newCheckerFixture(t)
	f.grantTo(7, "analyst", 70, Permission{ID: 1, Name: "signals:view", Resource: "signals", Action: "view"})
	f.store.failAssignments = true
	router := newGuardedRouter(t, f)

	rec := doRequest(router, "/signals", 7)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
