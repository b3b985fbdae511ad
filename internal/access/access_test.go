package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermitted(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionAdmin, true},
		{RoleAdmin, ActionWorkerControl, true},
		{RoleManager, ActionWorkerControl, true},
		{RoleManager, ActionAdmin, false},
		{RoleUser, ActionTrade, true},
		{RoleUser, ActionWorkerControl, false},
		{RoleViewer, ActionView, true},
		{RoleViewer, ActionTrade, false},
		{Role("root"), ActionView, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, Permitted(tt.role, tt.action))
		})
	}
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" Manager ")
	assert.True(t, ok)
	assert.Equal(t, RoleManager, r)

	_, ok = ParseRole("superuser")
	assert.False(t, ok)
}

func TestRequire(t *testing.T) {
	router := chi.NewRouter()
	router.With(Require(ActionWorkerControl)).Post("/workers/x/run", func(w http.ResponseWriter, r *http.Request) {
		role, ok := RoleFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(role))
	})

	do := func(role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/workers/x/run", nil)
		if role != "" {
			req.Header.Set(RoleHeader, role)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	missing := do("")
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Equal(t, "application/json", missing.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"missing X-User-Role"}`, missing.Body.String())

	denied := do("viewer")
	assert.Equal(t, http.StatusForbidden, denied.Code)
	assert.JSONEq(t, `{"error":"permission denied: worker_control"}`, denied.Body.String())
	assert.Equal(t, http.StatusForbidden, do("nobody").Code)

	rec := do("admin")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", rec.Body.String())
}
