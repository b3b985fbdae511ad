package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketcore/internal/access"
	"github.com/aristath/marketcore/internal/config"
	"github.com/aristath/marketcore/internal/di"
	"github.com/aristath/marketcore/internal/modules/orders"
	"github.com/aristath/marketcore/internal/worker"
)

func newTestServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()

	container, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		container.Workers.StopAll(cfg.Workers.StopTimeout)
		container.Close()
	})

	return New(Config{Log: zerolog.Nop(), Port: 0, DevMode: true, Container: container}), container
}

func do(t *testing.T, s *Server, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if role != "" {
		req.Header.Set(access.RoleHeader, role)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"core": "ok", "client_data": "ok"}, body["databases"])
}

func TestWorkersEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/workers", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []worker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 4)
	for _, st := range list {
		assert.Equal(t, "not_started", st.State)
	}

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/workers/nope", "", "").Code)

	// control requires a sufficient role
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodPost, "/api/workers/reflection/run", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/api/workers/reflection/run", "viewer", "").Code)

	rec = do(t, s, http.MethodPost, "/api/workers/reflection/run", "manager", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run struct {
		OK     bool          `json:"ok"`
		Status worker.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.True(t, run.OK)
	assert.Equal(t, uint64(1), run.Status.Cycles)

	rec = do(t, s, http.MethodPost, "/api/workers/reflection/start", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"running"`)

	rec = do(t, s, http.MethodPost, "/api/workers/reflection/stop", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stopped":true`)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/api/workers/nope/start", "admin", "").Code)
}

func TestJobsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/jobs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache_sweep")

	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/api/jobs/cache_sweep/run", "manager", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/jobs/cache_sweep/run", "admin", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/jobs/unknown/run", "admin", "").Code)
}

func TestOrdersEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"market":"crypto","symbol":"BTC/USDT","side":"buy","order_type":"market","quantity":"0.5","reference_price":"60000"}`

	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/api/orders", "viewer", body).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/orders", "user", `{"market":"crypto"}`).Code)

	rec := do(t, s, http.MethodPost, "/api/orders", "user", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, orders.StatusPending, created.Status)
	assert.NotEmpty(t, created.ClientOrderID)

	rec = do(t, s, http.MethodGet, "/api/orders/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/orders/missing", "", "").Code)

	rec = do(t, s, http.MethodGet, "/api/orders?status=pending", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/orders?status=weird", "", "").Code)

	rec = do(t, s, http.MethodGet, "/api/orders/counts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":1`)
}

func TestReadEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/api/breakers",
		"/api/cache",
		"/api/portfolio/positions",
		"/api/portfolio/snapshots",
		"/api/portfolio/alerts",
		"/api/predictions/opportunities?category=crypto",
		"/api/reflection/stats?days=7",
		"/metrics",
	} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, path, "", "").Code)
		})
	}

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/portfolio/totals", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/reflection/stats?market=moon", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/portfolio/snapshots?limit=-1", "", "").Code)

	rec := do(t, s, http.MethodGet, "/api/cache", "", "")
	var stats []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Len(t, stats, 4)
}
