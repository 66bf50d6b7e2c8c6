package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/ingest"
	"github.com/Zerostate-IO/powerblockade/internal/app/nodesync"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := memory.New()
	pipeline := ingest.New(store, nil, nil)
	nodeSync := nodesync.New(store, pipeline, t.TempDir(), nil)
	return NewService("127.0.0.1:0", nodeSync, store, nil)
}

func TestHandleHealth(t *testing.T) {
	svc := newTestService(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	svc.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"ok":true}`, resp.Body.String())
}

func TestHandleVersion(t *testing.T) {
	svc := newTestService(t)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	resp := httptest.NewRecorder()
	svc.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"version"`)
}

func TestMetricsEndpointIsExposed(t *testing.T) {
	svc := newTestService(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	svc.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestCORSPreflightIsShortCircuited(t *testing.T) {
	svc := newTestService(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/node-sync/anything", nil)
	resp := httptest.NewRecorder()
	svc.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}
