package nodesync

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/ingest"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

func newTestServer(t *testing.T) (*Server, domain.Node, string) {
	t.Helper()
	store := memory.New()
	node, err := store.CreateNode(context.Background(), domain.Node{Name: "sec-1", APIKey: "test-key-123"})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir+"/rpz", 0o755))
	require.NoError(t, os.WriteFile(dir+"/rpz/blocklist-combined.rpz", []byte("$TTL 300\n@ IN SOA localhost. hostmaster.localhost. 1 3600 600 604800 300\n@ IN NS localhost.\n"), 0o644))
	require.NoError(t, store.SetSetting(context.Background(), domain.SettingConfigVersion, "abc123"))

	pipeline := ingest.New(store, nil, nil)
	s := New(store, pipeline, dir, nil)
	return s, node, dir
}

func doRequest(t *testing.T, s *Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set(NodeKeyHeader, apiKey)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestAuth_MissingKeyReturns401NoBody(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := doRequest(t, s, http.MethodPost, "/register", "", RegisterRequest{Name: "x"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, rr.Body.Bytes())
}

func TestAuth_InvalidKeyReturns401NoBody(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := doRequest(t, s, http.MethodPost, "/register", "wrong-key", RegisterRequest{Name: "x"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, rr.Body.Bytes())
}

func TestRegister_BindsNameAndReturnsConfigVersion(t *testing.T) {
	srv, node, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/register", node.APIKey, RegisterRequest{Name: "renamed", Version: "1.2.3"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, true, resp["ok"])
	require.Equal(t, "abc123", resp["config_version"])

	updated, err := srv.store.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, domain.NodeStatusActive, updated.Status)
}

func TestHeartbeat_UpdatesCountersAndReturnsConfigVersion(t *testing.T) {
	srv, node, _ := newTestServer(t)
	total := int64(100)
	blocked := int64(10)

	rr := doRequest(t, srv, http.MethodPost, "/heartbeat", node.APIKey, HeartbeatRequest{QueriesTotal: &total, QueriesBlocked: &blocked})
	require.Equal(t, http.StatusOK, rr.Code)

	updated, err := srv.store.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), updated.QueriesTotal)
	require.Equal(t, int64(10), updated.QueriesBlocked)
}

func TestConfig_ReturnsRPZFilesAndSettings(t *testing.T) {
	srv, node, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/config", node.APIKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp configResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "abc123", resp.ConfigVersion)
	require.Len(t, resp.RPZFiles, 1)
	require.Len(t, resp.RPZFiles[0].Checksum, 16)
	require.Equal(t, "true", resp.Settings[domain.SettingPTRResolution])
}

func TestIngest_ReturnsInsertedCount(t *testing.T) {
	srv, node, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/ingest", node.APIKey, IngestRequest{
		Events: []EventDTO{
			{ClientIP: "10.0.0.1", QName: "example.com", EventID: "e1"},
			{ClientIP: "10.0.0.1", QName: "example.com", EventID: "e1"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp["received"])
}

func TestMetrics_RecordsNodeMetricsRow(t *testing.T) {
	srv, node, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/metrics", node.APIKey, MetricsRequest{Questions: 42, CacheHits: 10})
	require.Equal(t, http.StatusOK, rr.Code)

	metrics, err := srv.store.LatestNodeMetricsByNode(context.Background())
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Equal(t, int64(42), metrics[0].Questions)
}

func TestCommands_PollAndResult(t *testing.T) {
	srv, node, _ := newTestServer(t)

	cmd, err := srv.store.CreateNodeCommand(context.Background(), domain.NodeCommand{NodeID: &node.ID, Command: domain.CommandClearCache})
	require.NoError(t, err)

	rr := doRequest(t, srv, http.MethodGet, "/commands", node.APIKey, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listResp struct {
		Commands []struct {
			ID      string `json:"id"`
			Command string `json:"command"`
		} `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listResp))
	require.Len(t, listResp.Commands, 1)
	require.Equal(t, cmd.ID, listResp.Commands[0].ID)

	rr = doRequest(t, srv, http.MethodPost, "/commands/result", node.APIKey, CommandResultRequest{ID: cmd.ID, Success: true})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, srv, http.MethodGet, "/commands", node.APIKey, nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listResp))
	require.Empty(t, listResp.Commands)
}
