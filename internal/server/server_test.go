package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cassini-chris/chroma/internal/config"
	"github.com/Cassini-chris/chroma/internal/coordinator"
	"github.com/Cassini-chris/chroma/internal/logservice"
	"github.com/Cassini-chris/chroma/internal/storage"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()

	utils.InitLogger("error", "text", "stdout", "")

	store, err := storage.NewStore(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "server.db"),
		MaxConnections:   10,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	svc, err := logservice.NewLogService(&logservice.ServiceConfig{
		MaxPushBatchSize: 100,
		MaxPullBatchSize: 100,
		PurgeSchedule:    "@every 1h",
	}, store, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop() })

	coord := coordinator.NewCoordinator(&coordinator.Config{}, store, nil)

	srv, err := NewHTTPServer(&ServerConfig{
		Port:         8081,
		Host:         "127.0.0.1",
		EnableHealth: true,
	}, store, svc, coord, nil)
	require.NoError(t, err)

	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func createCollectionViaAPI(t *testing.T, handler http.Handler, name string) string {
	t.Helper()
	rec := doJSON(t, handler, "POST", "/api/v1/collections", map[string]interface{}{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Router(), "GET", "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = doJSON(t, srv.Router(), "GET", "/api/v1/health/detailed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Contains(t, components, "storage")
	assert.Contains(t, components, "logservice")
	assert.Contains(t, components, "coordinator")
}

func TestCollectionEndpoints(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	id := createCollectionViaAPI(t, router, "embeddings")

	rec := doJSON(t, router, "GET", "/api/v1/collections/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "embeddings", decodeBody(t, rec)["name"])

	// Missing collection
	rec = doJSON(t, router, "GET", "/api/v1/collections/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed ID
	rec = doJSON(t, router, "GET", "/api/v1/collections/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing name on create
	rec = doJSON(t, router, "POST", "/api/v1/collections", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/collections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = doJSON(t, router, "DELETE", "/api/v1/collections/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/api/v1/collections/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogEndpoints(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	id := createCollectionViaAPI(t, router, "log-stream")

	// Push three records; []byte payloads travel base64-encoded in JSON
	rec := doJSON(t, router, "POST", "/api/v1/logs/"+id, map[string]interface{}{
		"records": [][]byte{[]byte("r1"), []byte("r2"), []byte("r3")},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(3), decodeBody(t, rec)["record_count"])

	// Pull with a window
	rec = doJSON(t, router, "GET", fmt.Sprintf("/api/v1/logs/%s?start_offset=2&batch_size=1", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["total"])
	records := body["records"].([]interface{})
	first := records[0].(map[string]interface{})
	assert.Equal(t, float64(2), first["offset"])

	// Push to a missing collection
	rec = doJSON(t, router, "POST", "/api/v1/logs/"+uuid.NewString(), map[string]interface{}{
		"records": [][]byte{[]byte("x")},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Candidates include the collection until its position is flushed
	rec = doJSON(t, router, "GET", "/api/v1/logs/compaction/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	rec = doJSON(t, router, "POST", "/api/v1/collections/"+id+"/position", map[string]interface{}{
		"log_position": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Regression is rejected
	rec = doJSON(t, router, "POST", "/api/v1/collections/"+id+"/position", map[string]interface{}{
		"log_position": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Purge removes everything at or below the flushed position
	rec = doJSON(t, router, "POST", "/api/v1/logs/"+id+"/purge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["purged"])

	rec = doJSON(t, router, "GET", "/api/v1/logs/compaction/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"])

	// Sweep endpoint
	rec = doJSON(t, router, "POST", "/api/v1/logs/purge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
