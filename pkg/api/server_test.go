package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/heliorand/pkg/pool"
	"github.com/TheEntropyCollective/heliorand/pkg/pool/store"
)

func newTestServer(t *testing.T) (*Server, *pool.Pool, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	p := pool.New(s, time.Hour, nil)
	return NewServer(p, "/api/v1", 10240, nil), p, s
}

func doRequest(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func fillPool(t *testing.T, p *pool.Pool, blockSize, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		payload := make([]byte, blockSize)
		for j := range payload {
			payload[j] = byte(i + j)
		}
		_, err := p.Add(context.Background(), payload, 0.9, 7.9, nil)
		require.NoError(t, err)
	}
}

func TestRandomN(t *testing.T) {
	server, p, _ := newTestServer(t)
	fillPool(t, p, 4096, 1)

	rec := doRequest(t, server, "/api/v1/random/64")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "base64", body["format"])
	assert.Equal(t, float64(64), body["length"])

	raw, err := base64.StdEncoding.DecodeString(body["bytes"].(string))
	require.NoError(t, err)
	assert.Len(t, raw, 64)
}

func TestRandomDefaultServes256(t *testing.T) {
	server, p, _ := newTestServer(t)
	fillPool(t, p, 4096, 1)

	rec := doRequest(t, server, "/api/v1/random")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(256), decodeBody(t, rec)["length"])
}

func TestRandomBadRequests(t *testing.T) {
	server, p, _ := newTestServer(t)
	fillPool(t, p, 4096, 1)

	for _, path := range []string{
		"/api/v1/random/0",
		"/api/v1/random/-5",
		"/api/v1/random/10241",
		"/api/v1/random/abc",
	} {
		rec := doRequest(t, server, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "path %s", path)
		assert.Contains(t, decodeBody(t, rec), "detail")
	}
}

func TestRandomEmptyPool(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, "/api/v1/random/64")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRandomNotEnough(t *testing.T) {
	server, p, _ := newTestServer(t)
	fillPool(t, p, 100, 1)

	rec := doRequest(t, server, "/api/v1/random/500")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRandomStoreOutage(t *testing.T) {
	server, p, s := newTestServer(t)
	fillPool(t, p, 4096, 1)
	s.SetAvailable(false)

	rec := doRequest(t, server, "/api/v1/random/64")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "entropy service unavailable", decodeBody(t, rec)["detail"])
}

func TestStats(t *testing.T) {
	server, p, _ := newTestServer(t)
	fillPool(t, p, 4096, 2)

	rec := doRequest(t, server, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, float64(2), body["available_blocks"])
	assert.Equal(t, float64(8192), body["available_bytes"])
	assert.Equal(t, float64(2), body["blocks_added"])
}

func TestStatsStoreOutage(t *testing.T) {
	server, _, s := newTestServer(t)
	s.SetAvailable(false)

	// An unreachable store is not an error for this endpoint; the snapshot
	// itself says the pool is disconnected.
	rec := doRequest(t, server, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disconnected", decodeBody(t, rec)["status"])
}

func TestHealth(t *testing.T) {
	server, p, _ := newTestServer(t)

	rec := doRequest(t, server, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])

	fillPool(t, p, 4096, 1)
	rec = doRequest(t, server, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, serviceName, body["service"])
}

func TestRootAndPing(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, serviceName, body["service"])
	assert.Equal(t, "/api/v1", body["api_base"])

	rec = doRequest(t, server, "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", decodeBody(t, rec)["ping"])
}
