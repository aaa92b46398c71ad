package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	pingFn func(context.Context) error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeGraphs{}, &fakeSearcher{}, &fakePinger{})

	rr := serve(server, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestReadyEndpoint_Success(t *testing.T) {
	server := newTestServer(&fakeGraphs{}, &fakeSearcher{}, &fakePinger{})

	rr := serve(server, http.MethodGet, "/ready")
	require.Equal(t, http.StatusOK, rr.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, true, response["ok"])
	assert.Equal(t, "ready", response["status"])

	checks := response["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	assert.Equal(t, "ok", database["status"])
}

func TestReadyEndpoint_DatabaseFailure(t *testing.T) {
	pinger := &fakePinger{pingFn: func(context.Context) error {
		return errors.New("connection refused")
	}}
	server := newTestServer(&fakeGraphs{}, &fakeSearcher{}, pinger)

	rr := serve(server, http.MethodGet, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, false, response["ok"])
	assert.Equal(t, "not_ready", response["status"])

	database := response["checks"].(map[string]any)["database"].(map[string]any)
	assert.Equal(t, "error", database["status"])
	assert.Equal(t, "connection refused", database["error"])
}

func TestReadyEndpoint_PassesDeadline(t *testing.T) {
	var hadDeadline bool
	pinger := &fakePinger{pingFn: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}}
	server := newTestServer(&fakeGraphs{}, &fakeSearcher{}, pinger)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, hadDeadline)
}

func TestReadyEndpoint_IdentityCacheCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cache := &fakePinger{pingFn: func(context.Context) error {
		return errors.New("redis: connection refused")
	}}
	server := NewHTTPServer(&fakeGraphs{}, &fakeSearcher{}, &fakePinger{}, nil, Options{IdentityCache: cache})

	rr := serve(server, http.MethodGet, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	checks := response["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"].(map[string]any)["status"])
	assert.Equal(t, "error", checks["identity_cache"].(map[string]any)["status"])

	cache.pingFn = nil
	rr = serve(server, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadyEndpoint_OmitsIdentityCacheByDefault(t *testing.T) {
	rr := serve(newTestServer(&fakeGraphs{}, &fakeSearcher{}, &fakePinger{}), http.MethodGet, "/ready")

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.NotContains(t, response["checks"], "identity_cache")
}
