package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/agentcircle/agent/embedding"
	"github.com/BaSui01/agentcircle/agent/persistence"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runtimeChecks 按服务端的方式注册 kv、redis 与嵌入器检查
func runtimeChecks(t *testing.T) (*HealthHandler, *persistence.MemoryKV, *miniredis.Miniredis, *embedding.HashEmbedder) {
	t.Helper()
	kv := persistence.NewMemoryKV()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	emb := embedding.NewHashEmbedder(32, nil)

	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewFuncCheck("kv", kv.Ping))
	h.RegisterCheck(NewFuncCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	h.RegisterCheck(NewFuncCheck("embedder", func(ctx context.Context) error {
		if !emb.Ready() {
			return errors.New("embedder not initialized")
		}
		return nil
	}))
	return h, kv, mr, emb
}

func ready(t *testing.T, h *HealthHandler) (int, HealthStatus) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return w.Code, status
}

func TestHandleReady_EmbedderGatesReadiness(t *testing.T) {
	h, _, _, emb := runtimeChecks(t)

	code, status := ready(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "fail", status.Checks["embedder"].Status)
	assert.Equal(t, "embedder not initialized", status.Checks["embedder"].Message)
	assert.Equal(t, "pass", status.Checks["kv"].Status)
	assert.Equal(t, "pass", status.Checks["redis"].Status)

	require.NoError(t, emb.Init(context.Background()))
	code, status = ready(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status.Status)
	for _, name := range []string{"kv", "redis", "embedder"} {
		assert.Equal(t, "pass", status.Checks[name].Status, name)
		assert.NotEmpty(t, status.Checks[name].Latency, name)
	}
}

func TestHandleReady_StorageOutages(t *testing.T) {
	h, kv, mr, emb := runtimeChecks(t)
	require.NoError(t, emb.Init(context.Background()))

	mr.Close()
	code, status := ready(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fail", status.Checks["redis"].Status)
	assert.Equal(t, "pass", status.Checks["kv"].Status)

	require.NoError(t, kv.Close())
	_, status = ready(t, h)
	assert.Equal(t, "fail", status.Checks["kv"].Status)
	assert.Equal(t, persistence.ErrStoreClosed.Error(), status.Checks["kv"].Message)
}

func TestHandleReady_ChecksRunUnderDeadline(t *testing.T) {
	h := NewHealthHandler(nil)
	h.RegisterCheck(NewFuncCheck("database", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		assert.WithinDuration(t, time.Now().Add(readyTimeout), deadline, time.Second)
		return nil
	}))

	code, status := ready(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pass", status.Checks["database"].Status)
}

func TestHandleHealth_IgnoresChecks(t *testing.T) {
	h, kv, _, _ := runtimeChecks(t)
	require.NoError(t, kv.Close())

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Empty(t, status.Checks)
}

func TestHandleVersion(t *testing.T) {
	h := NewHealthHandler(nil)
	w := httptest.NewRecorder()
	h.HandleVersion("0.3.0", "2026-06-01T09:00:00Z", "c1rc1e")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	var info map[string]string
	decode(t, resp, &info)
	assert.Equal(t, map[string]string{
		"version":    "0.3.0",
		"build_time": "2026-06-01T09:00:00Z",
		"git_commit": "c1rc1e",
	}, info)
}

func TestHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler(nil).RegisterRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
