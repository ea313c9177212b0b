package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcircle/config"
	"github.com/BaSui01/agentcircle/internal/ctxkeys"
	"github.com/BaSui01/agentcircle/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okHandler(), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_KeepsClientValue(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-42")
	RequestID()(inner).ServeHTTP(w, r)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	Recovery(zap.NewNop())(inner).ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
}

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{"secret"}, []string{"/health"}, zap.NewNop())(okHandler())

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{name: "valid key", path: "/api/v1/agents", key: "secret", want: http.StatusOK},
		{name: "wrong key", path: "/api/v1/agents", key: "nope", want: http.StatusForbidden},
		{name: "missing key", path: "/api/v1/agents", want: http.StatusForbidden},
		{name: "skipped path", path: "/health", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				r.Header.Set("X-API-Key", tt.key)
			}
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAPIKeyAuth_NoKeysPassesThrough(t *testing.T) {
	handler := APIKeyAuth(nil, nil, zap.NewNop())(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 其他 IP 有独立配额
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:5555"
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/v1/agents", "/api/v1/agents"},
		{"/api/v1/conversations/3f2a9c1e-1b2c-4d5e-8f90-123456789abc/messages", "/api/v1/conversations/:id/messages"},
		{"/api/v1/sessions/42/start", "/api/v1/sessions/:id/start"},
		{"/", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	collector := metrics.NewCollector("middleware_test", zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Chain(mux, RequestID(), MetricsMiddleware(collector))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/agents/alice", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "middleware_test_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["path"] == "/api/v1/agents/{id}" {
				found = true
				assert.Equal(t, "GET", labels["method"])
				assert.Equal(t, float64(1), m.GetCounter().GetValue())
			}
		}
	}
	assert.True(t, found, "request should be labelled with the route pattern")
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	handler := MetricsMiddleware(nil)(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Enabled: true, Secret: "circle-secret", Issuer: "agentcircle"}
	var operator string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, _ = ctxkeys.Operator(r.Context())
	})
	handler := JWTAuth(cfg, []string{"/health"}, zap.NewNop())(inner)

	valid := signHS256(t, cfg.Secret, jwt.MapClaims{
		"sub": "alfonso", "iss": "agentcircle", "exp": time.Now().Add(time.Hour).Unix(),
	})
	expired := signHS256(t, cfg.Secret, jwt.MapClaims{
		"sub": "alfonso", "iss": "agentcircle", "exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongIssuer := signHS256(t, cfg.Secret, jwt.MapClaims{"sub": "alfonso", "iss": "altro"})
	wrongSecret := signHS256(t, "other", jwt.MapClaims{"sub": "alfonso", "iss": "agentcircle"})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "valid token", path: "/api/v1/agents", header: "Bearer " + valid, want: http.StatusOK},
		{name: "expired", path: "/api/v1/agents", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong issuer", path: "/api/v1/agents", header: "Bearer " + wrongIssuer, want: http.StatusUnauthorized},
		{name: "wrong secret", path: "/api/v1/agents", header: "Bearer " + wrongSecret, want: http.StatusUnauthorized},
		{name: "not bearer", path: "/api/v1/agents", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "missing", path: "/api/v1/agents", want: http.StatusUnauthorized},
		{name: "skipped path", path: "/health", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operator = ""
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(w, r)
			require.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				var body struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
			}
			if tt.name == "valid token" {
				assert.Equal(t, "alfonso", operator)
			}
		})
	}
}

func TestJWTAuth_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	handler := JWTAuth(config.JWTConfig{Enabled: true, PublicKey: string(pubPEM)}, nil, zap.NewNop())(okHandler())

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "giulia"}).SignedString(key)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// 未配置 HMAC 密钥时 HS256 令牌一律拒绝
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	r.Header.Set("Authorization", "Bearer "+signHS256(t, "guess", jwt.MapClaims{"sub": "giulia"}))
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOTelTracing_NamesSpanByRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	origTP := otel.GetTracerProvider()
	origProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/conversations/{id}/turn", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	handler := Chain(mux, RequestID(), OTelTracing(), MetricsMiddleware(nil))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/common/turn", nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.Header.Set("X-Request-ID", "req-7")
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusConflict, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /api/v1/conversations/{id}/turn", span.Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext().TraceID().String())
	attrs := map[string]any{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(http.StatusConflict), attrs["http.response.status_code"])
	assert.Equal(t, "req-7", attrs["request.id"])
}
