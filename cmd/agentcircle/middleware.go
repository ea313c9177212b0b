package main

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/api/handlers"
	"github.com/BaSui01/agentcircle/config"
	"github.com/BaSui01/agentcircle/internal/ctxkeys"
	"github.com/BaSui01/agentcircle/internal/metrics"
	"github.com/BaSui01/agentcircle/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctxkeys.RequestID(ctx)
	return id
}

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestIDFromContext(r.Context())))
					handlers.WriteErrorMessage(w, types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID，客户端已提供时沿用
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// =============================================================================
// MetricsMiddleware
// =============================================================================

// MetricsMiddleware records request count and latency. The path label is the
// matched ServeMux pattern when available, otherwise a normalized path.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			path := r.Pattern
			if path == "" {
				path = normalizePath(r.URL.Path)
			} else if _, p, ok := strings.Cut(path, " "); ok {
				path = p
			}
			collector.RecordHTTPRequest(r.Method, path, rw.StatusCode, time.Since(start))
		})
	}
}

// pathSegmentPattern matches segments that look like generated identifiers.
var pathSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`,
)

// normalizePath replaces identifier-like segments with ":id".
//
//	/api/v1/conversations/3f2a9c1e-.../messages -> /api/v1/conversations/:id/messages
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	normalized := false
	for i, seg := range segments {
		if seg != "" && pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// OTelTracing
// =============================================================================

// OTelTracing 为每个请求创建 server span，并沿用请求头中的上游 trace context。
// 未初始化 telemetry 时全局 tracer 为 noop。
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := otel.Tracer("agentcircle/http").Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			req := r.WithContext(ctx)
			next.ServeHTTP(rw, req)

			// ServeMux 把匹配的 pattern 写回 req，用它命名避免 ID 进入 span 名
			if req.Pattern != "" {
				span.SetName(req.Pattern)
			}
			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if id, ok := ctxkeys.RequestID(ctx); ok {
				span.SetAttributes(attribute.String("request.id", id))
			}
		})
	}
}

// =============================================================================
// Auth & rate limiting
// =============================================================================

// JWTAuth 校验 Authorization: Bearer 令牌（HS256 或 RS256），
// 并把 sub 声明作为操作员写入 context。skipPaths 中的路径免校验。
func JWTAuth(cfg config.JWTConfig, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}

	var rsaKey *rsa.PublicKey
	if cfg.PublicKey != "" {
		if block, _ := pem.Decode([]byte(cfg.PublicKey)); block != nil {
			if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
				rsaKey, _ = pub.(*rsa.PublicKey)
			}
		}
		if rsaKey == nil {
			logger.Warn("failed to parse RSA public key, RS256 disabled")
		}
	}
	hmacSecret := []byte(cfg.Secret)

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		switch token.Method.Alg() {
		case "HS256":
			if len(hmacSecret) == 0 {
				return nil, fmt.Errorf("HMAC secret not configured")
			}
			return hmacSecret, nil
		case "RS256":
			if rsaKey == nil {
				return nil, fmt.Errorf("RSA public key not configured")
			}
			return rsaKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenStr == "" {
				handlers.WriteErrorMessage(w, types.ErrUnauthorized, "missing or malformed Authorization header", nil)
				return
			}

			token, err := jwt.Parse(tokenStr, keyFunc, parserOpts...)
			if err != nil || !token.Valid {
				logger.Debug("JWT validation failed", zap.String("path", r.URL.Path), zap.Error(err))
				handlers.WriteErrorMessage(w, types.ErrUnauthorized, "invalid or expired token", nil)
				return
			}

			ctx := r.Context()
			if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
				ctx = ctxkeys.WithOperator(ctx, sub)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyAuth 校验 X-API-Key，skipPaths 中的路径免校验。未配置任何 key 时放行全部请求。
func APIKeyAuth(validKeys []string, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		if len(validKeys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			for _, valid := range validKeys {
				if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.Debug("rejected request without valid api key", zap.String("path", r.URL.Path))
			handlers.WriteErrorMessage(w, types.ErrPermissionDenied, "invalid or missing API key", nil)
		})
	}
}

// RateLimiter 基于 IP 的请求限流中间件。rps <= 0 时不限流。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	if rps > 0 {
		// 后台清理过期 visitor
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					mu.Lock()
					for ip, v := range visitors {
						if time.Since(v.lastSeen) > 3*time.Minute {
							delete(visitors, ip)
						}
					}
					mu.Unlock()
				}
			}
		}()
	}
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, exists := visitors[ip]
			if !exists {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()
			if !v.limiter.Allow() {
				logger.Debug("rate limited", zap.String("ip", ip))
				handlers.WriteJSON(w, http.StatusTooManyRequests, handlers.Response{
					Success: false,
					Error: &handlers.ErrorInfo{
						Code:      "RATE_LIMITED",
						Message:   "too many requests",
						Retryable: true,
					},
					Timestamp: time.Now(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
