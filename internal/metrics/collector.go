// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 回合指标
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// 工具指标
	toolExecutions *prometheus.CounterVec

	// 会话指标
	sessionTransitions *prometheus.CounterVec

	// 检索指标
	retrievalHits *prometheus.HistogramVec

	// 连接池指标
	dbConnections *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 回合指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of agent turns",
		},
		[]string{"agent_id", "status"}, // status: ok, error
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Agent turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent_id"},
	)

	// 工具指标
	c.toolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Total number of tool executions",
		},
		[]string{"tool", "outcome"}, // outcome: ok, failed, denied
	)

	// 会话指标
	c.sessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of scheduled session transitions",
		},
		[]string{"status"},
	)

	c.retrievalHits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_hits",
			Help:      "Number of memory documents returned per hybrid query",
			Buckets:   []float64{0, 1, 2, 4, 6, 8, 12},
		},
		[]string{"agent_id"},
	)

	c.dbConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections",
			Help:      "Database pool connections by state",
		},
		[]string{"state"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🎭 回合与工具指标记录
// =============================================================================

// RecordTurn 记录一次 Agent 回合
func (c *Collector) RecordTurn(agentID string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.turnsTotal.WithLabelValues(agentID, status).Inc()
	c.turnDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordToolExecution 记录工具执行结果
func (c *Collector) RecordToolExecution(tool string, success, denied bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	switch {
	case denied:
		outcome = "denied"
	case !success:
		outcome = "failed"
	}
	c.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

// RecordRetrieval 记录检索命中数
func (c *Collector) RecordRetrieval(agentID string, hits int) {
	if c == nil {
		return
	}
	c.retrievalHits.WithLabelValues(agentID).Observe(float64(hits))
}

// =============================================================================
// 📅 会话指标记录
// =============================================================================

// RecordSessionTransition 记录会话状态转换
func (c *Collector) RecordSessionTransition(status string) {
	if c == nil {
		return
	}
	c.sessionTransitions.WithLabelValues(status).Inc()
}

// RecordDBPool 记录连接池连接数
func (c *Collector) RecordDBPool(open, inUse, idle int) {
	if c == nil {
		return
	}
	c.dbConnections.WithLabelValues("open").Set(float64(open))
	c.dbConnections.WithLabelValues("in_use").Set(float64(inUse))
	c.dbConnections.WithLabelValues("idle").Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
