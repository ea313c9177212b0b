// Package ctxkeys 定义跨包传递的 context 键，HTTP 请求与 Agent 回合共用。
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey      contextKey = "request_id"
	turnIDKey         contextKey = "turn_id"
	conversationIDKey contextKey = "conversation_id"
	agentIDKey        contextKey = "agent_id"
	operatorKey       contextKey = "operator"
)

func with(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置 HTTP 请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, requestIDKey, id)
}

// RequestID 获取 HTTP 请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return get(ctx, requestIDKey)
}

// WithOperator 设置已认证的操作员（JWT sub）
func WithOperator(ctx context.Context, subject string) context.Context {
	return with(ctx, operatorKey, subject)
}

// Operator 获取已认证的操作员
func Operator(ctx context.Context) (string, bool) {
	return get(ctx, operatorKey)
}

// WithTurn 标记一次 Agent 回合
func WithTurn(ctx context.Context, turnID, conversationID, agentID string) context.Context {
	ctx = with(ctx, turnIDKey, turnID)
	ctx = with(ctx, conversationIDKey, conversationID)
	return with(ctx, agentIDKey, agentID)
}

// TurnID 获取回合 ID
func TurnID(ctx context.Context) (string, bool) {
	return get(ctx, turnIDKey)
}

// ConversationID 获取回合所在会话
func ConversationID(ctx context.Context) (string, bool) {
	return get(ctx, conversationIDKey)
}

// AgentID 获取回合发言的 Agent
func AgentID(ctx context.Context) (string, bool) {
	return get(ctx, agentIDKey)
}

// Fields 返回 ctx 中已设置的 ID，作为日志字段
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, key := range []contextKey{requestIDKey, operatorKey, turnIDKey, conversationIDKey, agentIDKey} {
		if v, ok := get(ctx, key); ok {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	return fields
}
