// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry 链路追踪的初始化。
// 未启用时不创建导出器，全局 TracerProvider 保持 noop，
// HTTP 中间件与回合 span 仍可无条件调用 otel.Tracer。
package telemetry
