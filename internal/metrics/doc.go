// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的运行时指标采集能力，覆盖
HTTP、Agent 回合、工具执行、检索与定时会话五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。Collector 的记录方法
对 nil 接收者安全，未启用指标时可直接传 nil。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 回合指标：按 agent_id/status 统计回合数与耗时。
  - 工具指标：按 tool/outcome（ok、failed、denied）统计执行次数。
  - 检索指标：每次混合检索返回的文档数。
  - 会话指标：定时会话状态转换计数。
*/
package metrics
