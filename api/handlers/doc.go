// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentCircle 操作员 HTTP API 的请求处理器实现。

# 概述

所有端点挂在 /api/v1 下，基于 Go 1.22 ServeMux 的方法与路径参数路由，
通过 runtime.Runtime 操作智能体、会话、回合编排器与定时会话。

# 核心类型

  - AgentHandler：智能体注册、人设修改、收件箱查询
  - ConversationHandler：会话创建、参与者、绑定、消息读写
  - OrchestratorHandler：播放/暂停、自动模式、连续模式、强制发言
  - SessionHandler：讨论模板与定时会话（安排、开始、取消、停止）
  - LibraryHandler：共享图书馆语义检索
  - HealthHandler：/health 存活与 /ready 就绪检查
  - Response：统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

types.ErrorCode 经 mapErrorCodeToHTTPStatus 映射为 HTTP 状态码，
编排冲突类错误（AGENT_BUSY、SESSION_RUNNING 等）统一返回 409。
*/
package handlers
