// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentCircle 服务端程序入口。

# 概述

cmd/agentcircle 按 YAML 配置与环境变量装配记忆存储、检索引擎、邮箱、
图书馆、补全后端与回合编排器，并通过 HTTP 暴露操作员 API。

# 核心类型

  - Server：组件装配、API 与 Metrics 双端口、优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate（gorm 建表）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    RateLimiter（基于 IP）、APIKeyAuth（X-API-Key）、MetricsMiddleware
  - 存储选择：KV 支持 memory/file/redis，记忆支持 memory/database，
    邮箱支持 memory/redis
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
