// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

// Package config 提供 AgentCircle 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序合并，
// 环境变量前缀默认为 AGENTCIRCLE，例如 AGENTCIRCLE_SERVER_HTTP_PORT。
// Providers 与 Agents 列表只能通过 YAML 配置。
package config
