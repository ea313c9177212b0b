// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentCircle 运行时的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、api、cmd 等上层
模块提供统一的类型契约。

# 核心类型

  - Agent / ToolName：智能体定义与工具能力标记
  - Message / Attachment：对话消息（只追加，按 ID 去重）
  - Conversation：参与者有序列表，CommonRoomID 为公共房间
  - MemoryDocument / Scope：私有（private:<agent>）与共享（shared:<conv>）记忆
  - Template / ScheduledSession：讨论模板与定时会话，状态单调迁移
  - Mail / LibraryDocument / Notification：工具副作用的载体
  - Error / ErrorCode：结构化错误体系，含 Retryable 标记
*/
package types
