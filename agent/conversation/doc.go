// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 conversation 管理智能体注册表、对话记录与发言轮转状态机。

# 概述

conversation 回答“下一位由谁发言”。Orchestrator 是一个显式状态机，
绑定到当前活动对话，在 auto / manual / continuous 三种模式之间切换，
并保证同一时刻最多只有一个 Agent 调用在进行中。

# 核心类型

  - Registry：Agent 注册表，按显示名（大小写不敏感）解析，实现 tools.Directory
  - Store：对话与只追加的消息记录，按消息 ID 去重，公共房间自动包含全部 Agent
  - Orchestrator：Dispatch(Event) 驱动的状态机，状态为
    Idle / AutoWaiting / ContinuousPlaying / ManualWaiting
  - TurnRunner：执行单轮发言的接口，由 agent/runtime 实现

# 定时与取消

所有延迟都通过注入的 clock.Clock 实现。离开某个状态时取消待触发的计时器，
每次绑定递增 epoch，旧 epoch 的计时器回调与发言完成结果都会被丢弃。
*/
package conversation
