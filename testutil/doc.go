// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 AgentCircle 测试的共享工具和辅助函数。

# 概述

testutil 包为运行时、编排器与 API 测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertSenders / AssertJSONEqual / AssertEventuallyTrue
  - 等待工具: WaitFor / WaitForChannel

# 子包

  - testutil/mocks: ScriptedInvoker（按 Agent 排队回复、错误注入）、
    Embedder（可控就绪状态与嵌入错误）
  - testutil/fixtures: 预置圆桌 Agent 与带工具标签的回复样例

# 使用示例

	inv := mocks.NewScriptedInvoker().WithReply("marco", fixtures.CandleTest())
	report, ok := testutil.WaitForChannel(reports, 2*time.Second)
*/
package testutil
