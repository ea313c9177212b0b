// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 tools 解析代理回复中的方括号工具标记，并在权限检查后执行对应动作。

# 标记语法

Tokenize 把文本切分为 Tag，Grammar.Parse 将其组合为 ToolInvocation，
例如 [MESSAGGIO A Giulia]...[/MESSAGGIO]、[SALVA IN BIBLIOTECA: titolo]...[/SALVA]。
标签大小写不敏感，兄弟消息可出现多次，其余类别每条回复最多一次。
区间重叠时保留最早出现的调用。操作员名称默认为 DefaultOperatorName。

# 权限

Policy 合并默认工具集与每个代理的 AgentRules（Allow/Deny），
CanUse 返回是否允许以及拒绝原因。被拒绝的调用以 DeniedPrefix
开头的系统通知回写到对话。

# 蜡烛测试

CandleTest.Evaluate 对拟执行的动作打分，给出 Verdict
（proceed、stop 或 ask_guardian），
CandleResult.Format 生成展示文本。

# 执行

Processor.Process 依次解析、鉴权并执行调用，结果汇总为 Result。
*/
package tools
