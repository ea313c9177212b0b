// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 runtime 把注册表、会话存储、记忆检索、邮箱、工具处理器、
调用器与调度器装配成一个可运行的多 Agent 对话运行时。

# 核心类型

  - Runtime：实现 conversation.TurnRunner 与 scheduler.Driver，
    持有唯一的 Orchestrator 以及每个会话各自的 Scheduler。
  - Dependencies：运行时所需组件，Library、Notifier、Metrics 可选。
  - Config：检索条数、历史长度、邮件唤醒等运行参数。

# 回合流程

一次回合依次执行：读取历史、对最近一条非本人文本做嵌入、
HybridQuery 检索私有与共享记忆、取出未读邮件、渲染系统提示、
调用后端、运行工具处理器并追加清洗后的消息。调用失败时追加
一条 system 消息并返回错误。

# 邮件唤醒

开启 AutoWakeOnMail 时，回合中成功发送的第一封同伴邮件会在
回合结束后通过 ForceTurn 唤醒收件人。连续播放期间不唤醒，
连续唤醒次数受 MaxWakeChain 限制。
*/
package runtime
