// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
阻塞运行与优雅关闭。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道。
  - Config：服务器配置，包含名称、监听地址、读写超时、空闲超时、
    最大请求头大小与优雅关闭超时。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 阻塞运行：Run 在 ctx 结束或服务出错时自动优雅关闭，
    适合放进 errgroup 与 API、metrics 两个服务一起管理。
  - 状态查询：Addr 在启动后返回实际绑定地址（支持 :0）。
*/
package server
