// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力。

# 概述

Manager 在 go-redis 客户端之上提供带键前缀与默认 TTL 的读写接口，
目前用于共享图书馆的检索结果缓存（见 library.CachedLibrary）。

# 核心类型

  - Manager：缓存管理器，提供 Get/Set/Delete/Incr 与 GetJSON/SetJSON。
  - Config：键前缀与默认 TTL。

# 主要能力

  - 共享客户端：NewManager 复用调用方的 Redis 客户端，Close 不关闭它；
    Dial 创建独占客户端。
  - 计数器：Incr 用于缓存代际失效。
  - 错误语义：ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数，
    关闭后的操作返回 ErrClosed。
*/
package cache
