// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 persistence 提供调度模板、定时会话等小型 JSON 文档的持久化键值层。

# 后端

  - MemoryKV：进程内存储，开发与测试默认使用。
  - FileKV：每个键一个文件，适合单节点部署，写入先落临时文件再重命名。
  - RedisKV：共享部署使用，可复用服务端已有的 Redis 客户端
    （NewRedisKVFromClient）。

NewKV 按 StoreConfig.Type 选择后端。SaveJSON 与 LoadJSON 在 KV 之上
完成 JSON 编解码，键不存在时 LoadJSON 返回 false 而非错误。
*/
package persistence
