// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 memory 实现按作用域划分的向量记忆存储与混合检索。

# 存储

Store 以 Scope（代理私有或对话共享）为单位保存 MemoryDocument。
同一存储中所有向量维度必须一致，维度不符返回 DIMENSION_MISMATCH。

  - InMemoryStore：进程内实现，测试与单节点使用。
  - GormStore：基于 gorm 的实现，支持 sqlite、postgres、mysql。

Query 按余弦相似度降序返回前 topK 条，相似度相同时按写入顺序。

# 检索

Engine 在 Store 之上执行混合检索：HybridQuery 将 topN 拆分为私有与
共享两部分（SplitHybrid），分别查询后由 MergeHybrid 合并，
FilterFloor 去掉低于相似度下限的结果。Cosine 对零向量返回 0。
*/
package memory
