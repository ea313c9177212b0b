// Copyright (c) AgentCircle Authors.
// Licensed under the MIT License.

/*
包 database 打开 GORM 连接并管理连接池，记忆存储与图书馆共用同一个池。

Open 按驱动名选择方言：sqlite（glebarez/sqlite，纯 Go，默认）、
postgres、mysql。sqlite 文件所在目录不存在时自动创建。

PoolManager 应用 PoolConfig 中的连接数与生命周期限制，后台按
HealthCheckInterval 探活；探活成功后通过 OnStats 回调导出
sql.DBStats，服务端用它更新 Prometheus 连接池指标。
*/
package database
