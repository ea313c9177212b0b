// =============================================================================
// 📦 AgentCircle 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Runtime:      DefaultRuntimeConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Scheduler:    DefaultSchedulerConfig(),
		Memory:       DefaultMemoryConfig(),
		Storage:      DefaultStorageConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Notify:       DefaultNotifyConfig(),
		Log:          DefaultLogConfig(),
		Metrics:      DefaultMetricsConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRuntimeConfig 返回默认回合配置
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		TopN:           6,
		HistoryLimit:   40,
		AutoWakeOnMail: true,
		MaxWakeChain:   3,
		OperatorName:   "Alfonso",
		TurnPrompt:     "Tocca a te: rispondi alla conversazione.",
		ShareUtility:   1.0,
		ShareBoost:     0.5,
	}
}

// DefaultOrchestratorConfig 返回默认回合节奏
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		AutoReplyDelay:  1500 * time.Millisecond,
		ContinuousDelay: 4 * time.Second,
		AutoMode:        true,
	}
}

// DefaultSchedulerConfig 返回默认调度配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CheckInterval: 60 * time.Second,
		SettleDelay:   2 * time.Second,
	}
}

// DefaultMemoryConfig 返回默认记忆配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend:         "memory",
		Dimension:       256,
		SimilarityFloor: 0.3,
	}
}

// DefaultStorageConfig 返回默认持久化配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Type:      "file",
		BaseDir:   "./data/kv",
		KeyPrefix: "agentcircle:",
		Mailbox:   "memory",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "agentcircle",
		Password:        "",
		Name:            "./data/agentcircle.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultNotifyConfig 返回默认通知配置
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		Timeout:       10 * time.Second,
		RatePerMinute: 6,
		Burst:         2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "agentcircle",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentcircle",
		SampleRate:   0.1,
	}
}
