// =============================================================================
// 📦 AgentCircle 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTCIRCLE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentCircle 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Runtime 回合与检索配置
	Runtime RuntimeConfig `yaml:"runtime" env:"RUNTIME"`

	// Orchestrator 回合节奏配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Scheduler 定时会话配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Memory 记忆与嵌入配置
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Storage KV 持久化配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Notify 操作员通知配置
	Notify NotifyConfig `yaml:"notify" env:"NOTIFY"`

	// Providers 补全后端，按 provider 名称路由
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Agents 启动时注册的 Agent
	Agents []AgentSeed `yaml:"agents" env:"-"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// JWT 操作员 API 的 Bearer Token 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Telemetry OpenTelemetry 链路追踪配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 操作员 API Key，为空时不校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
}

// RuntimeConfig 回合执行配置
type RuntimeConfig struct {
	// 每回合检索的记忆条数
	TopN int `yaml:"top_n" env:"TOP_N"`
	// 传给后端的历史消息条数
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
	// 收到同伴邮件后唤醒收件人
	AutoWakeOnMail bool `yaml:"auto_wake_on_mail" env:"AUTO_WAKE_ON_MAIL"`
	// 连续唤醒上限
	MaxWakeChain int `yaml:"max_wake_chain" env:"MAX_WAKE_CHAIN"`
	// 操作员名称
	OperatorName string `yaml:"operator_name" env:"OPERATOR_NAME"`
	// 每回合的提示语
	TurnPrompt string `yaml:"turn_prompt" env:"TURN_PROMPT"`
	// 共享记忆的基础效用与加成
	ShareUtility float64 `yaml:"share_utility" env:"SHARE_UTILITY"`
	ShareBoost   float64 `yaml:"share_boost" env:"SHARE_BOOST"`
	// 未配置权限时默认开放的工具，为空表示全部
	DefaultTools []string `yaml:"default_tools" env:"DEFAULT_TOOLS"`
}

// OrchestratorConfig 回合节奏配置
type OrchestratorConfig struct {
	AutoReplyDelay  time.Duration `yaml:"auto_reply_delay" env:"AUTO_REPLY_DELAY"`
	ContinuousDelay time.Duration `yaml:"continuous_delay" env:"CONTINUOUS_DELAY"`
	AutoMode        bool          `yaml:"auto_mode" env:"AUTO_MODE"`
}

// SchedulerConfig 定时会话配置
type SchedulerConfig struct {
	CheckInterval  time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	SettleDelay    time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	FallbackPrompt string        `yaml:"fallback_prompt" env:"FALLBACK_PROMPT"`
}

// MemoryConfig 记忆配置
type MemoryConfig struct {
	// 存储后端: memory, database
	Backend string `yaml:"backend" env:"BACKEND"`
	// 嵌入维度
	Dimension int `yaml:"dimension" env:"DIMENSION"`
	// Search 与图书馆检索的相似度下限
	SimilarityFloor float64 `yaml:"similarity_floor" env:"SIMILARITY_FLOOR"`
}

// StorageConfig KV 持久化配置
type StorageConfig struct {
	// 类型: memory, file, redis
	Type string `yaml:"type" env:"TYPE"`
	// 文件存储目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 邮箱后端: memory, redis
	Mailbox string `yaml:"mailbox" env:"MAILBOX"`
	// 图书馆检索结果的 Redis 缓存时长，0 表示不缓存
	LibraryCacheTTL time.Duration `yaml:"library_cache_ttl" env:"LIBRARY_CACHE_TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 启用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// NotifyConfig 操作员通知配置
type NotifyConfig struct {
	// Webhook 地址，为空时只写日志
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 非紧急通知每分钟上限
	RatePerMinute int `yaml:"rate_per_minute" env:"RATE_PER_MINUTE"`
	Burst         int `yaml:"burst" env:"BURST"`
}

// ProviderConfig OpenAI 兼容后端配置
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Temperature  float64       `yaml:"temperature"`
	MaxTokens    int64         `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

// AgentSeed 启动时注册的 Agent 定义
type AgentSeed struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Backend      string   `yaml:"backend"`
	Persona      string   `yaml:"persona"`
	Capabilities []string `yaml:"capabilities"`
	// 权限覆盖，支持 * 通配
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HS256 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的签发者，为空时不校验
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的受众，为空时不校验
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTCIRCLE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按字符串解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Metrics.Enabled && (c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535) {
		errs = append(errs, "invalid metrics port")
	}
	if c.Runtime.TopN < 0 {
		errs = append(errs, "runtime.top_n must not be negative")
	}
	if c.Memory.Dimension <= 0 {
		errs = append(errs, "memory.dimension must be positive")
	}
	if c.Memory.SimilarityFloor < -1 || c.Memory.SimilarityFloor > 1 {
		errs = append(errs, "memory.similarity_floor must be between -1 and 1")
	}
	switch c.Memory.Backend {
	case "memory", "database":
	default:
		errs = append(errs, fmt.Sprintf("unknown memory backend %q", c.Memory.Backend))
	}
	switch c.Storage.Type {
	case "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown storage type %q", c.Storage.Type))
	}
	switch c.Storage.Mailbox {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown mailbox backend %q", c.Storage.Mailbox))
	}
	if c.Storage.LibraryCacheTTL < 0 {
		errs = append(errs, "storage.library_cache_ttl must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}

	if c.JWT.Enabled && c.JWT.Secret == "" && c.JWT.PublicKey == "" {
		errs = append(errs, "jwt.secret or jwt.public_key is required when jwt is enabled")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
		}
	}

	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, "provider name is required")
			continue
		}
		if seen[strings.ToLower(p.Name)] {
			errs = append(errs, fmt.Sprintf("duplicate provider %q", p.Name))
		}
		seen[strings.ToLower(p.Name)] = true
	}
	for _, a := range c.Agents {
		if a.ID == "" || a.Name == "" {
			errs = append(errs, "agent id and name are required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
