// =============================================================================
// AgentCircle 主入口
// =============================================================================
// 多智能体圆桌运行时：HTTP 操作员 API、健康检查、Prometheus 指标
//
// 使用方法:
//
//	agentcircle serve                       # 启动服务
//	agentcircle serve --config config.yaml  # 指定配置文件
//	agentcircle migrate --config config.yaml # 建立记忆与图书馆表结构
//	agentcircle version                     # 显示版本信息
//	agentcircle health                      # 健康检查
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentcircle/agent/library"
	"github.com/BaSui01/agentcircle/agent/memory"
	"github.com/BaSui01/agentcircle/config"
	"github.com/BaSui01/agentcircle/internal/database"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置，失败直接退出
func loadConfig(name string, args []string) *config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	cfg := loadConfig("serve", args)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting AgentCircle",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, logger)
	defer srv.Close()

	if err := srv.Build(ctx); err != nil {
		logger.Fatal("Failed to build server", zap.Error(err))
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	logger.Info("AgentCircle stopped")
}

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 打开数据库并建立记忆与图书馆表（gorm AutoMigrate）
func runMigrate(args []string) {
	cfg := loadConfig("migrate", args)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN(), database.DefaultPoolConfig(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := memory.NewGormStore(db.DB(), cfg.Memory.Dimension, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	if _, err := library.NewGormLibrary(db.DB(), cfg.Memory.SimilarityFloor, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Schema is up to date (%s)\n", cfg.Database.Driver)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentCircle %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentCircle - multi-agent roundtable runtime

Usage:
  agentcircle <command> [options]

Commands:
  serve     Start the AgentCircle server
  migrate   Create memory and library tables
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve' and 'migrate':
  --config <path>   Path to configuration file (YAML)

Examples:
  agentcircle serve
  agentcircle serve --config /etc/agentcircle/config.yaml
  agentcircle migrate --config /etc/agentcircle/config.yaml
  agentcircle health --addr http://localhost:8080
  agentcircle version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
