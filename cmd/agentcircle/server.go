package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/agentcircle/agent/conversation"
	"github.com/BaSui01/agentcircle/agent/embedding"
	"github.com/BaSui01/agentcircle/agent/invoker"
	"github.com/BaSui01/agentcircle/agent/library"
	"github.com/BaSui01/agentcircle/agent/mailbox"
	"github.com/BaSui01/agentcircle/agent/memory"
	"github.com/BaSui01/agentcircle/agent/notify"
	"github.com/BaSui01/agentcircle/agent/persistence"
	"github.com/BaSui01/agentcircle/agent/runtime"
	"github.com/BaSui01/agentcircle/agent/scheduler"
	"github.com/BaSui01/agentcircle/agent/tools"
	"github.com/BaSui01/agentcircle/api/handlers"
	"github.com/BaSui01/agentcircle/config"
	"github.com/BaSui01/agentcircle/internal/cache"
	"github.com/BaSui01/agentcircle/internal/database"
	"github.com/BaSui01/agentcircle/internal/metrics"
	"github.com/BaSui01/agentcircle/internal/server"
	"github.com/BaSui01/agentcircle/internal/telemetry"
	"github.com/BaSui01/agentcircle/internal/tlsutil"
	"github.com/BaSui01/agentcircle/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// staticProvider 无需外部后端的回显 provider
const staticProvider = "static"

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AgentCircle 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	redis   *redis.Client
	db      *database.PoolManager
	kv      persistence.KV
	rt      *runtime.Runtime
	notices *notify.Recorder
	health  *handlers.HealthHandler

	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🔧 组件装配
// =============================================================================

// Build 按配置装配存储、后端与运行时
func (s *Server) Build(ctx context.Context) error {
	tel, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	s.telemetry = tel

	if s.cfg.Metrics.Enabled {
		s.metricsCollector = metrics.NewCollector(s.cfg.Metrics.Namespace, s.logger)
	}
	s.health = handlers.NewHealthHandler(s.logger)

	if err := s.openRedis(ctx); err != nil {
		return err
	}
	if err := s.openKV(); err != nil {
		return err
	}
	if err := s.openDatabase(); err != nil {
		return err
	}

	deps, err := s.buildDependencies(ctx)
	if err != nil {
		return err
	}
	rt, err := runtime.New(deps, s.runtimeConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	s.rt = rt

	if err := s.seedAgents(ctx, deps.Policy); err != nil {
		return err
	}

	s.health.RegisterCheck(handlers.NewFuncCheck("database", s.db.Ping))
	s.health.RegisterCheck(handlers.NewFuncCheck("kv", s.kv.Ping))
	if s.redis != nil {
		s.health.RegisterCheck(handlers.NewFuncCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
	s.health.RegisterCheck(handlers.NewFuncCheck("embedder", func(ctx context.Context) error {
		if !deps.Embedder.Ready() {
			return errors.New("embedder not initialized")
		}
		return nil
	}))
	return nil
}

// openRedis 只在 KV、邮箱或图书馆缓存使用 redis 时建立连接
func (s *Server) openRedis(ctx context.Context) error {
	if s.cfg.Storage.Type != "redis" && s.cfg.Storage.Mailbox != "redis" && s.cfg.Storage.LibraryCacheTTL == 0 {
		return nil
	}
	opts := &redis.Options{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}
	if s.cfg.Redis.TLS {
		opts.TLSConfig = tlsutil.RedisTLSConfig(s.cfg.Redis.Addr)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect redis %s: %w", s.cfg.Redis.Addr, err)
	}
	s.redis = client
	s.logger.Info("Redis connected", zap.String("addr", s.cfg.Redis.Addr))
	return nil
}

func (s *Server) openKV() error {
	if s.cfg.Storage.Type == "redis" {
		s.kv = persistence.NewRedisKVFromClient(s.redis, s.cfg.Storage.KeyPrefix)
		return nil
	}
	kv, err := persistence.NewKV(persistence.StoreConfig{
		Type:    persistence.StoreType(s.cfg.Storage.Type),
		BaseDir: s.cfg.Storage.BaseDir,
	})
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	s.kv = kv
	return nil
}

func (s *Server) openDatabase() error {
	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime

	db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN(), poolCfg, s.logger)
	if err != nil {
		return err
	}
	if s.metricsCollector != nil {
		db.OnStats(func(st sql.DBStats) {
			s.metricsCollector.RecordDBPool(st.OpenConnections, st.InUse, st.Idle)
		})
	}
	s.db = db
	return nil
}

func (s *Server) buildDependencies(ctx context.Context) (runtime.Dependencies, error) {
	var deps runtime.Dependencies

	var store memory.Store
	if s.cfg.Memory.Backend == "database" {
		gs, err := memory.NewGormStore(s.db.DB(), s.cfg.Memory.Dimension, s.logger)
		if err != nil {
			return deps, err
		}
		store = gs
	} else {
		store = memory.NewInMemoryStore(memory.InMemoryStoreConfig{Dimension: s.cfg.Memory.Dimension}, s.logger)
	}

	gormLib, err := library.NewGormLibrary(s.db.DB(), s.cfg.Memory.SimilarityFloor, s.logger)
	if err != nil {
		return deps, err
	}
	var lib library.Library = gormLib
	if ttl := s.cfg.Storage.LibraryCacheTTL; ttl > 0 {
		mgr, err := cache.NewManager(s.redis, cache.Config{
			KeyPrefix:  s.cfg.Storage.KeyPrefix + "cache:",
			DefaultTTL: ttl,
		}, s.logger)
		if err != nil {
			return deps, err
		}
		lib = library.NewCachedLibrary(gormLib, mgr, ttl, s.logger)
	}

	var box mailbox.Mailbox = mailbox.NewMemoryMailbox(s.logger)
	if s.cfg.Storage.Mailbox == "redis" {
		box = mailbox.NewRedisMailbox(s.redis, s.cfg.Storage.KeyPrefix, s.logger)
	}

	notifier, err := s.buildNotifier()
	if err != nil {
		return deps, err
	}

	inv, err := s.buildInvoker()
	if err != nil {
		return deps, err
	}

	registry := conversation.NewRegistry(ctx, s.kv, s.logger)
	var defaults []types.ToolName
	for _, t := range s.cfg.Runtime.DefaultTools {
		defaults = append(defaults, types.ToolName(t))
	}
	sessions := scheduler.NewKVStore(s.kv, s.logger)

	deps = runtime.Dependencies{
		Registry:  registry,
		Store:     conversation.NewStore(ctx, s.kv, s.logger),
		Engine:    memory.NewEngine(store, memory.EngineConfig{SimilarityFloor: s.cfg.Memory.SimilarityFloor}, s.logger),
		Embedder:  embedding.NewHashEmbedder(s.cfg.Memory.Dimension, s.logger),
		Mailbox:   box,
		Library:   lib,
		Notifier:  notifier,
		Policy:    tools.NewPolicy(registry, defaults, s.logger),
		Invoker:   inv,
		Templates: scheduler.NewTemplateBook(sessions, s.logger),
		Sessions:  sessions,
		Metrics:   s.metricsCollector,
	}
	return deps, nil
}

func (s *Server) buildNotifier() (notify.Notifier, error) {
	s.notices = notify.NewRecorder(200)
	multi := notify.Multi{notify.NewLogNotifier(s.logger), s.notices}
	if s.cfg.Notify.WebhookURL != "" {
		wh, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:           s.cfg.Notify.WebhookURL,
			Timeout:       s.cfg.Notify.Timeout,
			RatePerMinute: s.cfg.Notify.RatePerMinute,
			Burst:         s.cfg.Notify.Burst,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create webhook notifier: %w", err)
		}
		multi = append(multi, wh)
	}
	return multi, nil
}

// buildInvoker 每个 provider 一个 OpenAI 兼容后端，外加 static 回显后端
func (s *Server) buildInvoker() (invoker.Invoker, error) {
	router := invoker.NewRouter()
	router.Register(staticProvider, &invoker.StaticInvoker{})
	fallback := staticProvider
	for i, p := range s.cfg.Providers {
		router.Register(p.Name, invoker.NewOpenAIInvoker(invoker.OpenAIConfig{
			Name:         p.Name,
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
			Temperature:  p.Temperature,
			MaxTokens:    p.MaxTokens,
			Timeout:      p.Timeout,
		}, s.logger))
		if i == 0 {
			fallback = p.Name
		}
	}
	if err := router.SetFallback(fallback); err != nil {
		return nil, err
	}
	s.logger.Info("Completion backends configured",
		zap.Strings("providers", router.Providers()),
		zap.String("fallback", fallback))
	return router, nil
}

func (s *Server) runtimeConfig() runtime.Config {
	rc := runtime.DefaultConfig()
	rc.TopN = s.cfg.Runtime.TopN
	rc.HistoryLimit = s.cfg.Runtime.HistoryLimit
	rc.AutoWakeOnMail = s.cfg.Runtime.AutoWakeOnMail
	rc.MaxWakeChain = s.cfg.Runtime.MaxWakeChain
	rc.OperatorName = s.cfg.Runtime.OperatorName
	rc.TurnPrompt = s.cfg.Runtime.TurnPrompt
	rc.Orchestrator = conversation.OrchestratorConfig{
		AutoReplyDelay:  s.cfg.Orchestrator.AutoReplyDelay,
		ContinuousDelay: s.cfg.Orchestrator.ContinuousDelay,
		AutoMode:        s.cfg.Orchestrator.AutoMode,
	}
	rc.Scheduler = scheduler.Config{
		CheckInterval:  s.cfg.Scheduler.CheckInterval,
		SettleDelay:    s.cfg.Scheduler.SettleDelay,
		FallbackPrompt: s.cfg.Scheduler.FallbackPrompt,
	}
	rc.Tools = tools.ProcessorConfig{
		OperatorName: s.cfg.Runtime.OperatorName,
		ShareUtility: s.cfg.Runtime.ShareUtility,
		ShareBoost:   s.cfg.Runtime.ShareBoost,
	}
	return rc
}

// seedAgents 注册配置中的 Agent；已持久化的 Agent 只更新人设与后端
func (s *Server) seedAgents(ctx context.Context, policy *tools.Policy) error {
	registry := s.rt.Deps().Registry
	for _, seed := range s.cfg.Agents {
		if _, exists := registry.Agent(seed.ID); exists {
			if _, err := registry.Update(ctx, seed.ID, seed.Persona, seed.Backend); err != nil {
				return err
			}
		} else {
			caps := make([]types.ToolName, 0, len(seed.Capabilities))
			for _, c := range seed.Capabilities {
				caps = append(caps, types.ToolName(c))
			}
			if _, err := s.rt.RegisterAgent(ctx, types.Agent{
				ID:           seed.ID,
				Name:         seed.Name,
				Backend:      seed.Backend,
				Persona:      seed.Persona,
				Capabilities: caps,
			}); err != nil {
				return fmt.Errorf("seed agent %s: %w", seed.ID, err)
			}
		}
		if len(seed.Allow) > 0 || len(seed.Deny) > 0 {
			if err := policy.SetRules(tools.AgentRules{AgentID: seed.ID, Allowed: seed.Allow, Denied: seed.Deny}); err != nil {
				return err
			}
		}
	}
	s.logger.Info("Agents seeded", zap.Int("count", len(s.cfg.Agents)))
	return nil
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

// Handler 返回挂好中间件的 API handler
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := handlers.NewRouter(s.rt, s.health, s.logger, handlers.NewNotificationHandler(s.notices))
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	skipAuthPaths := []string{"/health", "/ready", "/version"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger),
	}
	if s.cfg.JWT.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	}
	// tracing 与 metrics 紧贴路由，才能读到 ServeMux 写回的 pattern
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares, MetricsMiddleware(s.metricsCollector))
	return Chain(mux, middlewares...)
}

// Run 启动运行时与 HTTP 服务器，阻塞到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	if err := s.rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	defer s.rt.Shutdown()

	g, gctx := errgroup.WithContext(ctx)

	api := server.NewManager(s.Handler(gctx), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	g.Go(func() error { return api.Run(gctx) })

	if s.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		metricsServer := server.NewManager(mux, server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.WriteTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
		g.Go(func() error { return metricsServer.Run(gctx) })
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("metrics_enabled", s.cfg.Metrics.Enabled))
	return g.Wait()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Close 释放存储连接
func (s *Server) Close() {
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			s.logger.Warn("kv close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close error", zap.Error(err))
		}
	}
	if s.redis != nil && s.cfg.Storage.Type != "redis" {
		// redis KV 已在 kv.Close 中关闭客户端
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}
	s.logger.Info("Graceful shutdown completed")
}
