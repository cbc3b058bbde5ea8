package app

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vasset/crawler/internal/adapter"
	"vasset/crawler/internal/analysis"
	"vasset/crawler/internal/config"
	"vasset/crawler/internal/download"
	"vasset/crawler/internal/proxy"
	"vasset/crawler/internal/search"
	"vasset/crawler/internal/storage"
)

// App 组装好的爬取组件, 供网关和命令行共用
type App struct {
	Config     *config.Config
	Redis      *redis.Client // 未配置时为 nil
	Proxies    *proxy.Manager
	Refresher  *proxy.Refresher // 没有任何代理来源时为 nil
	Factory    *adapter.Factory
	Analyzer   analysis.Analyzer // 未启用时为 nil
	Downloader *download.Manager
	Search     *search.Manager
	Cleaner    *storage.Cleaner // 未启用清理时为 nil

	logger *zap.Logger
}

// New 按配置创建全部组件
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, logger: logger}

	// 1. Redis
	a.Redis = initRedis(ctx, &cfg.Redis, logger)

	// 2. 代理池
	a.Proxies = proxy.NewManager(cfg.Proxy.GetSwitchInterval(), logger.Named("proxy"))
	a.Refresher = a.initRefresher(logger)

	// 3. 平台适配器
	a.Factory = adapter.NewDefaultFactory(cfg, a.Proxies, logger.Named("adapter"))
	platforms := a.Factory.SupportedPlatforms()
	if len(platforms) == 0 {
		if a.Redis != nil {
			a.Redis.Close()
		}
		return nil, errors.New("no platform enabled")
	}
	logger.Info("Platforms registered", zap.Strings("platforms", platforms))

	// 4. 内容分析(可选)
	if cfg.Analysis.Enabled {
		analyzer, err := analysis.NewGeminiAnalyzer(ctx, cfg.Analysis.GeminiAPIKey, cfg.Analysis.Model, logger.Named("analysis"))
		if err != nil {
			logger.Warn("Content analysis disabled", zap.Error(err))
		} else {
			a.Analyzer = analyzer
		}
	}

	// 5. 下载
	var publisher download.ProgressPublisher
	if a.Redis != nil {
		publisher = download.NewRedisPublisher(a.Redis, logger.Named("progress"))
	}
	a.Downloader = download.NewManager(download.Options{
		OutputDir:      cfg.Download.OutputDir,
		Concurrent:     cfg.Download.Concurrent,
		MaxRetries:     cfg.Download.MaxRetries,
		ChunkSize:      cfg.Download.ChunkSize,
		InitialBackoff: time.Duration(cfg.Download.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Download.MaxBackoffMs) * time.Millisecond,
		Timeout:        cfg.Download.GetTimeout(),
		UserAgent:      cfg.Request.UserAgent,
		Proxy:          a.Proxies,
	}, nil, publisher, logger.Named("download"))

	// 6. 搜索编排
	a.Search = search.NewManager(a.Factory, a.Analyzer, a.Downloader, search.Options{
		AdapterTimeout:      cfg.Search.GetAdapterTimeout(),
		AnalysisConcurrency: cfg.Analysis.Concurrency,
	}, logger.Named("search"))

	// 7. 残留文件清理(可选)
	if cfg.Download.Cleanup.Enabled {
		a.Cleaner = storage.NewCleaner(cfg.Download.OutputDir,
			time.Duration(cfg.Download.Cleanup.MaxAge)*time.Second, nil, logger.Named("cleanup"))
	}

	return a, nil
}

// initRedis 初始化 Redis 连接, 连接失败时仍返回客户端以便稍后恢复
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		logger.Info("Redis not configured, progress pub/sub disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("Failed to connect to Redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	}
	return client
}

// initRefresher 按配置组装代理来源
func (a *App) initRefresher(logger *zap.Logger) *proxy.Refresher {
	cfg := a.Config.Proxy

	var sources []proxy.Source
	if len(cfg.Endpoints) > 0 {
		sources = append(sources, proxy.NewStaticSource(cfg.Endpoints))
	}
	if cfg.Provider.APIEndpoint != "" {
		sources = append(sources, proxy.NewProvider(&cfg.Provider, logger.Named("proxy_provider")))
	}
	if a.Redis != nil && cfg.RedisKey != "" {
		sources = append(sources, proxy.NewRedisSource(a.Redis, cfg.RedisKey))
	}
	if len(sources) == 0 {
		logger.Info("No proxy sources configured, using direct connections")
		return nil
	}

	var checker *proxy.Checker
	if cfg.HealthCheck.Enabled {
		checker = proxy.NewChecker(cfg.HealthCheck.TestURL, time.Duration(cfg.HealthCheck.Timeout)*time.Second)
	}
	return proxy.NewRefresher(a.Proxies, sources, checker, logger.Named("proxy_refresher"))
}

// RefreshProxies 立即刷新一次代理池
func (a *App) RefreshProxies(ctx context.Context) {
	if a.Refresher != nil {
		a.Refresher.Refresh(ctx)
	}
}

// StartProxyRefresh 启动定时刷新
func (a *App) StartProxyRefresh(ctx context.Context) error {
	if a.Refresher == nil {
		return nil
	}
	return a.Refresher.Start(ctx, a.Config.Proxy.RefreshSchedule)
}

// StartCleanup 启动下载目录定时清理
func (a *App) StartCleanup(ctx context.Context) error {
	if a.Cleaner == nil {
		return nil
	}
	return a.Cleaner.Start(ctx, a.Config.Download.Cleanup.Schedule)
}

// Close 释放资源
func (a *App) Close() {
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
	if a.Cleaner != nil {
		a.Cleaner.Stop()
	}
	if err := a.Factory.Close(); err != nil {
		a.logger.Warn("Failed to close adapters", zap.Error(err))
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
}
