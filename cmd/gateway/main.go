package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vasset/crawler/internal/app"
	"vasset/crawler/internal/config"
	"vasset/crawler/internal/detector"
	"vasset/crawler/internal/handler"
	"vasset/crawler/internal/logger"
	"vasset/crawler/internal/router"
	"vasset/crawler/internal/ws"
)

const version = "1.0.0"

func main() {
	// 1. 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/dev.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化日志
	zl, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("Starting crawler gateway", zap.Int("port", cfg.Server.Port), zap.String("mode", cfg.Server.Mode))

	// 3. 组装组件
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer a.Close()

	// 4. 代理池刷新与残留文件清理
	if err := a.StartProxyRefresh(ctx); err != nil {
		zl.Fatal("Failed to start proxy refresher", zap.Error(err))
	}
	if err := a.StartCleanup(ctx); err != nil {
		zl.Fatal("Failed to start cleanup scheduler", zap.Error(err))
	}

	// 5. 处理器与路由
	wsManager := ws.NewManager(a.Redis, zl.Named("ws"))
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	downloadHandler := handler.NewDownloadHandler(ctx, a.Downloader, a.Factory, cfg.Download.OutputDir, 0, zl.Named("download_api"))

	r := router.SetupRouter(cfg, &router.Handlers{
		Search:    handler.NewSearchHandler(a.Search, a.Factory, cfg.Download.OutputDir, cfg.Search.MaxResultsPerPlatform, writeTimeout, zl.Named("search_api")),
		Video:     handler.NewVideoHandler(detector.NewPlatformDetector(), a.Factory, cfg.Request.GetTimeout(), zl.Named("video_api")),
		Download:  downloadHandler,
		Health:    handler.NewHealthHandler(a.Redis, a.Proxies, a.Factory, wsManager, version),
		WebSocket: handler.NewWebSocketHandler(wsManager),
	}, zl.Named("http"))

	// 6. 启动 HTTP 服务器; WebSocket 长连接不设写超时
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}

	go func() {
		zl.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 7. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down server...")

	// 8. 优雅关闭: 先停止接收请求, 再取消后台下载
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Server forced to shutdown", zap.Error(err))
	}
	stop()
	downloadHandler.Wait()

	zl.Info("Server stopped")
}
