package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vasset/crawler/internal/config"
	"vasset/crawler/internal/handler"
	"vasset/crawler/internal/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Search    *handler.SearchHandler
	Video     *handler.VideoHandler
	Download  *handler.DownloadHandler
	Health    *handler.HealthHandler
	WebSocket *handler.WebSocketHandler
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, h *Handlers, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(&cfg.CORS))

	// 健康检查
	r.GET("/health", h.Health.HealthCheck)
	r.GET("/version", h.Health.Version)
	r.GET("/ready", h.Health.Ready)
	r.GET("/live", h.Health.Live)

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.IPRateLimit(rateLimiter))
	{
		v1.GET("/platforms", h.Search.Platforms)
		v1.POST("/search", h.Search.Search)
		v1.POST("/videos/info", h.Video.GetVideoInfo)
		v1.POST("/download", h.Download.SubmitDownload)
	}

	// WebSocket 进度推送
	r.GET("/api/v1/ws/progress", h.WebSocket.Progress)

	return r
}
