package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"vasset/crawler/internal/models"
)

// 组件状态
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"
	statusEmpty     = "empty"
)

// ProxyPool 代理池规模
type ProxyPool interface {
	Len() int
}

// ConnectionCounter WebSocket 连接数
type ConnectionCounter interface {
	GetConnectionCount() int
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	redisClient *redis.Client
	proxies     ProxyPool
	platforms   PlatformLister
	wsManager   ConnectionCounter
	startTime   time.Time
	version     string
}

// NewHealthHandler 创建健康检查处理器, redisClient 可以为 nil
func NewHealthHandler(redisClient *redis.Client, proxies ProxyPool, platforms PlatformLister, wsManager ConnectionCounter, version string) *HealthHandler {
	return &HealthHandler{
		redisClient: redisClient,
		proxies:     proxies,
		platforms:   platforms,
		wsManager:   wsManager,
		startTime:   time.Now(),
		version:     version,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       int64             `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
	Platforms    []string          `json:"platforms"`
	Proxies      int               `json:"proxies"`
	WebSockets   int               `json:"websocket_connections"`
}

// probe 各组件状态; 只有平台和已配置的 Redis 会影响就绪
type probe struct {
	platforms []string
	redis     string
	proxies   int
	problem   string
}

func (p probe) ok() bool { return p.problem == "" }

func (h *HealthHandler) probe(ctx context.Context) probe {
	p := probe{platforms: h.platforms.SupportedPlatforms(), redis: statusDisabled}
	if h.proxies != nil {
		p.proxies = h.proxies.Len()
	}
	if len(p.platforms) == 0 {
		p.problem = "no platform registered"
	}
	if h.redisClient != nil {
		p.redis = statusHealthy
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			p.redis = statusUnhealthy
			if p.problem == "" {
				p.problem = "redis not available"
			}
		}
	}
	return p
}

// HealthCheck 健康检查
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	p := h.probe(ctx)

	deps := map[string]string{
		"redis":      p.redis,
		"platforms":  statusHealthy,
		"proxy_pool": statusHealthy,
	}
	if len(p.platforms) == 0 {
		deps["platforms"] = "none registered"
	}
	// 空代理池时直连, 不算故障
	if p.proxies == 0 {
		deps["proxy_pool"] = statusEmpty
	}

	connections := 0
	if h.wsManager != nil {
		connections = h.wsManager.GetConnectionCount()
	}

	status, code := statusHealthy, http.StatusOK
	if !p.ok() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:       status,
		Version:      h.version,
		Uptime:       int64(time.Since(h.startTime).Seconds()),
		Dependencies: deps,
		Platforms:    p.platforms,
		Proxies:      p.proxies,
		WebSockets:   connections,
	})
}

// Version 版本信息
func (h *HealthHandler) Version(c *gin.Context) {
	models.Success(c, gin.H{"version": h.version, "service": "crawler-gateway"})
}

// Ready 就绪检查
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if p := h.probe(ctx); !p.ok() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": p.problem})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Live 存活检查
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}
