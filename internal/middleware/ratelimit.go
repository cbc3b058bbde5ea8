package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"vasset/crawler/internal/config"
	"vasset/crawler/internal/models"
)

// RateLimiter 限流器: 全局一个桶, 每个客户端 IP 一个桶
type RateLimiter struct {
	global     *rate.Limiter
	ipLimiters sync.Map // map[ip]*rate.Limiter
	ipRPS      rate.Limit
	burst      int
}

// NewRateLimiter 创建限流器
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst*2),
		ipRPS:  rate.Limit(cfg.IPRPS),
		burst:  burst,
	}
}

func (rl *RateLimiter) ipLimiter(ip string) *rate.Limiter {
	if l, ok := rl.ipLimiters.Load(ip); ok {
		return l.(*rate.Limiter)
	}
	l, _ := rl.ipLimiters.LoadOrStore(ip, rate.NewLimiter(rl.ipRPS, rl.burst))
	return l.(*rate.Limiter)
}

// IPRateLimit IP 限流中间件
func IPRateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.global.Allow() {
			tooMany(c, "global rate limit exceeded, please try again later")
			return
		}
		if !rl.ipLimiter(c.ClientIP()).Allow() {
			tooMany(c, "ip rate limit exceeded, please try again later")
			return
		}
		c.Next()
	}
}

func tooMany(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, models.Response{
		Code:      http.StatusTooManyRequests,
		Message:   message,
		RequestID: GetRequestID(c),
	})
}
