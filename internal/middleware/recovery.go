package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vasset/crawler/internal/models"
)

// Recovery Panic 恢复中间件
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(c)

				// 记录错误日志和堆栈
				logger.Error("Panic recovered",
					zap.Any("panic", err),
					zap.String("request_id", requestID),
					zap.ByteString("stack", debug.Stack()))

				c.AbortWithStatusJSON(http.StatusInternalServerError, models.Response{
					Code:      http.StatusInternalServerError,
					Message:   "internal server error",
					RequestID: requestID,
				})
			}
		}()
		c.Next()
	}
}
