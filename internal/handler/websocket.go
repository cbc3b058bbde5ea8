package handler

import (
	"github.com/gin-gonic/gin"

	"vasset/crawler/internal/ws"
)

// WebSocketHandler WebSocket 处理器
type WebSocketHandler struct {
	wsManager *ws.Manager
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(wsManager *ws.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
	}
}

// Progress 处理下载进度推送连接
func (h *WebSocketHandler) Progress(c *gin.Context) {
	h.wsManager.HandleConnection(c)
}
