package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vasset/crawler/internal/download"
	"vasset/crawler/internal/models"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 跨域由 CORS 中间件控制
	},
}

// Manager WebSocket 连接管理器, 把 Redis 中的下载进度转发给客户端
type Manager struct {
	connections sync.Map // map[connID]*websocket.Conn
	rdb         *redis.Client
	logger      *zap.Logger
}

// NewManager 创建 WebSocket 管理器
func NewManager(rdb *redis.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rdb:    rdb,
		logger: logger,
	}
}

// HandleConnection 处理 WebSocket 连接, 订阅指定批次直到整批结束或客户端断开
func (m *Manager) HandleConnection(c *gin.Context) {
	batchID := c.Query("batch_id")
	if batchID == "" {
		models.BadRequest(c, "batch_id is required")
		return
	}
	if m.rdb == nil {
		models.Error(c, http.StatusServiceUnavailable, "progress stream is not available")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 先订阅再升级, 保证握手完成后不会漏消息
	channel := download.ProgressChannel(batchID)
	pubsub := m.rdb.Subscribe(ctx, channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		m.logger.Error("Failed to subscribe", zap.String("channel", channel), zap.Error(err))
		models.InternalError(c, "failed to subscribe progress")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	m.connections.Store(connID, conn)
	defer func() {
		conn.Close()
		m.connections.Delete(connID)
		m.logger.Debug("Connection closed", zap.String("conn_id", connID))
	}()
	m.logger.Debug("Connection established", zap.String("conn_id", connID), zap.String("batch_id", batchID))

	// 批次已结束时直接返回结果
	if data, err := m.rdb.Get(ctx, download.BatchDoneKey(batchID)).Bytes(); err == nil {
		m.forward(conn, data)
		m.closeNormal(conn)
		return
	} else if !errors.Is(err, redis.Nil) {
		m.logger.Warn("Failed to read batch result", zap.String("batch_id", batchID), zap.Error(err))
	}

	go m.readPump(conn, cancel)
	go m.heartbeat(ctx, conn)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			done, err := m.forward(conn, []byte(msg.Payload))
			if err != nil {
				return
			}
			if done {
				m.closeNormal(conn)
				return
			}
		}
	}
}

// forward 转发一条进度消息, 返回是否为整批结束
func (m *Manager) forward(conn *websocket.Conn, payload []byte) (bool, error) {
	var progress models.ProgressMessage
	if err := json.Unmarshal(payload, &progress); err != nil {
		m.logger.Warn("Failed to parse progress message", zap.Error(err))
		return false, nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(&progress); err != nil {
		m.logger.Debug("Failed to send message", zap.Error(err))
		return false, err
	}
	return progress.BatchDone(), nil
}

func (m *Manager) closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// readPump 处理 pong 和关闭帧, 客户端断开时取消订阅
func (m *Manager) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// heartbeat 发送心跳
func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				m.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// GetConnectionCount 获取当前连接数
func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
