package download

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vasset/crawler/internal/models"
)

// ProgressPublisher 下载进度发布
type ProgressPublisher interface {
	Publish(ctx context.Context, msg *models.ProgressMessage) error
}

// ProgressChannel 批次进度频道名
func ProgressChannel(batchID string) string {
	return fmt.Sprintf("progress:%s", batchID)
}

// BatchDoneKey 整批结束消息的保留键, 供晚到的订阅者读取
func BatchDoneKey(batchID string) string {
	return fmt.Sprintf("progress:done:%s", batchID)
}

// batchDoneTTL 结束消息保留时长
const batchDoneTTL = time.Hour

// RedisPublisher 通过 Redis pub/sub 发布进度
type RedisPublisher struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher 创建进度发布器
func NewRedisPublisher(redisClient *redis.Client, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		redis:  redisClient,
		logger: logger,
	}
}

// Publish 发布进度消息
func (p *RedisPublisher) Publish(ctx context.Context, msg *models.ProgressMessage) error {
	channel := ProgressChannel(msg.BatchID)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	if msg.BatchDone() {
		if err := p.redis.Set(ctx, BatchDoneKey(msg.BatchID), data, batchDoneTTL).Err(); err != nil {
			p.logger.Warn("Failed to store batch result", zap.String("batch_id", msg.BatchID), zap.Error(err))
		}
	}
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}

	p.logger.Debug("Published progress",
		zap.String("channel", channel),
		zap.String("video", msg.VideoKey),
		zap.Float64("percent", msg.Percent))
	return nil
}

// nopPublisher 未配置发布器时使用
type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *models.ProgressMessage) error { return nil }
