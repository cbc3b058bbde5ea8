package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vasset/crawler/internal/adapter"
	"vasset/crawler/internal/detector"
	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

// AdapterResolver 按平台名获取适配器
type AdapterResolver interface {
	Create(name string) adapter.Adapter
}

// VideoHandler 单个视频详情处理器
type VideoHandler struct {
	detector *detector.PlatformDetector
	adapters AdapterResolver
	timeout  time.Duration
	logger   *zap.Logger
}

// NewVideoHandler 创建视频详情处理器
func NewVideoHandler(d *detector.PlatformDetector, adapters AdapterResolver, timeout time.Duration, logger *zap.Logger) *VideoHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoHandler{
		detector: d,
		adapters: adapters,
		timeout:  timeout,
		logger:   logger,
	}
}

// GetVideoInfo 根据视频链接查询详情
func (h *VideoHandler) GetVideoInfo(c *gin.Context) {
	var req models.VideoInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	match, err := h.detector.Resolve(req.URL)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	video, err := lookupVideo(ctx, h.adapters, match.Platform, match.VideoID)
	if err != nil {
		h.logger.Warn("Video info lookup failed",
			zap.String("platform", match.Platform),
			zap.String("video_id", match.VideoID),
			zap.Error(err))
		respondError(c, err)
		return
	}
	video.URL = utils.NormalizeURL(req.URL)
	models.Success(c, video)
}

// lookupVideo 向平台查询单个视频, 平台未注册或视频不存在时返回对应哨兵错误
func lookupVideo(ctx context.Context, adapters AdapterResolver, platform, id string) (*models.Video, error) {
	platform = models.NormalizePlatform(platform)
	a := adapters.Create(platform)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", utils.ErrUnsupportedPlatform, platform)
	}

	detail, err := a.GetVideoInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Empty() {
		return nil, fmt.Errorf("%w: %s:%s", utils.ErrVideoNotFound, platform, id)
	}

	video := &models.Video{Platform: platform, ID: id}
	detail.ApplyTo(video)
	return video, nil
}
