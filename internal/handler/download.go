package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vasset/crawler/internal/download"
	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

// Batcher 按批次号下载
type Batcher interface {
	DownloadBatch(ctx context.Context, batchID string, videos []*models.Video, outputDir string) (*download.Result, error)
}

// DownloadHandler 异步下载处理器
type DownloadHandler struct {
	batcher      Batcher
	adapters     AdapterResolver
	downloadRoot string
	timeout      time.Duration

	// 后台任务在 baseCtx 取消时停止
	baseCtx context.Context
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewDownloadHandler 创建下载处理器, 视频信息通过 adapters 向平台查询
func NewDownloadHandler(baseCtx context.Context, batcher Batcher, adapters AdapterResolver, downloadRoot string, timeout time.Duration, logger *zap.Logger) *DownloadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandler{
		batcher:      batcher,
		adapters:     adapters,
		downloadRoot: downloadRoot,
		timeout:      timeout,
		baseCtx:      baseCtx,
		logger:       logger,
	}
}

// SubmitDownload 提交下载批次, 立即返回批次号, 进度通过 WebSocket 推送
func (h *DownloadHandler) SubmitDownload(c *gin.Context) {
	var req models.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	if len(req.Videos) > models.MaxDownloadBatch {
		respondError(c, &utils.InvalidRequestError{
			Field:  "videos",
			Reason: fmt.Sprintf("must not exceed %d items", models.MaxDownloadBatch),
		})
		return
	}

	outputDir, err := resolveOutputDir(h.downloadRoot, req.OutputDir)
	if err != nil {
		respondError(c, err)
		return
	}

	// 只信任平台返回的地址, 请求方不能指定下载源
	videos := make([]*models.Video, 0, len(req.Videos))
	seen := make(map[string]bool, len(req.Videos))
	for _, item := range req.Videos {
		v, err := lookupVideo(c.Request.Context(), h.adapters, item.Platform, item.ID)
		if err != nil {
			h.logger.Warn("Download item rejected",
				zap.String("platform", item.Platform),
				zap.String("video_id", item.ID),
				zap.Error(err))
			respondError(c, err)
			return
		}
		if seen[v.Key()] {
			continue
		}
		seen[v.Key()] = true
		videos = append(videos, v)
	}

	batchID := uuid.New().String()
	h.wg.Add(1)
	go h.run(batchID, videos, outputDir)

	models.Accepted(c, models.DownloadResponse{
		BatchID:         batchID,
		Count:           len(videos),
		ProgressChannel: download.ProgressChannel(batchID),
	})
}

func (h *DownloadHandler) run(batchID string, videos []*models.Video, outputDir string) {
	defer h.wg.Done()

	ctx := h.baseCtx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.batcher.DownloadBatch(ctx, batchID, videos, outputDir)
	if err != nil {
		h.logger.Error("Download batch failed", zap.String("batch_id", batchID), zap.Error(err))
		return
	}
	for key, ferr := range res.Failed {
		h.logger.Warn("Video download failed",
			zap.String("batch_id", batchID),
			zap.String("video", key),
			zap.Int("attempts", ferr.Attempts),
			zap.Error(ferr.Err))
	}
}

// Wait 等待所有后台下载结束
func (h *DownloadHandler) Wait() {
	h.wg.Wait()
}
