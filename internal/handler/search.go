package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vasset/crawler/internal/models"
)

// Runner 执行一次完整查询
type Runner interface {
	Run(ctx context.Context, q models.Query) (*models.Outcome, error)
}

// PlatformLister 列出已注册平台
type PlatformLister interface {
	SupportedPlatforms() []string
}

// SearchHandler 搜索处理器
type SearchHandler struct {
	runner       Runner
	platforms    PlatformLister
	downloadRoot string
	maxResults   int
	timeout      time.Duration
	logger       *zap.Logger
}

// NewSearchHandler 创建搜索处理器, timeout 为 0 时只受客户端连接约束
func NewSearchHandler(runner Runner, platforms PlatformLister, downloadRoot string, maxResults int, timeout time.Duration, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{
		runner:       runner,
		platforms:    platforms,
		downloadRoot: downloadRoot,
		maxResults:   maxResults,
		timeout:      timeout,
		logger:       logger,
	}
}

// Search 多平台搜索, 可同时过滤和下载
func (h *SearchHandler) Search(c *gin.Context) {
	var req models.SearchAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	q, err := req.ToQuery(h.maxResults)
	if err != nil {
		respondError(c, err)
		return
	}
	if q.Download {
		if q.OutputDir, err = resolveOutputDir(h.downloadRoot, q.OutputDir); err != nil {
			respondError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	outcome, err := h.runner.Run(ctx, q)
	if err != nil {
		h.logger.Warn("Search failed", zap.String("query", req.Query), zap.Error(err))
		respondError(c, err)
		return
	}

	models.Success(c, models.SearchAPIResponse{
		Total:     len(outcome.Videos),
		Videos:    outcome.Videos,
		BatchID:   outcome.BatchID,
		Downloads: outcome.Downloads,
		Failed:    outcome.Failed,
	})
}

// Platforms 列出可用平台
func (h *SearchHandler) Platforms(c *gin.Context) {
	models.Success(c, models.PlatformsResponse{Platforms: h.platforms.SupportedPlatforms()})
}
