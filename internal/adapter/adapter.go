package adapter

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"vasset/crawler/internal/config"
	"vasset/crawler/internal/models"
	"vasset/crawler/internal/request"
	"vasset/crawler/internal/utils"
)

// Adapter 平台适配器
type Adapter interface {
	// Name 平台标识(小写)
	Name() string
	// SearchVideos 搜索并归一化视频, 最多返回 maxResults 条
	SearchVideos(ctx context.Context, query string, maxResults int) ([]*models.Video, error)
	// GetVideoInfo 拉取单个视频详情, 平台明确返回未找到时得到空片段
	GetVideoInfo(ctx context.Context, videoID string) (*models.VideoDetail, error)
}

// Dependencies 构造适配器所需的依赖, 构造时只读使用
type Dependencies struct {
	Platform config.PlatformConfig
	Request  config.RequestConfig
	Proxy    request.ProxySource
	Logger   *zap.Logger
}

// requester 适配器发出请求所用的客户端
type requester interface {
	Get(ctx context.Context, rawURL string, headers map[string]string, params url.Values, out any) error
	Close() error
}

// base 各平台共用的部分
type base struct {
	name    string
	baseURL string
	cfg     config.PlatformConfig
	enrich  bool
	client  requester
	logger  *zap.Logger
}

func newBase(name, defaultBaseURL string, defaultEnrich bool, deps Dependencies) base {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	minDelay, maxDelay := deps.Platform.Delays(deps.Request)
	client := request.NewManager(request.Options{
		MinDelay:  minDelay,
		MaxDelay:  maxDelay,
		Timeout:   deps.Request.GetTimeout(),
		UserAgent: deps.Request.UserAgent,
		Headers:   deps.Platform.Headers,
		Proxy:     deps.Proxy,
	}, logger.With(zap.String("platform", name)))

	baseURL := strings.TrimRight(deps.Platform.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return base{
		name:    name,
		baseURL: baseURL,
		cfg:     deps.Platform,
		enrich:  deps.Platform.Enrich(defaultEnrich),
		client:  client,
		logger:  logger.With(zap.String("platform", name)),
	}
}

func (b *base) Name() string { return b.name }

// Close 释放请求会话
func (b *base) Close() error {
	return b.client.Close()
}

// searchURL 优先使用配置中的 search_url
func (b *base) searchURL(path string) string {
	if b.cfg.SearchURL != "" {
		return b.cfg.SearchURL
	}
	return b.baseURL + path
}

// fail 包装为 AdapterError
func (b *base) fail(op string, err error) error {
	return &utils.AdapterError{Platform: b.name, Op: op, Err: err}
}

// duration 解析失败时记录警告并归零
func (b *base) duration(raw string, parse func(string) (int64, bool), videoID string) int64 {
	if raw == "" {
		return 0
	}
	secs, ok := parse(raw)
	if !ok {
		b.logger.Warn("Malformed duration, defaulting to 0",
			zap.String("video_id", videoID),
			zap.String("raw", raw))
		return 0
	}
	return secs
}

// floatDuration 数值型秒数
func (b *base) floatDuration(v float64, videoID string) int64 {
	secs, ok := parseSeconds(v)
	if !ok {
		b.logger.Warn("Malformed duration, defaulting to 0",
			zap.String("video_id", videoID),
			zap.Float64("raw", v))
		return 0
	}
	return secs
}

// finish 去重、截断, 并按需逐条补全详情
//
// 补全失败只记录日志; ctx 取消时停止补全, 返回已归一化的视频和 ctx.Err()。
func (b *base) finish(ctx context.Context, hits []*models.Video, maxResults int,
	detail func(context.Context, string) (*models.VideoDetail, error)) ([]*models.Video, error) {

	if maxResults < 1 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(hits))
	videos := make([]*models.Video, 0, min(len(hits), maxResults))
	for _, v := range hits {
		if len(videos) >= maxResults {
			break
		}
		if v == nil || v.ID == "" {
			continue
		}
		if _, dup := seen[v.ID]; dup {
			continue
		}
		seen[v.ID] = struct{}{}
		v.Platform = b.name
		videos = append(videos, v)
	}

	if !b.enrich {
		return videos, nil
	}

	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return videos, err
		}

		d, err := detail(ctx, v.ID)
		if err != nil {
			if ctx.Err() != nil {
				return videos, ctx.Err()
			}
			b.logger.Warn("Failed to enrich video, keeping search fields",
				zap.String("video_id", v.ID),
				zap.Error(err))
			continue
		}
		d.ApplyTo(v)
	}
	return videos, nil
}

// clampMax 平台接口单页上限
func clampMax(n, limit int) int {
	if n < 1 {
		return 1
	}
	if n > limit {
		return limit
	}
	return n
}
