package models

import (
	"strings"
	"time"

	"vasset/crawler/internal/utils"
)

// DateLayout 接口中日期字段格式
const DateLayout = "2006-01-02"

// SearchAPIRequest 搜索接口请求
type SearchAPIRequest struct {
	Query          string   `json:"query" binding:"required"`
	Platforms      []string `json:"platforms"`
	MaxResults     *int     `json:"max_results"` // 为空时取默认值
	AnalyzeContent bool     `json:"analyze_content"`

	MinDuration     *int64   `json:"min_duration"`
	MaxDuration     *int64   `json:"max_duration"`
	MinViews        *int64   `json:"min_views"`
	MaxViews        *int64   `json:"max_views"`
	MinDate         string   `json:"min_date"` // YYYY-MM-DD
	FilterPlatforms []string `json:"filter_platforms"`

	Download  bool   `json:"download"`
	OutputDir string `json:"output_dir"` // 相对下载根目录
}

// ToQuery 转换为内部查询, defaultMax 为未指定条数时的取值
func (r *SearchAPIRequest) ToQuery(defaultMax int) (Query, error) {
	req := NewSearchRequest(r.Query, r.Platforms...)
	req.AnalyzeContent = r.AnalyzeContent
	if defaultMax > 0 {
		req.MaxResultsPerPlatform = defaultMax
	}
	if r.MaxResults != nil {
		req.MaxResultsPerPlatform = *r.MaxResults
	}

	filter := Filter{
		MinDuration: r.MinDuration,
		MaxDuration: r.MaxDuration,
		MinViews:    r.MinViews,
		MaxViews:    r.MaxViews,
		Platforms:   r.FilterPlatforms,
	}
	if s := strings.TrimSpace(r.MinDate); s != "" {
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return Query{}, &utils.InvalidRequestError{Field: "min_date", Reason: "must be YYYY-MM-DD"}
		}
		filter.MinDate = &t
	}

	return Query{
		Request:   req,
		Filter:    filter,
		Download:  r.Download,
		OutputDir: r.OutputDir,
	}, nil
}

// SearchAPIResponse 搜索接口响应
type SearchAPIResponse struct {
	Total   int      `json:"total"`
	Videos  []*Video `json:"videos"`
	BatchID string   `json:"batch_id,omitempty"`

	Downloads map[string]string `json:"downloads,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// PlatformsResponse 平台列表响应
type PlatformsResponse struct {
	Platforms []string `json:"platforms"`
}

// VideoInfoRequest 视频详情请求
type VideoInfoRequest struct {
	URL string `json:"url" binding:"required"`
}

// MaxDownloadBatch 单次提交的视频数上限
const MaxDownloadBatch = 20

// DownloadItem 待下载视频, 下载地址由服务端向平台重新查询
type DownloadItem struct {
	Platform string `json:"platform" binding:"required"`
	ID       string `json:"id" binding:"required"`
}

// DownloadRequest 异步下载请求
type DownloadRequest struct {
	Videos    []DownloadItem `json:"videos" binding:"required,min=1,dive"`
	OutputDir string         `json:"output_dir"`
}

// DownloadResponse 异步下载响应
type DownloadResponse struct {
	BatchID         string `json:"batch_id"`
	Count           int    `json:"count"`
	ProgressChannel string `json:"progress_channel"`
}
