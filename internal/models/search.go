package models

import (
	"strings"
	"time"

	"vasset/crawler/internal/utils"
)

// DefaultMaxResultsPerPlatform 每个平台默认返回条数
const DefaultMaxResultsPerPlatform = 10

// SearchRequest 搜索请求
type SearchRequest struct {
	Query                 string   `json:"query"`
	Platforms             []string `json:"platforms,omitempty"` // 为空表示全部已注册平台
	MaxResultsPerPlatform int      `json:"max_results"`
	AnalyzeContent        bool     `json:"analyze_content"`
}

// NewSearchRequest 创建带默认值的搜索请求
func NewSearchRequest(query string, platforms ...string) SearchRequest {
	return SearchRequest{
		Query:                 query,
		Platforms:             platforms,
		MaxResultsPerPlatform: DefaultMaxResultsPerPlatform,
	}
}

// Validate 校验请求
func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return &utils.InvalidRequestError{Field: "query", Reason: "must not be empty"}
	}
	if r.MaxResultsPerPlatform < 1 {
		return &utils.InvalidRequestError{Field: "max_results", Reason: "must be >= 1"}
	}
	return nil
}

// Filter 结果过滤条件, nil 表示该维度不限制, 边界均为闭区间
type Filter struct {
	MinDuration *int64     `json:"min_duration,omitempty"`
	MaxDuration *int64     `json:"max_duration,omitempty"`
	MinViews    *int64     `json:"min_views,omitempty"`
	MaxViews    *int64     `json:"max_views,omitempty"`
	MinDate     *time.Time `json:"min_date,omitempty"`
	Platforms   []string   `json:"platforms,omitempty"`
}

// Validate 校验过滤条件
func (f *Filter) Validate() error {
	if f.MinDuration != nil && f.MaxDuration != nil && *f.MinDuration > *f.MaxDuration {
		return &utils.InvalidRequestError{Field: "min_duration", Reason: "must not exceed max_duration"}
	}
	if f.MinViews != nil && f.MaxViews != nil && *f.MinViews > *f.MaxViews {
		return &utils.InvalidRequestError{Field: "min_views", Reason: "must not exceed max_views"}
	}
	return nil
}

// Match 判断视频是否满足所有条件
func (f *Filter) Match(v *Video) bool {
	if f == nil {
		return true
	}
	if f.MinDuration != nil && v.DurationSeconds < *f.MinDuration {
		return false
	}
	if f.MaxDuration != nil && v.DurationSeconds > *f.MaxDuration {
		return false
	}
	if f.MinViews != nil && v.ViewCount < *f.MinViews {
		return false
	}
	if f.MaxViews != nil && v.ViewCount > *f.MaxViews {
		return false
	}
	if f.MinDate != nil && v.UploadDate.Before(UTCDate(*f.MinDate)) {
		return false
	}
	if len(f.Platforms) > 0 {
		matched := false
		for _, p := range f.Platforms {
			if NormalizePlatform(p) == NormalizePlatform(v.Platform) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Query 一次完整的查询: 搜索 + 过滤 + 可选下载
type Query struct {
	Request   SearchRequest `json:"request"`
	Filter    Filter        `json:"filter"`
	Download  bool          `json:"download"`
	OutputDir string        `json:"output_dir,omitempty"`
}

// Outcome 查询结果
type Outcome struct {
	Videos    []*Video          `json:"videos"`
	BatchID   string            `json:"batch_id,omitempty"`
	Downloads map[string]string `json:"downloads,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}
