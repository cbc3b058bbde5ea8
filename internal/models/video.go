package models

import (
	"strings"
	"time"
)

// Author 视频作者
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Video 跨平台统一的视频记录
type Video struct {
	Platform        string    `json:"platform"`
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	URL             string    `json:"url"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	DownloadURL     string    `json:"download_url,omitempty"` // 平台直链(如有)
	DurationSeconds int64     `json:"duration_seconds"`
	ViewCount       int64     `json:"view_count"`
	LikeCount       int64     `json:"like_count"`
	CommentCount    int64     `json:"comment_count"`
	UploadDate      time.Time `json:"upload_date"`
	Author          Author    `json:"author"`
	Tags            []string  `json:"tags"`

	// 打分后才有值
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
	// 下载完成后才有值
	LocalPath string `json:"local_path,omitempty"`
}

// Key 返回 platform:id 形式的唯一键
func (v *Video) Key() string {
	return VideoKey(v.Platform, v.ID)
}

// VideoKey 拼接视频唯一键
func VideoKey(platform, id string) string {
	return platform + ":" + id
}

// Score 返回相关度分数, 未打分时为 0
func (v *Video) Score() float64 {
	if v.RelevanceScore == nil {
		return 0
	}
	return *v.RelevanceScore
}

// SetScore 设置相关度分数
func (v *Video) SetScore(score float64) {
	v.RelevanceScore = &score
}

// Clone 深拷贝, 过滤/下载阶段用于避免修改调用方数据
func (v *Video) Clone() *Video {
	c := *v
	if v.Tags != nil {
		c.Tags = append([]string(nil), v.Tags...)
	}
	if v.RelevanceScore != nil {
		s := *v.RelevanceScore
		c.RelevanceScore = &s
	}
	return &c
}

// UTCDate 将时间归一化为 UTC 零点
func UTCDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// VideoDetail 详情接口返回的字段片段, 零值表示该字段缺失
type VideoDetail struct {
	Title           string
	Description     string
	ThumbnailURL    string
	DownloadURL     string
	DurationSeconds int64
	ViewCount       int64
	LikeCount       int64
	CommentCount    int64
	UploadDate      time.Time
	Author          Author
	Tags            []string
}

// Empty 是否为空片段(平台返回"未找到")
func (d *VideoDetail) Empty() bool {
	return d == nil || (d.Title == "" && d.Description == "" && d.ThumbnailURL == "" &&
		d.DownloadURL == "" && d.DurationSeconds == 0 && d.ViewCount == 0 && d.LikeCount == 0 &&
		d.CommentCount == 0 && d.UploadDate.IsZero() && d.Author == (Author{}) && len(d.Tags) == 0)
}

// ApplyTo 把片段中非零字段合并到视频上
func (d *VideoDetail) ApplyTo(v *Video) {
	if d == nil {
		return
	}
	if d.Title != "" {
		v.Title = d.Title
	}
	if d.Description != "" {
		v.Description = d.Description
	}
	if d.ThumbnailURL != "" {
		v.ThumbnailURL = d.ThumbnailURL
	}
	if d.DownloadURL != "" {
		v.DownloadURL = d.DownloadURL
	}
	if d.DurationSeconds > 0 {
		v.DurationSeconds = d.DurationSeconds
	}
	if d.ViewCount > 0 {
		v.ViewCount = d.ViewCount
	}
	if d.LikeCount > 0 {
		v.LikeCount = d.LikeCount
	}
	if d.CommentCount > 0 {
		v.CommentCount = d.CommentCount
	}
	if !d.UploadDate.IsZero() {
		v.UploadDate = UTCDate(d.UploadDate)
	}
	if d.Author.ID != "" {
		v.Author.ID = d.Author.ID
	}
	if d.Author.Name != "" {
		v.Author.Name = d.Author.Name
	}
	if len(d.Tags) > 0 {
		v.Tags = append([]string(nil), d.Tags...)
	}
}

// NormalizePlatform 平台名统一为小写
func NormalizePlatform(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
