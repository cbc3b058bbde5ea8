package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

const (
	bilibiliName       = "bilibili"
	bilibiliBaseURL    = "https://api.bilibili.com"
	bilibiliMaxPerPage = 50
)

// Bilibili 返回"视频不存在"的业务码
var bilibiliNotFoundCodes = map[int]bool{-404: true, 62002: true, 62004: true}

// Bilibili web 接口适配器
type Bilibili struct {
	base
}

// NewBilibili 创建 B 站适配器
func NewBilibili(deps Dependencies) (Adapter, error) {
	return &Bilibili{base: newBase(bilibiliName, bilibiliBaseURL, true, deps)}, nil
}

type bilibiliSearchResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Result []bilibiliSearchHit `json:"result"`
	} `json:"data"`
}

type bilibiliSearchHit struct {
	BVID        string     `json:"bvid"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Pic         string     `json:"pic"`
	Duration    string     `json:"duration"`
	Play        flexInt    `json:"play"`
	Like        flexInt    `json:"like"`
	Review      flexInt    `json:"review"`
	PubDate     int64      `json:"pubdate"`
	Author      string     `json:"author"`
	Mid         flexString `json:"mid"`
	Tag         string     `json:"tag"`
}

type bilibiliViewResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		BVID     string  `json:"bvid"`
		Title    string  `json:"title"`
		Desc     string  `json:"desc"`
		Pic      string  `json:"pic"`
		PubDate  int64   `json:"pubdate"`
		Duration float64 `json:"duration"`
		Owner    struct {
			Mid  flexString `json:"mid"`
			Name string     `json:"name"`
		} `json:"owner"`
		Stat struct {
			View  flexInt `json:"view"`
			Like  flexInt `json:"like"`
			Reply flexInt `json:"reply"`
		} `json:"stat"`
	} `json:"data"`
}

// SearchVideos 调用视频分类搜索接口
func (b *Bilibili) SearchVideos(ctx context.Context, query string, maxResults int) ([]*models.Video, error) {
	params := url.Values{
		"search_type": {"video"},
		"keyword":     {query},
		"page":        {"1"},
		"page_size":   {strconv.Itoa(clampMax(maxResults, bilibiliMaxPerPage))},
	}

	var resp bilibiliSearchResp
	if err := b.client.Get(ctx, b.searchURL("/x/web-interface/search/type"), nil, params, &resp); err != nil {
		return nil, b.fail("search", err)
	}
	if resp.Code != 0 {
		return nil, b.fail("search", fmt.Errorf("%w: code %d %s", utils.ErrMalformedResponse, resp.Code, resp.Message))
	}

	hits := make([]*models.Video, 0, len(resp.Data.Result))
	for _, r := range resp.Data.Result {
		hits = append(hits, &models.Video{
			ID:              r.BVID,
			Title:           utils.StripHTML(r.Title),
			Description:     r.Description,
			URL:             bilibiliWatchURL(r.BVID),
			ThumbnailURL:    utils.AbsoluteURL(r.Pic),
			DurationSeconds: b.duration(r.Duration, parseClockDuration, r.BVID),
			ViewCount:       int64(r.Play),
			LikeCount:       int64(r.Like),
			CommentCount:    int64(r.Review),
			UploadDate:      unixDate(r.PubDate),
			Author:          models.Author{ID: string(r.Mid), Name: r.Author},
			Tags:            splitTags(r.Tag, ","),
		})
	}

	return b.finish(ctx, hits, maxResults, b.GetVideoInfo)
}

// GetVideoInfo 调用视频详情接口
func (b *Bilibili) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	var resp bilibiliViewResp
	err := b.client.Get(ctx, b.baseURL+"/x/web-interface/view", nil, url.Values{"bvid": {videoID}}, &resp)
	if err != nil {
		if utils.StatusCode(err) == 404 {
			return &models.VideoDetail{}, nil
		}
		return nil, b.fail("video_info", err)
	}
	if bilibiliNotFoundCodes[resp.Code] {
		return &models.VideoDetail{}, nil
	}
	if resp.Code != 0 || resp.Data == nil {
		return nil, b.fail("video_info", fmt.Errorf("%w: code %d %s", utils.ErrMalformedResponse, resp.Code, resp.Message))
	}

	d := resp.Data
	return &models.VideoDetail{
		Title:           utils.StripHTML(d.Title),
		Description:     d.Desc,
		ThumbnailURL:    utils.AbsoluteURL(d.Pic),
		DurationSeconds: b.floatDuration(d.Duration, videoID),
		ViewCount:       int64(d.Stat.View),
		LikeCount:       int64(d.Stat.Like),
		CommentCount:    int64(d.Stat.Reply),
		UploadDate:      unixDate(d.PubDate),
		Author:          models.Author{ID: string(d.Owner.Mid), Name: d.Owner.Name},
	}, nil
}

func bilibiliWatchURL(bvid string) string {
	return "https://www.bilibili.com/video/" + bvid
}

func unixDate(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return models.UTCDate(time.Unix(sec, 0))
}

// splitTags 按分隔符拆分标签, 保持平台顺序并去掉空项
func splitTags(s, sep string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, sep) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
