package adapter

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

const (
	weiboName    = "weibo"
	weiboBaseURL = "https://m.weibo.cn"
)

var weiboTopicRe = regexp.MustCompile(`#([^#\s][^#]*)#`)

// Weibo 移动端接口适配器
type Weibo struct {
	base
}

// NewWeibo 创建微博适配器
func NewWeibo(deps Dependencies) (Adapter, error) {
	return &Weibo{base: newBase(weiboName, weiboBaseURL, false, deps)}, nil
}

type weiboMblog struct {
	ID            flexString `json:"id"`
	Text          string     `json:"text"`
	CreatedAt     string     `json:"created_at"`
	AttitudeCount flexInt    `json:"attitudes_count"`
	CommentsCount flexInt    `json:"comments_count"`
	User          *struct {
		ID         flexString `json:"id"`
		ScreenName string     `json:"screen_name"`
	} `json:"user"`
	PageInfo *struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		PagePic struct {
			URL string `json:"url"`
		} `json:"page_pic"`
		MediaInfo struct {
			Duration    float64 `json:"duration"`
			StreamURL   string  `json:"stream_url"`
			StreamURLHD string  `json:"stream_url_hd"`
		} `json:"media_info"`
		PlayCount flexInt `json:"play_count"`
	} `json:"page_info"`
}

type weiboCard struct {
	CardType  int         `json:"card_type"`
	Mblog     *weiboMblog `json:"mblog"`
	CardGroup []weiboCard `json:"card_group"`
}

type weiboSearchResp struct {
	OK   int    `json:"ok"`
	Msg  string `json:"msg"`
	Data struct {
		Cards []weiboCard `json:"cards"`
	} `json:"data"`
}

type weiboShowResp struct {
	OK   int         `json:"ok"`
	Msg  string      `json:"msg"`
	Data *weiboMblog `json:"data"`
}

// SearchVideos 调用视频搜索容器
func (w *Weibo) SearchVideos(ctx context.Context, query string, maxResults int) ([]*models.Video, error) {
	params := url.Values{
		"containerid": {"100103type=64&q=" + query},
		"page_type":   {"searchall"},
	}

	var resp weiboSearchResp
	if err := w.client.Get(ctx, w.searchURL("/api/container/getIndex"), nil, params, &resp); err != nil {
		return nil, w.fail("search", err)
	}
	// ok=0 表示没有结果
	if resp.OK != 1 {
		w.logger.Debug("Weibo search returned no cards", zap.String("msg", resp.Msg))
		return nil, nil
	}

	var hits []*models.Video
	var walk func(cards []weiboCard)
	walk = func(cards []weiboCard) {
		for _, c := range cards {
			if c.Mblog != nil && c.Mblog.PageInfo != nil && c.Mblog.PageInfo.Type == "video" {
				hits = append(hits, w.normalize(c.Mblog))
			}
			if len(c.CardGroup) > 0 {
				walk(c.CardGroup)
			}
		}
	}
	walk(resp.Data.Cards)

	return w.finish(ctx, hits, maxResults, w.GetVideoInfo)
}

// GetVideoInfo 调用单条微博接口
func (w *Weibo) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	var resp weiboShowResp
	err := w.client.Get(ctx, w.baseURL+"/statuses/show", nil, url.Values{"id": {videoID}}, &resp)
	if err != nil {
		if utils.StatusCode(err) == 404 {
			return &models.VideoDetail{}, nil
		}
		return nil, w.fail("video_info", err)
	}
	if resp.OK != 1 || resp.Data == nil {
		return &models.VideoDetail{}, nil
	}

	v := w.normalize(resp.Data)
	return &models.VideoDetail{
		Title:           v.Title,
		Description:     v.Description,
		ThumbnailURL:    v.ThumbnailURL,
		DownloadURL:     v.DownloadURL,
		DurationSeconds: v.DurationSeconds,
		ViewCount:       v.ViewCount,
		LikeCount:       v.LikeCount,
		CommentCount:    v.CommentCount,
		UploadDate:      v.UploadDate,
		Author:          v.Author,
		Tags:            v.Tags,
	}, nil
}

func (w *Weibo) normalize(m *weiboMblog) *models.Video {
	id := string(m.ID)
	text := utils.StripHTML(m.Text)

	v := &models.Video{
		ID:           id,
		Title:        text,
		Description:  text,
		URL:          "https://m.weibo.cn/detail/" + id,
		LikeCount:    int64(m.AttitudeCount),
		CommentCount: int64(m.CommentsCount),
		UploadDate:   parseWeiboTime(m.CreatedAt),
		Tags:         weiboTopics(text),
	}
	if m.User != nil {
		v.Author = models.Author{ID: string(m.User.ID), Name: m.User.ScreenName}
	}
	if p := m.PageInfo; p != nil {
		if p.Title != "" {
			v.Title = utils.SanitizeString(p.Title)
		}
		v.ThumbnailURL = p.PagePic.URL
		v.DurationSeconds = w.floatDuration(p.MediaInfo.Duration, id)
		v.ViewCount = int64(p.PlayCount)
		v.DownloadURL = p.MediaInfo.StreamURLHD
		if v.DownloadURL == "" {
			v.DownloadURL = p.MediaInfo.StreamURL
		}
	}
	return v
}

// parseWeiboTime 解析 "Mon Jan 02 15:04:05 -0700 2006" 格式
func parseWeiboTime(s string) time.Time {
	t, err := time.Parse(time.RubyDate, s)
	if err != nil {
		return time.Time{}
	}
	return models.UTCDate(t)
}

// weiboTopics 提取 #话题# 作为标签
func weiboTopics(text string) []string {
	var tags []string
	seen := map[string]bool{}
	for _, m := range weiboTopicRe.FindAllStringSubmatch(text, -1) {
		tag := utils.SanitizeString(m[1])
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}
