package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"google.golang.org/api/youtube/v3"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

const (
	youtubeName       = "youtube"
	youtubeBaseURL    = "https://www.googleapis.com/youtube/v3"
	youtubeMaxPerPage = 50
)

// YouTube Data API v3 适配器
type YouTube struct {
	base
}

// NewYouTube 创建 YouTube 适配器
func NewYouTube(deps Dependencies) (Adapter, error) {
	if deps.Platform.APIKey == "" {
		return nil, fmt.Errorf("youtube: api_key is required")
	}
	return &YouTube{base: newBase(youtubeName, youtubeBaseURL, true, deps)}, nil
}

// SearchVideos 调用 search.list, 再用 videos.list 补全时长和统计
func (y *YouTube) SearchVideos(ctx context.Context, query string, maxResults int) ([]*models.Video, error) {
	params := url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"q":          {query},
		"maxResults": {strconv.Itoa(clampMax(maxResults, youtubeMaxPerPage))},
		"key":        {y.cfg.APIKey},
	}

	var resp youtube.SearchListResponse
	if err := y.client.Get(ctx, y.searchURL("/search"), nil, params, &resp); err != nil {
		return nil, y.fail("search", err)
	}

	hits := make([]*models.Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		v := &models.Video{
			ID:  item.Id.VideoId,
			URL: youtubeWatchURL(item.Id.VideoId),
		}
		if sn := item.Snippet; sn != nil {
			v.Title = utils.StripHTML(sn.Title)
			v.Description = sn.Description
			v.ThumbnailURL = youtubeThumbnail(sn.Thumbnails)
			v.UploadDate = parseRFC3339Date(sn.PublishedAt)
			v.Author = models.Author{ID: sn.ChannelId, Name: sn.ChannelTitle}
		}
		hits = append(hits, v)
	}

	return y.finish(ctx, hits, maxResults, y.GetVideoInfo)
}

// GetVideoInfo 调用 videos.list
func (y *YouTube) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	params := url.Values{
		"part": {"snippet,contentDetails,statistics"},
		"id":   {videoID},
		"key":  {y.cfg.APIKey},
	}

	var resp youtube.VideoListResponse
	if err := y.client.Get(ctx, y.baseURL+"/videos", nil, params, &resp); err != nil {
		if utils.StatusCode(err) == 404 {
			return &models.VideoDetail{}, nil
		}
		return nil, y.fail("video_info", err)
	}
	if len(resp.Items) == 0 {
		return &models.VideoDetail{}, nil
	}

	item := resp.Items[0]
	d := &models.VideoDetail{}
	if sn := item.Snippet; sn != nil {
		d.Title = utils.StripHTML(sn.Title)
		d.Description = sn.Description
		d.ThumbnailURL = youtubeThumbnail(sn.Thumbnails)
		d.UploadDate = parseRFC3339Date(sn.PublishedAt)
		d.Author = models.Author{ID: sn.ChannelId, Name: sn.ChannelTitle}
		d.Tags = sn.Tags
	}
	if cd := item.ContentDetails; cd != nil {
		d.DurationSeconds = y.duration(cd.Duration, parseISODuration, videoID)
	}
	if st := item.Statistics; st != nil {
		d.ViewCount = toCount(st.ViewCount)
		d.LikeCount = toCount(st.LikeCount)
		d.CommentCount = toCount(st.CommentCount)
	}
	return d, nil
}

func youtubeWatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// youtubeThumbnail 取最高可用清晰度
func youtubeThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

func parseRFC3339Date(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return models.UTCDate(t)
}

func toCount(n uint64) int64 {
	if n > uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(n)
}
