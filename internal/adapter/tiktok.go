package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

const (
	tiktokName       = "tiktok"
	tiktokBaseURL    = "https://www.tiktok.com"
	tiktokMaxPerPage = 30
	tiktokNotFound   = 10204
)

// TikTok web 接口适配器
type TikTok struct {
	base
}

// NewTikTok 创建 TikTok 适配器
func NewTikTok(deps Dependencies) (Adapter, error) {
	return &TikTok{base: newBase(tiktokName, tiktokBaseURL, false, deps)}, nil
}

type tiktokItem struct {
	ID         flexString `json:"id"`
	Desc       string     `json:"desc"`
	CreateTime flexInt    `json:"createTime"`
	Video      struct {
		Duration     float64 `json:"duration"`
		Cover        string  `json:"cover"`
		PlayAddr     string  `json:"playAddr"`
		DownloadAddr string  `json:"downloadAddr"`
	} `json:"video"`
	Author struct {
		ID       flexString `json:"id"`
		UniqueID string     `json:"uniqueId"`
		Nickname string     `json:"nickname"`
	} `json:"author"`
	Stats struct {
		PlayCount    flexInt `json:"playCount"`
		DiggCount    flexInt `json:"diggCount"`
		CommentCount flexInt `json:"commentCount"`
	} `json:"stats"`
	Challenges []struct {
		Title string `json:"title"`
	} `json:"challenges"`
}

type tiktokSearchResp struct {
	StatusCode int          `json:"status_code"`
	StatusMsg  string       `json:"status_msg"`
	ItemList   []tiktokItem `json:"item_list"`
}

type tiktokDetailResp struct {
	StatusCode int    `json:"statusCode"`
	StatusMsg  string `json:"statusMsg"`
	ItemInfo   struct {
		ItemStruct *tiktokItem `json:"itemStruct"`
	} `json:"itemInfo"`
}

// SearchVideos 调用综合搜索接口
func (t *TikTok) SearchVideos(ctx context.Context, query string, maxResults int) ([]*models.Video, error) {
	params := url.Values{
		"keyword": {query},
		"count":   {strconv.Itoa(clampMax(maxResults, tiktokMaxPerPage))},
		"offset":  {"0"},
	}

	var resp tiktokSearchResp
	if err := t.client.Get(ctx, t.searchURL("/api/search/item/full/"), nil, params, &resp); err != nil {
		return nil, t.fail("search", err)
	}
	if resp.StatusCode != 0 {
		return nil, t.fail("search", fmt.Errorf("%w: status %d %s", utils.ErrMalformedResponse, resp.StatusCode, resp.StatusMsg))
	}

	hits := make([]*models.Video, 0, len(resp.ItemList))
	for i := range resp.ItemList {
		hits = append(hits, t.normalize(&resp.ItemList[i]))
	}

	return t.finish(ctx, hits, maxResults, t.GetVideoInfo)
}

// GetVideoInfo 调用作品详情接口
func (t *TikTok) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	var resp tiktokDetailResp
	err := t.client.Get(ctx, t.baseURL+"/api/item/detail/", nil, url.Values{"itemId": {videoID}}, &resp)
	if err != nil {
		if utils.StatusCode(err) == 404 {
			return &models.VideoDetail{}, nil
		}
		return nil, t.fail("video_info", err)
	}
	if resp.StatusCode == tiktokNotFound || (resp.StatusCode == 0 && resp.ItemInfo.ItemStruct == nil) {
		return &models.VideoDetail{}, nil
	}
	if resp.StatusCode != 0 {
		return nil, t.fail("video_info", fmt.Errorf("%w: status %d %s", utils.ErrMalformedResponse, resp.StatusCode, resp.StatusMsg))
	}

	v := t.normalize(resp.ItemInfo.ItemStruct)
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

func (t *TikTok) normalize(item *tiktokItem) *models.Video {
	id := string(item.ID)
	download := item.Video.DownloadAddr
	if download == "" {
		download = item.Video.PlayAddr
	}

	var tags []string
	for _, c := range item.Challenges {
		if c.Title != "" {
			tags = append(tags, c.Title)
		}
	}

	// TikTok 没有独立标题, 取描述首行
	title, _, _ := strings.Cut(item.Desc, "\n")
	title = utils.SanitizeString(title)
	return &models.Video{
		ID:              id,
		Title:           title,
		Description:     item.Desc,
		URL:             tiktokWatchURL(item.Author.UniqueID, id),
		ThumbnailURL:    item.Video.Cover,
		DownloadURL:     download,
		DurationSeconds: t.floatDuration(item.Video.Duration, id),
		ViewCount:       int64(item.Stats.PlayCount),
		LikeCount:       int64(item.Stats.DiggCount),
		CommentCount:    int64(item.Stats.CommentCount),
		UploadDate:      unixDate(int64(item.CreateTime)),
		Author:          models.Author{ID: string(item.Author.ID), Name: item.Author.Nickname},
		Tags:            tags,
	}
}

func tiktokWatchURL(uniqueID, id string) string {
	if uniqueID == "" {
		return "https://www.tiktok.com/video/" + id
	}
	return "https://www.tiktok.com/@" + uniqueID + "/video/" + id
}
