package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

const (
	facebookName       = "facebook"
	facebookBaseURL    = "https://graph.facebook.com/v19.0"
	facebookMaxPerPage = 50
	facebookTimeLayout = "2006-01-02T15:04:05-0700"

	// Graph API: 对象不存在或无权限访问
	facebookErrNonexisting = 100

	facebookSearchFields = "id,title,description,permalink_url,picture,length,created_time,from"
	facebookDetailFields = facebookSearchFields + ",source,views,likes.summary(true),comments.summary(true)"
)

// Facebook Graph API 适配器
type Facebook struct {
	base
}

// NewFacebook 创建 Facebook 适配器
func NewFacebook(deps Dependencies) (Adapter, error) {
	if deps.Platform.APIKey == "" {
		return nil, fmt.Errorf("facebook: access token is required")
	}
	return &Facebook{base: newBase(facebookName, facebookBaseURL, true, deps)}, nil
}

type facebookVideo struct {
	ID           flexString `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	PermalinkURL string     `json:"permalink_url"`
	Picture      string     `json:"picture"`
	Length       float64    `json:"length"`
	CreatedTime  string     `json:"created_time"`
	Source       string     `json:"source"`
	Views        flexInt    `json:"views"`
	From         struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
	} `json:"from"`
	Likes    *facebookSummary `json:"likes"`
	Comments *facebookSummary `json:"comments"`
}

type facebookSummary struct {
	Summary struct {
		TotalCount flexInt `json:"total_count"`
	} `json:"summary"`
}

type facebookError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SearchVideos 调用 Graph 视频搜索
func (f *Facebook) SearchVideos(ctx context.Context, query string, maxResults int) ([]*models.Video, error) {
	params := url.Values{
		"type":         {"video"},
		"q":            {query},
		"fields":       {facebookSearchFields},
		"limit":        {strconv.Itoa(clampMax(maxResults, facebookMaxPerPage))},
		"access_token": {f.cfg.APIKey},
	}

	var resp struct {
		Data []facebookVideo `json:"data"`
	}
	if err := f.client.Get(ctx, f.searchURL("/search"), nil, params, &resp); err != nil {
		return nil, f.fail("search", err)
	}

	hits := make([]*models.Video, 0, len(resp.Data))
	for i := range resp.Data {
		hits = append(hits, f.normalize(&resp.Data[i]))
	}

	return f.finish(ctx, hits, maxResults, f.GetVideoInfo)
}

// GetVideoInfo 读取视频节点
func (f *Facebook) GetVideoInfo(ctx context.Context, videoID string) (*models.VideoDetail, error) {
	params := url.Values{
		"fields":       {facebookDetailFields},
		"access_token": {f.cfg.APIKey},
	}

	var resp facebookVideo
	if err := f.client.Get(ctx, f.baseURL+"/"+url.PathEscape(videoID), nil, params, &resp); err != nil {
		if facebookNotFound(err) {
			return &models.VideoDetail{}, nil
		}
		return nil, f.fail("video_info", err)
	}
	if resp.ID == "" {
		return &models.VideoDetail{}, nil
	}

	v := f.normalize(&resp)
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
	}, nil
}

func (f *Facebook) normalize(fv *facebookVideo) *models.Video {
	id := string(fv.ID)
	link := fv.PermalinkURL
	switch {
	case link == "":
		link = "https://www.facebook.com/watch/?v=" + id
	case strings.HasPrefix(link, "/"):
		link = "https://www.facebook.com" + link
	}

	v := &models.Video{
		ID:              id,
		Title:           utils.SanitizeString(fv.Title),
		Description:     fv.Description,
		URL:             link,
		ThumbnailURL:    fv.Picture,
		DownloadURL:     fv.Source,
		DurationSeconds: f.floatDuration(fv.Length, id),
		ViewCount:       int64(fv.Views),
		UploadDate:      parseFacebookTime(fv.CreatedTime),
		Author:          models.Author{ID: string(fv.From.ID), Name: fv.From.Name},
	}
	if v.Title == "" {
		v.Title = utils.SanitizeString(fv.Description)
	}
	if fv.Likes != nil {
		v.LikeCount = int64(fv.Likes.Summary.TotalCount)
	}
	if fv.Comments != nil {
		v.CommentCount = int64(fv.Comments.Summary.TotalCount)
	}
	return v
}

// facebookNotFound 404 或 Graph 错误码 100 视为不存在
func facebookNotFound(err error) bool {
	var reqErr *utils.RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	if reqErr.StatusCode == 404 {
		return true
	}
	var body facebookError
	if json.Unmarshal(reqErr.Body, &body) != nil || body.Error == nil {
		return false
	}
	return body.Error.Code == facebookErrNonexisting
}

func parseFacebookTime(s string) time.Time {
	t, err := time.Parse(facebookTimeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}
		}
	}
	return models.UTCDate(t)
}
