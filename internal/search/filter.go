package search

import "vasset/crawler/internal/models"

// FilterVideos 按条件过滤, 不修改输入并保持相对顺序
func FilterVideos(videos []*models.Video, f models.Filter) []*models.Video {
	result := make([]*models.Video, 0, len(videos))
	for _, v := range videos {
		if v != nil && f.Match(v) {
			result = append(result, v)
		}
	}
	return result
}
