package scorer

import (
	"strings"

	"vasset/crawler/internal/models"
)

// 各部分权重
const (
	TitleWeight       = 0.4
	DescriptionWeight = 0.2
	TagWeight         = 0.2
	InteractionWeight = 0.2
)

// 互动指标归一化上限
const (
	viewsCap    = 1e6
	likesCap    = 1e5
	commentsCap = 1e4
)

// Score 计算视频与查询的相关度, 结果在 [0,1] 内, 相同输入总是得到相同结果
func Score(v *models.Video, query string) float64 {
	q := strings.ToLower(query)

	var score float64
	if strings.Contains(strings.ToLower(v.Title), q) {
		score += TitleWeight
	}
	if strings.Contains(strings.ToLower(v.Description), q) {
		score += DescriptionWeight
	}
	for _, tag := range v.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			score += TagWeight
			break
		}
	}
	score += InteractionWeight * Interaction(v)

	return clamp(score)
}

// Interaction 互动子分数
func Interaction(v *models.Video) float64 {
	return 0.5*normalize(v.ViewCount, viewsCap) +
		0.3*normalize(v.LikeCount, likesCap) +
		0.2*normalize(v.CommentCount, commentsCap)
}

// Blend 合并规则分数与内容分析分数(取平均)
func Blend(base, analysis float64) float64 {
	return clamp((clamp(base) + clamp(analysis)) / 2)
}

func normalize(x int64, max float64) float64 {
	if x <= 0 {
		return 0
	}
	return min(float64(x)/max, 1)
}

func clamp(x float64) float64 {
	if x != x || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
