package scorer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"vasset/crawler/internal/models"
)

func TestScoreWeights(t *testing.T) {
	tests := []struct {
		name  string
		video models.Video
		want  float64
	}{
		{"no match", models.Video{Title: "cats"}, 0},
		{"title only", models.Video{Title: "Python Tutorial for beginners"}, 0.4},
		{"description only", models.Video{Description: "a python tutorial"}, 0.2},
		{"tag only", models.Video{Tags: []string{"misc", "Python Tutorial"}}, 0.2},
		{"two matching tags count once", models.Video{Tags: []string{"python tutorial", "python tutorial 2"}}, 0.2},
		{"all text", models.Video{Title: "python tutorial", Description: "python tutorial", Tags: []string{"python tutorial"}}, 0.8},
		{"views capped", models.Video{ViewCount: 5_000_000}, 0.2 * 0.5},
		{"half likes", models.Video{LikeCount: 50_000}, 0.2 * 0.3 * 0.5},
		{"everything", models.Video{
			Title: "python tutorial", Description: "python tutorial", Tags: []string{"python tutorial"},
			ViewCount: 2e6, LikeCount: 2e5, CommentCount: 2e4,
		}, 1},
		{"negative counts", models.Video{ViewCount: -10, LikeCount: -1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(&tt.video, "python tutorial"), 1e-9)
		})
	}
}

func TestScoreIsPureAndBounded(t *testing.T) {
	v := &models.Video{
		Title:        "Learn Go",
		Description:  "go concurrency",
		Tags:         []string{"golang"},
		ViewCount:    123456,
		LikeCount:    999,
		CommentCount: 12,
	}
	first := Score(v, "go")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(v, "go"))
	}
	assert.GreaterOrEqual(t, first, 0.0)
	assert.LessOrEqual(t, first, 1.0)
	assert.Nil(t, v.RelevanceScore)
}

func TestBlend(t *testing.T) {
	assert.InDelta(t, 0.5, Blend(0.2, 0.8), 1e-9)
	assert.Equal(t, 1.0, Blend(1, 3))
	assert.Equal(t, 0.0, Blend(-1, math.NaN()))
}
