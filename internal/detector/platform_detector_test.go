package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vasset/crawler/internal/utils"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		url      string
		platform string
		id       string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?list=PL1&v=dQw4w9WgXcQ", "youtube", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?t=10", "youtube", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/shorts/abcdefghijk", "youtube", "abcdefghijk"},
		{"https://www.bilibili.com/video/BV1GJ411x7h7?spm_id_from=333", "bilibili", "BV1GJ411x7h7"},
		{"https://www.tiktok.com/@user/video/7234567890123456789", "tiktok", "7234567890123456789"},
		{"https://m.weibo.cn/detail/4890123456789012", "weibo", "4890123456789012"},
		{"https://weibo.com/1234567/MxYz12AbC", "weibo", "MxYz12AbC"},
		{"https://www.facebook.com/watch/?v=1234567890", "facebook", "1234567890"},
		{"https://www.facebook.com/somepage/videos/987654321/", "facebook", "987654321"},
	}

	d := NewPlatformDetector()
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			m, err := d.Resolve(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, m.Platform)
			assert.Equal(t, tt.id, m.VideoID)
		})
	}
}

func TestDetectErrors(t *testing.T) {
	d := NewPlatformDetector()

	_, err := d.Detect("not a url")
	assert.ErrorIs(t, err, utils.ErrInvalidURL)

	_, err = d.Detect("https://vimeo.com/123")
	assert.ErrorIs(t, err, utils.ErrUnsupportedPlatform)

	platform, err := d.Detect("https://fb.watch/abc/")
	require.NoError(t, err)
	assert.Equal(t, "facebook", platform)

	_, err = d.Resolve("https://fb.watch/abc/")
	assert.ErrorIs(t, err, utils.ErrInvalidURL)
}
