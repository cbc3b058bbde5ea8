package detector

import (
	"regexp"
	"strings"

	"vasset/crawler/internal/utils"
)

// Match 检测结果
type Match struct {
	Platform string
	VideoID  string
}

type rule struct {
	platform string
	host     *regexp.Regexp
	ids      []*regexp.Regexp
}

// PlatformDetector 平台检测器
type PlatformDetector struct {
	rules []rule
}

// NewPlatformDetector 创建平台检测器
func NewPlatformDetector() *PlatformDetector {
	return &PlatformDetector{
		rules: []rule{
			{
				platform: "youtube",
				host:     regexp.MustCompile(`^https?://([a-z0-9-]+\.)?(youtube\.com|youtu\.be)/`),
				ids: []*regexp.Regexp{
					regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})`),
					regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})`),
					regexp.MustCompile(`/(?:shorts|embed|live)/([A-Za-z0-9_-]{11})`),
				},
			},
			{
				platform: "bilibili",
				host:     regexp.MustCompile(`^https?://([a-z0-9-]+\.)?bilibili\.com/`),
				ids: []*regexp.Regexp{
					regexp.MustCompile(`/video/(BV[0-9A-Za-z]{10})`),
				},
			},
			{
				platform: "tiktok",
				host:     regexp.MustCompile(`^https?://([a-z0-9-]+\.)?tiktok\.com/`),
				ids: []*regexp.Regexp{
					regexp.MustCompile(`/video/(\d+)`),
				},
			},
			{
				platform: "weibo",
				host:     regexp.MustCompile(`^https?://([a-z0-9-]+\.)?(weibo\.com|weibo\.cn)/`),
				ids: []*regexp.Regexp{
					regexp.MustCompile(`/(?:detail|status)/([0-9A-Za-z]+)`),
					regexp.MustCompile(`weibo\.com/\d+/([0-9A-Za-z]+)`),
				},
			},
			{
				platform: "facebook",
				host:     regexp.MustCompile(`^https?://([a-z0-9-]+\.)?(facebook\.com|fb\.watch)/`),
				ids: []*regexp.Regexp{
					regexp.MustCompile(`/watch/?\?(?:.*&)?v=(\d+)`),
					regexp.MustCompile(`/videos/(?:[^/]+/)?(\d+)`),
					regexp.MustCompile(`/reel/(\d+)`),
				},
			},
		},
	}
}

// Detect 检测URL所属平台
func (d *PlatformDetector) Detect(url string) (string, error) {
	m, err := d.match(url)
	if err != nil {
		return "", err
	}
	return m.Platform, nil
}

// Resolve 检测平台并提取视频ID, 短链等无法提取ID时返回 ErrInvalidURL
func (d *PlatformDetector) Resolve(url string) (*Match, error) {
	m, err := d.match(url)
	if err != nil {
		return nil, err
	}
	if m.VideoID == "" {
		return nil, utils.ErrInvalidURL
	}
	return m, nil
}

func (d *PlatformDetector) match(url string) (*Match, error) {
	// 先验证URL格式
	url = strings.TrimSpace(url)
	if !utils.IsValidURL(url) {
		return nil, utils.ErrInvalidURL
	}
	lower := strings.ToLower(url)

	for _, r := range d.rules {
		if !r.host.MatchString(lower) {
			continue
		}
		m := &Match{Platform: r.platform}
		for _, re := range r.ids {
			if sub := re.FindStringSubmatch(url); len(sub) > 1 {
				m.VideoID = sub[1]
				break
			}
		}
		return m, nil
	}

	return nil, utils.ErrUnsupportedPlatform
}
