package storage

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"vasset/crawler/internal/models"
)

// DefaultExt 无法从链接推断时使用的扩展名
const DefaultExt = "mp4"

var (
	illegalChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	edgeDotsSpace = regexp.MustCompile(`^[\s.]+|[\s.]+$`)
	knownExts     = map[string]bool{"mp4": true, "flv": true, "webm": true, "mkv": true, "mov": true, "m4v": true, "ts": true}
)

// PathGenerator 路径生成器
type PathGenerator struct {
	basePath string
}

// NewPathGenerator 创建路径生成器
func NewPathGenerator(basePath string) *PathGenerator {
	return &PathGenerator{basePath: basePath}
}

// BasePath 默认输出目录
func (g *PathGenerator) BasePath() string {
	return g.basePath
}

// GeneratePath 生成文件存储路径: {outputDir}/{platform}/{title}_{id}.{ext}
//
// outputDir 为空时使用默认目录, 目录不存在时创建。
func (g *PathGenerator) GeneratePath(outputDir string, video *models.Video) (string, error) {
	if outputDir == "" {
		outputDir = g.basePath
	}

	safeID := sanitizeFilename(video.ID)
	if safeID == "" {
		return "", fmt.Errorf("video %q has no usable id", video.Key())
	}
	name := safeID
	if safeTitle := sanitizeFilename(video.Title); safeTitle != "" {
		name = safeTitle + "_" + safeID
	}

	platform := sanitizeFilename(video.Platform)
	if platform == "" {
		platform = "unknown"
	}

	filePath := filepath.Join(outputDir, platform, fmt.Sprintf("%s.%s", name, extFromURL(sourceURL(video))))

	// 确保目录存在
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	return filePath, nil
}

// GetFileName 从路径获取文件名
func (g *PathGenerator) GetFileName(filePath string) string {
	return filepath.Base(filePath)
}

func sourceURL(v *models.Video) string {
	if v.DownloadURL != "" {
		return v.DownloadURL
	}
	return v.URL
}

// extFromURL 从链接路径推断视频扩展名
func extFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return DefaultExt
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if knownExts[ext] {
		return ext
	}
	return DefaultExt
}

// sanitizeFilename 清理文件名,移除非法字符
func sanitizeFilename(name string) string {
	if name == "" {
		return ""
	}

	// 移除非法字符
	clean := illegalChars.ReplaceAllString(name, "_")

	// 移除首尾空格和点
	clean = edgeDotsSpace.ReplaceAllString(clean, "")

	// 限制长度, 不截断多字节字符
	const maxLen = 120
	if len(clean) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut]
	}

	return clean
}
