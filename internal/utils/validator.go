package utils

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IsValidURL 验证URL格式是否有效
func IsValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	// 必须是http或https协议
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	// 必须有host
	if u.Host == "" {
		return false
	}

	return true
}

// NormalizeURL 标准化URL(去除追踪参数等)
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	// 移除常见的追踪参数
	q := u.Query()
	trackingParams := []string{"utm_source", "utm_medium", "utm_campaign", "fbclid", "gclid", "spm_id_from", "vd_source"}
	for _, param := range trackingParams {
		q.Del(param)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// AbsoluteURL 补全协议相对地址(//host/path)
func AbsoluteURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// SanitizeString 清理字符串中的特殊字符
func SanitizeString(s string) string {
	// 去除首尾空白
	s = strings.TrimSpace(s)

	// 替换多个空白为单个空格
	s = strings.Join(strings.Fields(s), " ")

	return s
}

// StripHTML 去掉平台返回文本中的 HTML 标记(如 <em class="keyword">)
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return SanitizeString(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return SanitizeString(s)
	}
	return SanitizeString(doc.Text())
}

// ParseCount 解析计数文本, 支持 "1,234"、"1.2万"、"3亿"、"12万次播放" 等写法
func ParseCount(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}

	multiplier := 1.0
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	rest := s[end:]
	switch {
	case strings.HasPrefix(rest, "万"):
		multiplier = 1e4
	case strings.HasPrefix(rest, "亿"):
		multiplier = 1e8
	case strings.HasPrefix(rest, "K"), strings.HasPrefix(rest, "k"):
		multiplier = 1e3
	case strings.HasPrefix(rest, "M"), strings.HasPrefix(rest, "m"):
		multiplier = 1e6
	}

	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || n < 0 {
		return 0
	}
	return int64(math.Round(n * multiplier))
}

// NonNegative 负数归零
func NonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// IsValidProxyURL 校验代理地址, 支持 http/https/socks5 协议
func IsValidProxyURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.Port() == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "socks5":
		return true
	}
	return false
}

// MaskProxy 隐藏代理地址中的认证信息, 用于日志输出
func MaskProxy(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("***")
	return u.String()
}
