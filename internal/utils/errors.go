package utils

import (
	"errors"
	"fmt"
)

var (
	// 请求相关错误
	ErrInvalidRequest      = errors.New("invalid search request")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// 视频相关错误
	ErrVideoNotFound = errors.New("video not found")
	ErrNoMediaURL    = errors.New("no direct media URL")
	ErrNotMedia      = errors.New("response is not a media file")

	// 系统相关错误
	ErrNoProxy           = errors.New("no proxy available")
	ErrUnexpectedStatus  = errors.New("unexpected HTTP status")
	ErrMalformedResponse = errors.New("malformed platform response")
)

// InvalidRequestError 搜索请求参数不合法, 在任何网络请求前同步返回
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// Is 使 errors.Is(err, ErrInvalidRequest) 成立
func (e *InvalidRequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// RequestError HTTP 请求或传输层失败
type RequestError struct {
	URL        string
	StatusCode int    // 传输失败时为 0
	Body       []byte // 非 2xx 时的响应体片段
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request %s failed: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// AdapterError 平台调用不可达或返回格式错误
type AdapterError struct {
	Platform string
	Op       string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// DownloadError 重试耗尽后的单个视频下载失败
type DownloadError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// StatusCode 提取 RequestError 中的 HTTP 状态码, 不是 RequestError 时返回 0
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}
