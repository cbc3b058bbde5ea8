package handler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"vasset/crawler/internal/models"
	"vasset/crawler/internal/utils"
)

// mapErrorToHTTPStatus 把内部错误映射为 HTTP 状态码和对外消息
func mapErrorToHTTPStatus(err error) (int, string) {
	var invalid *utils.InvalidRequestError
	var adapterErr *utils.AdapterError

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error()
	case errors.Is(err, utils.ErrInvalidURL):
		return http.StatusBadRequest, "invalid URL"
	case errors.Is(err, utils.ErrUnsupportedPlatform):
		return http.StatusBadRequest, "unsupported platform"
	case errors.Is(err, utils.ErrVideoNotFound):
		return http.StatusNotFound, "video not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timeout"
	case errors.As(err, &adapterErr):
		return http.StatusBadGateway, adapterErr.Platform + " is unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func respondError(c *gin.Context, err error) {
	code, message := mapErrorToHTTPStatus(err)
	_ = c.Error(err)
	models.Error(c, code, message)
}

// resolveOutputDir 输出目录只能是下载根目录下的相对路径
func resolveOutputDir(root, rel string) (string, error) {
	if rel == "" {
		return root, nil
	}
	if !filepath.IsLocal(rel) {
		return "", &utils.InvalidRequestError{Field: "output_dir", Reason: "must be a relative path inside the download root"}
	}
	return filepath.Join(root, rel), nil
}
