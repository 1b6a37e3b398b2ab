package transport

import (
	"context"
	"errors"
	"net/http"

	"progen-studio/internal/export"
	"progen-studio/internal/gallery"
	"progen-studio/internal/imagegen"
	"progen-studio/internal/oss"
	"progen-studio/internal/settings"
	"progen-studio/internal/studio"

	"github.com/gin-gonic/gin"
)

// statusFor 把领域错误映射为 HTTP 状态码，无法识别时返回 fallback
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, settings.ErrInvalidSettings),
		errors.Is(err, studio.ErrInvalidKey),
		errors.Is(err, export.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, studio.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, studio.ErrNoAPIKey), errors.Is(err, imagegen.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, oss.ErrDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return fallback
	}
}

func writeError(c *gin.Context, err error, fallback int) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err, fallback), gin.H{"error": err.Error()})
}
