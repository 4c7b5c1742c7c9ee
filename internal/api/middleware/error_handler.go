// Package middleware provides the HTTP middleware of the stats API.
package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "gamestats.io/telemetry/internal/pkg/errors"
)

// ErrorHandler renders errors added via c.Error() as {code, message}.
// Handlers never write error bodies themselves.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		log := RequestLogger(c.Request.Context())

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			if appErr.NotReady() {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(appErr.RetryAfter.Seconds()))))
			}
			// "Not computed yet" is a normal answer; keep it quiet.
			if appErr.HTTPStatus >= http.StatusInternalServerError && !appErr.NotReady() {
				log.Error("request failed",
					zap.String("code", appErr.Code),
					zap.Int("status", appErr.HTTPStatus),
					zap.Error(appErr.Err),
				)
			} else {
				log.Debug("request rejected",
					zap.String("code", appErr.Code),
					zap.Int("status", appErr.HTTPStatus),
				)
			}
			c.JSON(appErr.HTTPStatus, gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			})
			return
		}

		log.Error("unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperrors.CodeInternal,
			"message": "An internal error occurred",
		})
	}
}
