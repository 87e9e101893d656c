package ratelimit

import (
	"log/slog"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/easypdf/internal/apperr"
)

// Middleware はクライアントIPとルートをキーに制限します。
// リミッターの障害時は警告を記録してリクエストを通します。
func Middleware(limiter Limiter, name string, rule Rule, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		key := name + ":" + c.ClientIP()
		ok, err := limiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			logger.Warn("rate limiter unavailable", "route", name, "err", err)
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(rule.Window.Seconds()))))
			apperr.Respond(c, apperr.New(apperr.CodeRateLimited, "リクエストが多すぎます。しばらくしてから再度お試しください。", nil))
			return
		}
		c.Next()
	}
}
