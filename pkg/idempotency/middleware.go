package idempotency

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderIdempotencyKey is the HTTP header for idempotency key
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Middleware moves the Idempotency-Key header of state-changing requests into
// the request context, where the ledger stores it on the committed log entry.
// Replays are resolved by the ledger itself, so nothing is cached here.
func Middleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to state-changing methods
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodDelete &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		idempotencyKey := c.GetHeader(HeaderIdempotencyKey)
		if idempotencyKey == "" {
			// Idempotency is optional; if not provided, proceed normally
			c.Next()
			return
		}

		if err := ValidateKey(idempotencyKey); err != nil {
			logger.Debug("Rejected idempotency key",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{
				"code":       "INVALID_IDEMPOTENCY_KEY",
				"message":    err.Error(),
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithKey(c.Request.Context(), idempotencyKey))
		c.Next()
	}
}
