package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggerMiddleware logs one line per request.
func LoggerMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)

		fields := logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    maskedPath(c),
			"latency": latency,
			"ip":      c.ClientIP(),
		}
		if identity, ok := GetIdentity(c); ok {
			fields["user_id"] = identity.UserID
		}

		entry := logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request processed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request processed")
		default:
			entry.Info("request processed")
		}
	}
}

// maskedPath uses the matched route pattern when a route has a :token
// parameter so bearer tokens stay out of the log.
func maskedPath(c *gin.Context) string {
	if c.Param("token") != "" && c.FullPath() != "" {
		return c.FullPath()
	}
	return c.Request.URL.Path
}

func RecoveryMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithFields(logrus.Fields{
					"error": err,
					"path":  maskedPath(c),
				}).Error("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
