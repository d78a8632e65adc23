package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/feedback_dashboard/internal/dashboard"
)

const (
	RequestIDHeader     = dashboard.RequestIDHeader
	requestIDContextKey = "request_id"
	maxRequestIDLength  = 128
	healthPath          = "/healthz"
)

// RequestLogger logs one line per request and propagates a request id.
// An inbound X-Request-ID is reused, and the id rides the request context so the
// dashboard's API calls are logged under the same id.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(ginContext.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		ginContext.Set(requestIDContextKey, requestID)
		ginContext.Header(RequestIDHeader, requestID)
		ginContext.Request = ginContext.Request.WithContext(dashboard.ContextWithRequestID(ginContext.Request.Context(), requestID))

		ginContext.Next()

		status := ginContext.Writer.Status()
		if entry := logger.Check(requestLogLevel(ginContext.Request.URL.Path, status), "http"); entry != nil {
			entry.Write(
				zap.String("request_id", requestID),
				zap.String("method", ginContext.Request.Method),
				zap.String("path", ginContext.Request.URL.Path),
				zap.Int("status", status),
				zap.Duration("dur", time.Since(start)),
				zap.String("ip", ginContext.ClientIP()),
				zap.String("ua", ginContext.Request.UserAgent()),
			)
		}
	}
}

func requestLogLevel(path string, status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	case path == healthPath:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// RequestID returns the id assigned by RequestLogger, or an empty string.
func RequestID(ginContext *gin.Context) string {
	return ginContext.GetString(requestIDContextKey)
}
