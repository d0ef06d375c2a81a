package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/wowcoin/internal/observability/context"
	"github.com/smallbiznis/wowcoin/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-Id"

// Routes polled by machines or held open for minutes only log at debug.
var quietRoutes = map[string]struct{}{
	"/health":            {},
	"/metrics":           {},
	"/api/wallet/stream": {},
}

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	// Debug adds the raw query string to access logs.
	Debug bool
	// ErrorClassifier maps the last handler error to the type and code sent to the client.
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware tags each request with request and correlation IDs, echoes them back
// and writes one access log line when the handler chain returns.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx, cid := correlation.Ensure(correlation.With(ctx, c.GetHeader(correlation.Header)))
		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)
		c.Header(correlation.Header, cid)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if cfg.Debug && c.Request.URL.RawQuery != "" {
			fields = append(fields, zap.String("query", c.Request.URL.RawQuery))
		}
		if feature := c.GetString("feature_key"); feature != "" {
			fields = append(fields, zap.String("feature", feature))
		}

		var errorType string
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			var errorCode string
			errorType, errorCode = cfg.ErrorClassifier(last.Err)
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
				zap.String("error", last.Err.Error()),
			)
		}

		// The request context now carries the user set by the identity middleware.
		log := FromContext(c.Request.Context())
		if ce := log.Check(accessLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func accessLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusPaymentRequired && errorType == "insufficient_balance":
		// Running out of coins is an expected answer.
		return zapcore.DebugLevel
	}
	if _, ok := quietRoutes[route]; ok {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
