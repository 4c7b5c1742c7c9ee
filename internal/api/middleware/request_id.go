package middleware

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/pkg/logger"
)

type contextKey string

const (
	// RequestIDHeader is the HTTP header for request tracing.
	RequestIDHeader = "X-Request-ID"

	// maxRequestIDLength bounds ids taken over from the ingestion gateway.
	maxRequestIDLength = 64

	ctxKeyRequestID contextKey = "request_id"
	ctxKeyLogger    contextKey = "logger"
)

// RequestContext tags every request with an id and a logger carrying it and
// the tenant path parameter. A well-formed id sent by the ingestion gateway
// is kept, so retries of one delivery share it; anything else is replaced.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.Must(uuid.NewV7()).String()
		}
		c.Writer.Header().Set(RequestIDHeader, rid)

		ctx := context.WithValue(c.Request.Context(), ctxKeyRequestID, rid)
		ctx = context.WithValue(ctx, ctxKeyLogger, logger.With(requestFields(rid, c.Param("tenant"))...))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestFields(rid, tenant string) []zap.Field {
	fields := []zap.Field{zap.String("request_id", rid)}
	if id, err := strconv.ParseInt(tenant, 10, 64); err == nil {
		fields = append(fields, zap.Int64(logger.FieldTenant, id))
	} else if tenant != "" {
		fields = append(fields, zap.String("tenant", tenant))
	}
	return fields
}

// validRequestID accepts short ids of URL-safe characters only; the id is
// echoed into logs and response headers.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch b := id[i]; {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		case b == '-', b == '_', b == '.', b == ':':
		default:
			return false
		}
	}
	return true
}

// GetRequestID extracts the request id from ctx.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// RequestLogger returns the request-scoped logger, or the global one outside
// a request.
func RequestLogger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*zap.Logger); ok {
		return l
	}
	return logger.L()
}
