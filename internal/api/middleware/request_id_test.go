package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/pkg/logger"
)

func TestRequestContext_GatewayIDs(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantKeep bool
	}{
		{"generated", "", false},
		{"gateway id kept", "gw-123", true},
		{"gateway uuid kept", "0192e4c1-7b8a-7c3e-9f1a-2b3c4d5e6f70", true},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"at length limit", strings.Repeat("a", maxRequestIDLength), true},
		{"whitespace", "gw 123", false},
		{"log injection", "gw-1\"}{\"level\":\"error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := func(c *gin.Context) {
				seen = GetRequestID(c.Request.Context())
				c.Status(http.StatusNoContent)
			}
			var header http.Header
			if tt.header != "" {
				header = http.Header{RequestIDHeader: {tt.header}}
			}

			w := serve(t, handler, header)
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Fatalf("header = %q, context = %q", got, seen)
			}
			if tt.wantKeep {
				if seen != tt.header {
					t.Fatalf("request id = %q, want gateway id %q", seen, tt.header)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("replacement id %q is not a uuid: %v", seen, err)
			}
		})
	}
}

func TestRequestContext_TenantScopedLogger(t *testing.T) {
	router := gin.New()
	router.Use(RequestContext())

	var scoped *zap.Logger
	router.POST("/api/v1/tenants/:tenant/events", func(c *gin.Context) {
		scoped = RequestLogger(c.Request.Context())
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/tenants/7/events", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if scoped == nil || scoped == logger.L() {
		t.Fatal("handler did not get a request-scoped logger")
	}
}

func TestRequestFields(t *testing.T) {
	fields := requestFields("r1", "7")
	if len(fields) != 2 || fields[0].Key != "request_id" || fields[1].Key != logger.FieldTenant || fields[1].Integer != 7 {
		t.Fatalf("requestFields() = %+v", fields)
	}
	// A malformed tenant is still logged verbatim; the handler rejects it.
	if got := requestFields("r1", "acme"); len(got) != 2 || got[1].Key != "tenant" || got[1].String != "acme" {
		t.Fatalf("malformed tenant fields = %+v", got)
	}
	if got := requestFields("r1", ""); len(got) != 1 {
		t.Fatalf("untenanted route fields = %+v, want request_id only", got)
	}
}

func TestRequestLogger_OutsideRequest(t *testing.T) {
	if RequestLogger(context.Background()) != logger.L() {
		t.Fatal("RequestLogger() outside a request should fall back to the global logger")
	}
}
