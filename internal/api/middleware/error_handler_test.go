package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	"gamestats.io/telemetry/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func serve(t *testing.T, handler gin.HandlerFunc, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Use(RequestContext(), ErrorHandler())
	router.GET("/x", handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

func TestErrorHandler_NoErrors(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}, nil)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestErrorHandler_AppError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantCode       int
		wantBody       string
		wantRetryAfter string
	}{
		{"not found", apperrors.ErrReferenceNotFound(), http.StatusNotFound, apperrors.CodeReferenceNotFound, ""},
		{"not ready", apperrors.ErrStatsNotReady(), http.StatusServiceUnavailable, apperrors.CodeStatsNotReady, "5"},
		{"bad request", apperrors.BadRequest(apperrors.CodeInvalidEvent, "eventId is required"), http.StatusBadRequest, apperrors.CodeInvalidEvent, ""},
		{"wrapped", fmt.Errorf("read leaderboard: %w", apperrors.ErrLeaderboardNotReady()), http.StatusServiceUnavailable, apperrors.CodeLeaderboardNotReady, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, func(c *gin.Context) { _ = c.Error(tt.err) }, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := decodeBody(t, w)["code"]; got != tt.wantBody {
				t.Errorf("code = %q, want %q", got, tt.wantBody)
			}
			if got := w.Header().Get("Retry-After"); got != tt.wantRetryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetryAfter)
			}
		})
	}
}

func TestErrorHandler_GenericError(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("something unexpected"))
	}, nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := decodeBody(t, w)["code"]; got != apperrors.CodeInternal {
		t.Errorf("code = %q, want %s", got, apperrors.CodeInternal)
	}
}

func TestErrorHandler_ResponseAlreadyWritten(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
		_ = c.Error(fmt.Errorf("late failure"))
	}, nil)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
}
