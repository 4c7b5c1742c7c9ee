package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	"gamestats.io/telemetry/internal/service"
)

// PostEvent handles POST /tenants/:tenant/events.
//
// 202 means the event is stored and queued for classification. A duplicate
// delivery is answered with 200 so the gateway stops retrying it.
func (s *Server) PostEvent(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var in service.RawEventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidEvent, "malformed event body", http.StatusBadRequest))
		return
	}

	id, err := s.ingestor.Record(c.Request.Context(), tenantID, in)
	if errors.Is(err, service.ErrDuplicateEvent) {
		c.JSON(http.StatusOK, gin.H{"accepted": false, "duplicate": true, "code": apperrors.CodeDuplicateEvent})
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "raw_event_id": id})
}
