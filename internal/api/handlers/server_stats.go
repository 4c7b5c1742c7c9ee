package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "gamestats.io/telemetry/internal/pkg/errors"
)

// GetGlobalStats handles GET /tenants/:tenant/stats/global. The blob is
// returned exactly as the game server published it.
func (s *Server) GetGlobalStats(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	blob, err := s.stats.GlobalStats(c.Request.Context(), tenantID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", blob)
}

// GetReferenceStats handles GET /tenants/:tenant/references/:reference/stats.
func (s *Server) GetReferenceStats(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	ref := referenceParam(c)
	if ref == "" {
		_ = c.Error(apperrors.ErrReferenceNotFound())
		return
	}
	stats, err := s.stats.ReferenceStats(c.Request.Context(), tenantID, ref)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetQualifierVerdict handles GET /tenants/:tenant/accounts/:account/qualifier.
func (s *Server) GetQualifierVerdict(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	verdict, err := s.stats.Verdict(c.Request.Context(), tenantID, accountID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

// GetLeaderboard handles GET /tenants/:tenant/leaderboard.
func (s *Server) GetLeaderboard(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	snap, err := s.stats.Leaderboard(c.Request.Context(), tenantID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetQualifiers handles GET /tenants/:tenant/leaderboard/qualifiers.
func (s *Server) GetQualifiers(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}
	accounts, err := s.stats.Qualifiers(c.Request.Context(), tenantID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": accounts})
}
