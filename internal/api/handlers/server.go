// Package handlers implements the ingestion hook and the read API.
//
// Handlers report failures through c.Error; the ErrorHandler middleware
// renders them.
package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gamestats.io/telemetry/internal/domain"
	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	"gamestats.io/telemetry/internal/service"
)

// EventRecorder ingests raw events.
type EventRecorder interface {
	Record(ctx context.Context, tenantID int64, in service.RawEventInput) (int64, error)
}

// StatsQuerier serves the derived read models.
type StatsQuerier interface {
	GlobalStats(ctx context.Context, tenantID int64) ([]byte, error)
	ReferenceStats(ctx context.Context, tenantID int64, reference string) (*service.AccountStats, error)
	Verdict(ctx context.Context, tenantID, accountID int64) (*domain.QualifierVerdict, error)
	Leaderboard(ctx context.Context, tenantID int64) (*domain.LeaderboardSnapshot, error)
	Qualifiers(ctx context.Context, tenantID int64) ([]domain.QualifiedAccount, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats reports worker pool occupancy.
type PoolStats interface {
	Metrics() map[string]interface{}
}

// Server holds the handler dependencies.
type Server struct {
	ingestor EventRecorder
	stats    StatsQuerier
	db       Pinger
	pools    PoolStats
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Ingestor EventRecorder
	Stats    StatsQuerier
	DB       Pinger
	Pools    PoolStats
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		ingestor: deps.Ingestor,
		stats:    deps.Stats,
		db:       deps.DB,
		pools:    deps.Pools,
	}
}

// RegisterRoutes mounts every endpoint under rg (normally /api/v1).
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health/live", s.GetLiveness)
	rg.GET("/health/ready", s.GetReadiness)

	tenant := rg.Group("/tenants/:tenant")
	tenant.POST("/events", s.PostEvent)
	tenant.GET("/stats/global", s.GetGlobalStats)
	tenant.GET("/references/:reference/stats", s.GetReferenceStats)
	tenant.GET("/accounts/:account/qualifier", s.GetQualifierVerdict)
	tenant.GET("/leaderboard", s.GetLeaderboard)
	tenant.GET("/leaderboard/qualifiers", s.GetQualifiers)
}

func tenantParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("tenant"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidTenant, "tenant must be a positive integer"))
		return 0, false
	}
	return id, true
}

func accountParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("account"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidAccount, "account must be a positive integer"))
		return 0, false
	}
	return id, true
}

func referenceParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("reference"))
}
