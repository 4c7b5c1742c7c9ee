package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// maxGlobalStatsBody caps the upstream response read into memory.
const maxGlobalStatsBody = 1 << 20

// EventRecorder ingests one event on behalf of a tenant.
type EventRecorder interface {
	Record(ctx context.Context, tenantID int64, in RawEventInput) (int64, error)
}

// GlobalStatsSync polls an upstream endpoint and ingests its body as a
// "global" event, so it flows through the same classification path as
// pushed events.
type GlobalStatsSync struct {
	recorder EventRecorder
	client   *http.Client
	url      string
	now      func() time.Time
}

// NewGlobalStatsSync creates a GlobalStatsSync. A nil client uses one with
// the given timeout.
func NewGlobalStatsSync(recorder EventRecorder, client *http.Client, url string, timeout time.Duration) *GlobalStatsSync {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &GlobalStatsSync{recorder: recorder, client: client, url: url, now: time.Now}
}

type globalEventData struct {
	Type  string          `json:"type"`
	Stats json.RawMessage `json:"stats"`
}

// Sync fetches the upstream stats once and records them for tenantID.
func (s *GlobalStatsSync) Sync(ctx context.Context, tenantID int64) (int64, error) {
	if s.url == "" {
		return 0, fmt.Errorf("global stats url is not configured")
	}
	stats, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(globalEventData{Type: domain.EventTypeGlobal, Stats: stats})
	if err != nil {
		return 0, fmt.Errorf("encode global event: %w", err)
	}
	id, err := s.recorder.Record(ctx, tenantID, RawEventInput{
		EventID:   uuid.Must(uuid.NewV7()).String(),
		Timestamp: s.now().Unix(),
		Data:      data,
	})
	if err != nil {
		return 0, fmt.Errorf("record global stats: %w", err)
	}
	logger.ForRawEvent(tenantID, id).Debug("global stats ingested")
	return id, nil
}

func (s *GlobalStatsSync) fetch(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build global stats request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch global stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch global stats: upstream returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGlobalStatsBody+1))
	if err != nil {
		return nil, fmt.Errorf("read global stats: %w", err)
	}
	if len(body) > maxGlobalStatsBody {
		return nil, fmt.Errorf("global stats response exceeds %d KiB", maxGlobalStatsBody>>10)
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) || string(body) == "null" {
		return nil, fmt.Errorf("global stats response is not a JSON document")
	}
	return json.RawMessage(body), nil
}
