package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/pkg/worker"
)

// memFacts is an in-memory FactStore keyed like the session_facts unique
// constraint. It also answers the rollup queries so classification and
// aggregation can be tested end to end.
type memFacts struct {
	mu     sync.Mutex
	gameMu sync.Mutex
	facts  map[string]domain.SessionFact
	// flags holds the view flags of each source event.
	flags map[string][2]bool
	links map[string]int64

	saved map[int64]domain.AccountRollup
}

func newMemFacts() *memFacts {
	return &memFacts{
		facts: make(map[string]domain.SessionFact),
		flags: make(map[string][2]bool),
		links: make(map[string]int64),
		saved: make(map[int64]domain.AccountRollup),
	}
}

func factKey(f domain.SessionFact) string {
	return fmt.Sprintf("%d|%s|%s|%s", f.TenantID, f.SourceEventID, f.SubjectReference, f.FactType)
}

func (m *memFacts) RecordFact(_ context.Context, f domain.SessionFact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := factKey(f)
	if _, ok := m.facts[k]; ok {
		return false, nil
	}
	m.facts[k] = f
	return true, nil
}

func (m *memFacts) JoinedSubjects(_ context.Context, tenantID int64, gameID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, f := range m.facts {
		if f.TenantID == tenantID && f.FactType == domain.FactPlayerJoined && f.GameID != nil && *f.GameID == gameID && !seen[f.SubjectReference] {
			seen[f.SubjectReference] = true
			out = append(out, f.SubjectReference)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memFacts) FinishMarkers(_ context.Context, tenantID int64, gameID string) ([]domain.SessionFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SessionFact
	for _, f := range m.facts {
		if f.TenantID == tenantID && f.FactType == domain.FactGameFinished && !f.HasSubject() && f.GameID != nil && *f.GameID == gameID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceEventID < out[j].SourceEventID })
	return out, nil
}

func (m *memFacts) WithinGame(_ context.Context, _ int64, _ string, fn func(FactStore) error) error {
	m.gameMu.Lock()
	defer m.gameMu.Unlock()
	return fn(m)
}

// subjectFacts returns the facts of one subject sorted by type.
func (m *memFacts) subjectFacts(subject string) []domain.SessionFact {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SessionFact
	for _, f := range m.facts {
		if f.SubjectReference == subject {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return factKey(out[i]) < factKey(out[j]) })
	return out
}

func (m *memFacts) ResolveReference(_ context.Context, _ int64, reference string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.links[reference]
	return id, ok, nil
}

func (m *memFacts) AccountFacts(_ context.Context, tenantID, accountID int64) ([]domain.FlaggedFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FlaggedFact
	for _, f := range m.facts {
		if f.TenantID != tenantID || m.links[f.SubjectReference] != accountID || !f.HasSubject() {
			continue
		}
		flags := m.flags[f.SourceEventID]
		out = append(out, domain.FlaggedFact{FactType: f.FactType, IsQualifier: flags[0], IsElimination: flags[1]})
	}
	return out, nil
}

func (m *memFacts) SaveCounts(_ context.Context, tenantID, accountID int64, counts domain.ViewCounts) (domain.AccountRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.saved[accountID]
	r.TenantID, r.AccountID, r.Counts, r.UpdatedAt = tenantID, accountID, counts, time.Now()
	m.saved[accountID] = r
	return r, nil
}

func (m *memFacts) GetRollup(_ context.Context, _ int64, accountID int64) (*domain.AccountRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.saved[accountID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

type recordingScheduler struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (s *recordingScheduler) ScheduleAggregation(_ context.Context, _ int64, refs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.refs = append(s.refs, refs...)
	return nil
}

func (s *recordingScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refs...)
}

type memGlobal struct {
	stats map[int64][]byte
}

func (g *memGlobal) PutGlobalStats(_ context.Context, tenantID int64, stats []byte) error {
	if g.stats == nil {
		g.stats = make(map[int64][]byte)
	}
	g.stats[tenantID] = stats
	return nil
}

type nopRollupCache struct{}

func (nopRollupCache) PutRollup(context.Context, int64, int64, domain.ViewCounts, time.Duration) error {
	return nil
}

// syncRunner runs tasks inline.
type syncRunner struct{}

func (syncRunner) Each(ctx context.Context, n int, task func(context.Context, int)) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		task(ctx, i)
	}
	return nil
}

func (syncRunner) SubmitDetached(_ string, task worker.Task) error {
	task(context.Background())
	return nil
}

// rawEvent builds a raw event from a JSON payload.
func rawEvent(tenantID int64, eventID string, at int64, payload string) domain.RawEvent {
	return domain.RawEvent{
		TenantID:   tenantID,
		EventID:    eventID,
		OccurredAt: at,
		Payload:    json.RawMessage(strings.TrimSpace(payload)),
	}
}
