package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"gamestats.io/telemetry/internal/cache"
	"gamestats.io/telemetry/internal/domain"
	apperrors "gamestats.io/telemetry/internal/pkg/errors"
	"gamestats.io/telemetry/internal/repository"
	"gamestats.io/telemetry/internal/service"
	"gamestats.io/telemetry/internal/testutil"
)

const tenant int64 = 1

type nopScheduler struct{}

func (nopScheduler) ScheduleAggregation(context.Context, int64, []string) error { return nil }

type stores struct {
	pool    *pgxpool.Pool
	facts   *repository.Facts
	events  *repository.RawEvents
	rollups *repository.Rollups
	cache   *cache.Store
}

func openStores(t *testing.T, prefix string) stores {
	t.Helper()
	pool := testutil.OpenPGXPool(t, prefix)
	c, err := cache.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return stores{
		pool:    pool,
		facts:   repository.NewFacts(pool),
		events:  repository.NewRawEvents(pool),
		rollups: repository.NewRollups(pool),
		cache:   c,
	}
}

// ingest stores the event and classifies it in place of the queue.
func (s stores) ingest(t *testing.T, eventID string, at int64, payload string) {
	t.Helper()
	ctx := context.Background()
	id, err := s.events.CreateRawEvent(ctx, domain.RawEvent{
		TenantID:   tenant,
		EventID:    eventID,
		OccurredAt: at,
		Payload:    json.RawMessage(payload),
	}, nil)
	require.NoError(t, err)

	ev, err := s.events.Get(ctx, id)
	require.NoError(t, err)
	out, err := service.NewClassifier(s.facts, s.cache, nopScheduler{}).Classify(ctx, ev)
	require.NoError(t, err)
	require.False(t, out.Skipped(), out.SkipReason)
}

// factTypes lists the fact types recorded for one subject.
func (s stores) factTypes(t *testing.T, subject string) []domain.FactType {
	t.Helper()
	rows, err := s.pool.Query(context.Background(),
		`SELECT fact_type FROM session_facts WHERE tenant_id = $1 AND subject_reference = $2 ORDER BY occurred_at, id`,
		tenant, subject)
	require.NoError(t, err)
	types, err := pgx.CollectRows(rows, pgx.RowTo[domain.FactType])
	require.NoError(t, err)
	return types
}

func TestRecordFact_RejectsUnknownType(t *testing.T) {
	s := openStores(t, "repo_fact_type")
	inserted, err := s.facts.RecordFact(context.Background(), domain.SessionFact{
		TenantID:         tenant,
		SubjectReference: "A",
		SourceEventID:    "e1",
		FactType:         domain.FactType("RESPAWN"),
	})
	require.ErrorContains(t, err, "unknown fact type")
	require.False(t, inserted)
	require.Empty(t, s.factTypes(t, "A"))
}

func TestRawEvents_CreateDuplicateAndRollback(t *testing.T) {
	s := openStores(t, "repo_raw_events")
	ctx := context.Background()
	ev := domain.RawEvent{TenantID: tenant, EventID: "e1", OccurredAt: 5, Payload: json.RawMessage(`{"type":"new_game","game_id":"g1"}`)}

	var afterIDs []int64
	id, err := s.events.CreateRawEvent(ctx, ev, func(_ context.Context, tx pgx.Tx, rawEventID int64) error {
		require.NotNil(t, tx)
		afterIDs = append(afterIDs, rawEventID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int64{id}, afterIDs)

	_, err = s.events.CreateRawEvent(ctx, ev, func(context.Context, pgx.Tx, int64) error {
		t.Fatal("afterInsert must not run for a duplicate")
		return nil
	})
	require.ErrorIs(t, err, service.ErrDuplicateEvent)

	failing := ev
	failing.EventID = "e2"
	_, err = s.events.CreateRawEvent(ctx, failing, func(context.Context, pgx.Tx, int64) error {
		return errors.New("enqueue failed")
	})
	require.ErrorContains(t, err, "enqueue failed")

	ids, err := s.events.ListIDs(ctx, tenant, 0, false, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids)

	_, err = s.events.Get(ctx, id+1000)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRawEvents_LastError(t *testing.T) {
	s := openStores(t, "repo_last_error")
	ctx := context.Background()
	id, err := s.events.CreateRawEvent(ctx, domain.RawEvent{TenantID: tenant, EventID: "e1", Payload: json.RawMessage(`{}`)}, nil)
	require.NoError(t, err)

	require.NoError(t, s.events.SetLastError(ctx, id, "malformed event: missing type"))
	ev, err := s.events.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "malformed event: missing type", *ev.LastError)

	errored, err := s.events.ListIDs(ctx, tenant, 0, true, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{id}, errored)

	require.NoError(t, s.events.ClearLastError(ctx, id))
	ev, err = s.events.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, ev.LastError)
}

func TestFacts_ClassifyAndAggregate(t *testing.T) {
	s := openStores(t, "repo_classify")
	ctx := context.Background()
	accountA := testutil.SeedAccount(t, s.pool, tenant, "ada", "US", "A")

	s.ingest(t, "j1", 90, `{"type":"player_joined","game_id":"g1","key":"A"}`)
	s.ingest(t, "k1", 100, `{"type":"kill","game_id":"g1","killer":"A","victim":"B","is_qualifier":true}`)
	s.ingest(t, "f1", 200, `{"type":"game_finished","game_id":"g1"}`)
	// B joins after the finish and is compensated.
	s.ingest(t, "j2", 95, `{"type":"player_joined","game_id":"g1","key":"B"}`)

	require.ElementsMatch(t,
		[]domain.FactType{domain.FactDeath, domain.FactPlayerJoined, domain.FactGameFinished},
		s.factTypes(t, "B"))

	agg := service.NewAggregator(s.rollups, s.cache, time.Hour)
	rollup, err := agg.Aggregate(ctx, tenant, "A")
	require.NoError(t, err)
	require.Equal(t, accountA, rollup.AccountID)
	require.Equal(t, 1, rollup.Counts.Overview.Kill)
	require.Equal(t, 1, rollup.Counts.Overview.PlayerJoined)
	require.Equal(t, 1, rollup.Counts.Overview.GameFinished)
	require.Equal(t, 1, rollup.Counts.Qualifier.Kill)

	unlinked, err := agg.Aggregate(ctx, tenant, "B")
	require.NoError(t, err)
	require.Nil(t, unlinked)

	cached, ok, err := s.cache.GetRollup(ctx, tenant, accountA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rollup.Counts, cached)
}

func TestRawEvents_FlagQualifierGameStarts(t *testing.T) {
	s := openStores(t, "repo_backfill")
	ctx := context.Background()
	testutil.SeedAccount(t, s.pool, tenant, "ada", "US", "A")

	s.ingest(t, "n1", 10, `{"type":"new_game","game_id":"g1","is_qualifier":true}`)
	s.ingest(t, "s1", 20, `{"type":"game_started","game_id":"g1","keys":["A","B"]}`)
	// Not a qualifier game.
	s.ingest(t, "n2", 30, `{"type":"new_game","game_id":"g2"}`)
	s.ingest(t, "s2", 40, `{"type":"game_started","game_id":"g2","keys":["A"]}`)
	// Already flagged.
	s.ingest(t, "n3", 50, `{"type":"new_game","game_id":"g3","is_qualifier":true}`)
	s.ingest(t, "s3", 60, `{"type":"game_started","game_id":"g3","keys":["C"],"is_qualifier":true}`)

	agg := service.NewAggregator(s.rollups, s.cache, time.Hour)
	before, err := agg.Aggregate(ctx, tenant, "A")
	require.NoError(t, err)
	require.Equal(t, 2, before.Counts.Overview.GameStarted)
	require.Equal(t, 0, before.Counts.Qualifier.GameStarted)

	// A failing enqueue rolls the flag back.
	_, err = s.events.FlagQualifierGameStarts(ctx, tenant, func(context.Context, pgx.Tx, []domain.GameStartedPayload) error {
		return errors.New("enqueue failed")
	})
	require.ErrorContains(t, err, "enqueue failed")

	var got []domain.GameStartedPayload
	n, err := s.events.FlagQualifierGameStarts(ctx, tenant, func(_ context.Context, tx pgx.Tx, fixed []domain.GameStartedPayload) error {
		require.NotNil(t, tx)
		got = fixed
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []domain.GameStartedPayload{{GameID: "g1", Keys: []string{"A", "B"}}}, got)

	after, err := agg.Aggregate(ctx, tenant, "A")
	require.NoError(t, err)
	require.Equal(t, 1, after.Counts.Qualifier.GameStarted)

	n, err = s.events.FlagQualifierGameStarts(ctx, tenant, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFacts_ConcurrentFinishAndJoin(t *testing.T) {
	s := openStores(t, "repo_game_lock")
	ctx := context.Background()

	for _, ev := range []struct{ id, payload string }{
		{"f1", `{"type":"game_finished","game_id":"g1"}`},
		{"j1", `{"type":"player_joined","game_id":"g1","key":"X"}`},
		{"j2", `{"type":"player_joined","game_id":"g1","key":"Y"}`},
	} {
		_, err := s.events.CreateRawEvent(ctx, domain.RawEvent{TenantID: tenant, EventID: ev.id, OccurredAt: 1, Payload: json.RawMessage(ev.payload)}, nil)
		require.NoError(t, err)
	}
	ids, err := s.events.ListIDs(ctx, tenant, 0, false, 10)
	require.NoError(t, err)

	c := service.NewClassifier(s.facts, s.cache, nopScheduler{})
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ev, err := s.events.Get(ctx, id)
			if err == nil {
				_, err = c.Classify(ctx, ev)
			}
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Whatever the interleaving, both joiners end up finished exactly once.
	for _, ref := range []string{"X", "Y"} {
		finished := 0
		for _, ft := range s.factTypes(t, ref) {
			if ft == domain.FactGameFinished {
				finished++
			}
		}
		require.Equal(t, 1, finished, ref)
	}
}

func TestRollups_QualifierAndLeaderboard(t *testing.T) {
	s := openStores(t, "repo_qualifier")
	ctx := context.Background()
	pool := s.pool
	ada := testutil.SeedAccount(t, pool, tenant, "ada", "de", "A")
	bob := testutil.SeedAccount(t, pool, tenant, "bob", "JP", "B")

	start := time.Date(2024, 12, 3, 0, 0, 0, 0, time.UTC)
	at := start.Unix() + 60
	s.ingest(t, "j1", at, `{"type":"player_joined","game_id":"g1","key":"A"}`)
	s.ingest(t, "j2", at, `{"type":"player_joined","game_id":"g1","key":"B"}`)
	s.ingest(t, "k1", at+300, `{"type":"kill","game_id":"g1","killer":"A","victim":"B","is_qualifier":true}`)
	s.ingest(t, "k2", at+900, `{"type":"kill","game_id":"g1","killer":"B","victim":"A","is_qualifier":true}`)

	agg := service.NewAggregator(s.rollups, s.cache, time.Hour)
	for _, ref := range []string{"A", "B"} {
		_, err := agg.Aggregate(ctx, tenant, ref)
		require.NoError(t, err)
	}

	rules := service.QualifierRules{
		WindowStart:    start,
		WindowEnd:      start.Add(40 * time.Hour),
		MinKills:       1,
		MinPlayMinutes: 15,
		Regions:        []string{"North America", "Europe"},
		KillView:       domain.ViewQualifier,
	}
	summary, err := service.NewQualifierEvaluator(s.rollups, syncRunner{}, rules).EvaluateAll(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, service.EvaluationSummary{Candidates: 2, Qualified: 1}, summary)

	adaRollup, err := s.rollups.GetRollup(ctx, tenant, ada)
	require.NoError(t, err)
	require.True(t, adaRollup.Qualifier.IsQualified)
	bobRollup, err := s.rollups.GetRollup(ctx, tenant, bob)
	require.NoError(t, err)
	require.False(t, bobRollup.Qualifier.IsQualified)
	require.Equal(t, "Asia", bobRollup.Qualifier.Requirements[3].Actual)

	qualified, err := s.rollups.QualifiedAccounts(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, []domain.QualifiedAccount{{
		AccountID: ada,
		Name:      "ada",
		Avatar:    "https://avatars.example/ada.png",
		Qualifier: *adaRollup.Qualifier,
	}}, qualified)
	require.Len(t, qualified[0].Qualifier.Requirements, len(adaRollup.Qualifier.Requirements))

	// Re-aggregation keeps the verdict.
	_, err = agg.Aggregate(ctx, tenant, "A")
	require.NoError(t, err)
	adaRollup, err = s.rollups.GetRollup(ctx, tenant, ada)
	require.NoError(t, err)
	require.NotNil(t, adaRollup.Qualifier)

	// Raising the bar clears verdicts of accounts that stop being candidates.
	rules.MinKills = 2
	summary, err = service.NewQualifierEvaluator(s.rollups, syncRunner{}, rules).EvaluateAll(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Cleared)

	snap, err := service.NewLeaderboardBuilder(s.rollups, s.cache, 10, time.Minute).Build(ctx, tenant)
	require.NoError(t, err)
	kills := snap.Views[domain.ViewOverview][domain.DimensionKills]
	require.Len(t, kills, 2)
	require.Equal(t, ada, kills[0].AccountID)
	require.Equal(t, "ada", kills[0].Name)
}
