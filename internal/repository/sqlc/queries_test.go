package sqlc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"gamestats.io/telemetry/internal/repository/sqlc"
	"gamestats.io/telemetry/internal/testutil"
)

const tenant int64 = 1

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

func insertEvent(t *testing.T, q *sqlc.Queries, eventID, payload string) int64 {
	t.Helper()
	id, err := q.InsertRawEvent(context.Background(), sqlc.InsertRawEventParams{
		TenantID:   tenant,
		EventID:    eventID,
		OccurredAt: 100,
		Payload:    []byte(payload),
	})
	require.NoError(t, err)
	return id
}

func insertFact(t *testing.T, q *sqlc.Queries, eventID, subject, factType, gameID string, at int64) int64 {
	t.Helper()
	n, err := q.InsertSessionFact(context.Background(), sqlc.InsertSessionFactParams{
		TenantID:         tenant,
		SubjectReference: subject,
		SourceEventID:    eventID,
		FactType:         factType,
		OccurredAt:       at,
		GameID:           text(gameID),
	})
	require.NoError(t, err)
	return n
}

func TestQueries_InsertRawEventDuplicate(t *testing.T) {
	ctx := context.Background()
	q := sqlc.New(testutil.OpenPGXPool(t, "raw_event_duplicate"))

	id := insertEvent(t, q, "evt-1", `{"type":"new_game","game_id":"g1"}`)
	require.Positive(t, id)

	_, err := q.InsertRawEvent(ctx, sqlc.InsertRawEventParams{
		TenantID: tenant, EventID: "evt-1", OccurredAt: 200, Payload: []byte(`{}`),
	})
	require.True(t, errors.Is(err, pgx.ErrNoRows))

	// Same event id under another tenant is a different event.
	_, err = q.InsertRawEvent(ctx, sqlc.InsertRawEventParams{
		TenantID: tenant + 1, EventID: "evt-1", OccurredAt: 200, Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	ev, err := q.GetRawEvent(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 100, ev.OccurredAt)
	require.False(t, ev.LastError.Valid)

	require.NoError(t, q.SetRawEventLastError(ctx, id, "unknown type: respawn"))
	ids, err := q.ListRawEventIDs(ctx, sqlc.ListRawEventIDsParams{TenantID: tenant, OnlyErrored: true, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids)

	require.NoError(t, q.ClearRawEventLastError(ctx, id))
	ids, err = q.ListRawEventIDs(ctx, sqlc.ListRawEventIDsParams{TenantID: tenant, OnlyErrored: true, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestQueries_InsertSessionFactIsIdempotent(t *testing.T) {
	pool := testutil.OpenPGXPool(t, "fact_idempotent")
	q := sqlc.New(pool)

	require.EqualValues(t, 1, insertFact(t, q, "evt-1", "A", "KILL", "g1", 100))
	require.EqualValues(t, 0, insertFact(t, q, "evt-1", "A", "KILL", "g1", 100))
	require.EqualValues(t, 1, insertFact(t, q, "evt-1", "B", "DEATH", "g1", 100))

	// Sentinel subjects dedupe too.
	require.EqualValues(t, 1, insertFact(t, q, "evt-2", "", "NEW_GAME", "g1", 90))
	require.EqualValues(t, 0, insertFact(t, q, "evt-2", "", "NEW_GAME", "g1", 90))

	rows, err := pool.Query(context.Background(),
		`SELECT fact_type FROM session_facts WHERE tenant_id = $1 AND subject_reference = 'A'`, tenant)
	require.NoError(t, err)
	types, err := pgx.CollectRows(rows, pgx.RowTo[string])
	require.NoError(t, err)
	require.Equal(t, []string{"KILL"}, types)
}

func TestQueries_JoinedSubjectsAndFinishMarkers(t *testing.T) {
	ctx := context.Background()
	q := sqlc.New(testutil.OpenPGXPool(t, "joined_subjects"))

	insertFact(t, q, "join-x", "X", "PLAYER_JOINED", "g1", 10)
	insertFact(t, q, "join-y", "Y", "PLAYER_JOINED", "g1", 11)
	insertFact(t, q, "join-x2", "X", "PLAYER_JOINED", "g1", 12)
	insertFact(t, q, "join-z", "Z", "PLAYER_JOINED", "g2", 13)

	subjects, err := q.ListJoinedSubjects(ctx, tenant, "g1")
	require.NoError(t, err)
	require.Equal(t, []string{"X", "Y"}, subjects)

	markers, err := q.ListFinishMarkers(ctx, tenant, "g1")
	require.NoError(t, err)
	require.Empty(t, markers)

	insertFact(t, q, "finish-2", "", "GAME_FINISHED", "g1", 60)
	insertFact(t, q, "finish-1", "", "GAME_FINISHED", "g1", 50)
	insertFact(t, q, "finish-x", "X", "GAME_FINISHED", "g1", 50)
	markers, err = q.ListFinishMarkers(ctx, tenant, "g1")
	require.NoError(t, err)
	require.Len(t, markers, 2)
	require.Equal(t, "finish-1", markers[0].SourceEventID)
	require.EqualValues(t, 50, markers[0].OccurredAt)
	require.Equal(t, "finish-2", markers[1].SourceEventID)
}

func TestQueries_AccountFactsAndSpans(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, "account_facts")
	q := sqlc.New(pool)

	accountID := testutil.SeedAccount(t, pool, tenant, "alice", "PT", "ref-a1", "ref-a2")

	insertEvent(t, q, "k1", `{"type":"kill","game_id":"g1","killer":"ref-a1","victim":"b","is_qualifier":true}`)
	insertEvent(t, q, "k2", `{"type":"kill","game_id":"g2","killer":"ref-a2","victim":"b","is_elimination":true}`)
	insertEvent(t, q, "k3", `{"type":"kill","game_id":"g2","killer":"ref-a2","victim":"b","is_qualifier":"true"}`)
	insertFact(t, q, "k1", "ref-a1", "KILL", "g1", 100)
	insertFact(t, q, "k2", "ref-a2", "KILL", "g2", 200)
	insertFact(t, q, "k3", "ref-a2", "KILL", "g2", 400)
	insertFact(t, q, "k1", "b", "DEATH", "g1", 100)

	facts, err := q.ListAccountFlaggedFacts(ctx, tenant, accountID)
	require.NoError(t, err)
	require.Len(t, facts, 3)

	var qualifier, elimination int
	for _, f := range facts {
		require.Equal(t, "KILL", f.FactType)
		if f.IsQualifier {
			qualifier++
		}
		if f.IsElimination {
			elimination++
		}
	}
	// The string "true" is not a qualifier marker.
	require.Equal(t, 1, qualifier)
	require.Equal(t, 1, elimination)

	spans, err := q.ListAccountGameSpans(ctx, sqlc.ListAccountGameSpansParams{
		TenantID: tenant, AccountID: accountID, From: 150, To: 1000,
	})
	require.NoError(t, err)
	require.Equal(t, []sqlc.ListAccountGameSpansRow{{GameID: "g2", FirstAt: 200, LastAt: 400}}, spans)

	code, err := q.LatestCountryCode(ctx, tenant, accountID)
	require.NoError(t, err)
	require.Equal(t, "PT", code)

	resolved, err := q.ResolveReference(ctx, tenant, "ref-a2")
	require.NoError(t, err)
	require.Equal(t, accountID, resolved)

	_, err = q.ResolveReference(ctx, tenant, "anonymous")
	require.True(t, errors.Is(err, pgx.ErrNoRows))
}

func TestQueries_RollupLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, "rollup_lifecycle")
	q := sqlc.New(pool)

	alice := testutil.SeedAccount(t, pool, tenant, "alice", "US", "ref-a")
	bob := testutil.SeedAccount(t, pool, tenant, "bob", "BR", "ref-b")

	_, err := q.UpsertRollupCounts(ctx, tenant, alice, []byte(`{"overview":{"kill":30},"qualifier":{"kill":26}}`))
	require.NoError(t, err)
	_, err = q.UpsertRollupCounts(ctx, tenant, bob, []byte(`{"overview":{"kill":5},"qualifier":{"kill":5}}`))
	require.NoError(t, err)

	candidates, err := q.ListQualifierCandidates(ctx, tenant, "qualifier", 25)
	require.NoError(t, err)
	require.Equal(t, []sqlc.ListQualifierCandidatesRow{{AccountID: alice, Kills: 26}}, candidates)

	n, err := q.SetRollupQualifier(ctx, tenant, alice, []byte(`{"is_qualified":true,"requirements":[]}`))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	_, err = q.SetRollupQualifier(ctx, tenant, bob, []byte(`{"is_qualified":false,"requirements":[]}`))
	require.NoError(t, err)

	// Recounting must not drop the verdict.
	row, err := q.UpsertRollupCounts(ctx, tenant, alice, []byte(`{"overview":{"kill":31},"qualifier":{"kill":26}}`))
	require.NoError(t, err)
	require.NotNil(t, row.Qualifier)

	qualified, err := q.ListQualifiedAccounts(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, qualified, 1)
	require.Equal(t, "alice", qualified[0].AuthName)
	require.JSONEq(t, `{"is_qualified":true,"requirements":[]}`, string(qualified[0].Qualifier))

	cleared, err := q.ClearStaleQualifiers(ctx, tenant, []int64{alice})
	require.NoError(t, err)
	require.EqualValues(t, 1, cleared)

	bobRow, err := q.GetRollup(ctx, tenant, bob)
	require.NoError(t, err)
	require.Nil(t, bobRow.Qualifier)

	var seen []int64
	require.NoError(t, q.ScanRankedRollups(ctx, tenant, func(r sqlc.ScanRankedRollupsRow) error {
		seen = append(seen, r.AccountID)
		return nil
	}))
	require.ElementsMatch(t, []int64{alice, bob}, seen)
}

func TestQueries_LockGameInsideTx(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, "lock_game")

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return sqlc.New(pool).WithTx(tx).LockGame(ctx, tenant, "g1")
	})
	require.NoError(t, err)
}
