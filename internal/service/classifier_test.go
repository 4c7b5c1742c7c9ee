package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gamestats.io/telemetry/internal/domain"
)

const testTenant int64 = 1

func newTestClassifier() (*Classifier, *memFacts, *recordingScheduler, *memGlobal) {
	facts := newMemFacts()
	sched := &recordingScheduler{}
	global := &memGlobal{}
	return NewClassifier(facts, global, sched), facts, sched, global
}

func TestClassify_Kill(t *testing.T) {
	c, facts, sched, _ := newTestClassifier()
	ctx := context.Background()

	out, err := c.Classify(ctx, rawEvent(testTenant, "e1", 100, `{"type":"kill","game_id":"g1","killer":"A","victim":"B"}`))
	require.NoError(t, err)
	require.False(t, out.Skipped())
	require.Equal(t, domain.EventTypeKill, out.EventType)
	require.Equal(t, 2, out.Inserted)

	a := facts.subjectFacts("A")
	require.Len(t, a, 1)
	require.Equal(t, domain.FactKill, a[0].FactType)
	require.Equal(t, "B", *a[0].CounterpartReference)
	require.Equal(t, int64(100), a[0].OccurredAt)
	require.Equal(t, "g1", *a[0].GameID)

	b := facts.subjectFacts("B")
	require.Len(t, b, 1)
	require.Equal(t, domain.FactDeath, b[0].FactType)
	require.Equal(t, "A", *b[0].CounterpartReference)

	require.ElementsMatch(t, []string{"A", "B"}, sched.scheduled())

	facts.links["A"] = 10
	facts.links["B"] = 20
	agg := NewAggregator(facts, nopRollupCache{}, time.Hour)

	ra, err := agg.Aggregate(ctx, testTenant, "A")
	require.NoError(t, err)
	require.Equal(t, 1, ra.Counts.Overview.Kill)
	require.Equal(t, 0, ra.Counts.Overview.Death)

	rb, err := agg.Aggregate(ctx, testTenant, "B")
	require.NoError(t, err)
	require.Equal(t, 1, rb.Counts.Overview.Death)
}

func TestClassify_Suicide(t *testing.T) {
	c, facts, _, _ := newTestClassifier()

	out, err := c.Classify(context.Background(), rawEvent(testTenant, "e1", 100, `{"type":"kill","game_id":"g1","killer":"A","victim":"A"}`))
	require.NoError(t, err)
	require.Equal(t, 1, out.Inserted)

	a := facts.subjectFacts("A")
	require.Len(t, a, 1)
	require.Equal(t, domain.FactSuicide, a[0].FactType)
	require.Nil(t, a[0].CounterpartReference)
}

func TestClassify_Idempotent(t *testing.T) {
	c, facts, _, _ := newTestClassifier()
	ctx := context.Background()
	ev := rawEvent(testTenant, "e1", 100, `{"type":"game_started","game_id":"g1","keys":["A","B","C"]}`)

	first, err := c.Classify(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, 3, first.Inserted)

	second, err := c.Classify(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, 0, second.Inserted)
	require.ElementsMatch(t, first.Facts, second.Facts)
	require.Len(t, facts.facts, 3)
}

func TestClassify_NewGameHasNoSubject(t *testing.T) {
	c, facts, sched, _ := newTestClassifier()

	out, err := c.Classify(context.Background(), rawEvent(testTenant, "e1", 100, `{"type":"new_game","game_id":"g1"}`))
	require.NoError(t, err)
	require.Len(t, out.Facts, 1)
	require.False(t, out.Facts[0].HasSubject())
	require.Len(t, facts.facts, 1)
	require.Empty(t, sched.scheduled())
}

func TestClassify_GameFinishedFanOut(t *testing.T) {
	c, facts, _, _ := newTestClassifier()
	ctx := context.Background()

	for i, key := range []string{"X", "Y"} {
		_, err := c.Classify(ctx, rawEvent(testTenant, "join-"+key, int64(100+i), `{"type":"player_joined","game_id":"g1","key":"`+key+`"}`))
		require.NoError(t, err)
	}

	finish := rawEvent(testTenant, "fin", 200, `{"type":"game_finished","game_id":"g1"}`)
	out, err := c.Classify(ctx, finish)
	require.NoError(t, err)
	// marker + X + Y
	require.Equal(t, 3, out.Inserted)

	for _, key := range []string{"X", "Y"} {
		var finished []domain.SessionFact
		for _, f := range facts.subjectFacts(key) {
			if f.FactType == domain.FactGameFinished {
				finished = append(finished, f)
			}
		}
		require.Len(t, finished, 1, key)
		require.Equal(t, "fin", finished[0].SourceEventID)
		require.Equal(t, int64(200), finished[0].OccurredAt)
	}

	replay, err := c.Classify(ctx, finish)
	require.NoError(t, err)
	require.Equal(t, 0, replay.Inserted)
	require.Len(t, replay.Facts, 3)
}

func TestClassify_LateJoinAfterFinish(t *testing.T) {
	c, facts, sched, _ := newTestClassifier()
	ctx := context.Background()

	_, err := c.Classify(ctx, rawEvent(testTenant, "fin", 200, `{"type":"game_finished","game_id":"g1"}`))
	require.NoError(t, err)

	out, err := c.Classify(ctx, rawEvent(testTenant, "join-Z", 150, `{"type":"player_joined","game_id":"g1","key":"Z"}`))
	require.NoError(t, err)
	require.Equal(t, 2, out.Inserted)

	z := facts.subjectFacts("Z")
	require.Len(t, z, 2)
	types := []domain.FactType{z[0].FactType, z[1].FactType}
	require.ElementsMatch(t, []domain.FactType{domain.FactPlayerJoined, domain.FactGameFinished}, types)
	for _, f := range z {
		if f.FactType == domain.FactGameFinished {
			require.Equal(t, "fin", f.SourceEventID)
			require.Equal(t, int64(200), f.OccurredAt)
		}
	}
	require.Equal(t, []string{"Z"}, sched.scheduled())

	// Replaying the join does not duplicate the compensating fact.
	again, err := c.Classify(ctx, rawEvent(testTenant, "join-Z", 150, `{"type":"player_joined","game_id":"g1","key":"Z"}`))
	require.NoError(t, err)
	require.Equal(t, 0, again.Inserted)
}

func TestClassify_LateJoinCopiesEveryFinish(t *testing.T) {
	c, facts, _, _ := newTestClassifier()
	ctx := context.Background()

	_, err := c.Classify(ctx, rawEvent(testTenant, "join-X", 100, `{"type":"player_joined","game_id":"g1","key":"X"}`))
	require.NoError(t, err)
	for i, id := range []string{"fin-a", "fin-b"} {
		_, err := c.Classify(ctx, rawEvent(testTenant, id, int64(200+i), `{"type":"game_finished","game_id":"g1"}`))
		require.NoError(t, err)
	}

	out, err := c.Classify(ctx, rawEvent(testTenant, "join-Z", 150, `{"type":"player_joined","game_id":"g1","key":"Z"}`))
	require.NoError(t, err)
	// join + one copy per finish event
	require.Equal(t, 3, out.Inserted)

	finishSources := func(subject string) []string {
		var ids []string
		for _, f := range facts.subjectFacts(subject) {
			if f.FactType == domain.FactGameFinished {
				ids = append(ids, f.SourceEventID)
			}
		}
		return ids
	}
	require.ElementsMatch(t, []string{"fin-a", "fin-b"}, finishSources("X"))
	require.ElementsMatch(t, finishSources("X"), finishSources("Z"))
}

func TestClassify_Global(t *testing.T) {
	c, facts, sched, global := newTestClassifier()

	out, err := c.Classify(context.Background(), rawEvent(testTenant, "g", 1, `{"type":"global","stats":{"online":42}}`))
	require.NoError(t, err)
	require.False(t, out.Skipped())
	require.JSONEq(t, `{"online":42}`, string(global.stats[testTenant]))
	require.Empty(t, facts.facts)
	require.Empty(t, sched.scheduled())
}

func TestClassify_Skips(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"undecodable", `{"type":`, "malformed event"},
		{"missing type", `{"game_id":"g1"}`, "missing type"},
		{"missing victim", `{"type":"kill","game_id":"g1","killer":"A"}`, "missing victim"},
		{"unknown type", `{"type":"respawn","game_id":"g1"}`, "unknown type: respawn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, facts, sched, _ := newTestClassifier()
			out, err := c.Classify(context.Background(), rawEvent(testTenant, "e1", 1, tt.payload))
			require.NoError(t, err)
			require.True(t, out.Skipped())
			require.Contains(t, out.SkipReason, tt.reason)
			require.Empty(t, facts.facts)
			require.Empty(t, sched.scheduled())
		})
	}
}

func TestClassify_SchedulerFailureIsTransient(t *testing.T) {
	c, facts, sched, _ := newTestClassifier()
	sched.err = errors.New("queue unavailable")

	_, err := c.Classify(context.Background(), rawEvent(testTenant, "e1", 1, `{"type":"kill","game_id":"g1","killer":"A","victim":"B"}`))
	require.ErrorContains(t, err, "queue unavailable")
	// Facts stay; the retry re-records them as duplicates and reschedules.
	require.Len(t, facts.facts, 2)

	sched.err = nil
	out, err := c.Classify(context.Background(), rawEvent(testTenant, "e1", 1, `{"type":"kill","game_id":"g1","killer":"A","victim":"B"}`))
	require.NoError(t, err)
	require.Equal(t, 0, out.Inserted)
	require.ElementsMatch(t, []string{"A", "B"}, sched.scheduled())
}

func TestClassify_OrderIndependence(t *testing.T) {
	events := []domain.RawEvent{
		rawEvent(testTenant, "e1", 10, `{"type":"new_game","game_id":"g1"}`),
		rawEvent(testTenant, "e2", 11, `{"type":"game_started","game_id":"g1","keys":["A","B"]}`),
		rawEvent(testTenant, "e3", 12, `{"type":"player_joined","game_id":"g1","key":"A"}`),
		rawEvent(testTenant, "e4", 13, `{"type":"player_joined","game_id":"g1","key":"B"}`),
		rawEvent(testTenant, "e5", 20, `{"type":"kill","game_id":"g1","killer":"A","victim":"B"}`),
		rawEvent(testTenant, "e6", 21, `{"type":"kill","game_id":"g1","killer":"B","victim":"A"}`),
		rawEvent(testTenant, "e7", 22, `{"type":"kill","game_id":"g1","killer":"A","victim":"B"}`),
		rawEvent(testTenant, "e8", 23, `{"type":"kill","game_id":"g1","killer":"B","victim":"B"}`),
	}

	run := func(order []domain.RawEvent) map[string]domain.ViewCounts {
		c, facts, _, _ := newTestClassifier()
		facts.links["A"] = 1
		facts.links["B"] = 2
		facts.flags["e5"] = [2]bool{true, false}
		agg := NewAggregator(facts, nopRollupCache{}, time.Hour)
		ctx := context.Background()
		for _, ev := range order {
			_, err := c.Classify(ctx, ev)
			require.NoError(t, err)
		}
		out := map[string]domain.ViewCounts{}
		for _, ref := range []string{"A", "B"} {
			r, err := agg.Aggregate(ctx, testTenant, ref)
			require.NoError(t, err)
			out[ref] = r.Counts
		}
		return out
	}

	reversed := make([]domain.RawEvent, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}

	forward := run(events)
	require.Equal(t, forward, run(reversed))
	require.Equal(t, 2, forward["A"].Overview.Kill)
	require.Equal(t, 1, forward["A"].Qualifier.Kill)
	require.Equal(t, 1, forward["B"].Overview.Suicide)
	require.Equal(t, 2, forward["B"].Overview.Death)
}
