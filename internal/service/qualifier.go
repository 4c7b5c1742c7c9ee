package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/domain"
	"gamestats.io/telemetry/internal/metrics"
	"gamestats.io/telemetry/internal/pkg/logger"
)

// Requirement keys, in breakdown order.
const (
	RequirementPlayWindow  = "play_window"
	RequirementKillCount   = "kill_count"
	RequirementPlayMinutes = "play_minutes"
	RequirementRegion      = "region"
)

// QualifierRules is the fixed, time-boxed qualification rule set.
type QualifierRules struct {
	WindowStart    time.Time
	WindowEnd      time.Time
	MinKills       int
	MinPlayMinutes float64
	// Regions is the allow-list; empty accepts any region.
	Regions  []string
	KillView domain.View
}

// Candidate is an account whose rollup already meets the kill threshold.
type Candidate struct {
	AccountID int64
	Kills     int
}

// QualifierStore is the data access of the qualifier evaluator.
type QualifierStore interface {
	QualifierCandidates(ctx context.Context, tenantID int64, view domain.View, minKills int) ([]Candidate, error)
	// GameSpans groups the account's facts with a timestamp in [from, to]
	// by game.
	GameSpans(ctx context.Context, tenantID, accountID, from, to int64) ([]domain.GameSpan, error)
	// LatestCountryCode returns "" when no session carries a country.
	LatestCountryCode(ctx context.Context, tenantID, accountID int64) (string, error)
	SaveVerdict(ctx context.Context, tenantID, accountID int64, verdict domain.QualifierVerdict) error
	// ClearStaleVerdicts removes verdicts of accounts not in keep.
	ClearStaleVerdicts(ctx context.Context, tenantID int64, keep []int64) (int64, error)
}

// TaskRunner fans per-account work out over a bounded pool.
type TaskRunner interface {
	Each(ctx context.Context, n int, task func(ctx context.Context, i int)) error
}

// EvaluationSummary reports one qualifier batch run.
type EvaluationSummary struct {
	Candidates int   `json:"candidates"`
	Qualified  int   `json:"qualified"`
	Failed     int   `json:"failed"`
	Cleared    int64 `json:"cleared"`
}

// QualifierEvaluator decides qualification for every candidate account.
type QualifierEvaluator struct {
	store  QualifierStore
	runner TaskRunner
	rules  QualifierRules
	now    func() time.Time
}

// NewQualifierEvaluator creates a QualifierEvaluator.
func NewQualifierEvaluator(store QualifierStore, runner TaskRunner, rules QualifierRules) *QualifierEvaluator {
	return &QualifierEvaluator{store: store, runner: runner, rules: rules, now: time.Now}
}

// EvaluateAll evaluates every candidate of the tenant and overwrites their
// verdicts. One account failing is logged and counted; it never aborts the
// others. Verdicts of accounts that stopped being candidates are cleared, so
// reruns over the same data produce the same verdict set.
func (e *QualifierEvaluator) EvaluateAll(ctx context.Context, tenantID int64) (EvaluationSummary, error) {
	start := time.Now()
	log := logger.ForTenant(tenantID)

	candidates, err := e.store.QualifierCandidates(ctx, tenantID, e.rules.KillView, e.rules.MinKills)
	if err != nil {
		return EvaluationSummary{}, fmt.Errorf("load candidates: %w", err)
	}
	log.Info("qualifier evaluation started",
		zap.Int("candidates", len(candidates)),
		zap.Int("min_kills", e.rules.MinKills),
	)

	var qualified, failed atomic.Int64
	keep := make([]int64, 0, len(candidates))
	for _, cand := range candidates {
		keep = append(keep, cand.AccountID)
	}
	err = e.runner.Each(ctx, len(candidates), func(ctx context.Context, i int) {
		cand := candidates[i]
		verdict, err := e.evaluate(ctx, tenantID, cand)
		if err != nil {
			failed.Add(1)
			metrics.QualifierEvaluations.WithLabelValues("error").Inc()
			log.Warn("qualifier evaluation failed",
				zap.Int64(logger.FieldAccountID, cand.AccountID),
				zap.Error(err),
			)
			return
		}
		if verdict.IsQualified {
			qualified.Add(1)
			metrics.QualifierEvaluations.WithLabelValues("qualified").Inc()
		} else {
			metrics.QualifierEvaluations.WithLabelValues("not_qualified").Inc()
		}
	})
	if err != nil {
		return EvaluationSummary{}, fmt.Errorf("evaluate candidates: %w", err)
	}

	cleared, err := e.store.ClearStaleVerdicts(ctx, tenantID, keep)
	if err != nil {
		return EvaluationSummary{}, fmt.Errorf("clear stale verdicts: %w", err)
	}

	summary := EvaluationSummary{
		Candidates: len(candidates),
		Qualified:  int(qualified.Load()),
		Failed:     int(failed.Load()),
		Cleared:    cleared,
	}
	metrics.BatchDuration.WithLabelValues("evaluate_qualifiers").Observe(time.Since(start).Seconds())
	log.Info("qualifier evaluation finished",
		zap.Int("qualified", summary.Qualified),
		zap.Int("failed", summary.Failed),
		zap.Int64("cleared", summary.Cleared),
	)
	return summary, nil
}

func (e *QualifierEvaluator) evaluate(ctx context.Context, tenantID int64, cand Candidate) (domain.QualifierVerdict, error) {
	spans, err := e.store.GameSpans(ctx, tenantID, cand.AccountID,
		e.rules.WindowStart.Unix(), e.rules.WindowEnd.Unix())
	if err != nil {
		return domain.QualifierVerdict{}, fmt.Errorf("load game spans: %w", err)
	}
	code, err := e.store.LatestCountryCode(ctx, tenantID, cand.AccountID)
	if err != nil {
		return domain.QualifierVerdict{}, fmt.Errorf("load country code: %w", err)
	}

	verdict := EvaluateVerdict(e.rules, cand.Kills, spans, RegionForCountry(code))
	verdict.EvaluatedAt = e.now().UTC()
	if err := e.store.SaveVerdict(ctx, tenantID, cand.AccountID, verdict); err != nil {
		return domain.QualifierVerdict{}, fmt.Errorf("save verdict: %w", err)
	}
	return verdict, nil
}

// PlayWindow is the threshold of the play_window requirement.
type PlayWindow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EvaluateVerdict applies the rule set to one account. spans must already be
// limited to the rules' window.
func EvaluateVerdict(rules QualifierRules, kills int, spans []domain.GameSpan, region string) domain.QualifierVerdict {
	minutes := PlayMinutes(spans)

	regions := rules.Regions
	if regions == nil {
		regions = []string{}
	}
	regionMet := len(regions) == 0 || slices.Contains(regions, region)
	regionDesc := "Any region"
	if len(regions) > 0 {
		regionDesc = "Account region is one of " + strings.Join(regions, ", ")
	}

	reqs := []domain.Requirement{
		{
			Key:         RequirementPlayWindow,
			Description: "Played at least one game inside the qualification window",
			Threshold: PlayWindow{
				From: rules.WindowStart.UTC().Format(time.RFC3339),
				To:   rules.WindowEnd.UTC().Format(time.RFC3339),
			},
			Actual: len(spans),
			Met:    len(spans) > 0,
		},
		{
			Key:         RequirementKillCount,
			Description: fmt.Sprintf("At least %d kills", rules.MinKills),
			Threshold:   rules.MinKills,
			Actual:      kills,
			Met:         kills >= rules.MinKills,
		},
		{
			Key:         RequirementPlayMinutes,
			Description: fmt.Sprintf("At least %g minutes played inside the window", rules.MinPlayMinutes),
			Threshold:   rules.MinPlayMinutes,
			Actual:      minutes,
			Met:         minutes >= rules.MinPlayMinutes,
		},
		{
			Key:         RequirementRegion,
			Description: regionDesc,
			Threshold:   regions,
			Actual:      region,
			Met:         regionMet,
		},
	}

	qualified := true
	for _, r := range reqs {
		qualified = qualified && r.Met
	}
	return domain.QualifierVerdict{IsQualified: qualified, Requirements: reqs}
}

// PlayMinutes sums (last - first) over all game spans, in minutes rounded to
// two decimals.
func PlayMinutes(spans []domain.GameSpan) float64 {
	var seconds int64
	for _, s := range spans {
		if s.Last > s.First {
			seconds += s.Last - s.First
		}
	}
	return domain.Round2(float64(seconds) / 60)
}
