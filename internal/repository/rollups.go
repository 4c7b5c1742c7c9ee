package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gamestats.io/telemetry/internal/domain"
	sqlcrepo "gamestats.io/telemetry/internal/repository/sqlc"
	"gamestats.io/telemetry/internal/service"
)

// Rollups is the account rollup store. It also answers the identity lookups
// the aggregator and the read side need.
type Rollups struct {
	queries *sqlcrepo.Queries
}

// NewRollups creates a Rollups store on pool.
func NewRollups(pool *pgxpool.Pool) *Rollups {
	return &Rollups{queries: sqlcrepo.New(pool)}
}

func (s *Rollups) ResolveReference(ctx context.Context, tenantID int64, reference string) (int64, bool, error) {
	id, err := s.queries.ResolveReference(ctx, tenantID, reference)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Rollups) AccountFacts(ctx context.Context, tenantID, accountID int64) ([]domain.FlaggedFact, error) {
	rows, err := s.queries.ListAccountFlaggedFacts(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FlaggedFact, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.FlaggedFact{
			FactType:      domain.FactType(row.FactType),
			IsQualifier:   row.IsQualifier,
			IsElimination: row.IsElimination,
		})
	}
	return out, nil
}

// SaveCounts replaces the counts in one statement; the verdict is kept.
func (s *Rollups) SaveCounts(ctx context.Context, tenantID, accountID int64, counts domain.ViewCounts) (domain.AccountRollup, error) {
	data, err := json.Marshal(counts)
	if err != nil {
		return domain.AccountRollup{}, fmt.Errorf("encode counts: %w", err)
	}
	row, err := s.queries.UpsertRollupCounts(ctx, tenantID, accountID, data)
	if err != nil {
		return domain.AccountRollup{}, err
	}
	return toDomainRollup(row)
}

// GetRollup returns nil when the account has no rollup.
func (s *Rollups) GetRollup(ctx context.Context, tenantID, accountID int64) (*domain.AccountRollup, error) {
	row, err := s.queries.GetRollup(ctx, tenantID, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := toDomainRollup(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Rollups) QualifierCandidates(ctx context.Context, tenantID int64, view domain.View, minKills int) ([]service.Candidate, error) {
	rows, err := s.queries.ListQualifierCandidates(ctx, tenantID, string(view), int32(minKills))
	if err != nil {
		return nil, err
	}
	out := make([]service.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, service.Candidate{AccountID: row.AccountID, Kills: int(row.Kills)})
	}
	return out, nil
}

func (s *Rollups) GameSpans(ctx context.Context, tenantID, accountID, from, to int64) ([]domain.GameSpan, error) {
	rows, err := s.queries.ListAccountGameSpans(ctx, sqlcrepo.ListAccountGameSpansParams{
		TenantID:  tenantID,
		AccountID: accountID,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.GameSpan, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.GameSpan{GameID: row.GameID, First: row.FirstAt, Last: row.LastAt})
	}
	return out, nil
}

func (s *Rollups) LatestCountryCode(ctx context.Context, tenantID, accountID int64) (string, error) {
	code, err := s.queries.LatestCountryCode(ctx, tenantID, accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return code, err
}

func (s *Rollups) SaveVerdict(ctx context.Context, tenantID, accountID int64, verdict domain.QualifierVerdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	n, err := s.queries.SetRollupQualifier(ctx, tenantID, accountID, data)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no rollup for account %d", accountID)
	}
	return nil
}

func (s *Rollups) ClearStaleVerdicts(ctx context.Context, tenantID int64, keep []int64) (int64, error) {
	return s.queries.ClearStaleQualifiers(ctx, tenantID, keep)
}

func (s *Rollups) ScanRankedAccounts(ctx context.Context, tenantID int64, fn func(domain.RankedAccount) error) error {
	return s.queries.ScanRankedRollups(ctx, tenantID, func(row sqlcrepo.ScanRankedRollupsRow) error {
		var counts domain.ViewCounts
		if err := json.Unmarshal(row.Counts, &counts); err != nil {
			return fmt.Errorf("decode counts of account %d: %w", row.AccountID, err)
		}
		return fn(domain.RankedAccount{
			AccountID: row.AccountID,
			Name:      row.AuthName,
			Avatar:    row.AuthAvatar,
			Counts:    counts,
		})
	})
}

func (s *Rollups) QualifiedAccounts(ctx context.Context, tenantID int64) ([]domain.QualifiedAccount, error) {
	rows, err := s.queries.ListQualifiedAccounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QualifiedAccount, 0, len(rows))
	for _, row := range rows {
		acc := domain.QualifiedAccount{AccountID: row.AccountID, Name: row.AuthName, Avatar: row.AuthAvatar}
		if err := json.Unmarshal(row.Qualifier, &acc.Qualifier); err != nil {
			return nil, fmt.Errorf("decode verdict of account %d: %w", row.AccountID, err)
		}
		out = append(out, acc)
	}
	return out, nil
}

func toDomainRollup(row sqlcrepo.AccountRollup) (domain.AccountRollup, error) {
	r := domain.AccountRollup{
		TenantID:  row.TenantID,
		AccountID: row.AccountID,
		UpdatedAt: row.UpdatedAt.Time,
	}
	if err := json.Unmarshal(row.Counts, &r.Counts); err != nil {
		return domain.AccountRollup{}, fmt.Errorf("decode counts: %w", err)
	}
	if len(row.Qualifier) > 0 {
		var v domain.QualifierVerdict
		if err := json.Unmarshal(row.Qualifier, &v); err != nil {
			return domain.AccountRollup{}, fmt.Errorf("decode verdict: %w", err)
		}
		r.Qualifier = &v
	}
	return r, nil
}
