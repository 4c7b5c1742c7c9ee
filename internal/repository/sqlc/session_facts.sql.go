package sqlc

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertSessionFact = `-- name: InsertSessionFact :execrows
INSERT INTO session_facts (
    tenant_id, subject_reference, source_event_id, fact_type,
    occurred_at, game_id, counterpart_reference
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, source_event_id, subject_reference, fact_type) DO NOTHING
`

type InsertSessionFactParams struct {
	TenantID             int64       `json:"tenant_id"`
	SubjectReference     string      `json:"subject_reference"`
	SourceEventID        string      `json:"source_event_id"`
	FactType             string      `json:"fact_type"`
	OccurredAt           int64       `json:"occurred_at"`
	GameID               pgtype.Text `json:"game_id"`
	CounterpartReference pgtype.Text `json:"counterpart_reference"`
}

// InsertSessionFact returns 0 when the fact already exists.
func (q *Queries) InsertSessionFact(ctx context.Context, arg InsertSessionFactParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertSessionFact,
		arg.TenantID,
		arg.SubjectReference,
		arg.SourceEventID,
		arg.FactType,
		arg.OccurredAt,
		arg.GameID,
		arg.CounterpartReference,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listJoinedSubjects = `-- name: ListJoinedSubjects :many
SELECT DISTINCT subject_reference
FROM session_facts
WHERE tenant_id = $1
  AND game_id = $2
  AND fact_type = 'PLAYER_JOINED'
  AND subject_reference <> ''
ORDER BY subject_reference
`

func (q *Queries) ListJoinedSubjects(ctx context.Context, tenantID int64, gameID string) ([]string, error) {
	rows, err := q.db.Query(ctx, listJoinedSubjects, tenantID, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, err
		}
		items = append(items, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listFinishMarkers = `-- name: ListFinishMarkers :many
SELECT id, tenant_id, subject_reference, source_event_id, fact_type,
       occurred_at, game_id, counterpart_reference, created_at
FROM session_facts
WHERE tenant_id = $1
  AND game_id = $2
  AND fact_type = 'GAME_FINISHED'
  AND subject_reference = ''
ORDER BY occurred_at, id
`

// ListFinishMarkers returns no rows while the game is still open.
func (q *Queries) ListFinishMarkers(ctx context.Context, tenantID int64, gameID string) ([]SessionFact, error) {
	rows, err := q.db.Query(ctx, listFinishMarkers, tenantID, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionFact
	for rows.Next() {
		var i SessionFact
		if err := rows.Scan(
			&i.ID,
			&i.TenantID,
			&i.SubjectReference,
			&i.SourceEventID,
			&i.FactType,
			&i.OccurredAt,
			&i.GameID,
			&i.CounterpartReference,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listAccountFlaggedFacts = `-- name: ListAccountFlaggedFacts :many
SELECT f.fact_type,
       COALESCE(r.payload -> 'is_qualifier' = 'true'::jsonb, FALSE)   AS is_qualifier,
       COALESCE(r.payload -> 'is_elimination' = 'true'::jsonb, FALSE) AS is_elimination
FROM session_facts f
LEFT JOIN raw_events r
       ON r.tenant_id = f.tenant_id AND r.event_id = f.source_event_id
WHERE f.tenant_id = $1
  AND f.subject_reference IN (
      SELECT s.reference FROM account_sessions s
      WHERE s.tenant_id = $1 AND s.account_id = $2
  )
`

type ListAccountFlaggedFactsRow struct {
	FactType      string `json:"fact_type"`
	IsQualifier   bool   `json:"is_qualifier"`
	IsElimination bool   `json:"is_elimination"`
}

func (q *Queries) ListAccountFlaggedFacts(ctx context.Context, tenantID, accountID int64) ([]ListAccountFlaggedFactsRow, error) {
	rows, err := q.db.Query(ctx, listAccountFlaggedFacts, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListAccountFlaggedFactsRow
	for rows.Next() {
		var i ListAccountFlaggedFactsRow
		if err := rows.Scan(&i.FactType, &i.IsQualifier, &i.IsElimination); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listAccountGameSpans = `-- name: ListAccountGameSpans :many
SELECT f.game_id::text AS game_id,
       MIN(f.occurred_at)::bigint AS first_at,
       MAX(f.occurred_at)::bigint AS last_at
FROM session_facts f
WHERE f.tenant_id = $1
  AND f.game_id IS NOT NULL
  AND f.occurred_at BETWEEN $3 AND $4
  AND f.subject_reference IN (
      SELECT s.reference FROM account_sessions s
      WHERE s.tenant_id = $1 AND s.account_id = $2
  )
GROUP BY f.game_id
ORDER BY f.game_id
`

type ListAccountGameSpansParams struct {
	TenantID  int64 `json:"tenant_id"`
	AccountID int64 `json:"account_id"`
	From      int64 `json:"from"`
	To        int64 `json:"to"`
}

type ListAccountGameSpansRow struct {
	GameID  string `json:"game_id"`
	FirstAt int64  `json:"first_at"`
	LastAt  int64  `json:"last_at"`
}

func (q *Queries) ListAccountGameSpans(ctx context.Context, arg ListAccountGameSpansParams) ([]ListAccountGameSpansRow, error) {
	rows, err := q.db.Query(ctx, listAccountGameSpans,
		arg.TenantID,
		arg.AccountID,
		arg.From,
		arg.To,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListAccountGameSpansRow
	for rows.Next() {
		var i ListAccountGameSpansRow
		if err := rows.Scan(&i.GameID, &i.FirstAt, &i.LastAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const lockGame = `-- name: LockGame :exec
SELECT pg_advisory_xact_lock(hashtextextended($2::text, $1::bigint))
`

// LockGame serializes transactions touching one game until commit.
func (q *Queries) LockGame(ctx context.Context, tenantID int64, gameID string) error {
	_, err := q.db.Exec(ctx, lockGame, tenantID, gameID)
	return err
}
