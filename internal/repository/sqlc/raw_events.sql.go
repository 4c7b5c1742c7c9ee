package sqlc

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertRawEvent = `-- name: InsertRawEvent :one
INSERT INTO raw_events (tenant_id, event_id, occurred_at, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, event_id) DO NOTHING
RETURNING id
`

type InsertRawEventParams struct {
	TenantID   int64  `json:"tenant_id"`
	EventID    string `json:"event_id"`
	OccurredAt int64  `json:"occurred_at"`
	Payload    []byte `json:"payload"`
}

// InsertRawEvent returns pgx.ErrNoRows when (tenant_id, event_id) already exists.
func (q *Queries) InsertRawEvent(ctx context.Context, arg InsertRawEventParams) (int64, error) {
	row := q.db.QueryRow(ctx, insertRawEvent,
		arg.TenantID,
		arg.EventID,
		arg.OccurredAt,
		arg.Payload,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getRawEvent = `-- name: GetRawEvent :one
SELECT id, tenant_id, event_id, occurred_at, payload, last_error, created_at
FROM raw_events
WHERE id = $1
`

func (q *Queries) GetRawEvent(ctx context.Context, id int64) (RawEvent, error) {
	row := q.db.QueryRow(ctx, getRawEvent, id)
	var i RawEvent
	err := row.Scan(
		&i.ID,
		&i.TenantID,
		&i.EventID,
		&i.OccurredAt,
		&i.Payload,
		&i.LastError,
		&i.CreatedAt,
	)
	return i, err
}

const setRawEventLastError = `-- name: SetRawEventLastError :exec
UPDATE raw_events SET last_error = $2 WHERE id = $1
`

func (q *Queries) SetRawEventLastError(ctx context.Context, id int64, lastError string) error {
	_, err := q.db.Exec(ctx, setRawEventLastError, id, lastError)
	return err
}

const clearRawEventLastError = `-- name: ClearRawEventLastError :exec
UPDATE raw_events SET last_error = NULL WHERE id = $1 AND last_error IS NOT NULL
`

func (q *Queries) ClearRawEventLastError(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, clearRawEventLastError, id)
	return err
}

const listRawEventIDs = `-- name: ListRawEventIDs :many
SELECT id
FROM raw_events
WHERE tenant_id = $1
  AND id > $2
  AND ($3::boolean = FALSE OR last_error IS NOT NULL)
ORDER BY id
LIMIT $4
`

type ListRawEventIDsParams struct {
	TenantID    int64 `json:"tenant_id"`
	AfterID     int64 `json:"after_id"`
	OnlyErrored bool  `json:"only_errored"`
	Limit       int32 `json:"limit"`
}

func (q *Queries) ListRawEventIDs(ctx context.Context, arg ListRawEventIDsParams) ([]int64, error) {
	rows, err := q.db.Query(ctx, listRawEventIDs,
		arg.TenantID,
		arg.AfterID,
		arg.OnlyErrored,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const flagQualifierGameStarts = `-- name: FlagQualifierGameStarts :many
UPDATE raw_events gs
SET payload = gs.payload || '{"is_qualifier":true}'::jsonb
WHERE gs.tenant_id = $1
  AND gs.payload ->> 'type' = 'game_started'
  AND gs.payload -> 'is_qualifier' IS NULL
  AND gs.last_error IS NULL
  AND EXISTS (
      SELECT 1 FROM raw_events ng
      WHERE ng.tenant_id = gs.tenant_id
        AND ng.payload ->> 'type' = 'new_game'
        AND ng.payload -> 'game_id' = gs.payload -> 'game_id'
        AND ng.payload -> 'is_qualifier' = 'true'::jsonb
  )
RETURNING gs.id, gs.payload ->> 'game_id' AS game_id, gs.payload -> 'keys' AS keys
`

type FlagQualifierGameStartsRow struct {
	ID     int64       `json:"id"`
	GameID pgtype.Text `json:"game_id"`
	Keys   []byte      `json:"keys"`
}

// FlagQualifierGameStarts copies is_qualifier from a game's new_game event
// onto its game_started events that lack the flag.
func (q *Queries) FlagQualifierGameStarts(ctx context.Context, tenantID int64) ([]FlagQualifierGameStartsRow, error) {
	rows, err := q.db.Query(ctx, flagQualifierGameStarts, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FlagQualifierGameStartsRow
	for rows.Next() {
		var i FlagQualifierGameStartsRow
		if err := rows.Scan(&i.ID, &i.GameID, &i.Keys); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
