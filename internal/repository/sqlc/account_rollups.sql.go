package sqlc

import (
	"context"
)

const upsertRollupCounts = `-- name: UpsertRollupCounts :one
INSERT INTO account_rollups (tenant_id, account_id, counts, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (tenant_id, account_id)
DO UPDATE SET counts = EXCLUDED.counts, updated_at = EXCLUDED.updated_at
RETURNING tenant_id, account_id, counts, qualifier, updated_at
`

func (q *Queries) UpsertRollupCounts(ctx context.Context, tenantID, accountID int64, counts []byte) (AccountRollup, error) {
	row := q.db.QueryRow(ctx, upsertRollupCounts, tenantID, accountID, counts)
	var i AccountRollup
	err := row.Scan(
		&i.TenantID,
		&i.AccountID,
		&i.Counts,
		&i.Qualifier,
		&i.UpdatedAt,
	)
	return i, err
}

const getRollup = `-- name: GetRollup :one
SELECT tenant_id, account_id, counts, qualifier, updated_at
FROM account_rollups
WHERE tenant_id = $1 AND account_id = $2
`

func (q *Queries) GetRollup(ctx context.Context, tenantID, accountID int64) (AccountRollup, error) {
	row := q.db.QueryRow(ctx, getRollup, tenantID, accountID)
	var i AccountRollup
	err := row.Scan(
		&i.TenantID,
		&i.AccountID,
		&i.Counts,
		&i.Qualifier,
		&i.UpdatedAt,
	)
	return i, err
}

const listQualifierCandidates = `-- name: ListQualifierCandidates :many
SELECT account_id,
       COALESCE((counts -> $2::text ->> 'kill')::int, 0) AS kills
FROM account_rollups
WHERE tenant_id = $1
  AND COALESCE((counts -> $2::text ->> 'kill')::int, 0) >= $3
ORDER BY account_id
`

type ListQualifierCandidatesRow struct {
	AccountID int64 `json:"account_id"`
	Kills     int32 `json:"kills"`
}

func (q *Queries) ListQualifierCandidates(ctx context.Context, tenantID int64, view string, minKills int32) ([]ListQualifierCandidatesRow, error) {
	rows, err := q.db.Query(ctx, listQualifierCandidates, tenantID, view, minKills)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListQualifierCandidatesRow
	for rows.Next() {
		var i ListQualifierCandidatesRow
		if err := rows.Scan(&i.AccountID, &i.Kills); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setRollupQualifier = `-- name: SetRollupQualifier :execrows
UPDATE account_rollups
SET qualifier = $3, updated_at = NOW()
WHERE tenant_id = $1 AND account_id = $2
`

func (q *Queries) SetRollupQualifier(ctx context.Context, tenantID, accountID int64, qualifier []byte) (int64, error) {
	result, err := q.db.Exec(ctx, setRollupQualifier, tenantID, accountID, qualifier)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const clearStaleQualifiers = `-- name: ClearStaleQualifiers :execrows
UPDATE account_rollups
SET qualifier = NULL, updated_at = NOW()
WHERE tenant_id = $1
  AND qualifier IS NOT NULL
  AND NOT (account_id = ANY($2::bigint[]))
`

func (q *Queries) ClearStaleQualifiers(ctx context.Context, tenantID int64, keep []int64) (int64, error) {
	if keep == nil {
		keep = []int64{}
	}
	result, err := q.db.Exec(ctx, clearStaleQualifiers, tenantID, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const scanRankedRollups = `-- name: ScanRankedRollups :many
SELECT r.account_id,
       COALESCE(a.auth_name, '')   AS auth_name,
       COALESCE(a.auth_avatar, '') AS auth_avatar,
       r.counts
FROM account_rollups r
JOIN accounts a ON a.id = r.account_id AND a.tenant_id = r.tenant_id
WHERE r.tenant_id = $1
`

type ScanRankedRollupsRow struct {
	AccountID  int64  `json:"account_id"`
	AuthName   string `json:"auth_name"`
	AuthAvatar string `json:"auth_avatar"`
	Counts     []byte `json:"counts"`
}

// ScanRankedRollups streams rows to fn instead of buffering the whole tenant.
func (q *Queries) ScanRankedRollups(ctx context.Context, tenantID int64, fn func(ScanRankedRollupsRow) error) error {
	rows, err := q.db.Query(ctx, scanRankedRollups, tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var i ScanRankedRollupsRow
		if err := rows.Scan(&i.AccountID, &i.AuthName, &i.AuthAvatar, &i.Counts); err != nil {
			return err
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	return rows.Err()
}

const listQualifiedAccounts = `-- name: ListQualifiedAccounts :many
SELECT r.account_id,
       COALESCE(a.auth_name, '')   AS auth_name,
       COALESCE(a.auth_avatar, '') AS auth_avatar,
       r.qualifier
FROM account_rollups r
JOIN accounts a ON a.id = r.account_id AND a.tenant_id = r.tenant_id
WHERE r.tenant_id = $1
  AND (r.qualifier ->> 'is_qualified')::boolean IS TRUE
ORDER BY r.account_id
`

type ListQualifiedAccountsRow struct {
	AccountID  int64  `json:"account_id"`
	AuthName   string `json:"auth_name"`
	AuthAvatar string `json:"auth_avatar"`
	Qualifier  []byte `json:"qualifier"`
}

func (q *Queries) ListQualifiedAccounts(ctx context.Context, tenantID int64) ([]ListQualifiedAccountsRow, error) {
	rows, err := q.db.Query(ctx, listQualifiedAccounts, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListQualifiedAccountsRow
	for rows.Next() {
		var i ListQualifiedAccountsRow
		if err := rows.Scan(&i.AccountID, &i.AuthName, &i.AuthAvatar, &i.Qualifier); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
