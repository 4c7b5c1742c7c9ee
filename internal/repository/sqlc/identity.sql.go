package sqlc

import (
	"context"
)

const resolveReference = `-- name: ResolveReference :one
SELECT account_id
FROM account_sessions
WHERE tenant_id = $1 AND reference = $2 AND account_id IS NOT NULL
`

// ResolveReference returns pgx.ErrNoRows for a reference no account has claimed.
func (q *Queries) ResolveReference(ctx context.Context, tenantID int64, reference string) (int64, error) {
	row := q.db.QueryRow(ctx, resolveReference, tenantID, reference)
	var accountID int64
	err := row.Scan(&accountID)
	return accountID, err
}

const latestCountryCode = `-- name: LatestCountryCode :one
SELECT auth_country_code::text
FROM account_sessions
WHERE tenant_id = $1
  AND account_id = $2
  AND COALESCE(auth_country_code, '') <> ''
ORDER BY created_at DESC, reference DESC
LIMIT 1
`

func (q *Queries) LatestCountryCode(ctx context.Context, tenantID, accountID int64) (string, error) {
	row := q.db.QueryRow(ctx, latestCountryCode, tenantID, accountID)
	var code string
	err := row.Scan(&code)
	return code, err
}
