package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"gamestats.io/telemetry/internal/repository/sqlc"
)

// OpenPGXPool opens a pgxpool on an isolated, freshly migrated schema.
// The schema is dropped when the test ends.
func OpenPGXPool(t *testing.T, prefix string) *pgxpool.Pool {
	t.Helper()

	dsn := DSN(t)
	schema := newSchemaName(prefix)
	ctx := context.Background()

	adminPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres admin pool: %v", err)
	}
	t.Cleanup(adminPool.Close)

	if err := adminPool.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if _, err := adminPool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA "%s"`, schema)); err != nil {
		t.Fatalf("create test schema %q: %v", schema, err)
	}
	t.Cleanup(func() {
		_, _ = adminPool.Exec(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, schema))
	})

	schemaDSN, err := dsnWithSearchPath(dsn, schema)
	if err != nil {
		t.Fatalf("build postgres DSN with search_path: %v", err)
	}

	testPool, err := pgxpool.New(ctx, schemaDSN)
	if err != nil {
		t.Fatalf("open postgres test pool: %v", err)
	}
	t.Cleanup(testPool.Close)

	if err := testPool.Ping(ctx); err != nil {
		t.Fatalf("ping postgres test pool: %v", err)
	}
	if _, err := testPool.Exec(ctx, sqlc.Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return testPool
}

// SeedAccount inserts an account and links the given references to it.
// The first reference is the most recent session and carries countryCode.
func SeedAccount(t *testing.T, pool *pgxpool.Pool, tenantID int64, name, countryCode string, references ...string) int64 {
	t.Helper()
	ctx := context.Background()

	var accountID int64
	err := pool.QueryRow(ctx,
		`INSERT INTO accounts (tenant_id, auth_name, auth_avatar) VALUES ($1, $2, $3) RETURNING id`,
		tenantID, name, "https://avatars.example/"+name+".png",
	).Scan(&accountID)
	if err != nil {
		t.Fatalf("seed account %q: %v", name, err)
	}

	for i, ref := range references {
		code := ""
		if i == 0 {
			code = countryCode
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO account_sessions (reference, tenant_id, account_id, auth_country_code, created_at)
             VALUES ($1, $2, $3, NULLIF($4, ''), NOW() - make_interval(mins => $5))`,
			ref, tenantID, accountID, code, i,
		)
		if err != nil {
			t.Fatalf("seed session %q: %v", ref, err)
		}
	}
	return accountID
}
