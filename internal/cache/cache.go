// Package cache holds the derived, rebuildable read models of the pipeline
// (global stats, rollups, leaderboards) in BadgerDB. Nothing here is a
// source of truth: any entry can be dropped and recomputed from PostgreSQL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"gamestats.io/telemetry/internal/domain"
)

// Store is a Badger-backed stats cache.
type Store struct {
	db *badger.DB
}

// Open opens the cache at path, or an in-memory instance when path is empty.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func globalStatsKey(tenantID int64) []byte {
	return []byte(fmt.Sprintf("tenant:%d:global-stats", tenantID))
}

func rollupKey(tenantID, accountID int64) []byte {
	return []byte(fmt.Sprintf("tenant:%d:account:%d:rollup", tenantID, accountID))
}

func leaderboardKey(tenantID int64) []byte {
	return []byte(fmt.Sprintf("tenant:%d:leaderboard", tenantID))
}

func qualifiersKey(tenantID int64) []byte {
	return []byte(fmt.Sprintf("tenant:%d:leaderboard-qualifiers", tenantID))
}

// PutGlobalStats stores the tenant-wide stats blob verbatim, without expiry.
func (s *Store) PutGlobalStats(_ context.Context, tenantID int64, stats []byte) error {
	return s.set(globalStatsKey(tenantID), stats, 0)
}

// GetGlobalStats returns the last published global stats blob.
func (s *Store) GetGlobalStats(_ context.Context, tenantID int64) ([]byte, bool, error) {
	return s.get(globalStatsKey(tenantID))
}

// PutRollup caches an account's counts for ttl.
func (s *Store) PutRollup(_ context.Context, tenantID, accountID int64, counts domain.ViewCounts, ttl time.Duration) error {
	return s.setJSON(rollupKey(tenantID, accountID), counts, ttl)
}

// GetRollup returns cached counts for an account.
func (s *Store) GetRollup(_ context.Context, tenantID, accountID int64) (domain.ViewCounts, bool, error) {
	var counts domain.ViewCounts
	ok, err := s.getJSON(rollupKey(tenantID, accountID), &counts)
	return counts, ok, err
}

// PutLeaderboard replaces the tenant's snapshot. Snapshots never expire.
func (s *Store) PutLeaderboard(_ context.Context, snap domain.LeaderboardSnapshot) error {
	return s.setJSON(leaderboardKey(snap.TenantID), snap, 0)
}

// GetLeaderboard returns the last published snapshot.
func (s *Store) GetLeaderboard(_ context.Context, tenantID int64) (domain.LeaderboardSnapshot, bool, error) {
	var snap domain.LeaderboardSnapshot
	ok, err := s.getJSON(leaderboardKey(tenantID), &snap)
	return snap, ok, err
}

// PutQualifiers caches the qualified accounts list for ttl.
func (s *Store) PutQualifiers(_ context.Context, tenantID int64, accounts []domain.QualifiedAccount, ttl time.Duration) error {
	if accounts == nil {
		accounts = []domain.QualifiedAccount{}
	}
	return s.setJSON(qualifiersKey(tenantID), accounts, ttl)
}

// GetQualifiers returns the cached qualified accounts list.
func (s *Store) GetQualifiers(_ context.Context, tenantID int64) ([]domain.QualifiedAccount, bool, error) {
	var accounts []domain.QualifiedAccount
	ok, err := s.getJSON(qualifiersKey(tenantID), &accounts)
	return accounts, ok, err
}

func (s *Store) setJSON(key []byte, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.set(key, data, ttl)
}

func (s *Store) set(key, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	data, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return data, true, nil
}
