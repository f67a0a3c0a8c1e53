package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iwadha/solana-dashboard/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Primary returns the uncached store.
func (s *CachedStore) Primary() Store { return s.primary }

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutWallet(ctx context.Context, w *model.WalletRecord) error {
	if err := s.primary.PutWallet(ctx, w); err != nil {
		return err
	}
	// Invalidate; the next read re-populates from the primary.
	s.rdb.Del(ctx, walletKey(w.Address), positionsKey(w.Address))
	return nil
}

func (s *CachedStore) UpsertPositions(ctx context.Context, positions []model.Position) error {
	if err := s.primary.UpsertPositions(ctx, positions); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, p := range positions {
		if !seen[p.WalletAddress] {
			seen[p.WalletAddress] = true
			s.rdb.Del(ctx, positionsKey(p.WalletAddress))
		}
	}
	return nil
}

func (s *CachedStore) UpsertPool(ctx context.Context, p model.Pool) error {
	if err := s.primary.UpsertPool(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(p.PoolAddress))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWallet(ctx context.Context, address string) (*model.WalletRecord, error) {
	var w model.WalletRecord
	if s.cached(ctx, walletKey(address), &w) {
		return &w, nil
	}

	// Cache miss: read from primary.
	rec, err := s.primary.GetWallet(ctx, address)
	if err != nil {
		return nil, err
	}
	s.put(ctx, walletKey(address), rec)
	return rec, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, wallet string) ([]model.Position, error) {
	var positions []model.Position
	if s.cached(ctx, positionsKey(wallet), &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx, wallet)
	if err != nil {
		return nil, err
	}
	s.put(ctx, positionsKey(wallet), positions)
	return positions, nil
}

func (s *CachedStore) GetPool(ctx context.Context, address string) (*model.Pool, error) {
	var p model.Pool
	if s.cached(ctx, poolKey(address), &p) {
		return &p, nil
	}

	pool, err := s.primary.GetPool(ctx, address)
	if err != nil {
		return nil, err
	}
	s.put(ctx, poolKey(address), pool)
	return pool, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) UpsertRecords(ctx context.Context, records []model.CategoryRecord) error {
	return s.primary.UpsertRecords(ctx, records)
}

func (s *CachedStore) ListRecords(ctx context.Context, wallet string, category model.Category) ([]model.CategoryRecord, error) {
	return s.primary.ListRecords(ctx, wallet, category)
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) put(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func walletKey(addr string) string    { return fmt.Sprintf("wallet:%s", addr) }
func positionsKey(addr string) string { return fmt.Sprintf("positions:%s", addr) }
func poolKey(addr string) string      { return fmt.Sprintf("pool:%s", addr) }
