package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/iwadha/solana-dashboard/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]*model.WalletRecord
	positions map[string]model.Position
	records   map[recordKey]model.CategoryRecord
	pools     map[string]model.Pool
	writes    int
}

type recordKey struct {
	wallet string
	id     string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[string]*model.WalletRecord),
		positions: make(map[string]model.Position),
		records:   make(map[recordKey]model.CategoryRecord),
		pools:     make(map[string]model.Pool),
	}
}

func (s *MemoryStore) GetWallet(_ context.Context, address string) (*model.WalletRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[address]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", address, model.ErrNotFound)
	}
	return w.Clone(), nil
}

func (s *MemoryStore) PutWallet(_ context.Context, w *model.WalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.wallets[w.Address] = w.Clone()
	s.writes++
	return nil
}

// WriteCount reports how many aggregate writes have been accepted.
func (s *MemoryStore) WriteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStore) UpsertPositions(_ context.Context, positions []model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		s.positions[p.PositionID] = p
	}
	return nil
}

func (s *MemoryStore) UpsertRecords(_ context.Context, records []model.CategoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.records[recordKey{wallet: r.WalletAddress, id: r.ID()}] = r
	}
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, wallet string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.WalletAddress == wallet {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionID < result[j].PositionID })
	return result, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, wallet string, category model.Category) ([]model.CategoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CategoryRecord
	for k, r := range s.records {
		if k.wallet == wallet && r.Category == category {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result, nil
}

func (s *MemoryStore) UpsertPool(_ context.Context, pool model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools[pool.PoolAddress] = pool
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, address string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[address]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", address, model.ErrNotFound)
	}
	return &p, nil
}
