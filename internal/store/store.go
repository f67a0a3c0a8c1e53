// Package store defines the persistence gateway for wallet aggregates and
// the normalized ledger tables. Implementations include PostgreSQL (source
// of truth), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/iwadha/solana-dashboard/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Wallet aggregate ---

	// GetWallet returns the stored aggregate or model.ErrNotFound.
	GetWallet(ctx context.Context, address string) (*model.WalletRecord, error)

	// PutWallet replaces the stored aggregate for w.Address.
	PutWallet(ctx context.Context, w *model.WalletRecord) error

	// --- Normalized ledger tables (keyed upserts) ---

	// UpsertPositions writes positions keyed by position id.
	UpsertPositions(ctx context.Context, positions []model.Position) error

	// UpsertRecords writes ledger records keyed by (wallet, tx id).
	UpsertRecords(ctx context.Context, records []model.CategoryRecord) error

	// ListPositions returns the position rows of one wallet.
	ListPositions(ctx context.Context, wallet string) ([]model.Position, error)

	// ListRecords returns the ledger rows of one wallet and category.
	ListRecords(ctx context.Context, wallet string, category model.Category) ([]model.CategoryRecord, error)

	// --- Pools ---

	// UpsertPool writes pool metadata keyed by pool address.
	UpsertPool(ctx context.Context, pool model.Pool) error

	// GetPool returns pool metadata or model.ErrNotFound.
	GetPool(ctx context.Context, address string) (*model.Pool, error)
}

// Authoritative returns the store that must serve reads feeding a
// read-merge-write. Caching wrappers expose their primary; everything else
// is returned unchanged.
func Authoritative(s Store) Store {
	if w, ok := s.(interface{ Primary() Store }); ok {
		return w.Primary()
	}
	return s
}
