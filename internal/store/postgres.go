package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iwadha/solana-dashboard/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Token amounts are stored as NUMERIC for exact decimal precision; the
// wallet ledger is one JSONB document carrying its schema version.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetWallet(ctx context.Context, address string) (*model.WalletRecord, error) {
	var (
		w                            model.WalletRecord
		balance                      string
		tokens, positions, ledgerDoc []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT address, sol_balance::TEXT, token_balances, positions, ledger, updated_at
		 FROM wallets WHERE address = $1`, address).
		Scan(&w.Address, &balance, &tokens, &positions, &ledgerDoc, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet %s: %w", address, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}

	w.SOLBalance, _ = decimal.NewFromString(balance)
	if err := json.Unmarshal(tokens, &w.TokenBalances); err != nil {
		return nil, fmt.Errorf("decoding token balances of %s: %w", address, err)
	}
	if err := json.Unmarshal(positions, &w.Positions); err != nil {
		return nil, fmt.Errorf("decoding positions of %s: %w", address, err)
	}
	if err := json.Unmarshal(ledgerDoc, &w.Ledger); err != nil {
		return nil, fmt.Errorf("decoding ledger of %s: %w", address, err)
	}
	if err := upgradeLedger(&w.Ledger); err != nil {
		return nil, fmt.Errorf("wallet %s: %w", address, err)
	}
	return &w, nil
}

// upgradeLedger fills defaults for documents written before versioning and
// refuses documents written by a newer schema.
func upgradeLedger(l *model.Ledger) error {
	if l.SchemaVersion > model.LedgerSchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported %d",
			l.SchemaVersion, model.LedgerSchemaVersion)
	}
	l.SchemaVersion = model.LedgerSchemaVersion
	for _, c := range model.LedgerCategories {
		if l.Records(c) == nil {
			l.Replace(c, nil)
		}
	}
	return nil
}

func (s *PostgresStore) PutWallet(ctx context.Context, w *model.WalletRecord) error {
	tokens, err := json.Marshal(w.TokenBalances)
	if err != nil {
		return fmt.Errorf("encoding token balances: %w", err)
	}
	positions, err := json.Marshal(w.Positions)
	if err != nil {
		return fmt.Errorf("encoding positions: %w", err)
	}
	ledgerDoc, err := json.Marshal(w.Ledger)
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO wallets (address, sol_balance, token_balances, positions, ledger, schema_version, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::jsonb, $4::jsonb, $5::jsonb, $6, $7)
		 ON CONFLICT (address) DO UPDATE SET
		     sol_balance = EXCLUDED.sol_balance,
		     token_balances = EXCLUDED.token_balances,
		     positions = EXCLUDED.positions,
		     ledger = EXCLUDED.ledger,
		     schema_version = EXCLUDED.schema_version,
		     updated_at = EXCLUDED.updated_at`,
		w.Address, w.SOLBalance.String(), tokens, positions, ledgerDoc, w.Ledger.SchemaVersion, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put wallet %s: %w", w.Address, err)
	}
	return nil
}

func (s *PostgresStore) UpsertPositions(ctx context.Context, positions []model.Position) error {
	if len(positions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range positions {
		rewards, err := json.Marshal(decimalStrings(p.ClaimedRewards))
		if err != nil {
			return fmt.Errorf("encoding rewards of %s: %w", p.PositionID, err)
		}
		batch.Queue(
			`INSERT INTO positions (position_id, wallet_address, pool_address, lower_bin, upper_bin,
			                        liquidity_shares, claimed_fee_x, claimed_fee_y, claimed_rewards,
			                        variant, id_derived, last_updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::jsonb, $10, $11, $12)
			 ON CONFLICT (position_id) DO UPDATE SET
			     wallet_address = EXCLUDED.wallet_address,
			     pool_address = EXCLUDED.pool_address,
			     lower_bin = EXCLUDED.lower_bin,
			     upper_bin = EXCLUDED.upper_bin,
			     liquidity_shares = EXCLUDED.liquidity_shares,
			     claimed_fee_x = EXCLUDED.claimed_fee_x,
			     claimed_fee_y = EXCLUDED.claimed_fee_y,
			     claimed_rewards = EXCLUDED.claimed_rewards,
			     variant = EXCLUDED.variant,
			     id_derived = EXCLUDED.id_derived,
			     last_updated_at = EXCLUDED.last_updated_at`,
			p.PositionID, p.WalletAddress, p.PoolAddress, p.LowerBin, p.UpperBin,
			p.LiquidityShares.String(), p.ClaimedFeeX.String(), p.ClaimedFeeY.String(), rewards,
			p.Variant, p.IDDerived, nullTime(p.LastUpdatedAt),
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert positions: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertRecords(ctx context.Context, records []model.CategoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		rewards, err := json.Marshal(decimalStrings(r.RewardAmounts))
		if err != nil {
			return fmt.Errorf("encoding rewards of %s: %w", r.ID(), err)
		}
		batch.Queue(
			`INSERT INTO ledger_records (wallet_address, record_key, tx_hash, category, pool_address, position_id,
			                             token_x_amount, token_y_amount, reward_amounts, timestamp, derived)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::jsonb, $10, $11)
			 ON CONFLICT (wallet_address, record_key) DO UPDATE SET
			     tx_hash = EXCLUDED.tx_hash,
			     category = EXCLUDED.category,
			     pool_address = EXCLUDED.pool_address,
			     position_id = EXCLUDED.position_id,
			     token_x_amount = EXCLUDED.token_x_amount,
			     token_y_amount = EXCLUDED.token_y_amount,
			     reward_amounts = EXCLUDED.reward_amounts,
			     timestamp = EXCLUDED.timestamp,
			     derived = EXCLUDED.derived`,
			r.WalletAddress, r.ID(), r.TxHash, string(r.Category), r.PoolAddress, r.PositionID,
			r.TokenXAmount.String(), r.TokenYAmount.String(), rewards, nullTime(r.Timestamp), r.Derived,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert ledger records: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, wallet string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position_id, wallet_address, pool_address, lower_bin, upper_bin,
		        liquidity_shares::TEXT, claimed_fee_x::TEXT, claimed_fee_y::TEXT, claimed_rewards,
		        variant, id_derived, last_updated_at
		 FROM positions WHERE wallet_address = $1 ORDER BY position_id`, wallet)
	if err != nil {
		return nil, fmt.Errorf("list positions of %s: %w", wallet, err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var (
			p                  model.Position
			shares, feeX, feeY string
			rewards            []byte
			updated            *time.Time
		)
		if err := rows.Scan(&p.PositionID, &p.WalletAddress, &p.PoolAddress, &p.LowerBin, &p.UpperBin,
			&shares, &feeX, &feeY, &rewards, &p.Variant, &p.IDDerived, &updated); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		p.LiquidityShares, _ = decimal.NewFromString(shares)
		p.ClaimedFeeX, _ = decimal.NewFromString(feeX)
		p.ClaimedFeeY, _ = decimal.NewFromString(feeY)
		if p.ClaimedRewards, err = decodeDecimals(rewards); err != nil {
			return nil, fmt.Errorf("decoding rewards of %s: %w", p.PositionID, err)
		}
		if updated != nil {
			p.LastUpdatedAt = updated.UTC()
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListRecords(ctx context.Context, wallet string, category model.Category) ([]model.CategoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT wallet_address, tx_hash, category, pool_address, position_id,
		        token_x_amount::TEXT, token_y_amount::TEXT, reward_amounts, timestamp, derived
		 FROM ledger_records WHERE wallet_address = $1 AND category = $2
		 ORDER BY record_key`, wallet, string(category))
	if err != nil {
		return nil, fmt.Errorf("list %s records of %s: %w", category, wallet, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *PostgresStore) UpsertPool(ctx context.Context, p model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (pool_address, token_x_mint, token_y_mint, bin_step, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (pool_address) DO UPDATE SET
		     token_x_mint = EXCLUDED.token_x_mint,
		     token_y_mint = EXCLUDED.token_y_mint,
		     bin_step = EXCLUDED.bin_step,
		     updated_at = EXCLUDED.updated_at`,
		p.PoolAddress, p.TokenXMint, p.TokenYMint, p.BinStep, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pool %s: %w", p.PoolAddress, err)
	}
	return nil
}

func (s *PostgresStore) GetPool(ctx context.Context, address string) (*model.Pool, error) {
	var p model.Pool
	err := s.pool.QueryRow(ctx,
		`SELECT pool_address, token_x_mint, token_y_mint, bin_step, updated_at
		 FROM pools WHERE pool_address = $1`, address).
		Scan(&p.PoolAddress, &p.TokenXMint, &p.TokenYMint, &p.BinStep, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pool %s: %w", address, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get pool %s: %w", address, err)
	}
	return &p, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanRecords reads ledger rows into CategoryRecord values.
func scanRecords(rows pgxRows) ([]model.CategoryRecord, error) {
	var records []model.CategoryRecord
	for rows.Next() {
		var (
			r        model.CategoryRecord
			category string
			xS, yS   string
			rewards  []byte
			ts       *time.Time
		)
		if err := rows.Scan(&r.WalletAddress, &r.TxHash, &category, &r.PoolAddress, &r.PositionID,
			&xS, &yS, &rewards, &ts, &r.Derived); err != nil {
			return nil, err
		}
		r.Category = model.Category(category)
		r.TokenXAmount, _ = decimal.NewFromString(xS)
		r.TokenYAmount, _ = decimal.NewFromString(yS)
		var err error
		if r.RewardAmounts, err = decodeDecimals(rewards); err != nil {
			return nil, err
		}
		if ts != nil {
			r.Timestamp = ts.UTC()
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func decimalStrings(ds []decimal.Decimal) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func decodeDecimals(doc []byte) ([]decimal.Decimal, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal(doc, &ss); err != nil {
		return nil, err
	}
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]decimal.Decimal, len(ss))
	for i, s := range ss {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
