// Package model defines the core domain types shared across the dashboard
// backend. All token amounts use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerSchemaVersion is bumped whenever the stored Ledger layout changes.
const LedgerSchemaVersion = 1

// DerivedTxPrefix namespaces synthetic transaction hashes. Real Solana
// signatures are base58 and can never contain ':'.
const DerivedTxPrefix = "derived:"

// Category is a ledger category: one class of wallet-level event.
type Category string

const (
	CategoryDeposit     Category = "deposit"
	CategoryWithdrawal  Category = "withdrawal"
	CategoryFeeClaim    Category = "feeClaim"
	CategoryRewardClaim Category = "rewardClaim"
)

// LedgerCategories lists the four ledger categories in canonical order.
var LedgerCategories = []Category{
	CategoryDeposit,
	CategoryWithdrawal,
	CategoryFeeClaim,
	CategoryRewardClaim,
}

// Valid reports whether c is one of the four ledger categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryDeposit, CategoryWithdrawal, CategoryFeeClaim, CategoryRewardClaim:
		return true
	}
	return false
}

// Position is a liquidity-provision stake in a bin range of one pool.
// Positions are a snapshot: each sync replaces the whole set.
type Position struct {
	PositionID      string            `json:"position_id"`
	WalletAddress   string            `json:"wallet_address"`
	PoolAddress     string            `json:"pool_address"`
	LowerBin        int32             `json:"lower_bin"`
	UpperBin        int32             `json:"upper_bin"`
	LiquidityShares decimal.Decimal   `json:"liquidity_shares"`
	ClaimedFeeX     decimal.Decimal   `json:"claimed_fee_x"`
	ClaimedFeeY     decimal.Decimal   `json:"claimed_fee_y"`
	ClaimedRewards  []decimal.Decimal `json:"claimed_rewards,omitempty"` // v1 only
	Variant         string            `json:"variant"`                   // "v1" or "v2"
	IDDerived       bool              `json:"id_derived,omitempty"`
	LastUpdatedAt   time.Time         `json:"last_updated_at"`
}

// CategoryRecord is one normalized ledger event. (WalletAddress, TxHash)
// is the idempotency key.
type CategoryRecord struct {
	Category      Category          `json:"category"`
	WalletAddress string            `json:"wallet_address"`
	PoolAddress   string            `json:"pool_address"`
	PositionID    string            `json:"position_id"`
	TxHash        string            `json:"tx_hash"`
	TokenXAmount  decimal.Decimal   `json:"token_x_amount"`
	TokenYAmount  decimal.Decimal   `json:"token_y_amount"`
	RewardAmounts []decimal.Decimal `json:"reward_amounts,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Derived       bool              `json:"derived,omitempty"`
}

// FallbackID is the synthetic identity used to look a record up when it
// carries no transaction hash. Amounts are part of the key so two events
// on one position within the same second stay distinct; only events that
// match in every field collapse.
func (r CategoryRecord) FallbackID() string {
	id := fmt.Sprintf("%s:%s:%d:%s:%s", r.Category, r.PositionID, r.Timestamp.Unix(),
		r.TokenXAmount.String(), r.TokenYAmount.String())
	if len(r.RewardAmounts) > 0 {
		rewards := make([]string, len(r.RewardAmounts))
		for i, d := range r.RewardAmounts {
			rewards[i] = d.String()
		}
		id += ":" + strings.Join(rewards, ",")
	}
	return id
}

// ID returns TxHash when present, otherwise FallbackID.
func (r CategoryRecord) ID() string {
	if r.TxHash != "" {
		return r.TxHash
	}
	return r.FallbackID()
}

// Ledger holds the four known category lists of a wallet.
type Ledger struct {
	SchemaVersion int              `json:"schema_version"`
	Deposits      []CategoryRecord `json:"deposits"`
	Withdrawals   []CategoryRecord `json:"withdrawals"`
	FeeClaims     []CategoryRecord `json:"fee_claims"`
	RewardClaims  []CategoryRecord `json:"reward_claims"`
}

// Records returns the list stored for category c.
func (l *Ledger) Records(c Category) []CategoryRecord {
	switch c {
	case CategoryDeposit:
		return l.Deposits
	case CategoryWithdrawal:
		return l.Withdrawals
	case CategoryFeeClaim:
		return l.FeeClaims
	case CategoryRewardClaim:
		return l.RewardClaims
	}
	return nil
}

// Replace swaps the list for category c, leaving the other lists untouched.
func (l *Ledger) Replace(c Category, records []CategoryRecord) {
	if records == nil {
		records = []CategoryRecord{}
	}
	switch c {
	case CategoryDeposit:
		l.Deposits = records
	case CategoryWithdrawal:
		l.Withdrawals = records
	case CategoryFeeClaim:
		l.FeeClaims = records
	case CategoryRewardClaim:
		l.RewardClaims = records
	}
}

// Pool is a trading pair's liquidity venue. Pools are shared across wallets.
type Pool struct {
	PoolAddress string    `json:"pool_address"`
	TokenXMint  string    `json:"token_x_mint"`
	TokenYMint  string    `json:"token_y_mint"`
	BinStep     int32     `json:"bin_step"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WalletRecord is the durable per-wallet aggregate.
type WalletRecord struct {
	Address       string            `json:"address"`
	SOLBalance    decimal.Decimal   `json:"sol_balance"`
	TokenBalances []json.RawMessage `json:"token_balances"`
	Positions     []Position        `json:"positions"`
	Ledger        Ledger            `json:"ledger"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewWalletRecord returns an empty aggregate for address.
func NewWalletRecord(address string) *WalletRecord {
	return &WalletRecord{
		Address:       address,
		SOLBalance:    decimal.Zero,
		TokenBalances: []json.RawMessage{},
		Positions:     []Position{},
		Ledger: Ledger{
			SchemaVersion: LedgerSchemaVersion,
			Deposits:      []CategoryRecord{},
			Withdrawals:   []CategoryRecord{},
			FeeClaims:     []CategoryRecord{},
			RewardClaims:  []CategoryRecord{},
		},
	}
}

// Clone returns a deep copy so callers can merge without aliasing stored
// slices.
func (w *WalletRecord) Clone() *WalletRecord {
	c := *w
	c.TokenBalances = make([]json.RawMessage, len(w.TokenBalances))
	for i, tb := range w.TokenBalances {
		c.TokenBalances[i] = append(json.RawMessage(nil), tb...)
	}
	c.Positions = append([]Position{}, w.Positions...)
	c.Ledger.Deposits = append([]CategoryRecord{}, w.Ledger.Deposits...)
	c.Ledger.Withdrawals = append([]CategoryRecord{}, w.Ledger.Withdrawals...)
	c.Ledger.FeeClaims = append([]CategoryRecord{}, w.Ledger.FeeClaims...)
	c.Ledger.RewardClaims = append([]CategoryRecord{}, w.Ledger.RewardClaims...)
	return &c
}
