// Package provider defines the contract with the upstream blockchain-data
// provider and the raw record shapes it returns. Implementations translate
// tier-gated or missing endpoints into model.ErrUpstreamUnavailable and
// retryable failures into model.ErrUpstreamTransient.
package provider

import (
	"context"
	"encoding/json"

	"github.com/iwadha/solana-dashboard/internal/model"
)

// Client fetches raw liquidity data for one wallet or pool.
type Client interface {
	// Positions returns both upstream position variants owned by wallet.
	Positions(ctx context.Context, wallet string) (PositionSet, error)

	// Records returns raw ledger events of one category.
	Records(ctx context.Context, wallet string, category model.Category) ([]RawRecord, error)

	// PoolDetails returns pool metadata or model.ErrNotFound.
	PoolDetails(ctx context.Context, pool string) (PoolInfo, error)

	// Balance returns the wallet's native and token balances.
	Balance(ctx context.Context, wallet string) (Balance, error)
}

// PositionSet carries both position schemas as returned upstream.
type PositionSet struct {
	V1 []RawPositionV1
	V2 []RawPositionV2
}

// RawPositionV1 is the legacy position account. It carries reward totals.
type RawPositionV1 struct {
	Pubkey                 string          `json:"pubkey"`
	LbPair                 string          `json:"lbPair"`
	Owner                  string          `json:"owner"`
	LowerBinID             int32           `json:"lowerBinId"`
	UpperBinID             int32           `json:"upperBinId"`
	LiquidityShares        []json.Number   `json:"liquidityShares"`
	TotalClaimedFeeXAmount json.Number     `json:"totalClaimedFeeXAmount"`
	TotalClaimedFeeYAmount json.Number     `json:"totalClaimedFeeYAmount"`
	TotalClaimedRewards    []json.Number   `json:"totalClaimedRewards"`
	LastUpdatedAt          json.RawMessage `json:"lastUpdatedAt"`
}

// RawPositionV2 is the current position account. It has no reward totals.
type RawPositionV2 struct {
	Pubkey                 string          `json:"pubkey"`
	LbPair                 string          `json:"lbPair"`
	Owner                  string          `json:"owner"`
	LowerBinID             int32           `json:"lowerBinId"`
	UpperBinID             int32           `json:"upperBinId"`
	LiquidityShares        []json.Number   `json:"liquidityShares"`
	TotalClaimedFeeXAmount json.Number     `json:"totalClaimedFeeXAmount"`
	TotalClaimedFeeYAmount json.Number     `json:"totalClaimedFeeYAmount"`
	LastUpdatedAt          json.RawMessage `json:"lastUpdatedAt"`
}

// RawRecord is a deposit, withdrawal, fee-claim or reward-claim event.
// Amounts arrive as JSON numbers or numeric strings; Timestamp as RFC 3339
// text or unix seconds/milliseconds.
type RawRecord struct {
	PoolAddress   string          `json:"pool_address"`
	PositionID    string          `json:"position_id"`
	TxHash        string          `json:"tx_hash"`
	TokenXAmount  json.Number     `json:"token_x_amount"`
	TokenYAmount  json.Number     `json:"token_y_amount"`
	RewardAmounts []json.Number   `json:"reward_amounts"`
	Timestamp     json.RawMessage `json:"timestamp"`
}

// PoolInfo is upstream pool metadata.
type PoolInfo struct {
	Address    string `json:"pubkey"`
	TokenXMint string `json:"tokenXMint"`
	TokenYMint string `json:"tokenYMint"`
	BinStep    int32  `json:"binStep"`
}

// Balance is a wallet's native balance plus opaque token entries.
type Balance struct {
	SOL    json.Number
	Tokens []json.RawMessage
}
