package shyft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/iwadha/solana-dashboard/internal/model"
	"github.com/iwadha/solana-dashboard/internal/provider"
)

var _ provider.Client = (*Client)(nil)

// recordPaths maps ledger categories to their REST endpoints.
var recordPaths = map[model.Category]string{
	model.CategoryDeposit:     "/lb/deposits",
	model.CategoryWithdrawal:  "/lb/withdrawals",
	model.CategoryFeeClaim:    "/lb/fees_claimed",
	model.CategoryRewardClaim: "/lb/rewards_claimed",
}

const positionsQuery = `
query WalletPositions($owner: String!) {
  meteora_dlmm_Position(where: { owner: { _eq: $owner } }) {
    pubkey
    lbPair
    owner
    lowerBinId
    upperBinId
    liquidityShares
    totalClaimedFeeXAmount
    totalClaimedFeeYAmount
    totalClaimedRewards
    lastUpdatedAt
  }
  meteora_dlmm_PositionV2(where: { owner: { _eq: $owner } }) {
    pubkey
    lbPair
    owner
    lowerBinId
    upperBinId
    liquidityShares
    totalClaimedFeeXAmount
    totalClaimedFeeYAmount
    lastUpdatedAt
  }
}`

const lbPairQuery = `
query LbPair($pubkey: String!) {
  meteora_dlmm_LbPair(where: { pubkey: { _eq: $pubkey } }) {
    pubkey
    tokenXMint
    tokenYMint
    binStep
  }
}`

// Positions fetches both position account variants owned by wallet.
func (c *Client) Positions(ctx context.Context, wallet string) (provider.PositionSet, error) {
	var data struct {
		V1 []provider.RawPositionV1 `json:"meteora_dlmm_Position"`
		V2 []provider.RawPositionV2 `json:"meteora_dlmm_PositionV2"`
	}
	if err := c.graphql(ctx, "positions", positionsQuery, map[string]any{"owner": wallet}, &data); err != nil {
		return provider.PositionSet{}, fmt.Errorf("fetching positions of %s: %w", wallet, err)
	}
	return provider.PositionSet{V1: data.V1, V2: data.V2}, nil
}

// Records fetches the raw ledger events of one category.
func (c *Client) Records(ctx context.Context, wallet string, category model.Category) ([]provider.RawRecord, error) {
	path, ok := recordPaths[category]
	if !ok {
		return nil, model.InvalidInputf("unknown category %q", category)
	}

	params := url.Values{}
	params.Set("wallet", wallet)

	var records []provider.RawRecord
	if err := c.getJSON(ctx, path, params, &records); err != nil {
		return nil, fmt.Errorf("fetching %s of %s: %w", category, wallet, err)
	}
	return records, nil
}

// PoolDetails looks the pool up through GraphQL and falls back to scanning
// the REST pair list when the account is not indexed.
func (c *Client) PoolDetails(ctx context.Context, pool string) (provider.PoolInfo, error) {
	var data struct {
		Pairs []provider.PoolInfo `json:"meteora_dlmm_LbPair"`
	}
	err := c.graphql(ctx, "lb_pair", lbPairQuery, map[string]any{"pubkey": pool}, &data)
	if err == nil && len(data.Pairs) > 0 {
		return data.Pairs[0], nil
	}
	if err != nil && !errors.Is(err, model.ErrUpstreamUnavailable) {
		return provider.PoolInfo{}, fmt.Errorf("fetching pool %s: %w", pool, err)
	}

	var pairs []provider.PoolInfo
	if err := c.getJSON(ctx, "/lb/pairs", nil, &pairs); err != nil {
		return provider.PoolInfo{}, fmt.Errorf("listing pairs for %s: %w", pool, err)
	}
	for _, p := range pairs {
		if p.Address == pool {
			return p, nil
		}
	}
	return provider.PoolInfo{}, fmt.Errorf("pool %s: %w", pool, model.ErrNotFound)
}

// Balance fetches the native SOL balance and the token list.
func (c *Client) Balance(ctx context.Context, wallet string) (provider.Balance, error) {
	params := url.Values{}
	params.Set("wallet", wallet)

	var native struct {
		Balance json.Number `json:"balance"`
	}
	if err := c.getJSON(ctx, "/wallet/balance", params, &native); err != nil {
		return provider.Balance{}, fmt.Errorf("fetching balance of %s: %w", wallet, err)
	}

	var tokens []json.RawMessage
	if err := c.getJSON(ctx, "/wallet/tokens", params, &tokens); err != nil {
		return provider.Balance{}, fmt.Errorf("fetching tokens of %s: %w", wallet, err)
	}
	return provider.Balance{SOL: native.Balance, Tokens: tokens}, nil
}
