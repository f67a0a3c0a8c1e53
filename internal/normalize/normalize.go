// Package normalize converts provider-specific record shapes into the
// canonical model types. Every function here is pure: no I/O, no clock.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/iwadha/solana-dashboard/internal/model"
	"github.com/iwadha/solana-dashboard/internal/provider"
)

// positionNamespace seeds derived position ids. Changing it changes every
// derived id ever stored.
var positionNamespace = uuid.MustParse("5b0f3c8e-2f4d-4a57-9c1e-8d7a4e6b1f20")

// PositionID derives a stable id from the pool and bin range for
// positions the provider returns without a pubkey.
func PositionID(pool string, lowerBin, upperBin int32) string {
	name := fmt.Sprintf("%s:%d:%d", pool, lowerBin, upperBin)
	return uuid.NewSHA1(positionNamespace, []byte(name)).String()
}

// Positions merges both upstream variants into one set keyed by position
// id, sorted by id. When an id appears in both variants the most recently
// updated account wins; reward totals from v1 are kept either way.
func Positions(wallet string, set provider.PositionSet) ([]model.Position, error) {
	var errs []error
	byID := make(map[string]model.Position)

	add := func(p model.Position) {
		existing, ok := byID[p.PositionID]
		if !ok {
			byID[p.PositionID] = p
			return
		}
		winner := existing
		if p.LastUpdatedAt.After(existing.LastUpdatedAt) {
			winner = p
		}
		if len(winner.ClaimedRewards) == 0 {
			winner.ClaimedRewards = lo.Ternary(len(p.ClaimedRewards) > 0, p.ClaimedRewards, existing.ClaimedRewards)
		}
		byID[p.PositionID] = winner
	}

	for i, raw := range set.V1 {
		p, err := basePosition(wallet, raw.Pubkey, raw.LbPair, raw.LowerBinID, raw.UpperBinID,
			raw.LiquidityShares, raw.TotalClaimedFeeXAmount, raw.TotalClaimedFeeYAmount, raw.LastUpdatedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("v1 position %d: %w", i, err))
			continue
		}
		p.Variant = "v1"
		p.ClaimedRewards, err = parseAmounts(raw.TotalClaimedRewards)
		if err != nil {
			errs = append(errs, fmt.Errorf("v1 position %s rewards: %w", p.PositionID, err))
			continue
		}
		add(p)
	}
	for i, raw := range set.V2 {
		p, err := basePosition(wallet, raw.Pubkey, raw.LbPair, raw.LowerBinID, raw.UpperBinID,
			raw.LiquidityShares, raw.TotalClaimedFeeXAmount, raw.TotalClaimedFeeYAmount, raw.LastUpdatedAt)
		if err != nil {
			errs = append(errs, fmt.Errorf("v2 position %d: %w", i, err))
			continue
		}
		p.Variant = "v2"
		add(p)
	}

	positions := lo.Values(byID)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].PositionID < positions[j].PositionID
	})
	return positions, errors.Join(errs...)
}

func basePosition(wallet, pubkey, pool string, lower, upper int32,
	shares []json.Number, feeX, feeY json.Number, updated json.RawMessage) (model.Position, error) {
	if pool == "" {
		return model.Position{}, errors.New("missing pool address")
	}
	if lower > upper {
		return model.Position{}, fmt.Errorf("lower bin %d above upper bin %d", lower, upper)
	}

	p := model.Position{
		PositionID:    pubkey,
		WalletAddress: wallet,
		PoolAddress:   pool,
		LowerBin:      lower,
		UpperBin:      upper,
	}
	if p.PositionID == "" {
		p.PositionID = PositionID(pool, lower, upper)
		p.IDDerived = true
	}

	perBin, err := parseAmounts(shares)
	if err != nil {
		return model.Position{}, fmt.Errorf("liquidity shares: %w", err)
	}
	p.LiquidityShares = sumDecimals(perBin)

	if p.ClaimedFeeX, err = parseAmount(feeX); err != nil {
		return model.Position{}, fmt.Errorf("claimed fee x: %w", err)
	}
	if p.ClaimedFeeY, err = parseAmount(feeY); err != nil {
		return model.Position{}, fmt.Errorf("claimed fee y: %w", err)
	}
	if p.LastUpdatedAt, err = ParseTimestamp(updated); err != nil {
		return model.Position{}, fmt.Errorf("last updated: %w", err)
	}
	return p, nil
}

// Records converts raw ledger events of one category. Malformed events are
// dropped and reported in the joined error; the valid ones are still
// returned. Output is deduplicated by transaction id and ordered by
// (timestamp, tx hash) so identical input always yields identical output.
func Records(wallet string, category model.Category, raws []provider.RawRecord) ([]model.CategoryRecord, error) {
	if !category.Valid() {
		return nil, model.InvalidInputf("unknown category %q", category)
	}

	var errs []error
	records := make([]model.CategoryRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := record(wallet, category, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s record %d (%s): %w", category, i, raw.TxHash, err))
			continue
		}
		records = append(records, rec)
	}

	records = lo.UniqBy(records, func(r model.CategoryRecord) string { return r.ID() })
	SortRecords(records)
	return records, errors.Join(errs...)
}

func record(wallet string, category model.Category, raw provider.RawRecord) (model.CategoryRecord, error) {
	if strings.HasPrefix(raw.TxHash, model.DerivedTxPrefix) {
		return model.CategoryRecord{}, fmt.Errorf("tx hash uses reserved prefix %q", model.DerivedTxPrefix)
	}

	rec := model.CategoryRecord{
		Category:      category,
		WalletAddress: wallet,
		PoolAddress:   raw.PoolAddress,
		PositionID:    raw.PositionID,
		TxHash:        raw.TxHash,
	}

	var err error
	if rec.TokenXAmount, err = parseAmount(raw.TokenXAmount); err != nil {
		return rec, fmt.Errorf("token x amount: %w", err)
	}
	if rec.TokenYAmount, err = parseAmount(raw.TokenYAmount); err != nil {
		return rec, fmt.Errorf("token y amount: %w", err)
	}
	if category == model.CategoryRewardClaim {
		if rec.RewardAmounts, err = parseAmounts(raw.RewardAmounts); err != nil {
			return rec, fmt.Errorf("reward amounts: %w", err)
		}
	}
	if rec.Timestamp, err = ParseTimestamp(raw.Timestamp); err != nil {
		return rec, err
	}
	return rec, nil
}

// DeriveFeeClaims builds placeholder fee-claim records from the cumulative
// claimed-fee totals of each position. This reflects current state, not
// claim history: one record per position, stamped with the position's last
// update time, tagged Derived.
func DeriveFeeClaims(wallet string, positions []model.Position) []model.CategoryRecord {
	claimed := lo.Filter(positions, func(p model.Position, _ int) bool {
		return p.ClaimedFeeX.IsPositive() || p.ClaimedFeeY.IsPositive()
	})
	records := lo.Map(claimed, func(p model.Position, _ int) model.CategoryRecord {
		return model.CategoryRecord{
			Category:      model.CategoryFeeClaim,
			WalletAddress: wallet,
			PoolAddress:   p.PoolAddress,
			PositionID:    p.PositionID,
			TxHash:        derivedTxHash(model.CategoryFeeClaim, p.PositionID),
			TokenXAmount:  p.ClaimedFeeX,
			TokenYAmount:  p.ClaimedFeeY,
			Timestamp:     p.LastUpdatedAt,
			Derived:       true,
		}
	})
	SortRecords(records)
	return records
}

// DeriveRewardClaims is the reward counterpart of DeriveFeeClaims. Only v1
// positions carry reward totals.
func DeriveRewardClaims(wallet string, positions []model.Position) []model.CategoryRecord {
	claimed := lo.Filter(positions, func(p model.Position, _ int) bool {
		return lo.SomeBy(p.ClaimedRewards, func(d decimal.Decimal) bool { return d.IsPositive() })
	})
	records := lo.Map(claimed, func(p model.Position, _ int) model.CategoryRecord {
		return model.CategoryRecord{
			Category:      model.CategoryRewardClaim,
			WalletAddress: wallet,
			PoolAddress:   p.PoolAddress,
			PositionID:    p.PositionID,
			TxHash:        derivedTxHash(model.CategoryRewardClaim, p.PositionID),
			TokenXAmount:  decimal.Zero,
			TokenYAmount:  decimal.Zero,
			RewardAmounts: append([]decimal.Decimal(nil), p.ClaimedRewards...),
			Timestamp:     p.LastUpdatedAt,
			Derived:       true,
		}
	})
	SortRecords(records)
	return records
}

func derivedTxHash(category model.Category, positionID string) string {
	return model.DerivedTxPrefix + string(category) + ":" + positionID
}

// SortRecords orders records by timestamp ascending, then tx id.
func SortRecords(records []model.CategoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].ID() < records[j].ID()
	})
}

// ParseTimestamp accepts RFC 3339 text, numeric strings, or JSON numbers
// in unix seconds or milliseconds. Empty and null yield the zero time.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if strings.HasPrefix(s, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, fmt.Errorf("timestamp %s: %w", s, err)
		}
		s = strings.TrimSpace(text)
		if s == "" {
			return time.Time{}, nil
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseAmount(n json.Number) (decimal.Decimal, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}

func parseAmounts(ns []json.Number) ([]decimal.Decimal, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	out := make([]decimal.Decimal, 0, len(ns))
	for _, n := range ns {
		d, err := parseAmount(n)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func sumDecimals(ds []decimal.Decimal) decimal.Decimal {
	return lo.Reduce(ds, func(acc decimal.Decimal, d decimal.Decimal, _ int) decimal.Decimal {
		return acc.Add(d)
	}, decimal.Zero)
}
