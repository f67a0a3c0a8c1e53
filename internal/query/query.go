// Package query serves read-only views of the stored wallet aggregate:
// the flattened transaction stream, single-transaction lookup, the
// dashboard and per-wallet statistics.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/iwadha/solana-dashboard/internal/model"
	"github.com/iwadha/solana-dashboard/internal/store"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	// TypeAll selects every ledger category.
	TypeAll = "all"
)

// Filter narrows ListTransactions. Zero values mean "no constraint",
// except Limit which defaults to DefaultLimit.
type Filter struct {
	Type      string
	StartDate *time.Time // inclusive
	EndDate   *time.Time // inclusive
	Pool      string
	Limit     int
	Offset    int
}

// Validate checks f and fills defaults.
func (f *Filter) Validate() error {
	if f.Type == "" {
		f.Type = TypeAll
	}
	if f.Type != TypeAll && !model.Category(f.Type).Valid() {
		return model.InvalidInputf("unknown transaction type %q", f.Type)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return model.InvalidInputf("limit and offset must be non-negative")
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		return model.InvalidInputf("limit %d exceeds maximum %d", f.Limit, MaxLimit)
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return model.InvalidInputf("startDate is after endDate")
	}
	return nil
}

// Transaction is a ledger record prepared for display.
type Transaction struct {
	ID            string            `json:"id"`
	Type          model.Category    `json:"type"`
	TxHash        string            `json:"tx_hash"`
	PoolAddress   string            `json:"pool_address"`
	PositionID    string            `json:"position_id"`
	TokenXAmount  decimal.Decimal   `json:"token_x_amount"`
	TokenYAmount  decimal.Decimal   `json:"token_y_amount"`
	RewardAmounts []decimal.Decimal `json:"reward_amounts,omitempty"`
	Amount        decimal.Decimal   `json:"amount"` // X+Y, or the reward sum for reward claims
	Timestamp     time.Time         `json:"timestamp"`
	Derived       bool              `json:"derived,omitempty"`
}

// Page is one slice of the filtered transaction stream.
type Page struct {
	Items  []Transaction `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Engine answers read queries. It holds no state between calls.
type Engine struct {
	store store.Store
}

// New creates a query engine over s.
func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// ListTransactions flattens the selected categories, filters, sorts by
// timestamp descending (ties by id ascending) and paginates. Total counts
// the filtered stream before pagination. A wallet never synced yields an
// empty page.
func (e *Engine) ListTransactions(ctx context.Context, address string, f Filter) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}

	w, err := e.wallet(ctx, address)
	if errors.Is(err, model.ErrNotFound) {
		return Page{Items: []Transaction{}, Limit: f.Limit, Offset: f.Offset}, nil
	}
	if err != nil {
		return Page{}, err
	}

	categories := model.LedgerCategories
	if f.Type != TypeAll {
		categories = []model.Category{model.Category(f.Type)}
	}

	txs := lo.Filter(flatten(&w.Ledger, categories), func(t Transaction, _ int) bool {
		return f.matches(t)
	})
	sortTransactions(txs)

	page := Page{Total: len(txs), Limit: f.Limit, Offset: f.Offset, Items: []Transaction{}}
	if f.Offset < len(txs) {
		end := min(f.Offset+f.Limit, len(txs))
		page.Items = txs[f.Offset:end]
	}
	return page, nil
}

func (f Filter) matches(t Transaction) bool {
	if f.Pool != "" && t.PoolAddress != f.Pool {
		return false
	}
	if f.StartDate != nil && t.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && t.Timestamp.After(*f.EndDate) {
		return false
	}
	return true
}

// GetTransaction finds a record by tx hash or by its fallback identity
// across every category.
func (e *Engine) GetTransaction(ctx context.Context, address, id string) (Transaction, error) {
	if id == "" {
		return Transaction{}, model.InvalidInputf("transaction id is required")
	}
	w, err := e.wallet(ctx, address)
	if err != nil {
		return Transaction{}, err
	}

	for _, c := range model.LedgerCategories {
		for _, r := range w.Ledger.Records(c) {
			r.Category = c
			if r.TxHash == id || r.FallbackID() == id {
				return toTransaction(r), nil
			}
		}
	}
	return Transaction{}, fmt.Errorf("transaction %s: %w", id, model.ErrNotFound)
}

// PositionView is a position joined with its pool metadata when known.
type PositionView struct {
	model.Position
	Pool *model.Pool `json:"pool,omitempty"`
}

// Positions returns the stored position snapshot with pool metadata.
func (e *Engine) Positions(ctx context.Context, address string) ([]PositionView, error) {
	w, err := e.wallet(ctx, address)
	if err != nil {
		return nil, err
	}
	return e.positionViews(ctx, w.Positions)
}

func (e *Engine) positionViews(ctx context.Context, positions []model.Position) ([]PositionView, error) {
	pools := make(map[string]*model.Pool)
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		pool, seen := pools[p.PoolAddress]
		if !seen {
			got, err := e.store.GetPool(ctx, p.PoolAddress)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			pool = got
			pools[p.PoolAddress] = got
		}
		views = append(views, PositionView{Position: p, Pool: pool})
	}
	return views, nil
}

// Dashboard is the full stored picture of one wallet.
type Dashboard struct {
	Wallet        string            `json:"wallet"`
	SOLBalance    decimal.Decimal   `json:"sol_balance"`
	TokenBalances []json.RawMessage `json:"token_balances"`
	Positions     []PositionView    `json:"positions"`
	Deposits      []Transaction     `json:"deposits"`
	Withdrawals   []Transaction     `json:"withdrawals"`
	FeeClaims     []Transaction     `json:"fee_claims"`
	RewardClaims  []Transaction     `json:"reward_claims"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Dashboard renders whatever is stored for address.
func (e *Engine) Dashboard(ctx context.Context, address string) (Dashboard, error) {
	w, err := e.wallet(ctx, address)
	if err != nil {
		return Dashboard{}, err
	}
	positions, err := e.positionViews(ctx, w.Positions)
	if err != nil {
		return Dashboard{}, err
	}

	list := func(c model.Category) []Transaction {
		txs := flatten(&w.Ledger, []model.Category{c})
		sortTransactions(txs)
		return txs
	}
	return Dashboard{
		Wallet:        w.Address,
		SOLBalance:    w.SOLBalance,
		TokenBalances: w.TokenBalances,
		Positions:     positions,
		Deposits:      list(model.CategoryDeposit),
		Withdrawals:   list(model.CategoryWithdrawal),
		FeeClaims:     list(model.CategoryFeeClaim),
		RewardClaims:  list(model.CategoryRewardClaim),
		UpdatedAt:     w.UpdatedAt,
	}, nil
}

// Stats summarizes a wallet's ledger.
type Stats struct {
	Total           int                    `json:"total"`
	ByType          map[model.Category]int `json:"by_type"`
	LastTransaction *Transaction           `json:"last_transaction,omitempty"`
	TopPool         string                 `json:"top_pool,omitempty"`
	TopPoolCount    int                    `json:"top_pool_count"`
	Derived         int                    `json:"derived"`
}

// Stats counts transactions per type and finds the most recent one and
// the pool with the most activity (ties go to the smaller address).
func (e *Engine) Stats(ctx context.Context, address string) (Stats, error) {
	w, err := e.wallet(ctx, address)
	if err != nil {
		return Stats{}, err
	}

	txs := flatten(&w.Ledger, model.LedgerCategories)
	sortTransactions(txs)

	st := Stats{Total: len(txs), ByType: make(map[model.Category]int, len(model.LedgerCategories))}
	for _, c := range model.LedgerCategories {
		st.ByType[c] = 0
	}
	perPool := make(map[string]int)
	for _, t := range txs {
		st.ByType[t.Type]++
		if t.Derived {
			st.Derived++
		}
		if t.PoolAddress != "" {
			perPool[t.PoolAddress]++
		}
	}
	if len(txs) > 0 {
		last := txs[0]
		st.LastTransaction = &last
	}
	for pool, n := range perPool {
		if n > st.TopPoolCount || (n == st.TopPoolCount && pool < st.TopPool) {
			st.TopPool, st.TopPoolCount = pool, n
		}
	}
	return st, nil
}

func (e *Engine) wallet(ctx context.Context, address string) (*model.WalletRecord, error) {
	if address == "" {
		return nil, model.InvalidInputf("wallet address is required")
	}
	return e.store.GetWallet(ctx, address)
}

func flatten(l *model.Ledger, categories []model.Category) []Transaction {
	var txs []Transaction
	for _, c := range categories {
		for _, r := range l.Records(c) {
			r.Category = c
			txs = append(txs, toTransaction(r))
		}
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return txs
}

func toTransaction(r model.CategoryRecord) Transaction {
	amount := r.TokenXAmount.Add(r.TokenYAmount)
	if r.Category == model.CategoryRewardClaim {
		amount = lo.Reduce(r.RewardAmounts, func(acc decimal.Decimal, d decimal.Decimal, _ int) decimal.Decimal {
			return acc.Add(d)
		}, decimal.Zero)
	}
	return Transaction{
		ID:            r.ID(),
		Type:          r.Category,
		TxHash:        r.TxHash,
		PoolAddress:   r.PoolAddress,
		PositionID:    r.PositionID,
		TokenXAmount:  r.TokenXAmount,
		TokenYAmount:  r.TokenYAmount,
		RewardAmounts: r.RewardAmounts,
		Amount:        amount,
		Timestamp:     r.Timestamp,
		Derived:       r.Derived,
	}
}

func sortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].ID < txs[j].ID
	})
}
