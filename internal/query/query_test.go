package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iwadha/solana-dashboard/internal/model"
	"github.com/iwadha/solana-dashboard/internal/store"
)

const wallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rec(c model.Category, tx, pool string, hours int, x, y string) model.CategoryRecord {
	return model.CategoryRecord{
		Category:      c,
		WalletAddress: wallet,
		PoolAddress:   pool,
		PositionID:    "pos-" + pool,
		TxHash:        tx,
		TokenXAmount:  d(x),
		TokenYAmount:  d(y),
		Timestamp:     base.Add(time.Duration(hours) * time.Hour),
	}
}

// seedWallet stores 10 deposits, 8 withdrawals, 5 fee claims and 2 reward
// claims: 25 transactions spread over two pools.
func seedWallet(t *testing.T) *store.MemoryStore {
	t.Helper()
	w := model.NewWalletRecord(wallet)
	for i := range 10 {
		w.Ledger.Deposits = append(w.Ledger.Deposits,
			rec(model.CategoryDeposit, fmt.Sprintf("dep%02d", i), "P1", i, "1", "2"))
	}
	for i := range 8 {
		w.Ledger.Withdrawals = append(w.Ledger.Withdrawals,
			rec(model.CategoryWithdrawal, fmt.Sprintf("wd%02d", i), "P2", 100+i, "3", "0"))
	}
	for i := range 5 {
		w.Ledger.FeeClaims = append(w.Ledger.FeeClaims,
			rec(model.CategoryFeeClaim, fmt.Sprintf("fee%02d", i), "P1", 200+i, "0.1", "0.2"))
	}
	for i := range 2 {
		r := rec(model.CategoryRewardClaim, fmt.Sprintf("rw%02d", i), "P2", 300+i, "0", "0")
		r.RewardAmounts = []decimal.Decimal{d("1.5"), d("2.5")}
		w.Ledger.RewardClaims = append(w.Ledger.RewardClaims, r)
	}

	st := store.NewMemoryStore()
	require.NoError(t, st.PutWallet(context.Background(), w))
	return st
}

func TestListTransactionsPagination(t *testing.T) {
	e := New(seedWallet(t))

	page, err := e.ListTransactions(context.Background(), wallet, Filter{Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Len(t, page.Items, 5)

	page, err = e.ListTransactions(context.Background(), wallet, Filter{Limit: 10, Offset: 30})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Empty(t, page.Items)
}

func TestListTransactionsDefaults(t *testing.T) {
	e := New(seedWallet(t))

	page, err := e.ListTransactions(context.Background(), wallet, Filter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.Len(t, page.Items, 25)
}

func TestListTransactionsSortedDescending(t *testing.T) {
	e := New(seedWallet(t))

	page, err := e.ListTransactions(context.Background(), wallet, Filter{Type: TypeAll})
	require.NoError(t, err)
	for i := 1; i < len(page.Items); i++ {
		assert.False(t, page.Items[i].Timestamp.After(page.Items[i-1].Timestamp),
			"item %d is newer than item %d", i, i-1)
	}
	assert.Equal(t, "rw01", page.Items[0].TxHash)
}

func TestListTransactionsTiesByTxHash(t *testing.T) {
	w := model.NewWalletRecord(wallet)
	w.Ledger.Deposits = []model.CategoryRecord{
		rec(model.CategoryDeposit, "c", "P1", 1, "1", "1"),
		rec(model.CategoryDeposit, "a", "P1", 1, "1", "1"),
	}
	w.Ledger.Withdrawals = []model.CategoryRecord{
		rec(model.CategoryWithdrawal, "b", "P1", 1, "1", "1"),
	}
	st := store.NewMemoryStore()
	require.NoError(t, st.PutWallet(context.Background(), w))

	page, err := New(st).ListTransactions(context.Background(), wallet, Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, []string{"a", "b", "c"},
		[]string{page.Items[0].TxHash, page.Items[1].TxHash, page.Items[2].TxHash})
}

func TestListTransactionsTypeFilter(t *testing.T) {
	e := New(seedWallet(t))

	page, err := e.ListTransactions(context.Background(), wallet, Filter{Type: "deposit"})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total)
	for _, tx := range page.Items {
		assert.Equal(t, model.CategoryDeposit, tx.Type)
	}
}

func TestListTransactionsPoolFilter(t *testing.T) {
	e := New(seedWallet(t))

	page, err := e.ListTransactions(context.Background(), wallet, Filter{Pool: "P2"})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total) // 8 withdrawals + 2 reward claims
	for _, tx := range page.Items {
		assert.Equal(t, "P2", tx.PoolAddress)
	}
}

func TestListTransactionsDateRangeInclusive(t *testing.T) {
	e := New(seedWallet(t))

	start := base.Add(2 * time.Hour)
	end := base.Add(5 * time.Hour)
	page, err := e.ListTransactions(context.Background(), wallet, Filter{
		Type:      string(model.CategoryDeposit),
		StartDate: &start,
		EndDate:   &end,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total) // hours 2,3,4,5
	assert.Equal(t, "dep05", page.Items[0].TxHash, "timestamp == endDate is included")
	assert.Equal(t, "dep02", page.Items[3].TxHash, "timestamp == startDate is included")
}

func TestListTransactionsDisplayAmount(t *testing.T) {
	e := New(seedWallet(t))

	page, err := e.ListTransactions(context.Background(), wallet, Filter{Type: string(model.CategoryRewardClaim)})
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	assert.True(t, d("4").Equal(page.Items[0].Amount), "reward amount = %s", page.Items[0].Amount)

	page, err = e.ListTransactions(context.Background(), wallet, Filter{Type: string(model.CategoryDeposit), Limit: 1})
	require.NoError(t, err)
	assert.True(t, d("3").Equal(page.Items[0].Amount), "deposit amount = %s", page.Items[0].Amount)
}

func TestListTransactionsDoesNotMutateStore(t *testing.T) {
	st := seedWallet(t)
	e := New(st)
	before, err := st.GetWallet(context.Background(), wallet)
	require.NoError(t, err)

	_, err = e.ListTransactions(context.Background(), wallet, Filter{Limit: 3})
	require.NoError(t, err)

	after, err := st.GetWallet(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, st.WriteCount())
}

func TestListTransactionsInvalidFilter(t *testing.T) {
	e := New(seedWallet(t))
	start := base.Add(time.Hour)
	end := base

	tests := []Filter{
		{Type: "swap"},
		{Limit: -1},
		{Offset: -5},
		{Limit: MaxLimit + 1},
		{StartDate: &start, EndDate: &end},
	}
	for _, f := range tests {
		_, err := e.ListTransactions(context.Background(), wallet, f)
		assert.ErrorIs(t, err, model.ErrInvalidInput, "%+v", f)
	}
}

func TestListTransactionsUnknownWallet(t *testing.T) {
	e := New(store.NewMemoryStore())

	page, err := e.ListTransactions(context.Background(), "nobody", Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Items)
}

func TestGetTransaction(t *testing.T) {
	st := seedWallet(t)
	e := New(st)

	tx, err := e.GetTransaction(context.Background(), wallet, "wd03")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryWithdrawal, tx.Type)

	_, err = e.GetTransaction(context.Background(), wallet, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetTransactionFallbackID(t *testing.T) {
	w := model.NewWalletRecord(wallet)
	noHash := rec(model.CategoryFeeClaim, "", "P1", 7, "1", "1")
	w.Ledger.FeeClaims = []model.CategoryRecord{noHash}
	st := store.NewMemoryStore()
	require.NoError(t, st.PutWallet(context.Background(), w))

	id := fmt.Sprintf("feeClaim:pos-P1:%d:1:1", noHash.Timestamp.Unix())
	tx, err := New(st).GetTransaction(context.Background(), wallet, id)
	require.NoError(t, err)
	assert.Equal(t, id, tx.ID)
}

func TestDashboard(t *testing.T) {
	st := seedWallet(t)
	ctx := context.Background()
	w, err := st.GetWallet(ctx, wallet)
	require.NoError(t, err)
	w.Positions = []model.Position{
		{PositionID: "pos-P1", WalletAddress: wallet, PoolAddress: "P1", LowerBin: -3, UpperBin: 3},
		{PositionID: "pos-P9", WalletAddress: wallet, PoolAddress: "P9"},
	}
	require.NoError(t, st.PutWallet(ctx, w))
	require.NoError(t, st.UpsertPool(ctx, model.Pool{PoolAddress: "P1", TokenXMint: "X", TokenYMint: "Y", BinStep: 10}))

	dash, err := New(st).Dashboard(ctx, wallet)
	require.NoError(t, err)
	assert.Len(t, dash.Deposits, 10)
	assert.Len(t, dash.Withdrawals, 8)
	assert.Len(t, dash.FeeClaims, 5)
	assert.Len(t, dash.RewardClaims, 2)
	require.Len(t, dash.Positions, 2)
	require.NotNil(t, dash.Positions[0].Pool)
	assert.Equal(t, int32(10), dash.Positions[0].Pool.BinStep)
	assert.Nil(t, dash.Positions[1].Pool)
	assert.Equal(t, "dep09", dash.Deposits[0].TxHash)

	_, err = New(st).Dashboard(ctx, "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStats(t *testing.T) {
	e := New(seedWallet(t))

	st, err := e.Stats(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, 25, st.Total)
	assert.Equal(t, 10, st.ByType[model.CategoryDeposit])
	assert.Equal(t, 8, st.ByType[model.CategoryWithdrawal])
	assert.Equal(t, 5, st.ByType[model.CategoryFeeClaim])
	assert.Equal(t, 2, st.ByType[model.CategoryRewardClaim])
	require.NotNil(t, st.LastTransaction)
	assert.Equal(t, "rw01", st.LastTransaction.TxHash)
	assert.Equal(t, "P1", st.TopPool) // 15 vs 10
	assert.Equal(t, 15, st.TopPoolCount)
}
