// Package aggregator reconciles upstream liquidity data into the stored
// wallet aggregate and the normalized ledger tables.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/iwadha/solana-dashboard/internal/lock"
	"github.com/iwadha/solana-dashboard/internal/metrics"
	"github.com/iwadha/solana-dashboard/internal/model"
	"github.com/iwadha/solana-dashboard/internal/normalize"
	"github.com/iwadha/solana-dashboard/internal/provider"
	"github.com/iwadha/solana-dashboard/internal/store"
)

// sections lists every synced category in commit order.
var sections = append([]string{SectionBalance, SectionPositions},
	lo.Map(model.LedgerCategories, func(c model.Category, _ int) string { return string(c) })...)

// Notifier is told about every finished sync.
type Notifier interface {
	WalletSynced(result SyncResult)
}

// Options tune a sync.
type Options struct {
	// CategoryTimeout bounds each upstream fetch. A timeout is reported as
	// unavailable.
	CategoryTimeout time.Duration

	// DeriveUnavailable fills unavailable fee and reward claim categories
	// from cumulative position totals.
	DeriveUnavailable bool

	// PoolConcurrency bounds parallel pool-detail lookups.
	PoolConcurrency int

	Now func() time.Time
}

// Aggregator syncs wallets. Safe for concurrent use; syncs of the same
// wallet are serialized by the Locker.
type Aggregator struct {
	provider provider.Client
	store    store.Store
	locker   lock.Locker
	opts     Options
	notifier Notifier
}

// New creates an aggregator.
func New(p provider.Client, s store.Store, l lock.Locker, opts Options) *Aggregator {
	if opts.CategoryTimeout <= 0 {
		opts.CategoryTimeout = 20 * time.Second
	}
	if opts.PoolConcurrency <= 0 {
		opts.PoolConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{provider: p, store: s, locker: l, opts: opts}
}

// SetNotifier registers n to receive sync results.
func (a *Aggregator) SetNotifier(n Notifier) {
	a.notifier = n
}

type balanceSnapshot struct {
	SOL    decimal.Decimal
	Tokens []json.RawMessage
}

type fetchResult struct {
	status    Status
	err       error
	balance   *balanceSnapshot
	positions []model.Position
	records   []model.CategoryRecord
}

func (f *fetchResult) count() int {
	switch {
	case f.balance != nil:
		return len(f.balance.Tokens)
	case f.positions != nil:
		return len(f.positions)
	}
	return len(f.records)
}

// SyncWallet fetches every category for address and merges the successful
// ones into the stored aggregate. Category failures are reported in the
// result; the returned error is reserved for invalid input and for failing
// to acquire the wallet lock.
func (a *Aggregator) SyncWallet(ctx context.Context, address string) (SyncResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return SyncResult{}, model.InvalidInputf("wallet address is required")
	}

	res := SyncResult{
		SyncID:    uuid.NewString(),
		Wallet:    address,
		StartedAt: a.now(),
	}
	log := slog.With("sync_id", res.SyncID, "wallet", address)
	start := time.Now()
	metrics.SyncsTotal.Inc()

	fetched := a.fetchAll(ctx, log, address)
	if a.opts.DeriveUnavailable {
		a.deriveMissing(address, fetched)
	}
	a.refreshPools(ctx, log, fetched[SectionPositions].positions)

	categories, err := a.commitAll(ctx, log, address, fetched)
	if err != nil {
		return res, err
	}
	res.Categories = categories

	res.FinishedAt = a.now()
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	for _, c := range res.Categories {
		metrics.SyncCategoryOutcomes.WithLabelValues(c.Category, string(c.Status)).Inc()
	}
	log.Info("wallet synced", "duration", time.Since(start), "categories", summarize(res.Categories))

	if a.notifier != nil {
		a.notifier.WalletSynced(res)
	}
	return res, nil
}

// fetchAll runs every category fetch in parallel, each under its own
// timeout. It never fails as a whole.
func (a *Aggregator) fetchAll(ctx context.Context, log *slog.Logger, address string) map[string]*fetchResult {
	results := make(map[string]*fetchResult, len(sections))
	for _, sec := range sections {
		results[sec] = &fetchResult{}
	}

	var g errgroup.Group
	for _, sec := range sections {
		r := results[sec]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, a.opts.CategoryTimeout)
			defer cancel()

			err := a.fetch(cctx, log, address, sec, r)
			r.status = classify(ctx, err)
			r.err = err
			if err != nil {
				log.Warn("category fetch failed", "category", sec, "status", r.status, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Aggregator) fetch(ctx context.Context, log *slog.Logger, address, sec string, r *fetchResult) error {
	switch sec {
	case SectionBalance:
		bal, err := a.provider.Balance(ctx, address)
		if err != nil {
			return err
		}
		sol := decimal.Zero
		if s := bal.SOL.String(); s != "" {
			if sol, err = decimal.NewFromString(s); err != nil {
				return fmt.Errorf("parsing SOL balance %q: %w", s, err)
			}
		}
		tokens := bal.Tokens
		if tokens == nil {
			tokens = []json.RawMessage{}
		}
		r.balance = &balanceSnapshot{SOL: sol, Tokens: tokens}

	case SectionPositions:
		set, err := a.provider.Positions(ctx, address)
		if err != nil {
			return err
		}
		positions, err := normalize.Positions(address, set)
		if err != nil {
			if len(positions) == 0 {
				return fmt.Errorf("no usable positions: %w: %w", model.ErrUpstreamTransient, err)
			}
			log.Warn("dropped malformed positions", "kept", len(positions), "err", err)
		}
		r.positions = positions

	default:
		category := model.Category(sec)
		raws, err := a.provider.Records(ctx, address, category)
		if err != nil {
			return err
		}
		records, err := normalize.Records(address, category, raws)
		if err != nil {
			if errors.Is(err, model.ErrInvalidInput) && records == nil {
				return err
			}
			// An empty batch would replace the stored list.
			if len(records) == 0 {
				return fmt.Errorf("no usable %s records: %w: %w", category, model.ErrUpstreamTransient, err)
			}
			log.Warn("dropped malformed records", "category", sec, "kept", len(records), "err", err)
		}
		r.records = records
	}
	return nil
}

// classify maps a fetch error to a category status. A per-category
// deadline counts as unavailability; cancellation of the whole sync does
// not.
func classify(parent context.Context, err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return StatusUnavailable
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return StatusUnavailable
	}
	return StatusFailed
}

// deriveMissing replaces unavailable claim categories with records derived
// from the freshly fetched positions.
func (a *Aggregator) deriveMissing(address string, fetched map[string]*fetchResult) {
	pos := fetched[SectionPositions]
	if pos.status != StatusOK {
		return
	}

	derive := map[model.Category]func(string, []model.Position) []model.CategoryRecord{
		model.CategoryFeeClaim:    normalize.DeriveFeeClaims,
		model.CategoryRewardClaim: normalize.DeriveRewardClaims,
	}
	for category, fn := range derive {
		r := fetched[string(category)]
		if r.status != StatusUnavailable {
			continue
		}
		r.records = fn(address, pos.positions)
		r.status = StatusDerived
	}
}

// refreshPools stores metadata for pools not seen before. Failures are
// logged only; pool rows are shared reference data.
func (a *Aggregator) refreshPools(ctx context.Context, log *slog.Logger, positions []model.Position) {
	pools := lo.Uniq(lo.Map(positions, func(p model.Position, _ int) string { return p.PoolAddress }))
	if len(pools) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.PoolConcurrency)
	for _, addr := range pools {
		g.Go(func() error {
			_, err := a.store.GetPool(gctx, addr)
			if err == nil {
				return nil
			}
			if !errors.Is(err, model.ErrNotFound) {
				log.Warn("pool lookup failed", "pool", addr, "err", err)
				return nil
			}

			cctx, cancel := context.WithTimeout(gctx, a.opts.CategoryTimeout)
			defer cancel()
			info, err := a.provider.PoolDetails(cctx, addr)
			if err != nil {
				log.Warn("pool details unavailable", "pool", addr, "err", err)
				return nil
			}
			pool := model.Pool{
				PoolAddress: addr,
				TokenXMint:  info.TokenXMint,
				TokenYMint:  info.TokenYMint,
				BinStep:     info.BinStep,
				UpdatedAt:   a.now(),
			}
			if err := a.store.UpsertPool(gctx, pool); err != nil {
				log.Warn("storing pool failed", "pool", addr, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// commitAll commits every section while holding the wallet lock.
func (a *Aggregator) commitAll(ctx context.Context, log *slog.Logger, address string, fetched map[string]*fetchResult) ([]CategoryResult, error) {
	unlock, err := a.locker.Lock(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("locking wallet %s: %w", address, err)
	}
	defer unlock()

	categories := make([]CategoryResult, 0, len(sections))
	for _, sec := range sections {
		categories = append(categories, a.commitSection(ctx, log, address, sec, fetched[sec]))
	}
	return categories, nil
}

// commitSection merges one fetched category into the stored aggregate.
// Each category re-reads the aggregate so an earlier category's commit is
// never overwritten by a stale copy.
func (a *Aggregator) commitSection(ctx context.Context, log *slog.Logger, address, sec string, f *fetchResult) CategoryResult {
	cr := CategoryResult{Category: sec, Status: f.status, Count: f.count(), err: f.err}
	if f.err != nil {
		cr.Error = f.err.Error()
	}
	if f.status != StatusOK && f.status != StatusDerived {
		cr.Count = 0
		return cr
	}

	changed, err := a.commit(ctx, log, address, sec, f)
	if err != nil {
		cr.Status = StatusStoreFailed
		cr.err = fmt.Errorf("%w: %w", model.ErrStoreWrite, err)
		cr.Error = cr.err.Error()
		log.Error("category commit failed", "category", sec, "err", err)
		return cr
	}
	cr.Changed = changed
	return cr
}

func (a *Aggregator) commit(ctx context.Context, log *slog.Logger, address, sec string, f *fetchResult) (bool, error) {
	current, err := store.Authoritative(a.store).GetWallet(ctx, address)
	created := errors.Is(err, model.ErrNotFound)
	switch {
	case created:
		current = model.NewWalletRecord(address)
	case err != nil:
		return false, fmt.Errorf("reading wallet: %w", err)
	}
	merged := current.Clone()

	var before, after any
	var records []model.CategoryRecord
	switch sec {
	case SectionBalance:
		merged.SOLBalance = f.balance.SOL
		merged.TokenBalances = f.balance.Tokens
		before = []any{current.SOLBalance, current.TokenBalances}
		after = []any{merged.SOLBalance, merged.TokenBalances}

	case SectionPositions:
		merged.Positions = mergePositions(log, current.Positions, f.positions)
		before, after = current.Positions, merged.Positions

	default:
		category := model.Category(sec)
		records = f.records
		if f.status == StatusDerived {
			records = withDerived(current.Ledger.Records(category), records)
		}
		merged.Ledger.Replace(category, records)
		before, after = current.Ledger.Records(category), merged.Ledger.Records(category)
	}

	if !created && sameJSON(before, after) {
		metrics.StoreWritesSkipped.WithLabelValues(sec).Inc()
		return false, nil
	}

	// Keyed table rows go first; the aggregate write marks the category
	// committed, so a failure here is retried in full by the next sync.
	switch sec {
	case SectionPositions:
		if err := a.store.UpsertPositions(ctx, merged.Positions); err != nil {
			return false, err
		}
	case SectionBalance:
	default:
		if err := a.store.UpsertRecords(ctx, records); err != nil {
			return false, err
		}
	}

	merged.UpdatedAt = a.now()
	if err := a.store.PutWallet(ctx, merged); err != nil {
		return false, err
	}
	return true, nil
}

// mergePositions replaces the stored set with fresh, keeping claimed-fee
// totals non-decreasing per position.
func mergePositions(log *slog.Logger, stored, fresh []model.Position) []model.Position {
	prev := lo.KeyBy(stored, func(p model.Position) string { return p.PositionID })

	out := make([]model.Position, 0, len(fresh))
	for _, p := range fresh {
		if old, ok := prev[p.PositionID]; ok {
			if p.ClaimedFeeX.LessThan(old.ClaimedFeeX) || p.ClaimedFeeY.LessThan(old.ClaimedFeeY) {
				log.Warn("claimed fees decreased upstream, keeping stored totals",
					"position", p.PositionID,
					"stored_x", old.ClaimedFeeX, "fetched_x", p.ClaimedFeeX,
					"stored_y", old.ClaimedFeeY, "fetched_y", p.ClaimedFeeY)
			}
			p.ClaimedFeeX = decimal.Max(p.ClaimedFeeX, old.ClaimedFeeX)
			p.ClaimedFeeY = decimal.Max(p.ClaimedFeeY, old.ClaimedFeeY)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// withDerived keeps every real record and swaps the derived ones.
func withDerived(stored, derived []model.CategoryRecord) []model.CategoryRecord {
	out := lo.Filter(stored, func(r model.CategoryRecord, _ int) bool { return !r.Derived })
	out = append(out, derived...)
	normalize.SortRecords(out)
	return out
}

// sameJSON compares a and b as JSON documents: object key order and
// whitespace are ignored, and a top-level empty list equals null. Stored
// token entries come back from jsonb with their keys reordered.
func sameJSON(a, b any) bool {
	ja, errA := canonicalJSON(a)
	jb, errB := canonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if list, ok := doc.([]any); ok && len(list) == 0 {
		doc = nil
	}
	return json.Marshal(doc)
}

func summarize(cs []CategoryResult) map[string]string {
	return lo.SliceToMap(cs, func(c CategoryResult) (string, string) { return c.Category, string(c.Status) })
}

func (a *Aggregator) now() time.Time {
	return a.opts.Now().UTC()
}
