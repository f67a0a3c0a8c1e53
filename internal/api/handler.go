// Package api provides the HTTP handlers for the wallet dashboard: thin
// request/response translation over the query engine and the aggregator.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/iwadha/solana-dashboard/internal/aggregator"
	"github.com/iwadha/solana-dashboard/internal/model"
	"github.com/iwadha/solana-dashboard/internal/query"
)

// Syncer reconciles one wallet against the upstream provider.
type Syncer interface {
	SyncWallet(ctx context.Context, address string) (aggregator.SyncResult, error)
}

// Handler serves the wallet endpoints.
type Handler struct {
	queries *query.Engine
	syncer  Syncer
}

// NewHandler creates the HTTP handler set.
func NewHandler(q *query.Engine, s Syncer) *Handler {
	return &Handler{queries: q, syncer: s}
}

// Routes mounts the wallet endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/wallet/{wallet}", func(r chi.Router) {
		r.Get("/dashboard", h.Dashboard)
		r.Get("/positions", h.Positions)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Get("/stats", h.Stats)
		r.Post("/sync", h.Sync)
	})
}

// Dashboard handles GET /api/v1/wallet/{wallet}/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}
	dash, err := h.queries.Dashboard(r.Context(), addr)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// Positions handles GET /api/v1/wallet/{wallet}/positions
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}
	positions, err := h.queries.Positions(r.Context(), addr)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet":    addr,
		"positions": positions,
		"count":     len(positions),
	})
}

// ListTransactions handles GET /api/v1/wallet/{wallet}/transactions
//
// Query params: type, startDate, endDate, pool, limit, offset.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	page, err := h.queries.ListTransactions(r.Context(), addr, f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetTransaction handles GET /api/v1/wallet/{wallet}/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}
	tx, err := h.queries.GetTransaction(r.Context(), addr, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Stats handles GET /api/v1/wallet/{wallet}/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}
	stats, err := h.queries.Stats(r.Context(), addr)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Sync handles POST /api/v1/wallet/{wallet}/sync. Partial upstream
// failures still return 200; the body reports each category.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	addr, ok := walletParam(w, r)
	if !ok {
		return
	}
	res, err := h.syncer.SyncWallet(r.Context(), addr)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	slog.Info("sync requested", "wallet", addr, "sync_id", res.SyncID)
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func walletParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := strings.TrimSpace(chi.URLParam(r, "wallet"))
	if _, err := solana.PublicKeyFromBase58(addr); err != nil {
		writeError(w, "invalid wallet address: "+addr, http.StatusBadRequest)
		return "", false
	}
	return addr, true
}

const dateOnly = "2006-01-02"

func parseFilter(r *http.Request) (query.Filter, error) {
	q := r.URL.Query()
	f := query.Filter{
		Type: q.Get("type"),
		Pool: q.Get("pool"),
	}

	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, model.InvalidInputf("limit: %v", err)
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, model.InvalidInputf("offset: %v", err)
	}
	if f.StartDate, err = dateParam(q.Get("startDate"), false); err != nil {
		return f, model.InvalidInputf("startDate: %v", err)
	}
	if f.EndDate, err = dateParam(q.Get("endDate"), true); err != nil {
		return f, model.InvalidInputf("endDate: %v", err)
	}
	return f, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// dateParam accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func dateParam(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps the error taxonomy onto HTTP statuses.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, "request timed out", http.StatusGatewayTimeout)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
