package shyft

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iwadha/solana-dashboard/internal/model"
)

func newTestClient(url string, retries int) *Client {
	return NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    url,
		GraphQLURL: url + "/graphql",
		Network:    "mainnet-beta",
		MaxRetries: retries,
		BaseDelay:  10 * time.Millisecond,
	})
}

func TestRecordsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lb/deposits" {
			t.Errorf("path = %s, want /lb/deposits", r.URL.Path)
		}
		if got := r.URL.Query().Get("wallet"); got != "W1" {
			t.Errorf("wallet = %q, want W1", got)
		}
		if got := r.URL.Query().Get("network"); got != "mainnet-beta" {
			t.Errorf("network = %q, want mainnet-beta", got)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", got)
		}
		w.Write([]byte(`{"success":true,"message":"ok","result":[
			{"pool_address":"P1","position_id":"pos1","tx_hash":"sig1","token_x_amount":"1.5","token_y_amount":2,"timestamp":"2024-03-01T10:00:00Z"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	recs, err := client.Records(context.Background(), "W1", model.CategoryDeposit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].TxHash != "sig1" || recs[0].TokenXAmount.String() != "1.5" {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestRetryOn429(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"success":true,"result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	if _, err := client.Records(context.Background(), "W1", model.CategoryWithdrawal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestMaxRetriesExceededIsTransient(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	_, err := client.Records(context.Background(), "W1", model.CategoryDeposit)
	if !errors.Is(err, model.ErrUpstreamTransient) {
		t.Fatalf("err = %v, want ErrUpstreamTransient", err)
	}
	if got := attempts.Load(); got != 3 { // initial + 2 retries
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, model.ErrUpstreamAuth},
		{http.StatusPaymentRequired, model.ErrUpstreamUnavailable},
		{http.StatusForbidden, model.ErrUpstreamUnavailable},
		{http.StatusNotFound, model.ErrUpstreamUnavailable},
		{http.StatusNotImplemented, model.ErrUpstreamUnavailable},
		{http.StatusInternalServerError, model.ErrUpstreamTransient},
		{http.StatusBadGateway, model.ErrUpstreamTransient},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := newTestClient(server.URL, 0)
		_, err := client.Records(context.Background(), "W1", model.CategoryFeeClaim)
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		server.Close()
	}
}

func TestUnsuccessfulEnvelopeIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"upgrade your plan"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	_, err := client.Records(context.Background(), "W1", model.CategoryRewardClaim)
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(Config{BaseURL: server.URL, MaxRetries: 5, BaseDelay: time.Second})
	_, err := client.Records(ctx, "W1", model.CategoryDeposit)
	if err == nil {
		t.Fatal("expected error on cancelled context, got nil")
	}
}

func TestPositionsBothVariants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/graphql" {
			t.Errorf("request = %s %s, want POST /graphql", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("api_key = %q, want test-key", got)
		}
		w.Write([]byte(`{"data":{
			"meteora_dlmm_Position":[{"pubkey":"A","lbPair":"P1","lowerBinId":-5,"upperBinId":5,
				"liquidityShares":["10","20"],"totalClaimedFeeXAmount":"3","totalClaimedFeeYAmount":"4",
				"totalClaimedRewards":["1","0"],"lastUpdatedAt":1700000000}],
			"meteora_dlmm_PositionV2":[{"pubkey":"B","lbPair":"P2","lowerBinId":0,"upperBinId":10,
				"liquidityShares":[],"totalClaimedFeeXAmount":0,"totalClaimedFeeYAmount":0,"lastUpdatedAt":"1700000001"}]
		}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	set, err := client.Positions(context.Background(), "W1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.V1) != 1 || len(set.V2) != 1 {
		t.Fatalf("got %d v1 and %d v2 positions, want 1 and 1", len(set.V1), len(set.V2))
	}
	if set.V1[0].LowerBinID != -5 || len(set.V1[0].TotalClaimedRewards) != 2 {
		t.Errorf("v1 = %+v", set.V1[0])
	}
}

func TestRejectedKeyIsNotRetriedOrDegraded(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.Records(context.Background(), "W1", model.CategoryDeposit)
	if !errors.Is(err, model.ErrUpstreamAuth) {
		t.Fatalf("err = %v, want ErrUpstreamAuth", err)
	}
	if errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Error("a rejected key must not look like a gated endpoint")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	if _, err := client.Balance(context.Background(), "W1"); !errors.Is(err, model.ErrUpstreamAuth) {
		t.Errorf("balance err = %v, want ErrUpstreamAuth", err)
	}
}

func TestGraphQLErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"validation", `{"errors":[{"message":"field not found","extensions":{"code":"validation-failed"}}]}`, model.ErrUpstreamTransient},
		{"no code", `{"errors":[{"message":"internal"}]}`, model.ErrUpstreamTransient},
		{"access denied", `{"errors":[{"message":"not in plan","extensions":{"code":"access-denied"}}]}`, model.ErrUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(server.URL, 0)
			_, err := client.Positions(context.Background(), "W1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPoolDetailsFallsBackToPairList(t *testing.T) {
	var pairCalls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/graphql":
			w.Write([]byte(`{"data":{"meteora_dlmm_LbPair":[]}}`))
		case "/lb/pairs":
			pairCalls.Add(1)
			w.Write([]byte(`{"success":true,"result":[
				{"pubkey":"P0","tokenXMint":"X0","tokenYMint":"Y0","binStep":1},
				{"pubkey":"P1","tokenXMint":"X1","tokenYMint":"Y1","binStep":25}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	info, err := client.PoolDetails(context.Background(), "P1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.TokenXMint != "X1" || info.BinStep != 25 {
		t.Errorf("pool = %+v", info)
	}
	if pairCalls.Load() != 1 {
		t.Errorf("pair list calls = %d, want 1", pairCalls.Load())
	}

	_, err = client.PoolDetails(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/wallet/balance"):
			w.Write([]byte(`{"success":true,"result":{"balance":1.25}}`))
		case strings.HasSuffix(r.URL.Path, "/wallet/tokens"):
			w.Write([]byte(`{"success":true,"result":[{"address":"M1","balance":3}]}`))
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	bal, err := client.Balance(context.Background(), "W1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.SOL.String() != "1.25" {
		t.Errorf("sol = %s, want 1.25", bal.SOL)
	}
	if len(bal.Tokens) != 1 {
		t.Errorf("tokens = %d, want 1", len(bal.Tokens))
	}
}

func TestUnknownCategory(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0", 0)
	_, err := client.Records(context.Background(), "W1", model.Category("swap"))
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
