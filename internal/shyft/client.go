// Package shyft implements provider.Client against the Shyft REST and
// GraphQL APIs.
package shyft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/iwadha/solana-dashboard/internal/metrics"
	"github.com/iwadha/solana-dashboard/internal/model"
)

// Config holds the connection settings for the Shyft APIs.
type Config struct {
	APIKey     string
	BaseURL    string // REST, e.g. https://api.shyft.to/sol/v1
	GraphQLURL string // e.g. https://programs.shyft.to/v0/graphql
	Network    string // mainnet-beta, devnet
	RateLimit  float64
	MaxRetries int
	BaseDelay  time.Duration
}

// Client is an HTTP client for Shyft with client-side rate limiting and
// retry on 429.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Shyft client. A non-positive RateLimit disables
// client-side limiting.
func NewClient(cfg Config) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// envelope is the wrapper every Shyft REST response uses.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// do sends req, retrying on 429 with exponential backoff. The returned error
// wraps model.ErrUpstreamUnavailable for endpoints that are gated or absent,
// model.ErrUpstreamAuth for a rejected key and model.ErrUpstreamTransient
// for everything retryable.
func (c *Client) do(ctx context.Context, endpoint string, newReq func() (*http.Request, error)) ([]byte, error) {
	start := time.Now()
	body, err := c.doWithRetry(ctx, newReq)
	metrics.ProviderRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	metrics.ProviderRequestsTotal.WithLabelValues(endpoint, model.ErrorKind(err)).Inc()
	return body, err
}

func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := range c.cfg.MaxRetries + 1 {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w: %w", model.ErrUpstreamTransient, err)
		}

		req, err := newReq()
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("x-api-key", c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w: %w", model.ErrUpstreamTransient, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w: %w", model.ErrUpstreamTransient, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("HTTP 429 at %s (attempt %d/%d): %w",
				req.URL.Path, attempt+1, c.cfg.MaxRetries+1, model.ErrUpstreamTransient)
			if attempt < c.cfg.MaxRetries {
				delay := c.cfg.BaseDelay * time.Duration(1<<uint(attempt))
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", model.ErrUpstreamTransient, ctx.Err())
				case <-time.After(delay):
				}
				continue
			}
			return nil, lastErr

		case resp.StatusCode == http.StatusUnauthorized:
			return nil, fmt.Errorf("HTTP 401 from %s: %w", req.URL.Path, model.ErrUpstreamAuth)

		case unavailableStatus(resp.StatusCode):
			return nil, fmt.Errorf("HTTP %d from %s: %w", resp.StatusCode, req.URL.Path, model.ErrUpstreamUnavailable)

		default:
			return nil, fmt.Errorf("HTTP %d from %s: %s: %w",
				resp.StatusCode, req.URL.Path, truncate(body), model.ErrUpstreamTransient)
		}
	}
	return nil, lastErr
}

// unavailableStatus reports statuses meaning "this plan or network does not
// offer the endpoint" rather than "try again later".
func unavailableStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusNotFound,
		http.StatusPaymentRequired, http.StatusNotImplemented:
		return true
	}
	return false
}

// getJSON performs a REST GET and decodes the envelope result into dest.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dest any) error {
	if params == nil {
		params = url.Values{}
	}
	if params.Get("network") == "" {
		params.Set("network", c.cfg.Network)
	}
	u := c.cfg.BaseURL + path + "?" + params.Encode()

	body, err := c.do(ctx, path, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parsing JSON from %s: %w: %w", path, model.ErrUpstreamTransient, err)
	}
	if !env.Success {
		return fmt.Errorf("%s: %s: %w", path, env.Message, model.ErrUpstreamUnavailable)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, dest); err != nil {
		return fmt.Errorf("parsing result from %s: %w", path, err)
	}
	return nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// gatedGraphQLCodes are the error codes returned when the plan does not
// include the queried table.
var gatedGraphQLCodes = map[string]bool{
	"access-denied":    true,
	"permission-error": true,
}

// graphqlErr classifies a GraphQL error list. Access errors mean the data
// is gated; anything else (validation, server errors) is a failure.
func graphqlErr(name string, errs []graphqlError) error {
	first := errs[0]
	if gatedGraphQLCodes[first.Extensions.Code] {
		return fmt.Errorf("%s: %s: %w", name, first.Message, model.ErrUpstreamUnavailable)
	}
	return fmt.Errorf("%s: %s (%s): %w", name, first.Message, first.Extensions.Code, model.ErrUpstreamTransient)
}

// graphql posts a query and decodes the data field into dest.
func (c *Client) graphql(ctx context.Context, name, query string, vars map[string]any, dest any) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding %s query: %w", name, err)
	}

	params := url.Values{}
	params.Set("api_key", c.cfg.APIKey)
	params.Set("network", c.cfg.Network)
	u := c.cfg.GraphQLURL + "?" + params.Encode()

	body, err := c.do(ctx, "graphql:"+name, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}

	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parsing %s response: %w: %w", name, model.ErrUpstreamTransient, err)
	}
	if len(resp.Errors) > 0 {
		return graphqlErr(name, resp.Errors)
	}
	if err := json.Unmarshal(resp.Data, dest); err != nil {
		return fmt.Errorf("parsing %s data: %w", name, err)
	}
	return nil
}

func truncate(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
