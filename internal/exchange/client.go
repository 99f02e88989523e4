// Package exchange implements the upstream Polymarket data clients.
//
// The REST client (Client) covers the three read paths the pipeline needs:
//   - ListMarkets:     GET gamma /markets     — paged market discovery
//   - GetOrderBook:    GET clob  /book        — L2 book for a token
//   - GetRecentTrades: GET data  /trades      — public executed trades
//
// Every request is rate-limited via per-category TokenBuckets and
// automatically retried on 5xx errors. The public endpoints need no auth;
// when L2 credentials are configured, signed requests carry HMAC headers.
// The WebSocket feed (WSFeed, ws.go) streams book snapshots for subscribed
// tokens as a lower-latency alternative to book polling.
package exchange

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polysentry/internal/config"
	"polysentry/pkg/types"
)

const (
	marketsPageSize = 100  // Gamma pagination limit
	marketsMaxItems = 5000 // safety cap on one discovery sweep
)

// Client is the upstream REST API client. It wraps one resty client per
// base URL with rate limiting, retry, and optional auth.
type Client struct {
	clob   *resty.Client
	gamma  *resty.Client
	data   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.APIConfig, auth *Auth, logger *slog.Logger) *Client {
	return &Client{
		clob:   newHTTP(cfg.CLOBBaseURL),
		gamma:  newHTTP(cfg.GammaBaseURL),
		data:   newHTTP(cfg.DataBaseURL),
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "exchange"),
	}
}

func newHTTP(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
}

// clobHeaders signs a CLOB request when L2 credentials are configured.
// Public access otherwise; a signing failure downgrades to public rather
// than failing the fetch.
func (c *Client) clobHeaders(method, pathWithQuery string) map[string]string {
	if c.auth == nil || !c.auth.HasCredentials() {
		return nil
	}
	headers, err := c.auth.L2Headers(method, pathWithQuery, "")
	if err != nil {
		c.logger.Warn("sign clob request", "path", pathWithQuery, "error", err)
		return nil
	}
	return headers
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID)
	if h := c.clobHeaders(http.MethodGet, "/book?token_id="+tokenID); h != nil {
		req.SetHeaders(h)
	}

	var result types.BookResponse
	resp, err := req.
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, wrapTransport("get book", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	return &result, nil
}

// ListMarkets walks the Gamma listing page by page and returns every active,
// unresolved market, up to the safety cap.
func (c *Client) ListMarkets(ctx context.Context) ([]types.GammaMarket, error) {
	var all []types.GammaMarket

	for offset := 0; offset < marketsMaxItems; offset += marketsPageSize {
		if err := c.rl.Markets.Wait(ctx); err != nil {
			return nil, err
		}

		var page []types.GammaMarket
		resp, err := c.gamma.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"active": "true",
				"closed": "false",
				"limit":  strconv.Itoa(marketsPageSize),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, wrapTransport("list markets", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
		}

		all = append(all, page...)
		if len(page) < marketsPageSize {
			break
		}
	}

	if len(all) >= marketsMaxItems {
		c.logger.Warn("market listing hit safety cap", "count", len(all))
	}
	return all, nil
}

// GetRecentTrades fetches the latest public trades for one token, newest first.
func (c *Client) GetRecentTrades(ctx context.Context, tokenID string, limit int) ([]types.PublicTrade, error) {
	if err := c.rl.Trades.Wait(ctx); err != nil {
		return nil, err
	}

	var result []types.PublicTrade
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"asset": tokenID,
			"limit": strconv.Itoa(limit),
		}).
		SetResult(&result).
		Get("/trades")
	if err != nil {
		return nil, wrapTransport("get trades", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	return result, nil
}
