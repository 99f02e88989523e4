package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"polysentry/internal/config"
	"polysentry/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(clobURL, gammaURL, dataURL string) *Client {
	return NewClient(config.APIConfig{
		CLOBBaseURL:  clobURL,
		GammaBaseURL: gammaURL,
		DataBaseURL:  dataURL,
	}, NewAuth("0xabc", Credentials{}), testLogger())
}

func TestGetOrderBook(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token_id"); got != "tok1" {
			t.Errorf("token_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.BookResponse{
			AssetID:   "tok1",
			Timestamp: "1700000000000",
			Bids:      []types.RawPriceLevel{{Price: "0.5", Size: "10"}},
			Asks:      []types.RawPriceLevel{{Price: "0.52", Size: "8"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL, srv.URL)
	book, err := c.GetOrderBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.AssetID != "tok1" || len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Errorf("unexpected book: %+v", book)
	}
}

func TestGetOrderBookSignsWhenCredentialed(t *testing.T) {
	t.Parallel()
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.BookResponse{AssetID: "tok1", Timestamp: "1700000000000"})
	}))
	defer srv.Close()

	creds := Credentials{
		ApiKey:     "key-1",
		Secret:     "c2VjcmV0LWJ5dGVz", // base64("secret-bytes")
		Passphrase: "pass-1",
	}
	c := NewClient(config.APIConfig{
		CLOBBaseURL:  srv.URL,
		GammaBaseURL: srv.URL,
		DataBaseURL:  srv.URL,
	}, NewAuth("0xabc", creds), testLogger())

	if _, err := c.GetOrderBook(context.Background(), "tok1"); err != nil {
		t.Fatalf("get book: %v", err)
	}

	for _, h := range []string{"Poly_address", "Poly_api_key", "Poly_passphrase", "Poly_signature", "Poly_timestamp"} {
		if gotHeaders.Get(h) == "" {
			t.Errorf("missing signed header %s", h)
		}
	}
	if got := gotHeaders.Get("Poly_api_key"); got != "key-1" {
		t.Errorf("api key header = %q", got)
	}
}

func TestGetOrderBookPublicWithoutCredentials(t *testing.T) {
	t.Parallel()
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.BookResponse{AssetID: "tok1", Timestamp: "1700000000000"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL, srv.URL)
	if _, err := c.GetOrderBook(context.Background(), "tok1"); err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got := gotHeaders.Get("Poly_signature"); got != "" {
		t.Errorf("unexpected signature header %q on a public request", got)
	}
}

func TestGetOrderBookStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL, srv.URL)
	_, err := c.GetOrderBook(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Retryable() {
		t.Errorf("apiErr = %+v, want non-retryable 404", apiErr)
	}
}

func TestListMarketsPaginates(t *testing.T) {
	t.Parallel()
	const total = 250
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit != marketsPageSize {
			t.Errorf("limit = %d, want %d", limit, marketsPageSize)
		}

		var page []types.GammaMarket
		for i := offset; i < offset+limit && i < total; i++ {
			page = append(page, types.GammaMarket{ConditionID: fmt.Sprintf("cond-%d", i)})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL, srv.URL)
	markets, err := c.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if len(markets) != total {
		t.Fatalf("got %d markets, want %d", len(markets), total)
	}
	if markets[0].ConditionID != "cond-0" || markets[total-1].ConditionID != "cond-249" {
		t.Error("pages out of order")
	}
}

func TestListMarketsSafetyCap(t *testing.T) {
	t.Parallel()
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		page := make([]types.GammaMarket, marketsPageSize)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL, srv.URL)
	markets, err := c.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if len(markets) != marketsMaxItems {
		t.Errorf("got %d markets, want cap %d", len(markets), marketsMaxItems)
	}
	if pages != marketsMaxItems/marketsPageSize {
		t.Errorf("fetched %d pages, want %d", pages, marketsMaxItems/marketsPageSize)
	}
}

func TestGetRecentTrades(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("asset"); got != "tok1" {
			t.Errorf("asset = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]types.PublicTrade{
			{Asset: "tok1", Side: "BUY", Price: 0.4, Size: 25, Timestamp: 1700000000},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, srv.URL, srv.URL)
	trades, err := c.GetRecentTrades(context.Background(), "tok1", 100)
	if err != nil {
		t.Fatalf("get trades: %v", err)
	}
	if len(trades) != 1 || trades[0].Side != "BUY" {
		t.Errorf("unexpected trades: %+v", trades)
	}
}
