package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinwatch/internal/httpx"
	"coinwatch/internal/provider"
)

const sampleCoin = `{
  "id": "bitcoin",
  "symbol": "btc",
  "name": "Bitcoin",
  "market_cap_rank": 1,
  "market_data": {
    "current_price": {"usd": 50000.5, "eur": 46000},
    "market_cap": {"usd": 980000000000},
    "total_volume": {"usd": 32000000000},
    "high_24h": {"usd": 51000},
    "low_24h": {"usd": 49000},
    "price_change_percentage_24h": 1.25,
    "price_change_percentage_7d": -2.5,
    "price_change_percentage_30d": 10.0,
    "circulating_supply": 19600000,
    "total_supply": 21000000,
    "max_supply": 21000000,
    "last_updated": "2025-06-01T12:00:00Z"
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL}, httpx.New(5*time.Second))
	return c, srv
}

func TestFetch_NormalizesFullPayload(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("market_data") != "true" {
			t.Errorf("market_data must be requested")
		}
		w.Write([]byte(sampleCoin))
	})

	rec, err := c.Fetch(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Symbol != "bitcoin" || rec.Name != "Bitcoin" {
		t.Fatalf("identity fields: %+v", rec)
	}
	if rec.Price == nil || *rec.Price != 50000.5 {
		t.Fatalf("price: %+v", rec.Price)
	}
	if rec.Rank == nil || *rec.Rank != 1 {
		t.Fatalf("rank: %+v", rec.Rank)
	}
	if rec.MaxSupply == nil || *rec.MaxSupply != 21000000 {
		t.Fatalf("max supply: %+v", rec.MaxSupply)
	}
	if rec.PercentChange7d == nil || *rec.PercentChange7d != -2.5 {
		t.Fatalf("7d change: %+v", rec.PercentChange7d)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !rec.LastUpdated.Equal(want) {
		t.Fatalf("last updated: %v", rec.LastUpdated)
	}
	if rec.Stale {
		t.Fatalf("live fetch must not be stale")
	}
}

func TestFetch_MissingPriceIsDataInvalid(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"bitcoin","name":"Bitcoin","market_data":{"current_price":{}}}`))
	})
	_, err := c.Fetch(context.Background(), "bitcoin")
	if !errors.Is(err, provider.ErrDataInvalid) {
		t.Fatalf("want ErrDataInvalid, got %v", err)
	}
}

func TestFetch_UnknownSymbolIs404(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"coin not found"}`, http.StatusNotFound)
	})
	_, err := c.Fetch(context.Background(), "notacoin")
	if !errors.Is(err, provider.ErrSymbolUnknown) {
		t.Fatalf("want ErrSymbolUnknown, got %v", err)
	}
}

func TestFetch_UpstreamRateLimitIsUnavailable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	_, err := c.Fetch(context.Background(), "bitcoin")
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestFetch_SymbolMapOverridesPath(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(sampleCoin))
	})
	c.cfg.SymbolMap = map[string]string{"xbt": "bitcoin"}

	rec, err := c.Fetch(context.Background(), "xbt")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/coins/bitcoin" {
		t.Fatalf("mapped path: %q", gotPath)
	}
	if rec.Symbol != "xbt" {
		t.Fatalf("record keeps the requested symbol: %+v", rec)
	}
}
