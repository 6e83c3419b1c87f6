package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"coinwatch/internal/httpx"
	"coinwatch/internal/model"
	"coinwatch/internal/provider"
)

// Config controls the CoinGecko provider behavior.
type Config struct {
	ID        string
	BaseURL   string
	APIKey    string            // optional; sent as x-cg-demo-api-key
	Currency  string            // quote currency, default usd
	SymbolMap map[string]string // optional symbol -> coingecko id overrides
}

// Client fetches coin data from the CoinGecko /coins/{id} endpoint and
// normalizes it. CoinGecko is the richest source here: one call populates
// price, identity and supply fields at once.
type Client struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.ID == "" {
		cfg.ID = "coingecko"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Client{cfg: cfg, client: hc}
}

func (c *Client) ID() string { return c.cfg.ID }

func (c *Client) Fetch(ctx context.Context, symbol string) (*model.Record, error) {
	id := symbol
	if v := c.cfg.SymbolMap[symbol]; v != "" {
		id = v
	}

	u := fmt.Sprintf("%s/coins/%s", c.cfg.BaseURL, url.PathEscape(id))
	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("market_data", "true")
	q.Set("community_data", "false")
	q.Set("developer_data", "false")
	q.Set("sparkline", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", provider.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s -> %d", provider.ClassifyHTTPStatus(resp.StatusCode), u, resp.StatusCode)
	}

	var body coinResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", provider.ErrDataInvalid, err)
	}
	return c.normalize(symbol, &body)
}

func (c *Client) normalize(symbol string, body *coinResponse) (*model.Record, error) {
	md := body.MarketData
	if md == nil {
		return nil, fmt.Errorf("%w: missing market_data", provider.ErrDataInvalid)
	}
	price := md.CurrentPrice[c.cfg.Currency]
	if price == nil {
		return nil, fmt.Errorf("%w: missing price for currency %q", provider.ErrDataInvalid, c.cfg.Currency)
	}

	rec := &model.Record{
		Symbol:            model.NormalizeSymbol(symbol),
		Name:              body.Name,
		Price:             price,
		PercentChange24h:  md.PriceChangePct24h,
		PercentChange7d:   md.PriceChangePct7d,
		PercentChange30d:  md.PriceChangePct30d,
		MarketCap:         md.MarketCap[c.cfg.Currency],
		Volume24h:         md.TotalVolume[c.cfg.Currency],
		CirculatingSupply: md.CirculatingSupply,
		TotalSupply:       md.TotalSupply,
		MaxSupply:         md.MaxSupply,
		Rank:              body.MarketCapRank,
		High24h:           md.High24h[c.cfg.Currency],
		Low24h:            md.Low24h[c.cfg.Currency],
		LastUpdated:       time.Now().UTC(),
		Source:            c.cfg.ID,
	}
	if md.LastUpdated != nil && !md.LastUpdated.IsZero() {
		rec.LastUpdated = md.LastUpdated.UTC()
	}
	return rec, nil
}

// Response model based on /api/v3/coins/{id}.
type coinResponse struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	MarketCapRank *int        `json:"market_cap_rank"`
	MarketData    *marketData `json:"market_data"`
}

type marketData struct {
	CurrentPrice      map[string]*float64 `json:"current_price"`
	MarketCap         map[string]*float64 `json:"market_cap"`
	TotalVolume       map[string]*float64 `json:"total_volume"`
	High24h           map[string]*float64 `json:"high_24h"`
	Low24h            map[string]*float64 `json:"low_24h"`
	PriceChangePct24h *float64            `json:"price_change_percentage_24h"`
	PriceChangePct7d  *float64            `json:"price_change_percentage_7d"`
	PriceChangePct30d *float64            `json:"price_change_percentage_30d"`
	CirculatingSupply *float64            `json:"circulating_supply"`
	TotalSupply       *float64            `json:"total_supply"`
	MaxSupply         *float64            `json:"max_supply"`
	LastUpdated       *time.Time          `json:"last_updated"`
}
