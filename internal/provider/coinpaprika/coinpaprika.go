package coinpaprika

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

// Config controls the CoinPaprika provider behavior.
type Config struct {
	ID        string
	BaseURL   string
	Currency  string            // quote currency key, default USD
	SymbolMap map[string]string // optional symbol -> paprika ticker id (e.g. "bitcoin" -> "btc-bitcoin")
}

// Client fetches ticker data from the CoinPaprika /v1/tickers/{id} endpoint.
type Client struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.ID == "" {
		cfg.ID = "coinpaprika"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coinpaprika.com/v1"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Client{cfg: cfg, client: hc}
}

func (c *Client) ID() string { return c.cfg.ID }

func (c *Client) Fetch(ctx context.Context, symbol string) (*model.Record, error) {
	id := symbol
	if v := c.cfg.SymbolMap[symbol]; v != "" {
		id = v
	}

	u := fmt.Sprintf("%s/tickers/%s?quotes=%s", c.cfg.BaseURL, url.PathEscape(id), url.QueryEscape(c.cfg.Currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", provider.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s -> %d", provider.ClassifyHTTPStatus(resp.StatusCode), u, resp.StatusCode)
	}

	var body tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", provider.ErrDataInvalid, err)
	}

	quote, ok := body.Quotes[c.cfg.Currency]
	if !ok || quote.Price == nil {
		return nil, fmt.Errorf("%w: missing quote for currency %q", provider.ErrDataInvalid, c.cfg.Currency)
	}

	rec := &model.Record{
		Symbol:            model.NormalizeSymbol(symbol),
		Name:              body.Name,
		Price:             quote.Price,
		PercentChange24h:  quote.PercentChange24h,
		PercentChange7d:   quote.PercentChange7d,
		PercentChange30d:  quote.PercentChange30d,
		MarketCap:         quote.MarketCap,
		Volume24h:         quote.Volume24h,
		CirculatingSupply: body.CirculatingSupply,
		TotalSupply:       body.TotalSupply,
		MaxSupply:         body.MaxSupply,
		Rank:              body.Rank,
		LastUpdated:       time.Now().UTC(),
		Source:            c.cfg.ID,
	}
	if body.LastUpdated != nil && !body.LastUpdated.IsZero() {
		rec.LastUpdated = body.LastUpdated.UTC()
	}
	return rec, nil
}

// Response model based on /v1/tickers/{id}.
type tickerResponse struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Symbol            string           `json:"symbol"`
	Rank              *int             `json:"rank"`
	CirculatingSupply *float64         `json:"circulating_supply"`
	TotalSupply       *float64         `json:"total_supply"`
	MaxSupply         *float64         `json:"max_supply"`
	LastUpdated       *time.Time       `json:"last_updated"`
	Quotes            map[string]quote `json:"quotes"`
}

type quote struct {
	Price            *float64 `json:"price"`
	Volume24h        *float64 `json:"volume_24h"`
	MarketCap        *float64 `json:"market_cap"`
	PercentChange24h *float64 `json:"percent_change_24h"`
	PercentChange7d  *float64 `json:"percent_change_7d"`
	PercentChange30d *float64 `json:"percent_change_30d"`
}
