package coincap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"coinwatch/internal/model"
	"coinwatch/internal/provider"
)

const defaultBaseURL = "https://api.coincap.io/v2"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=coincap -destination=mock_http_client_test.go -source=coincap.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the CoinCap assets API. CoinCap reports numbers as
// JSON strings and carries no 7d/30d or high/low data; those fields stay nil.
type Client struct {
	id         string
	baseURL    string
	httpClient HTTPClient
	header     http.Header
	symbolMap  map[string]string
}

// Option is a configuration option for the CoinCap client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithSymbolMap sets symbol -> coincap asset id overrides.
func WithSymbolMap(m map[string]string) Option {
	return func(c *Client) { c.symbolMap = m }
}

// New creates a new CoinCap client. An API key is optional; when set it is
// sent as a Bearer token.
func New(apiKey string, options ...Option) *Client {
	c := &Client{
		id:         "coincap",
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	if apiKey != "" {
		c.header.Set("Authorization", "Bearer "+apiKey)
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Fetch(ctx context.Context, symbol string) (*model.Record, error) {
	id := symbol
	if v := c.symbolMap[symbol]; v != "" {
		id = v
	}

	u := fmt.Sprintf("%s/assets/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", provider.ErrUnavailable, err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s -> %d", provider.ClassifyHTTPStatus(resp.StatusCode), u, resp.StatusCode)
	}

	var body assetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", provider.ErrDataInvalid, err)
	}
	return c.normalize(symbol, &body)
}

func (c *Client) normalize(symbol string, body *assetResponse) (*model.Record, error) {
	a := body.Data
	if a == nil {
		return nil, fmt.Errorf("%w: missing data", provider.ErrDataInvalid)
	}
	price := parseNumber(a.PriceUsd)
	if price == nil {
		return nil, fmt.Errorf("%w: missing or malformed priceUsd", provider.ErrDataInvalid)
	}

	rec := &model.Record{
		Symbol:            model.NormalizeSymbol(symbol),
		Name:              a.Name,
		Price:             price,
		PercentChange24h:  parseNumber(a.ChangePercent24Hr),
		MarketCap:         parseNumber(a.MarketCapUsd),
		Volume24h:         parseNumber(a.VolumeUsd24Hr),
		CirculatingSupply: parseNumber(a.Supply),
		MaxSupply:         parseNumber(a.MaxSupply),
		LastUpdated:       time.Now().UTC(),
		Source:            c.id,
	}
	if r := parseNumber(a.Rank); r != nil {
		rec.Rank = model.Int(int(*r))
	}
	if body.Timestamp > 0 {
		rec.LastUpdated = time.UnixMilli(body.Timestamp).UTC()
	}
	return rec, nil
}

// Response model based on /v2/assets/{id}.
type assetResponse struct {
	Data      *asset `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type asset struct {
	ID                string `json:"id"`
	Rank              string `json:"rank"`
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Supply            string `json:"supply"`
	MaxSupply         string `json:"maxSupply"`
	MarketCapUsd      string `json:"marketCapUsd"`
	VolumeUsd24Hr     string `json:"volumeUsd24Hr"`
	PriceUsd          string `json:"priceUsd"`
	ChangePercent24Hr string `json:"changePercent24Hr"`
}

// parseNumber converts CoinCap's stringly-typed numbers, keeping absence
// (empty or null string) distinct from zero.
func parseNumber(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
