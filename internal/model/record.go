package model

import (
	"strings"
	"time"
)

// Record is the normalized shape returned by all providers.
// Numeric fields are pointers so that "provider did not supply this"
// stays distinguishable from a genuine zero.
type Record struct {
	Symbol            string    `json:"symbol"`
	Name              string    `json:"name,omitempty"`
	Price             *float64  `json:"price,omitempty"`
	PercentChange24h  *float64  `json:"percent_change_24h,omitempty"`
	PercentChange7d   *float64  `json:"percent_change_7d,omitempty"`
	PercentChange30d  *float64  `json:"percent_change_30d,omitempty"`
	MarketCap         *float64  `json:"market_cap,omitempty"`
	Volume24h         *float64  `json:"volume_24h,omitempty"`
	CirculatingSupply *float64  `json:"circulating_supply,omitempty"`
	TotalSupply       *float64  `json:"total_supply,omitempty"`
	MaxSupply         *float64  `json:"max_supply,omitempty"`
	Rank              *int      `json:"rank,omitempty"`
	High24h           *float64  `json:"high_24h,omitempty"`
	Low24h            *float64  `json:"low_24h,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
	Source            string    `json:"source"`
	// Stale marks a degraded-availability response served from an
	// expired cache entry. Never set on a live fetch.
	Stale bool `json:"stale,omitempty"`
}

// NormalizeSymbol canonicalizes a user-supplied symbol: trimmed, lower-cased.
func NormalizeSymbol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Float returns a pointer to v. Convenience for building records.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
