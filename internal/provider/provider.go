package provider

import (
	"context"
	"errors"
	"time"

	"coinwatch/internal/model"
)

// Client wraps exactly one upstream market-data source and translates its
// response shape into the normalized record. Fields the upstream does not
// supply stay nil.
type Client interface {
	ID() string
	Fetch(ctx context.Context, symbol string) (*model.Record, error)
}

// Descriptor is the static configuration of one provider. Read-only after
// startup.
type Descriptor struct {
	ID       string
	Priority int // lower is tried first
	Quota    int // requests per Window
	Window   time.Duration
	Timeout  time.Duration // per-call deadline
}

// Provider-local errors. These are recovered by fallback inside the registry
// and never reach callers of the aggregator.
var (
	// ErrUnavailable covers network failures, timeouts and upstream 5xx/429.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrRateLimited means local admission control denied the call.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrDataInvalid means the response failed normalization, e.g. a
	// required numeric field was missing or malformed.
	ErrDataInvalid = errors.New("provider data invalid")
	// ErrSymbolUnknown is a positive "no such symbol" from the upstream.
	ErrSymbolUnknown = errors.New("symbol unknown to provider")
)

// Surfaced errors.
var (
	// ErrExhausted means every provider was rate-limited or failed.
	// Callers should treat it as retryable.
	ErrExhausted = errors.New("all providers exhausted")
	// ErrNotFound means every attempted provider reported the symbol
	// unknown. Not retryable.
	ErrNotFound = errors.New("symbol not found")
)
