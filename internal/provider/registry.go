package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"coinwatch/internal/model"
)

// Admitter gates upstream calls. Implemented by ratelimit.Limiter.
type Admitter interface {
	TryAcquire(providerID string) bool
}

type registered struct {
	desc   Descriptor
	client Client
}

// Registry holds the ordered provider list and its fallback policy: try
// providers in ascending priority, skip ones the limiter denies, stop at the
// first success.
type Registry struct {
	providers []registered
	limiter   Admitter
	logger    *slog.Logger
}

// NewRegistry builds a registry from descriptor/client pairs. Order of the
// arguments does not matter; priority decides.
func NewRegistry(limiter Admitter, logger *slog.Logger, clients map[string]Client, descs []Descriptor) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	regs := make([]registered, 0, len(descs))
	for _, d := range descs {
		c, ok := clients[d.ID]
		if !ok {
			return nil, fmt.Errorf("registry: no client for provider %q", d.ID)
		}
		regs = append(regs, registered{desc: d, client: c})
	}
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].desc.Priority < regs[j].desc.Priority })
	return &Registry{providers: regs, limiter: limiter, logger: logger}, nil
}

// FetchWithFallback tries each provider in priority order. A limiter denial
// skips the provider without counting it as a failure. Provider failures are
// logged here and folded into the terminal error: ErrNotFound when every
// attempted provider positively reported the symbol unknown, ErrExhausted
// otherwise.
func (r *Registry) FetchWithFallback(ctx context.Context, symbol string) (*model.Record, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrExhausted)
	}

	attempted := 0
	unknown := 0
	for _, p := range r.providers {
		if r.limiter != nil && !r.limiter.TryAcquire(p.desc.ID) {
			r.logger.Debug("provider skipped: over quota", "provider", p.desc.ID, "symbol", symbol)
			continue
		}
		attempted++

		callCtx := ctx
		var cancel context.CancelFunc
		if p.desc.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.desc.Timeout)
		}
		rec, err := p.client.Fetch(callCtx, symbol)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrSymbolUnknown) {
			unknown++
		}
		r.logger.Warn("provider fetch failed",
			"provider", p.desc.ID, "symbol", symbol, "error", err)

		if ctx.Err() != nil {
			// Caller gave up; no point trying further providers.
			break
		}
	}

	if attempted > 0 && unknown == attempted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return nil, fmt.Errorf("%w: %s", ErrExhausted, symbol)
}

// Providers returns the descriptors in fallback order. Handy for stats and
// the fetch CLI.
func (r *Registry) Providers() []Descriptor {
	out := make([]Descriptor, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.desc)
	}
	return out
}

// ClassifyHTTPStatus maps an upstream status code to the provider error
// taxonomy. Shared by the concrete clients.
func ClassifyHTTPStatus(status int) error {
	switch {
	case status == 404:
		return ErrSymbolUnknown
	case status == 429:
		return ErrUnavailable
	case status >= 500:
		return ErrUnavailable
	default:
		return ErrDataInvalid
	}
}
