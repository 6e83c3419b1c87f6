package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"coinwatch/internal/cache"
	"coinwatch/internal/model"
	"coinwatch/internal/provider"
)

// Fetcher is the fallback fetch side of the provider registry.
type Fetcher interface {
	FetchWithFallback(ctx context.Context, symbol string) (*model.Record, error)
}

// Snapshotter is an optional cross-instance mirror of the latest record per
// symbol. Implemented by redismirror.Mirror.
type Snapshotter interface {
	Store(ctx context.Context, rec *model.Record) error
	Latest(ctx context.Context, symbol string) (*model.Record, error)
}

// Aggregator answers "what is the current state of symbol X": consult the
// tiered cache, fall back through the provider registry, collapse concurrent
// duplicate requests into one upstream round-trip, write results back.
type Aggregator struct {
	registry Fetcher
	cache    *cache.Tiered
	mirror   Snapshotter // may be nil
	logger   *slog.Logger

	// maxStaleAge bounds degraded reads: entries older than this are not
	// served even when every provider is down.
	maxStaleAge time.Duration

	// inflight guarantees at most one concurrent upstream fetch per
	// symbol. Entries exist only while a fetch is active.
	inflight singleflight.Group
}

type Options struct {
	Mirror      Snapshotter
	Logger      *slog.Logger
	MaxStaleAge time.Duration
}

const defaultMaxStaleAge = 30 * time.Minute

func New(registry Fetcher, tiered *cache.Tiered, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxStale := opts.MaxStaleAge
	if maxStale <= 0 {
		maxStale = defaultMaxStaleAge
	}
	return &Aggregator{
		registry:    registry,
		cache:       tiered,
		mirror:      opts.Mirror,
		logger:      logger,
		maxStaleAge: maxStale,
	}
}

// Get returns the current record for symbol at the requested freshness tier.
// Errors are only provider.ErrNotFound (give up) or provider.ErrExhausted
// (retry shortly); individual provider failures never surface.
func (a *Aggregator) Get(ctx context.Context, symbol, tierName string, forceRefresh bool) (*model.Record, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", provider.ErrNotFound)
	}
	if !a.cache.Has(tierName) {
		return nil, fmt.Errorf("%w: unknown tier %q", provider.ErrNotFound, tierName)
	}

	if !forceRefresh {
		if rec, found, fresh := a.cache.Get(tierName, symbol); found && fresh {
			return rec, nil
		}
	}

	// Concurrent callers for the same symbol share one upstream fetch.
	v, err, _ := a.inflight.Do(symbol, func() (any, error) {
		rec, err := a.registry.FetchWithFallback(ctx, symbol)
		if err != nil {
			return nil, err
		}
		// One provider call typically satisfies every tier at once.
		for _, name := range a.cache.Tiers() {
			a.cache.Put(name, symbol, rec)
		}
		if a.mirror != nil {
			if err := a.mirror.Store(ctx, rec); err != nil {
				a.logger.Warn("mirror store failed", "symbol", symbol, "error", err)
			}
		}
		return rec, nil
	})
	if err == nil {
		return v.(*model.Record), nil
	}

	if errors.Is(err, provider.ErrExhausted) {
		if rec, ok := a.staleFallback(ctx, tierName, symbol); ok {
			return rec, nil
		}
	}
	return nil, err
}

// staleFallback serves a usable-but-expired entry when live fetch options
// are gone: the local tier first, then the mirror. Entries older than
// maxStaleAge are treated as absent.
func (a *Aggregator) staleFallback(ctx context.Context, tierName, symbol string) (*model.Record, bool) {
	if rec, found, _ := a.cache.Get(tierName, symbol); found {
		if age, ok := a.cache.Age(tierName, symbol); ok && age <= a.maxStaleAge {
			a.logger.Warn("serving stale cache entry", "symbol", symbol, "tier", tierName, "age", age)
			return markStale(rec), true
		}
	}
	if a.mirror != nil {
		rec, err := a.mirror.Latest(ctx, symbol)
		if err != nil {
			a.logger.Warn("mirror read failed", "symbol", symbol, "error", err)
		} else if rec != nil && time.Since(rec.LastUpdated) <= a.maxStaleAge {
			a.logger.Warn("serving mirrored snapshot", "symbol", symbol)
			return markStale(rec), true
		}
	}
	return nil, false
}

// markStale copies rec with the staleness flag set. Records are immutable
// once cached; the original is never touched.
func markStale(rec *model.Record) *model.Record {
	cp := *rec
	cp.Stale = true
	return &cp
}

// Stats exposes the cache counters for the stats endpoint.
func (a *Aggregator) Stats() map[string]cache.TierStats { return a.cache.Stats() }
