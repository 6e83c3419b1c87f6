package warm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"coinwatch/internal/model"
)

// Source is the aggregator side the warmer fills the cache through. Warm
// traffic takes the same rate-limited path as everything else; preload is
// not exempt from provider quotas.
type Source interface {
	Get(ctx context.Context, symbol, tier string, forceRefresh bool) (*model.Record, error)
}

// Warmer proactively populates the cache for a fixed set of high-traffic
// symbols so the first real requests after startup hit warm entries.
type Warmer struct {
	source      Source
	symbols     []string
	tier        string
	concurrency int
	logger      *slog.Logger

	cron *cron.Cron
}

func New(source Source, symbols []string, tier string, concurrency int, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if tier == "" {
		tier = "price"
	}
	return &Warmer{
		source:      source,
		symbols:     symbols,
		tier:        tier,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Warm fetches every configured symbol with bounded parallelism. Individual
// failures are logged and counted, never fatal: the service must come up
// even when the first pass misses symbols, since on-demand fetch covers
// them later. The returned count is how many symbols warmed successfully.
func (w *Warmer) Warm(ctx context.Context) int {
	if len(w.symbols) == 0 {
		return 0
	}
	var ok int
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	results := make(chan bool, len(w.symbols))
	for _, symbol := range w.symbols {
		symbol := symbol
		g.Go(func() error {
			if _, err := w.source.Get(ctx, symbol, w.tier, false); err != nil {
				w.logger.Warn("warm fetch failed", "symbol", symbol, "error", err)
				results <- false
				return nil
			}
			results <- true
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for success := range results {
		if success {
			ok++
		}
	}
	w.logger.Info("warm pass finished", "warmed", ok, "total", len(w.symbols))
	return ok
}

// Schedule registers a periodic re-warm on the given cron spec and starts
// the scheduler. Keeps the preload set fresh after startup.
func (w *Warmer) Schedule(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { w.Warm(ctx) }); err != nil {
		return fmt.Errorf("register rewarm schedule: %w", err)
	}
	c.Start()
	w.cron = c
	return nil
}

// Stop halts the re-warm schedule if one is running.
func (w *Warmer) Stop() {
	if w.cron != nil {
		w.cron.Stop()
	}
}
