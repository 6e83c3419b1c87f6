package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"coinwatch/internal/aggregate"
	"coinwatch/internal/cache"
	"coinwatch/internal/cache/redismirror"
	"coinwatch/internal/config"
	"coinwatch/internal/httpx"
	"coinwatch/internal/hub"
	"coinwatch/internal/model"
	"coinwatch/internal/provider"
	"coinwatch/internal/provider/coincap"
	"coinwatch/internal/provider/coingecko"
	"coinwatch/internal/provider/coinpaprika"
	"coinwatch/internal/provider/ratelimit"
	"coinwatch/internal/warm"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	clients, descs := buildProviders(cfg, httpClient, logger)
	if len(descs) == 0 {
		logger.Error("no providers enabled")
		os.Exit(1)
	}

	quotas := make(map[string]ratelimit.Quota, len(descs))
	for _, d := range descs {
		quotas[d.ID] = ratelimit.Quota{Requests: d.Quota, Window: d.Window}
	}
	limiter := ratelimit.New(quotas)

	registry, err := provider.NewRegistry(limiter, logger, clients, descs)
	if err != nil {
		logger.Error("registry", "error", err)
		os.Exit(1)
	}

	tierConfigs := make([]cache.TierConfig, 0, len(cfg.Cache.Tiers))
	for _, t := range cfg.Cache.Tiers {
		tierConfigs = append(tierConfigs, cache.TierConfig{Name: t.Name, TTL: t.TTL(), MaxEntries: t.MaxEntries})
	}
	tiered := cache.NewTiered(tierConfigs)

	var mirror aggregate.Snapshotter
	if cfg.Redis.Addr != "" {
		m, err := redismirror.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second)
		if err != nil {
			logger.Warn("redis mirror disabled", "error", err)
		} else {
			mirror = m
			defer m.Close()
		}
	}

	agg := aggregate.New(registry, tiered, aggregate.Options{
		Mirror:      mirror,
		Logger:      logger,
		MaxStaleAge: time.Duration(cfg.Cache.MaxStaleSec) * time.Second,
	})

	transport := newSSETransport()
	feeds := hub.New(agg, transport,
		time.Duration(cfg.Hub.RefreshIntervalSec)*time.Second, cfg.Hub.PriceTier, logger)
	defer feeds.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	warmer := warm.New(agg, cfg.Warm.Symbols, cfg.Warm.Tier, cfg.Warm.Concurrency, logger)
	go warmer.Warm(ctx)
	if cfg.Warm.Cron != "" {
		if err := warmer.Schedule(ctx, cfg.Warm.Cron); err != nil {
			logger.Warn("rewarm schedule disabled", "error", err)
		}
		defer warmer.Stop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/coins/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		handleGetCoin(w, r, agg)
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"tiers":          agg.Stats(),
			"active_symbols": feeds.ActiveSymbols(),
		})
	})
	mux.HandleFunc("GET /api/stream", func(w http.ResponseWriter, r *http.Request) {
		transport.handleStream(w, r, feeds)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port, "providers", len(descs))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildProviders constructs the enabled clients keyed by id, plus their
// descriptors for the registry.
func buildProviders(cfg config.Config, hc *httpx.Client, logger *slog.Logger) (map[string]provider.Client, []provider.Descriptor) {
	clients := make(map[string]provider.Client)
	var descs []provider.Descriptor
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		var c provider.Client
		switch p.ID {
		case "coingecko":
			c = coingecko.New(coingecko.Config{
				ID: p.ID, BaseURL: p.BaseURL, APIKey: p.APIKey,
				Currency: p.Currency, SymbolMap: p.SymbolMap,
			}, hc)
		case "coincap":
			opts := []coincap.Option{coincap.WithHTTPClient(hc.HTTP), coincap.WithSymbolMap(p.SymbolMap)}
			if p.BaseURL != "" {
				opts = append(opts, coincap.WithBaseURL(p.BaseURL))
			}
			c = coincap.New(p.APIKey, opts...)
		case "coinpaprika":
			c = coinpaprika.New(coinpaprika.Config{
				ID: p.ID, BaseURL: p.BaseURL, Currency: p.Currency, SymbolMap: p.SymbolMap,
			}, hc)
		default:
			logger.Warn("unknown provider id; skipping", "provider", p.ID)
			continue
		}
		clients[p.ID] = c
		descs = append(descs, provider.Descriptor{
			ID:       p.ID,
			Priority: p.Priority,
			Quota:    p.Quota,
			Window:   p.Window(),
			Timeout:  p.Timeout(),
		})
	}
	return clients, descs
}

func handleGetCoin(w http.ResponseWriter, r *http.Request, agg *aggregate.Aggregator) {
	symbol := model.NormalizeSymbol(r.PathValue("symbol"))
	tier := r.URL.Query().Get("tier")
	if tier == "" {
		tier = "price"
	}
	force := r.URL.Query().Get("refresh") == "true"

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	rec, err := agg.Get(ctx, symbol, tier, force)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "symbol not found"})
		case errors.Is(err, provider.ErrExhausted):
			w.Header().Set("Retry-After", "15")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "all providers exhausted, try again shortly"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/stream") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		// Basic CORS for browser usage; adjust as needed.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports gzip. The stream
// endpoint is exempt: SSE needs per-event flushing.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/stream") ||
			!strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
