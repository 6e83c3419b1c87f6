package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"coinwatch/internal/config"
	"coinwatch/internal/httpx"
	"coinwatch/internal/provider"
	"coinwatch/internal/provider/coincap"
	"coinwatch/internal/provider/coingecko"
	"coinwatch/internal/provider/coinpaprika"
	"coinwatch/internal/provider/ratelimit"
)

// One-shot fallback fetch for a single symbol; prints the normalized
// record as JSON. Useful for poking providers without running the server.
func main() {
	var symbol string
	var timeout int
	var configPath string

	flag.StringVar(&symbol, "symbol", getenv("SYMBOL", "bitcoin"), "symbol to fetch")
	flag.IntVar(&timeout, "timeout", 15, "request timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.yaml (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	clients := make(map[string]provider.Client)
	var descs []provider.Descriptor
	quotas := make(map[string]ratelimit.Quota)
	for _, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		var c provider.Client
		switch p.ID {
		case "coingecko":
			c = coingecko.New(coingecko.Config{ID: p.ID, BaseURL: p.BaseURL, APIKey: p.APIKey, Currency: p.Currency, SymbolMap: p.SymbolMap}, httpClient)
		case "coincap":
			opts := []coincap.Option{coincap.WithHTTPClient(httpClient.HTTP), coincap.WithSymbolMap(p.SymbolMap)}
			if p.BaseURL != "" {
				opts = append(opts, coincap.WithBaseURL(p.BaseURL))
			}
			c = coincap.New(p.APIKey, opts...)
		case "coinpaprika":
			c = coinpaprika.New(coinpaprika.Config{ID: p.ID, BaseURL: p.BaseURL, Currency: p.Currency, SymbolMap: p.SymbolMap}, httpClient)
		default:
			continue
		}
		clients[p.ID] = c
		descs = append(descs, provider.Descriptor{ID: p.ID, Priority: p.Priority, Quota: p.Quota, Window: p.Window(), Timeout: p.Timeout()})
		quotas[p.ID] = ratelimit.Quota{Requests: p.Quota, Window: p.Window()}
	}

	registry, err := provider.NewRegistry(ratelimit.New(quotas), logger, clients, descs)
	if err != nil {
		logger.Error("registry", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
	defer cancel()

	rec, err := registry.FetchWithFallback(ctx, symbol)
	if err != nil {
		logger.Error("fetch", "symbol", symbol, "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rec)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
