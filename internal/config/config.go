package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

// Provider is the static descriptor of one upstream source. Priority order
// and quotas are fixed at startup; the core only consumes resolved values.
type Provider struct {
	ID         string            `yaml:"id"`
	Enabled    bool              `yaml:"enabled"`
	Priority   int               `yaml:"priority"`
	BaseURL    string            `yaml:"base_url"`
	APIKey     string            `yaml:"api_key"`
	Currency   string            `yaml:"currency"`
	Quota      int               `yaml:"quota"`
	WindowSec  int               `yaml:"window_sec"`
	TimeoutSec int               `yaml:"timeout_sec"`
	SymbolMap  map[string]string `yaml:"symbol_map"`
}

type Tier struct {
	Name       string `yaml:"name"`
	TTLSec     int    `yaml:"ttl_sec"`
	MaxEntries int    `yaml:"max_entries"`
}

type Cache struct {
	Tiers       []Tier `yaml:"tiers"`
	MaxStaleSec int    `yaml:"max_stale_sec"`
}

type Redis struct {
	Addr     string `yaml:"addr"` // empty disables the mirror
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSec   int    `yaml:"ttl_sec"`
}

type Hub struct {
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
	PriceTier          string `yaml:"price_tier"`
}

type Warm struct {
	Symbols     []string `yaml:"symbols"`
	Tier        string   `yaml:"tier"`
	Concurrency int      `yaml:"concurrency"`
	Cron        string   `yaml:"cron"` // empty disables periodic re-warm
}

type Config struct {
	Server    Server     `yaml:"server"`
	Providers []Provider `yaml:"providers"`
	Cache     Cache      `yaml:"cache"`
	Redis     Redis      `yaml:"redis"`
	Hub       Hub        `yaml:"hub"`
	Warm      Warm       `yaml:"warm"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Providers: []Provider{
			{
				ID: "coingecko", Enabled: true, Priority: 1,
				Currency: "usd",
				Quota:    10, WindowSec: 60, TimeoutSec: 10,
			},
			{
				ID: "coincap", Enabled: true, Priority: 2,
				Quota: 20, WindowSec: 60, TimeoutSec: 8,
			},
			{
				ID: "coinpaprika", Enabled: true, Priority: 3,
				Currency: "USD",
				Quota:    20, WindowSec: 60, TimeoutSec: 8,
				SymbolMap: map[string]string{
					"bitcoin":  "btc-bitcoin",
					"ethereum": "eth-ethereum",
					"solana":   "sol-solana",
				},
			},
		},
		Cache: Cache{
			Tiers: []Tier{
				{Name: "price", TTLSec: 15, MaxEntries: 5000},
				{Name: "identity", TTLSec: 1800, MaxEntries: 5000},
				{Name: "chart", TTLSec: 300, MaxEntries: 1000},
			},
			MaxStaleSec: 1800,
		},
		Redis: Redis{TTLSec: 3600},
		Hub:   Hub{RefreshIntervalSec: 10, PriceTier: "price"},
		Warm: Warm{
			Symbols:     []string{"bitcoin", "ethereum", "tether", "solana", "cardano"},
			Tier:        "price",
			Concurrency: 4,
		},
	}
}

// Load reads YAML config from path. If path is empty or the file does not
// exist, it returns defaults. Environment variables override select fields
// for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		setAPIKey(cfg, "coingecko", v)
	}
	if v := os.Getenv("COINCAP_API_KEY"); v != "" {
		setAPIKey(cfg, "coincap", v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HUB_REFRESH_INTERVAL_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Hub.RefreshIntervalSec = x
		}
	}
	if v := os.Getenv("WARM_SYMBOLS"); v != "" {
		cfg.Warm.Symbols = splitCSV(v)
	}
	if v := os.Getenv("WARM_CRON"); v != "" {
		cfg.Warm.Cron = v
	}
}

func setAPIKey(cfg *Config, id, key string) {
	for i := range cfg.Providers {
		if cfg.Providers[i].ID == id {
			cfg.Providers[i].APIKey = key
		}
	}
}

// Window returns the provider's rate window duration.
func (p Provider) Window() time.Duration { return time.Duration(p.WindowSec) * time.Second }

// Timeout returns the provider's per-call deadline.
func (p Provider) Timeout() time.Duration { return time.Duration(p.TimeoutSec) * time.Second }

// TTL returns the tier's time-to-live.
func (t Tier) TTL() time.Duration { return time.Duration(t.TTLSec) * time.Second }

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
