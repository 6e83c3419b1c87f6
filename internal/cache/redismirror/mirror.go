package redismirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coinwatch/internal/model"
)

// Mirror keeps the latest successful record per symbol in Redis so that
// sibling instances (or a restarted one) can serve a degraded read when
// every provider is down and the local cache is cold. It is a best-effort
// side channel, not a tier: the in-process tiered cache stays authoritative.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Mirror{client: client, ttl: ttl}, nil
}

func key(symbol string) string { return "latest:" + model.NormalizeSymbol(symbol) }

// Store writes rec as the latest snapshot for its symbol.
func (m *Mirror) Store(ctx context.Context, rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := m.client.Set(ctx, key(rec.Symbol), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("set latest record in redis: %w", err)
	}
	return nil
}

// Latest returns the stored snapshot for symbol, or (nil, nil) on a miss.
func (m *Mirror) Latest(ctx context.Context, symbol string) (*model.Record, error) {
	data, err := m.client.Get(ctx, key(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest record from redis: %w", err)
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func (m *Mirror) Ping(ctx context.Context) error { return m.client.Ping(ctx).Err() }

func (m *Mirror) Close() error { return m.client.Close() }
