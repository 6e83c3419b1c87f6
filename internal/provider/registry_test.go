package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"coinwatch/internal/model"
)

type fakeClient struct {
	id    string
	rec   *model.Record
	err   error
	calls atomic.Int64
}

func (f *fakeClient) ID() string { return f.id }
func (f *fakeClient) Fetch(_ context.Context, symbol string) (*model.Record, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	rec := *f.rec
	rec.Symbol = symbol
	return &rec, nil
}

type admitAll struct{}

func (admitAll) TryAcquire(string) bool { return true }

type admitMap map[string]bool

func (m admitMap) TryAcquire(id string) bool { return m[id] }

func newTestRegistry(t *testing.T, limiter Admitter, clients ...*fakeClient) *Registry {
	t.Helper()
	byID := make(map[string]Client, len(clients))
	descs := make([]Descriptor, 0, len(clients))
	for i, c := range clients {
		byID[c.id] = c
		descs = append(descs, Descriptor{ID: c.id, Priority: i, Timeout: time.Second})
	}
	r, err := NewRegistry(limiter, slog.Default(), byID, descs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestFetchWithFallback_FirstSuccessStopsIteration(t *testing.T) {
	a := &fakeClient{id: "a", err: fmt.Errorf("boom: %w", ErrUnavailable)}
	b := &fakeClient{id: "b", rec: &model.Record{Price: model.Float(50000), Source: "b"}}
	c := &fakeClient{id: "c", rec: &model.Record{Price: model.Float(1), Source: "c"}}
	r := newTestRegistry(t, admitAll{}, a, b, c)

	rec, err := r.FetchWithFallback(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("FetchWithFallback: %v", err)
	}
	if rec.Source != "b" || *rec.Price != 50000 {
		t.Fatalf("want b's record, got %+v", rec)
	}
	if got := c.calls.Load(); got != 0 {
		t.Fatalf("provider after first success was queried %d times", got)
	}
}

func TestFetchWithFallback_RateLimitedSkippedNotFailed(t *testing.T) {
	a := &fakeClient{id: "a", rec: &model.Record{Source: "a", Price: model.Float(1)}}
	b := &fakeClient{id: "b", rec: &model.Record{Source: "b", Price: model.Float(2)}}
	r := newTestRegistry(t, admitMap{"a": false, "b": true}, a, b)

	rec, err := r.FetchWithFallback(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("FetchWithFallback: %v", err)
	}
	if rec.Source != "b" {
		t.Fatalf("want fallback to b, got %+v", rec)
	}
	if a.calls.Load() != 0 {
		t.Fatalf("rate-limited provider must not be called")
	}
}

func TestFetchWithFallback_AllFailing(t *testing.T) {
	a := &fakeClient{id: "a", err: fmt.Errorf("dial: %w", ErrUnavailable)}
	b := &fakeClient{id: "b", err: fmt.Errorf("parse: %w", ErrDataInvalid)}
	r := newTestRegistry(t, admitAll{}, a, b)

	_, err := r.FetchWithFallback(context.Background(), "bitcoin")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
}

func TestFetchWithFallback_AllDenied(t *testing.T) {
	a := &fakeClient{id: "a", rec: &model.Record{Source: "a"}}
	r := newTestRegistry(t, admitMap{}, a)

	_, err := r.FetchWithFallback(context.Background(), "bitcoin")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
}

func TestFetchWithFallback_NotFoundOnlyWhenAllAttemptedAgree(t *testing.T) {
	a := &fakeClient{id: "a", err: fmt.Errorf("lookup: %w", ErrSymbolUnknown)}
	b := &fakeClient{id: "b", err: fmt.Errorf("lookup: %w", ErrSymbolUnknown)}
	r := newTestRegistry(t, admitAll{}, a, b)

	_, err := r.FetchWithFallback(context.Background(), "doesnotexist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	// One transient failure in the mix keeps the outcome retryable.
	c := &fakeClient{id: "c", err: fmt.Errorf("lookup: %w", ErrSymbolUnknown)}
	d := &fakeClient{id: "d", err: fmt.Errorf("timeout: %w", ErrUnavailable)}
	r2 := newTestRegistry(t, admitAll{}, c, d)
	_, err = r2.FetchWithFallback(context.Background(), "doesnotexist")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("want ErrExhausted, got %v", err)
	}
}

func TestFetchWithFallback_PriorityOrderWins(t *testing.T) {
	low := &fakeClient{id: "low", rec: &model.Record{Source: "low", Price: model.Float(1)}}
	high := &fakeClient{id: "high", rec: &model.Record{Source: "high", Price: model.Float(2)}}
	byID := map[string]Client{"low": low, "high": high}
	descs := []Descriptor{
		{ID: "low", Priority: 9},
		{ID: "high", Priority: 1},
	}
	r, err := NewRegistry(admitAll{}, slog.Default(), byID, descs)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	rec, err := r.FetchWithFallback(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("FetchWithFallback: %v", err)
	}
	if rec.Source != "high" {
		t.Fatalf("priority 1 should be tried first, got %+v", rec)
	}
	if low.calls.Load() != 0 {
		t.Fatalf("lower-priority provider should not be queried")
	}
}
