package warm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"coinwatch/internal/model"
	"coinwatch/internal/provider"
)

type fakeSource struct {
	mu       sync.Mutex
	seen     map[string]int
	failing  map[string]bool
	parallel atomic.Int64
	maxPar   atomic.Int64
}

func newFakeSource(failing ...string) *fakeSource {
	f := &fakeSource{seen: make(map[string]int), failing: make(map[string]bool)}
	for _, s := range failing {
		f.failing[s] = true
	}
	return f
}

func (f *fakeSource) Get(_ context.Context, symbol, _ string, _ bool) (*model.Record, error) {
	cur := f.parallel.Add(1)
	defer f.parallel.Add(-1)
	for {
		max := f.maxPar.Load()
		if cur <= max || f.maxPar.CompareAndSwap(max, cur) {
			break
		}
	}

	f.mu.Lock()
	f.seen[symbol]++
	failing := f.failing[symbol]
	f.mu.Unlock()
	if failing {
		return nil, fmt.Errorf("%w: %s", provider.ErrExhausted, symbol)
	}
	return &model.Record{Symbol: symbol, Price: model.Float(1)}, nil
}

func TestWarm_FetchesEverySymbol(t *testing.T) {
	src := newFakeSource()
	w := New(src, []string{"bitcoin", "ethereum", "solana"}, "price", 2, nil)

	if got := w.Warm(context.Background()); got != 3 {
		t.Fatalf("warmed=%d, want 3", got)
	}
	for _, s := range []string{"bitcoin", "ethereum", "solana"} {
		if src.seen[s] != 1 {
			t.Fatalf("%s fetched %d times, want 1", s, src.seen[s])
		}
	}
}

func TestWarm_FailuresAreNotFatal(t *testing.T) {
	src := newFakeSource("ethereum")
	w := New(src, []string{"bitcoin", "ethereum", "solana"}, "price", 2, nil)

	if got := w.Warm(context.Background()); got != 2 {
		t.Fatalf("warmed=%d, want 2 despite one failure", got)
	}
	if src.seen["solana"] != 1 {
		t.Fatalf("failure must not stop the remaining symbols")
	}
}

func TestWarm_ConcurrencyBounded(t *testing.T) {
	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("coin%d", i)
	}
	src := newFakeSource()
	w := New(src, symbols, "price", 3, nil)
	w.Warm(context.Background())

	if got := src.maxPar.Load(); got > 3 {
		t.Fatalf("observed %d parallel fetches, limit is 3", got)
	}
}

func TestWarm_EmptyListIsNoop(t *testing.T) {
	w := New(newFakeSource(), nil, "price", 2, nil)
	if got := w.Warm(context.Background()); got != 0 {
		t.Fatalf("warmed=%d, want 0", got)
	}
}

func TestSchedule_RejectsBadSpec(t *testing.T) {
	w := New(newFakeSource(), []string{"bitcoin"}, "price", 1, nil)
	defer w.Stop()
	if err := w.Schedule(context.Background(), "not a cron spec"); err == nil {
		t.Fatalf("want error for malformed cron spec")
	}
	if err := w.Schedule(context.Background(), "@every 1h"); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
