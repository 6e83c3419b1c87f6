package cache

import (
	"container/list"
	"sync"
	"time"

	"coinwatch/internal/model"
)

// TierConfig describes one named freshness tier. Identity data gets a long
// TTL, live price a short one; the aggregator picks the tier per request.
type TierConfig struct {
	Name       string
	TTL        time.Duration
	MaxEntries int
}

// TierStats is a point-in-time snapshot of one tier.
type TierStats struct {
	Size      int   `json:"size"`
	HitCount  int64 `json:"hit_count"`
	MissCount int64 `json:"miss_count"`
}

type entry struct {
	symbol     string
	rec        *model.Record
	insertedAt time.Time
	expiresAt  time.Time
}

// tier owns its entries. Lock scope is per tier so traffic on one tier never
// serializes another.
type tier struct {
	mu     sync.Mutex
	ttl    time.Duration
	max    int
	ll     *list.List               // front = most recently used
	items  map[string]*list.Element // symbol -> element holding *entry
	hits   int64
	misses int64
}

// Tiered is a keyed store with independent named tiers, TTL freshness and
// LRU eviction once a tier exceeds its capacity. Expired entries stay
// resident until evicted so degraded reads can still use them.
type Tiered struct {
	tiers map[string]*tier

	now func() time.Time
}

func NewTiered(configs []TierConfig) *Tiered {
	tiers := make(map[string]*tier, len(configs))
	for _, c := range configs {
		tiers[c.Name] = &tier{
			ttl:   c.TTL,
			max:   c.MaxEntries,
			ll:    list.New(),
			items: make(map[string]*list.Element),
		}
	}
	return &Tiered{tiers: tiers, now: time.Now}
}

// Tiers returns the configured tier names.
func (t *Tiered) Tiers() []string {
	out := make([]string, 0, len(t.tiers))
	for name := range t.tiers {
		out = append(out, name)
	}
	return out
}

// Has reports whether a tier with this name exists.
func (t *Tiered) Has(tierName string) bool {
	_, ok := t.tiers[tierName]
	return ok
}

// Get returns the cached record for (tier, symbol). found means an entry is
// resident; fresh means it is still within TTL. A found-but-not-fresh result
// is only usable as a degraded-availability response.
func (t *Tiered) Get(tierName, symbol string) (*model.Record, bool, bool) {
	tr, ok := t.tiers[tierName]
	if !ok {
		return nil, false, false
	}
	now := t.now()

	tr.mu.Lock()
	defer tr.mu.Unlock()

	el, ok := tr.items[symbol]
	if !ok {
		tr.misses++
		return nil, false, false
	}
	tr.ll.MoveToFront(el)
	e := el.Value.(*entry)
	fresh := now.Before(e.expiresAt)
	if fresh {
		tr.hits++
	} else {
		tr.misses++
	}
	return e.rec, true, fresh
}

// Age returns how long ago the resident entry for (tier, symbol) was
// inserted. Used to bound stale-fallback reads.
func (t *Tiered) Age(tierName, symbol string) (time.Duration, bool) {
	tr, ok := t.tiers[tierName]
	if !ok {
		return 0, false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	el, ok := tr.items[symbol]
	if !ok {
		return 0, false
	}
	return t.now().Sub(el.Value.(*entry).insertedAt), true
}

// Put stores rec under (tier, symbol), superseding any previous entry, and
// evicts the least-recently-used entries once the tier is over capacity.
func (t *Tiered) Put(tierName, symbol string, rec *model.Record) {
	tr, ok := t.tiers[tierName]
	if !ok {
		return
	}
	now := t.now()

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if el, ok := tr.items[symbol]; ok {
		tr.ll.MoveToFront(el)
		el.Value = &entry{symbol: symbol, rec: rec, insertedAt: now, expiresAt: now.Add(tr.ttl)}
		return
	}
	el := tr.ll.PushFront(&entry{symbol: symbol, rec: rec, insertedAt: now, expiresAt: now.Add(tr.ttl)})
	tr.items[symbol] = el

	for tr.max > 0 && tr.ll.Len() > tr.max {
		oldest := tr.ll.Back()
		if oldest == nil {
			break
		}
		tr.ll.Remove(oldest)
		delete(tr.items, oldest.Value.(*entry).symbol)
	}
}

// Invalidate drops the entry for (tier, symbol) if present.
func (t *Tiered) Invalidate(tierName, symbol string) {
	tr, ok := t.tiers[tierName]
	if !ok {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if el, ok := tr.items[symbol]; ok {
		tr.ll.Remove(el)
		delete(tr.items, symbol)
	}
}

// Stats snapshots size and hit/miss counters per tier.
func (t *Tiered) Stats() map[string]TierStats {
	out := make(map[string]TierStats, len(t.tiers))
	for name, tr := range t.tiers {
		tr.mu.Lock()
		out[name] = TierStats{Size: tr.ll.Len(), HitCount: tr.hits, MissCount: tr.misses}
		tr.mu.Unlock()
	}
	return out
}
