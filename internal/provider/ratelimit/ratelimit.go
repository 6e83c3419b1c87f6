package ratelimit

import (
	"sync"
	"time"
)

// Quota is a per-provider request budget over a fixed window.
type Quota struct {
	Requests int
	Window   time.Duration
}

// window is the live counter for one provider. Each provider has its own
// lock so unrelated providers never serialize on each other.
type window struct {
	mu    sync.Mutex
	quota Quota
	count int
	start time.Time
}

// Limiter implements non-blocking fixed-window admission control per
// provider. Bursts at window boundaries can reach 2x quota; that is an
// accepted property of fixed windows, not a bug.
type Limiter struct {
	windows map[string]*window

	now func() time.Time
}

// New builds a Limiter for a static set of provider quotas. Providers not
// present in quotas are always denied.
func New(quotas map[string]Quota) *Limiter {
	ws := make(map[string]*window, len(quotas))
	for id, q := range quotas {
		ws[id] = &window{quota: q}
	}
	return &Limiter{windows: ws, now: time.Now}
}

// TryAcquire reports whether providerID is under quota and, if so, counts
// the request. It never blocks.
func (l *Limiter) TryAcquire(providerID string) bool {
	w, ok := l.windows[providerID]
	if !ok {
		return false
	}
	if w.quota.Requests <= 0 || w.quota.Window <= 0 {
		return false
	}

	now := l.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) >= w.quota.Window {
		w.start = now
		w.count = 0
	}
	if w.count >= w.quota.Requests {
		return false
	}
	w.count++
	return true
}
