package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"coinwatch/internal/model"
)

// Transport pushes a payload to one live session. Owned by the serving
// layer; a send failure means the session is gone.
type Transport interface {
	Send(sessionID string, payload []byte) error
}

// Source is the aggregator side the hub refreshes from.
type Source interface {
	Get(ctx context.Context, symbol, tier string, forceRefresh bool) (*model.Record, error)
}

// feed is the Active state for one symbol: its subscriber set and the
// cancel handle of its refresh goroutine. A feed exists if and only if the
// subscriber set is non-empty.
type feed struct {
	symbol   string
	sessions map[string]struct{}
	cancel   context.CancelFunc
}

// Hub tracks which sessions want which symbols and runs one periodic
// refresh-and-broadcast loop per distinct subscribed symbol, so N
// subscribers to the same symbol cost one upstream fetch per cycle.
type Hub struct {
	source    Source
	transport Transport
	logger    *slog.Logger
	interval  time.Duration
	priceTier string

	mu        sync.Mutex
	feeds     map[string]*feed  // symbol -> active feed
	bySession map[string]string // session -> symbol (one symbol per session)

	baseCtx context.Context
	stop    context.CancelFunc
}

func New(source Source, transport Transport, interval time.Duration, priceTier string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if priceTier == "" {
		priceTier = "price"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		source:    source,
		transport: transport,
		logger:    logger,
		interval:  interval,
		priceTier: priceTier,
		feeds:     make(map[string]*feed),
		bySession: make(map[string]string),
		baseCtx:   ctx,
		stop:      cancel,
	}
}

// Subscribe registers sessionID for symbol. A session holds at most one
// subscription; subscribing again moves it. The new subscriber gets an
// immediate snapshot push; the first subscriber for a symbol also starts
// its refresh loop.
func (h *Hub) Subscribe(sessionID, symbol string) {
	symbol = model.NormalizeSymbol(symbol)
	if sessionID == "" || symbol == "" {
		return
	}

	h.mu.Lock()
	if prev, ok := h.bySession[sessionID]; ok && prev != symbol {
		h.removeLocked(sessionID)
	}
	f, ok := h.feeds[symbol]
	if !ok {
		ctx, cancel := context.WithCancel(h.baseCtx)
		f = &feed{symbol: symbol, sessions: make(map[string]struct{}), cancel: cancel}
		h.feeds[symbol] = f
		go h.run(ctx, symbol)
	}
	f.sessions[sessionID] = struct{}{}
	h.bySession[sessionID] = symbol
	h.mu.Unlock()

	// Snapshot push so the subscriber is not left waiting a full cycle.
	go h.sendSnapshot(sessionID, symbol)
}

// Unsubscribe removes the session from whatever it was subscribed to. The
// symbol's refresh loop is torn down exactly when its subscriber set
// becomes empty.
func (h *Hub) Unsubscribe(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sessionID)
}

// OnSessionClosed is the disconnect path; identical to Unsubscribe.
func (h *Hub) OnSessionClosed(sessionID string) { h.Unsubscribe(sessionID) }

// Close cancels every feed. Used on shutdown.
func (h *Hub) Close() {
	h.stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	for symbol, f := range h.feeds {
		f.cancel()
		delete(h.feeds, symbol)
	}
	h.bySession = make(map[string]string)
}

// ActiveSymbols reports which symbols currently have a running feed.
func (h *Hub) ActiveSymbols() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.feeds))
	for symbol := range h.feeds {
		out = append(out, symbol)
	}
	return out
}

func (h *Hub) removeLocked(sessionID string) {
	symbol, ok := h.bySession[sessionID]
	if !ok {
		return
	}
	delete(h.bySession, sessionID)
	f, ok := h.feeds[symbol]
	if !ok {
		return
	}
	delete(f.sessions, sessionID)
	if len(f.sessions) == 0 {
		f.cancel()
		delete(h.feeds, symbol)
	}
}

// run is the Active-state loop for one symbol: a forced refresh per tick,
// broadcast to the current subscriber set. A failed tick is skipped, never
// fatal to the feed.
func (h *Hub) run(ctx context.Context, symbol string) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, err := h.source.Get(ctx, symbol, h.priceTier, true)
			if err != nil {
				h.logger.Warn("refresh tick skipped", "symbol", symbol, "error", err)
				continue
			}
			h.broadcast(symbol, rec)
		}
	}
}

func (h *Hub) sendSnapshot(sessionID, symbol string) {
	ctx, cancel := context.WithTimeout(h.baseCtx, h.interval)
	defer cancel()
	rec, err := h.source.Get(ctx, symbol, h.priceTier, false)
	if err != nil {
		h.logger.Warn("initial snapshot unavailable", "symbol", symbol, "session", sessionID, "error", err)
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("marshal record", "symbol", symbol, "error", err)
		return
	}
	h.push(sessionID, payload)
}

func (h *Hub) broadcast(symbol string, rec *model.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		h.logger.Error("marshal record", "symbol", symbol, "error", err)
		return
	}

	h.mu.Lock()
	f, ok := h.feeds[symbol]
	if !ok {
		h.mu.Unlock()
		return
	}
	sessions := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		sessions = append(sessions, id)
	}
	h.mu.Unlock()

	for _, id := range sessions {
		h.push(id, payload)
	}
}

// push is best-effort: a send failure means the session is gone, so it is
// dropped from its subscription instead of retried.
func (h *Hub) push(sessionID string, payload []byte) {
	if err := h.transport.Send(sessionID, payload); err != nil {
		h.logger.Info("dropping dead session", "session", sessionID, "error", err)
		h.Unsubscribe(sessionID)
	}
}
