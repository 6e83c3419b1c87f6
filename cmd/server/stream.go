package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"

	"coinwatch/internal/hub"
)

// sseTransport is the push-transport collaborator for the hub: one buffered
// channel per live SSE session. A session that stops draining fails its
// sends, which makes the hub evict it.
type sseTransport struct {
	mu       sync.Mutex
	sessions map[string]chan []byte
}

func newSSETransport() *sseTransport {
	return &sseTransport{sessions: make(map[string]chan []byte)}
}

func (t *sseTransport) Send(sessionID string, payload []byte) error {
	t.mu.Lock()
	ch, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s closed", sessionID)
	}
	select {
	case ch <- payload:
		return nil
	default:
		return fmt.Errorf("session %s not draining", sessionID)
	}
}

func (t *sseTransport) register() (string, chan []byte) {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	id := hex.EncodeToString(b)
	ch := make(chan []byte, 8)
	t.mu.Lock()
	t.sessions[id] = ch
	t.mu.Unlock()
	return id, ch
}

func (t *sseTransport) unregister(sessionID string) {
	t.mu.Lock()
	delete(t.sessions, sessionID)
	t.mu.Unlock()
}

// handleStream serves GET /api/stream?symbol=bitcoin as a server-sent event
// feed backed by one hub subscription.
func (t *sseTransport) handleStream(w http.ResponseWriter, r *http.Request, feeds *hub.Hub) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sessionID, ch := t.register()
	feeds.Subscribe(sessionID, symbol)
	defer func() {
		feeds.OnSessionClosed(sessionID)
		t.unregister(sessionID)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
