package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/livepage/update"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Replay is how many recent updates are kept for reconnecting clients.
	// Default: 64.
	Replay int `json:"replay" yaml:"replay"`
	// SubscriberBuf is the channel size per subscriber. Default: 128.
	SubscriberBuf int `json:"subscriber_buf" yaml:"subscriber_buf"`
	// Heartbeat is the interval of SSE comment pings. Default: 15s.
	Heartbeat time.Duration `json:"heartbeat" yaml:"heartbeat"`
}

func (c *HubConfig) defaults() {
	if c.Replay <= 0 {
		c.Replay = 64
	}
	if c.SubscriberBuf <= 0 {
		c.SubscriberBuf = 128
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
}

// Hub broadcasts updates to server-sent-event subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the update and catches up
// on the next snapshot.
type Hub struct {
	cfg HubConfig

	mu     sync.Mutex
	recent []update.Update
	subs   map[chan update.Update]struct{}
	closed bool
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig) *Hub {
	cfg.defaults()
	return &Hub{cfg: cfg, subs: make(map[chan update.Update]struct{})}
}

// Send publishes u to every subscriber.
func (h *Hub) Send(_ context.Context, u update.Update) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.recent = append(h.recent, u)
	if len(h.recent) > h.cfg.Replay {
		h.recent = h.recent[len(h.recent)-h.cfg.Replay:]
	}
	chans := make([]chan update.Update, 0, len(h.subs))
	for ch := range h.subs {
		chans = append(chans, ch)
	}
	// Sends happen under the lock so a concurrent unsubscribe cannot close a
	// channel mid-send; they never block.
	for _, ch := range chans {
		select {
		case ch <- u:
		default:
		}
	}
	h.mu.Unlock()
	return nil
}

// Subscribe returns the kept updates with Seq > since and a channel of
// future updates. cancel must be called when done.
func (h *Hub) Subscribe(since uint64) (replay []update.Update, ch <-chan update.Update, cancel func()) {
	sub := make(chan update.Update, h.cfg.SubscriberBuf)

	h.mu.Lock()
	for _, u := range h.recent {
		if u.Seq > since {
			replay = append(replay, u)
		}
	}
	if h.closed {
		close(sub)
	} else {
		h.subs[sub] = struct{}{}
	}
	h.mu.Unlock()

	return replay, sub, func() {
		h.mu.Lock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub)
		}
		h.mu.Unlock()
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
	return nil
}

// ServeHTTP streams updates as server-sent events. Clients resume with the
// Last-Event-ID header or a ?since=<seq> query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since := uint64(0)
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("since")
	}
	if raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "since must be an unsigned integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(": ok\n\n"))
	flusher.Flush()

	replay, ch, cancel := h.Subscribe(since)
	defer cancel()

	for _, u := range replay {
		if err := writeEvent(w, u); err != nil {
			return
		}
	}
	flusher.Flush()

	ping := time.NewTicker(h.cfg.Heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, u); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, u update.Update) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(u); err != nil {
		return err
	}
	payload := bytes.TrimRight(buf.Bytes(), "\n")
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", u.Seq, u.Kind, payload)
	return err
}
