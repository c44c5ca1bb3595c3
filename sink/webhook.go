package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/livepage/update"
)

var (
	// ErrWebhookQueueFull is returned by Send when the delivery queue is full;
	// the update is dropped.
	ErrWebhookQueueFull = errors.New("webhook: queue full, update dropped")
	// ErrWebhookClosed is returned by Send after Close.
	ErrWebhookClosed = errors.New("webhook: closed")
)

// Webhook POSTs settled updates to a URL with retry and exponential
// backoff. Snapshot updates are skipped: only history and state changes are
// posted. Delivery runs on a background goroutine fed by a bounded queue, so
// Send never waits on the network.
type Webhook struct {
	url          string
	client       *http.Client
	maxRetries   int
	backoff      time.Duration
	queueSize    int
	flushTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay, doubled on each retry.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookQueue sets how many updates may wait for delivery. Default: 64.
func WithWebhookQueue(n int) WebhookOption {
	return func(w *Webhook) { w.queueSize = n }
}

// WithWebhookFlushTimeout bounds how long Close keeps delivering queued
// updates. Default: 5s.
func WithWebhookFlushTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.flushTimeout = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting url and starts its delivery
// goroutine. Close stops it.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:          url,
		client:       &http.Client{Timeout: 10 * time.Second},
		maxRetries:   3,
		backoff:      time.Second,
		queueSize:    64,
		flushTimeout: 5 * time.Second,
		logger:       slog.Default(),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.queueSize < 1 {
		w.queueSize = 1
	}
	w.queue = make(chan []byte, w.queueSize)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	go w.run()
	return w
}

// Send queues u for delivery. It fails fast when the queue is full.
func (w *Webhook) Send(_ context.Context, u update.Update) error {
	if u.Kind == update.KindSnapshot {
		return nil
	}
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWebhookClosed
	}
	select {
	case w.queue <- body:
		return nil
	default:
		return ErrWebhookQueueFull
	}
}

// Close stops accepting updates and delivers what is queued, giving up after
// the flush timeout.
func (w *Webhook) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	t := time.NewTimer(w.flushTimeout)
	defer t.Stop()
	select {
	case <-w.done:
	case <-t.C:
		w.logger.Warn("webhook: flush timed out", "pending", len(w.queue))
		w.cancel()
		<-w.done
	}
	w.cancel()
	return nil
}

func (w *Webhook) run() {
	defer close(w.done)
	for body := range w.queue {
		if w.ctx.Err() != nil {
			continue
		}
		if err := w.deliver(w.ctx, body); err != nil {
			w.logger.Warn("webhook: delivery failed", "url", w.url, "error", err)
		}
	}
}

func (w *Webhook) deliver(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Debug("webhook: request failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: status %d", resp.StatusCode)
		w.logger.Debug("webhook: bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}
