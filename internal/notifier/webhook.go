package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"controlroom/internal/logger"
	"controlroom/internal/metrics"
)

// WebhookOptions configures Webhook behavior.
type WebhookOptions struct {
	Client     *http.Client
	MaxRetries int
	QueueSize  int
	Backoff    func(retry int) time.Duration
	Now        func() time.Time
	Logger     *logger.Logger
	Metrics    metrics.Recorder
}

// Webhook posts Discord-style embeds from a background worker so callers
// never wait on the network.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    func(retry int) time.Duration
	now        func() time.Time
	log        *logger.Logger
	rec        metrics.Recorder

	queue  chan Message
	mu     sync.RWMutex
	closed bool
	stop   context.CancelFunc
	done   chan struct{}
}

var _ Sink = (*Webhook)(nil)

// NewWebhook starts a webhook sink posting to url.
func NewWebhook(url string, opts WebhookOptions) *Webhook {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Webhook{
		url:        strings.TrimSpace(url),
		client:     client,
		maxRetries: maxRetries,
		backoff:    backoff,
		now:        now,
		log:        logger.OrDiscard(opts.Logger).WithComponent("notifier"),
		rec:        metrics.OrNop(opts.Metrics),
		queue:      make(chan Message, queueSize),
		stop:       cancel,
		done:       make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Notify queues msg for delivery. A full queue drops the message.
func (w *Webhook) Notify(_ context.Context, msg Message) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- msg:
	default:
		w.rec.NotifierResult(false)
		w.log.WithField("title", msg.Title).Warn("notification queue full, dropping message")
	}
}

func (w *Webhook) run(ctx context.Context) {
	defer close(w.done)
	for msg := range w.queue {
		if err := w.Deliver(ctx, msg); err != nil {
			w.log.WithError(err).WithField("title", msg.Title).Warn("webhook delivery failed")
		}
	}
}

// Close stops accepting messages and waits for queued ones to be attempted.
func (w *Webhook) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
	w.stop()
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Fields      []Field     `json:"fields"`
	Timestamp   string      `json:"timestamp"`
	Footer      embedFooter `json:"footer"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

// Encode renders msg as a webhook request body.
func (w *Webhook) Encode(msg Message) ([]byte, error) {
	fields := msg.Fields
	if fields == nil {
		fields = []Field{}
	}
	return json.Marshal(payload{Embeds: []embed{{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
		Fields:      fields,
		Timestamp:   w.now().UTC().Format(time.RFC3339Nano),
		Footer:      embedFooter{Text: Footer},
	}}})
}

// Deliver posts msg synchronously, retrying with exponential backoff.
func (w *Webhook) Deliver(ctx context.Context, msg Message) error {
	body, err := w.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		statusCode, respBody, err := w.send(ctx, body)
		if err == nil && statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
			w.rec.NotifierResult(true)
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = newStatusError(statusCode, respBody)
		}
		if attempt == w.maxRetries {
			break
		}
		if !sleepCtx(ctx, w.backoff(attempt+1)) {
			lastErr = ctx.Err()
			break
		}
	}
	w.rec.NotifierResult(false)
	return lastErr
}

func (w *Webhook) send(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, strings.TrimSpace(string(respBody)), nil
}

func defaultBackoff(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	delay := 500 * time.Millisecond << (retry - 1)
	if delay > 10*time.Second {
		return 10 * time.Second
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func newStatusError(statusCode int, responseBody string) error {
	if responseBody == "" {
		return fmt.Errorf("webhook responded with status %d", statusCode)
	}
	return fmt.Errorf("webhook responded with status %d: %s", statusCode, responseBody)
}
