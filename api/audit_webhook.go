package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	webhookQueueSize      = 1024
	defaultWebhookTimeout = 5 * time.Second
	webhookBackoff        = 500 * time.Millisecond
)

// webhookEvent is the JSON payload POSTed to the external endpoint.
type webhookEvent struct {
	Event     string            `json:"event"`
	UserID    string            `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Timestamp string            `json:"timestamp"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an external collector from a single
// background goroutine. enqueue never blocks: when the queue is full the
// event is dropped and counted.
type auditWebhook struct {
	url         string
	headerName  string
	headerValue string
	timeout     time.Duration
	retries     int
	backoff     time.Duration
	client      *http.Client
	logger      *slog.Logger
	events      chan webhookEvent
	dropped     atomic.Int64
	wg          sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newAuditWebhook(cfg WebhookConfig, logger *slog.Logger) *auditWebhook {
	w := &auditWebhook{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		retries: max(cfg.Retries, 0),
		backoff: webhookBackoff,
		client:  &http.Client{},
		logger:  logger,
		events:  make(chan webhookEvent, webhookQueueSize),
	}
	if w.timeout <= 0 {
		w.timeout = defaultWebhookTimeout
	}
	w.headerName, w.headerValue = parseWebhookHeader(cfg.Header)
	w.wg.Add(1)
	go w.loop()
	return w
}

// parseWebhookHeader splits "Name: Value". A value without a name yields
// no header.
func parseWebhookHeader(h string) (name, value string) {
	name, value, ok := strings.Cut(h, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", ""
	}
	return name, strings.TrimSpace(value)
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.events <- evt:
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("audit webhook queue full, event dropped", "event", evt.Event, "dropped_total", n)
	}
}

// close stops accepting events and waits until the queue is drained.
func (w *auditWebhook) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.events)
	w.mu.Unlock()
	w.wg.Wait()
}

// eventFromAttrs flattens audit attributes into a webhook payload.
func eventFromAttrs(attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{}
	for _, a := range attrs {
		v := a.Value.String()
		switch a.Key {
		case "event":
			evt.Event = v
		case "user_id":
			evt.UserID = v
		case "client_ip":
			evt.ClientIP = v
		case "timestamp":
			evt.Timestamp = v
		default:
			if evt.Attrs == nil {
				evt.Attrs = make(map[string]string)
			}
			evt.Attrs[a.Key] = v
		}
	}
	return evt
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.deliver(evt)
	}
}

// deliver posts evt, retrying transient failures with doubling backoff.
func (w *auditWebhook) deliver(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("audit webhook: encoding event", "event", evt.Event, "error", err)
		return
	}
	wait := w.backoff
	for attempt := 1; ; attempt++ {
		retry, err := w.post(body)
		if err == nil {
			return
		}
		if !retry || attempt > w.retries {
			w.logger.Warn("audit event not delivered",
				"event", evt.Event, "attempts", attempt, "error", err)
			return
		}
		time.Sleep(wait)
		wait *= 2
	}
}

// post makes one delivery attempt bounded by the configured timeout. retry
// reports whether the failure is worth another attempt.
func (w *auditWebhook) post(body []byte) (retry bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ironkeep-audit")
	if w.headerName != "" {
		req.Header.Set(w.headerName, w.headerValue)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return true, fmt.Errorf("collector returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("collector rejected event with %d", resp.StatusCode)
	}
}
