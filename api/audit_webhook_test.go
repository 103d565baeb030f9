package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestWebhook returns a dispatcher with a short backoff so retry tests
// stay fast.
func newTestWebhook(t *testing.T, cfg WebhookConfig) *auditWebhook {
	t.Helper()
	wh := newAuditWebhook(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	wh.backoff = time.Millisecond
	return wh
}

func TestWebhook_SuccessfulDelivery(t *testing.T) {
	var received webhookEvent
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL})
	wh.enqueue(webhookEvent{
		Event:     "login_success",
		UserID:    "user-1",
		ClientIP:  "127.0.0.1",
		Timestamp: "2026-01-01T00:00:00Z",
		Attrs:     map[string]string{"key": "value"},
	})
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "login_success", received.Event)
	assert.Equal(t, "user-1", received.UserID)
	assert.Equal(t, "127.0.0.1", received.ClientIP)
	assert.Equal(t, "value", received.Attrs["key"])
}

func TestWebhook_RetryTransientFailures(t *testing.T) {
	for name, status := range map[string]int{
		"ServerError":     http.StatusInternalServerError,
		"TooManyRequests": http.StatusTooManyRequests,
	} {
		t.Run(name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if attempts.Add(1) <= 2 {
					w.WriteHeader(status)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			wh := newTestWebhook(t, WebhookConfig{URL: srv.URL, Retries: 2})
			wh.enqueue(webhookEvent{Event: "test_event", Timestamp: "2026-01-01T00:00:00Z"})
			wh.close()

			assert.Equal(t, int32(3), attempts.Load())
		})
	}
}

func TestWebhook_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL, Retries: 1})
	wh.enqueue(webhookEvent{Event: "test_event", Timestamp: "2026-01-01T00:00:00Z"})
	wh.close()

	assert.Equal(t, int32(2), attempts.Load())
}

func TestWebhook_AttemptTimeout(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL, Timeout: 50 * time.Millisecond, Retries: 1})
	wh.enqueue(webhookEvent{Event: "slow", Timestamp: "2026-01-01T00:00:00Z"})

	done := make(chan struct{})
	go func() {
		wh.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery was not bounded by the attempt timeout")
	}
	assert.Equal(t, int32(2), attempts.Load())
}

func TestWebhook_NoRetryOn400(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL})
	wh.enqueue(webhookEvent{Event: "test_event", Timestamp: "2026-01-01T00:00:00Z"})
	wh.close()

	assert.Equal(t, int32(1), attempts.Load(), "should not retry on 4xx")
}

func TestWebhook_AuthHeader(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL, Header: "Authorization: Bearer my-token-123"})
	wh.enqueue(webhookEvent{Event: "test_event", Timestamp: "2026-01-01T00:00:00Z"})
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer my-token-123", gotAuth)
}

func TestWebhook_ContentType(t *testing.T) {
	var gotContentType string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotContentType = r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL})
	wh.enqueue(webhookEvent{Event: "test_event", Timestamp: "2026-01-01T00:00:00Z"})
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", gotContentType)
}

func TestWebhook_QueueFullNonBlocking(t *testing.T) {
	// A slow endpoint that only returns once the client gives up.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	wh := &auditWebhook{
		url:     srv.URL,
		timeout: 100 * time.Millisecond,
		client:  &http.Client{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:  make(chan webhookEvent, 2),
	}
	wh.wg.Add(1)
	go wh.loop()

	for i := 0; i < 10; i++ {
		wh.enqueue(webhookEvent{Event: "flood", Timestamp: "2026-01-01T00:00:00Z"})
	}

	// Reaching this point means enqueue never blocked.
	assert.GreaterOrEqual(t, wh.dropped.Load(), int64(7))
	wh.close()
}

func TestParseWebhookHeader(t *testing.T) {
	tests := map[string][2]string{
		"Authorization: Bearer abc": {"Authorization", "Bearer abc"},
		"X-Token:abc:def":           {"X-Token", "abc:def"},
		"  X-Key :  v  ":            {"X-Key", "v"},
		"no-colon":                  {"", ""},
		": value":                   {"", ""},
		"":                          {"", ""},
	}
	for in, want := range tests {
		name, value := parseWebhookHeader(in)
		assert.Equal(t, want, [2]string{name, value}, in)
	}
}

func TestWebhook_EnqueueAfterCloseIsDropped(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL})
	wh.close()
	wh.enqueue(webhookEvent{Event: "late"})
	wh.close()
	assert.Equal(t, int32(0), count.Load())
}

func TestWebhook_GracefulShutdownDrains(t *testing.T) {
	var count atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL})
	for i := 0; i < 5; i++ {
		wh.enqueue(webhookEvent{Event: "drain_test", Timestamp: "2026-01-01T00:00:00Z"})
	}
	wh.close() // should block until all 5 are sent

	assert.Equal(t, int32(5), count.Load(), "all queued events should be delivered on close")
}

func TestWebhook_JSONPayloadStructure(t *testing.T) {
	var body []byte
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, WebhookConfig{URL: srv.URL})
	wh.enqueue(eventFromAttrs([]slog.Attr{
		slog.String("event", "keychain_failure"),
		slog.String("user_id", "user-42"),
		slog.String("client_ip", "10.0.0.1"),
		slog.String("timestamp", "2026-06-15T12:00:00Z"),
		slog.String("op", "decrypt"),
	}))
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, body)

	var parsed map[string]interface{}
	err := json.Unmarshal(body, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "keychain_failure", parsed["event"])
	assert.Equal(t, "user-42", parsed["user_id"])
	assert.Equal(t, "10.0.0.1", parsed["client_ip"])
	assert.Equal(t, "2026-06-15T12:00:00Z", parsed["timestamp"])

	attrs, ok := parsed["attrs"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "decrypt", attrs["op"])
}
