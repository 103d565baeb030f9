package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// Per-IP window tests
// ---------------------------------------------------------------------------

func TestIPWindowLimiter_AllowsUpToLimit(t *testing.T) {
	rl := newIPWindowLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		ok, _ := rl.allow("192.168.1.1")
		assert.True(t, ok, "attempt %d should be allowed", i+1)
	}

	ok, retryAfter := rl.allow("192.168.1.1")
	require.False(t, ok, "sixth attempt should be blocked")
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)
}

func TestIPWindowLimiter_WindowResets(t *testing.T) {
	clock := newStepClock()
	rl := newIPWindowLimiter(2, time.Minute)
	rl.now = clock.Now

	rl.allow("192.168.1.1")
	rl.allow("192.168.1.1")
	clock.Advance(20 * time.Second)
	ok, retryAfter := rl.allow("192.168.1.1")
	require.False(t, ok)
	assert.Equal(t, 40*time.Second, retryAfter)

	clock.Advance(40 * time.Second)
	ok, _ = rl.allow("192.168.1.1")
	assert.True(t, ok, "a new window starts once the old one has elapsed")
}

func TestIPWindowLimiter_BlockedAttemptsDoNotExtendWindow(t *testing.T) {
	clock := newStepClock()
	rl := newIPWindowLimiter(1, time.Minute)
	rl.now = clock.Now

	rl.allow("192.168.1.1")
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Second)
		ok, _ := rl.allow("192.168.1.1")
		require.False(t, ok)
	}
	clock.Advance(10 * time.Second)
	ok, _ := rl.allow("192.168.1.1")
	assert.True(t, ok)
}

func TestIPWindowLimiter_IsolatesIPs(t *testing.T) {
	rl := newIPWindowLimiter(1, time.Minute)

	ok, _ := rl.allow("192.168.1.1")
	require.True(t, ok)
	ok, _ = rl.allow("192.168.1.1")
	require.False(t, ok)

	ok, _ = rl.allow("192.168.1.2")
	assert.True(t, ok, "limit for one IP should not affect another")
}

func TestIPWindowLimiter_Sweep(t *testing.T) {
	clock := newStepClock()
	rl := newIPWindowLimiter(5, time.Minute)
	rl.now = clock.Now

	rl.allow("192.168.1.1")
	clock.Advance(30 * time.Second)
	rl.allow("192.168.1.2")
	clock.Advance(45 * time.Second)
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.windows, "192.168.1.1")
	assert.Contains(t, rl.windows, "192.168.1.2")
}

// ---------------------------------------------------------------------------
// Per-account lockout tests
// ---------------------------------------------------------------------------

func TestAccountLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newAccountLimiter()

	for i := 0; i < maxFailures-1; i++ {
		rl.recordFailure("admin")
		blocked, _ := rl.check("admin")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestAccountLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := newAccountLimiter()

	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("admin")
	}

	blocked, retryAfter := rl.check("admin")
	require.True(t, blocked, "should block after maxFailures")
	assert.Greater(t, retryAfter, time.Duration(0), "retry-after should be positive")
}

func TestAccountLimiter_ExponentialBackoff(t *testing.T) {
	clock := newStepClock()
	rl := newAccountLimiter()
	rl.now = clock.Now

	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("admin")
	}
	_, first := rl.check("admin")
	assert.Equal(t, baseLockout, first)

	rl.recordFailure("admin")
	_, second := rl.check("admin")
	assert.Equal(t, 2*baseLockout, second)
}

func TestAccountLimiter_LockoutElapses(t *testing.T) {
	clock := newStepClock()
	rl := newAccountLimiter()
	rl.now = clock.Now

	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("admin")
	}
	clock.Advance(baseLockout)
	blocked, _ := rl.check("admin")
	assert.False(t, blocked)
}

func TestAccountLimiter_SuccessResetsCounter(t *testing.T) {
	rl := newAccountLimiter()

	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("admin")
	}
	blocked, _ := rl.check("admin")
	require.True(t, blocked)

	rl.recordSuccess("admin")

	blocked, _ = rl.check("admin")
	assert.False(t, blocked, "should not block after successful login")
}

func TestAccountLimiter_IsolatesAccounts(t *testing.T) {
	rl := newAccountLimiter()

	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("admin")
	}
	blocked, _ := rl.check("admin")
	require.True(t, blocked)

	blocked, _ = rl.check("bob")
	assert.False(t, blocked, "lockout for one account should not affect another")
}

func TestAccountLimiter_SweepRemovesExpired(t *testing.T) {
	rl := newAccountLimiter()

	rl.mu.Lock()
	rl.attempts["old"] = &attemptRecord{
		failures:    maxFailures + 1,
		lastFailure: time.Now().Add(-2 * attemptExpiry),
		lockedUntil: time.Now().Add(-attemptExpiry),
	}
	rl.mu.Unlock()

	rl.sweep()

	rl.mu.Lock()
	_, exists := rl.attempts["old"]
	rl.mu.Unlock()
	assert.False(t, exists, "sweep should remove expired records")
}

func TestAccountLimiter_MaxLockoutCap(t *testing.T) {
	rl := newAccountLimiter()

	for i := 0; i < maxFailures+20; i++ {
		rl.recordFailure("admin")
	}

	_, retryAfter := rl.check("admin")
	assert.LessOrEqual(t, retryAfter, maxLockout, "lockout should not exceed maxLockout")
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimited(rec, 1500*time.Millisecond)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"message":"`+msgTooManyAttempts+`"}`, rec.Body.String())

	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "60", retryAfterString(time.Minute))
}

// ---------------------------------------------------------------------------
// extractClientIP tests
// ---------------------------------------------------------------------------

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote ipv4",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "remote ipv6",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "xff ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.25, 203.0.113.9",
			},
			want: "10.0.0.1",
		},
		{
			name:       "forwarded ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"Forwarded": `for=198.51.100.1;proto=https;by=203.0.113.43`,
			},
			want: "10.0.0.1",
		},
		{
			name:       "x-real-ip ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Real-IP": "203.0.113.11",
			},
			want: "10.0.0.1",
		},
		{
			name:       "empty when nothing parseable",
			remoteAddr: "not-a-hostport",
			want:       "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr}
			r.Header = make(http.Header)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got := extractClientIP(r)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trustedCIDR := netip.MustParsePrefix("10.0.0.0/8")

	tests := []struct {
		name           string
		remoteAddr     string
		headers        map[string]string
		trustedProxies []netip.Prefix
		want           string
	}{
		{
			name:           "trusted proxy honors XFF",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.25",
		},
		{
			name:           "trusted proxy skips invalid XFF entries",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "unknown, not-an-ip, 203.0.113.7"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.7",
		},
		{
			name:           "untrusted peer ignores XFF",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "untrusted peer ignores Forwarded",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"Forwarded": "for=198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "untrusted peer ignores X-Real-IP",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Real-IP": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "empty trusted proxies ignores headers",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{},
			want:           "192.168.1.1",
		},
		{
			name:           "trusted proxy with no headers falls back to remote",
			remoteAddr:     "10.0.0.1:80",
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.1",
		},
		{
			name:           "multiple CIDRs - second matches",
			remoteAddr:     "172.16.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR, netip.MustParsePrefix("172.16.0.0/12")},
			want:           "198.51.100.25",
		},
		{
			name:           "trusted IPv6 proxy with Forwarded quoted IPv6",
			remoteAddr:     "[fd00::1]:80",
			headers:        map[string]string{"Forwarded": `for="[2001:db8::42]:1234"`},
			trustedProxies: []netip.Prefix{netip.MustParsePrefix("fd00::/8")},
			want:           "2001:db8::42",
		},
		{
			name:       "spoofed headers from direct client",
			remoteAddr: "203.0.113.99:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"Forwarded":       "for=10.0.0.2",
				"X-Real-IP":       "10.0.0.3",
			},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.99",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr}
			r.Header = make(http.Header)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got := extractClientIPWithProxies(r, tt.trustedProxies)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractClientIPWithTrustedProxies_AllHeaderTypes(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	t.Run("XFF takes priority over Forwarded and X-Real-IP", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header: http.Header{
				"X-Forwarded-For": []string{"198.51.100.10"},
				"Forwarded":       []string{"for=198.51.100.20"},
				"X-Real-Ip":       []string{"198.51.100.30"},
			},
		}
		assert.Equal(t, "198.51.100.10", extractClientIPWithProxies(r, trusted))
	})

	t.Run("Forwarded takes priority over X-Real-IP when no XFF", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header: http.Header{
				"Forwarded": []string{"for=198.51.100.20"},
				"X-Real-Ip": []string{"198.51.100.30"},
			},
		}
		assert.Equal(t, "198.51.100.20", extractClientIPWithProxies(r, trusted))
	})

	t.Run("X-Real-IP used when no XFF or Forwarded", func(t *testing.T) {
		r := &http.Request{
			RemoteAddr: "10.0.0.1:80",
			Header: http.Header{
				"X-Real-Ip": []string{"198.51.100.30"},
			},
		}
		assert.Equal(t, "198.51.100.30", extractClientIPWithProxies(r, trusted))
	})
}

func TestWithTrustedProxies(t *testing.T) {
	apply := func(t *testing.T, cidrs []string) *API {
		t.Helper()
		opt, err := WithTrustedProxies(cidrs)
		require.NoError(t, err)
		a := &API{}
		opt(a)
		return a
	}

	t.Run("valid CIDRs", func(t *testing.T) {
		a := apply(t, []string{"10.0.0.0/8", "172.16.0.0/12"})
		assert.Len(t, a.trustedProxies, 2)
	})

	t.Run("bare IP treated as /32", func(t *testing.T) {
		a := apply(t, []string{"10.0.0.1"})
		assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}, a.trustedProxies)
	})

	t.Run("bare IPv6 treated as /128", func(t *testing.T) {
		a := apply(t, []string{"::1"})
		assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("::1/128")}, a.trustedProxies)
	})

	t.Run("invalid CIDR returns error", func(t *testing.T) {
		_, err := WithTrustedProxies([]string{"not-a-cidr"})
		require.Error(t, err)
	})

	t.Run("mixed valid and invalid returns error", func(t *testing.T) {
		_, err := WithTrustedProxies([]string{"10.0.0.0/8", "garbage"})
		require.Error(t, err)
	})
}

func TestAPIExtractClientIP(t *testing.T) {
	r := &http.Request{
		RemoteAddr: "10.0.0.1:80",
		Header: http.Header{
			"X-Forwarded-For": []string{"198.51.100.25"},
		},
	}

	t.Run("trusted peer uses XFF", func(t *testing.T) {
		a := &API{trustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}
		assert.Equal(t, "198.51.100.25", a.extractClientIP(r))
	})

	t.Run("no proxy config uses peer", func(t *testing.T) {
		a := &API{}
		assert.Equal(t, "10.0.0.1", a.extractClientIP(r))
	})
}
