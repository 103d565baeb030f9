// Package api exposes the authentication gateway over HTTP.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ironkeep/auth"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	auth           *auth.Service
	filesDir       string
	ipLimiter      *ipWindowLimiter
	accountLimiter *accountLimiter
	trustedProxies []netip.Prefix
	audit          *auditLogger
	logger         *slog.Logger
	alertFn        AlertFunc
	webhookCfg     WebhookConfig
	webhook        *auditWebhook
	mountPath      string
}

//go:embed openapi.yaml
var openapiDoc []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithFilesDir sets the directory listed by GET /files.
func WithFilesDir(dir string) Option {
	return func(a *API) {
		a.filesDir = dir
	}
}

// WithLoginLimit allows at most limit login attempts per client IP per
// window.
func WithLoginLimit(limit int, window time.Duration) Option {
	return func(a *API) {
		a.ipLimiter = newIPWindowLimiter(limit, window)
	}
}

// WithAlertFunc enables anomaly alerts on login and keychain failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WebhookConfig describes the collector audit events are forwarded to.
type WebhookConfig struct {
	URL string
	// Header is sent with each request in "Name: Value" form.
	Header string
	// Timeout bounds each attempt. Zero means 5s.
	Timeout time.Duration
	// Retries is the number of extra attempts after a network error, 429
	// or 5xx.
	Retries int
}

// WithAuditWebhook forwards every audit event to cfg.URL. An empty URL
// disables forwarding.
func WithAuditWebhook(cfg WebhookConfig) Option {
	return func(a *API) {
		a.webhookCfg = cfg
	}
}

// WithMountPath tells the API where its router is mounted so the docs page
// can find the OpenAPI document. Defaults to "/api".
func WithMountPath(p string) Option {
	return func(a *API) {
		a.mountPath = strings.TrimSuffix(p, "/")
	}
}

// WithTrustedProxies parses CIDRs (or bare IPs) whose proxy headers are
// honoured when determining the client IP.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if p, err := netip.ParsePrefix(c); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", c)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(svc *auth.Service, opts ...Option) *API {
	a := &API{
		auth:           svc,
		ipLimiter:      newIPWindowLimiter(5, time.Minute),
		accountLimiter: newAccountLimiter(),
		mountPath:      "/api",
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.ipFn = a.extractClientIP
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookCfg.URL != "" {
		a.webhook = newAuditWebhook(a.webhookCfg, a.logger.With("component", "audit_webhook"))
		a.audit.webhook = a.webhook
	}
	return a
}

// Close flushes pending audit webhook deliveries.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiDoc)
	})

	r.With(docsCSP).Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.mountPath + "/openapi.yaml",
		Path:    strings.TrimPrefix(a.mountPath, "/") + "/docs",
	}, nil))

	r.Post("/auth/login", a.Login)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Post("/auth/logout", a.Logout)
		r.Post("/keychain", a.EncryptKeychain)
		r.Post("/keychain/decrypt", a.DecryptKeychain)
		r.Get("/files", a.ListFiles)
	})

	return r
}

// RunJanitor periodically drops expired rate limiter state until ctx is done.
func (a *API) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.ipLimiter.sweep()
			a.accountLimiter.sweep()
		}
	}
}
