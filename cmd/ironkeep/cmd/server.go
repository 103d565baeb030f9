package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/api"
	"github.com/jmcleod/ironkeep/auth"
	"github.com/jmcleod/ironkeep/config"
	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/custody"
	"github.com/jmcleod/ironkeep/internal/util"
)

const sweepInterval = time.Minute

var (
	listenAddr string
	selfSigned bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the credential and keychain server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.Listen = listenAddr
		}
		logger := cfg.Logger(os.Stderr)

		// Keys sealed by memguard are unreadable once the process key is
		// purged.
		defer memguard.Purge()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer closeStore()

		keys := custody.New(custody.WithTTL(cfg.SessionTTL))
		defer keys.Close()

		mode, err := crypto.ParseMode(cfg.Keychain.Mode)
		if err != nil {
			return err
		}
		if cfg.TokenSecret == "" {
			logger.Warn("token_secret not set; using a random secret, tokens will not survive a restart")
		}
		svc, err := auth.NewService(store, keys, crypto.NewPool(cfg.KDF.Workers), auth.Config{
			TokenSecret: []byte(cfg.TokenSecret),
			SessionTTL:  cfg.SessionTTL,
			KDFTimeout:  cfg.KDF.Timeout,
			Mode:        mode,
		})
		if err != nil {
			return err
		}

		a, err := newAPI(cfg, svc, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		go keys.Run(ctx, sweepInterval)
		go a.RunJanitor(ctx, sweepInterval)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)
		r.Use(api.CORS(cfg.AllowedOrigins))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api", a.Router())

		tlsConfig, err := serverTLSConfig(cfg)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(os.Stdout)
		logger.Info("server starting",
			"listen", cfg.Listen,
			"tls", tlsConfig != nil,
			"store", cfg.Store.Driver,
			"keychain_mode", string(mode),
		)

		select {
		case <-ctx.Done():
			stop()
			// A second interrupt skips the graceful drain.
			memguard.CatchInterrupt()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func newAPI(cfg *config.Config, svc *auth.Service, logger *slog.Logger) (*api.API, error) {
	proxies, err := api.WithTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithFilesDir(cfg.FilesDir),
		api.WithLoginLimit(cfg.LoginLimit.Max, cfg.LoginLimit.Window),
		api.WithAuditWebhook(api.WebhookConfig{
			URL:     cfg.Audit.WebhookURL,
			Header:  cfg.Audit.WebhookHeader,
			Timeout: cfg.Audit.WebhookTimeout,
			Retries: cfg.Audit.WebhookRetries,
		}),
		proxies,
	}
	if cfg.Audit.Alerts {
		opts = append(opts, api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert",
				"type", string(e.Type),
				"count", e.Count,
				"threshold", e.Threshold,
				"message", e.Message,
			)
		}))
	}
	return api.New(svc, opts...), nil
}

func serverTLSConfig(cfg *config.Config) (*tls.Config, error) {
	var cert tls.Certificate
	switch {
	case cfg.TLSCert != "" && cfg.TLSKey != "":
		var err error
		cert, err = tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	case selfSigned:
		var err error
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		fmt.Println("Using self-signed runtime generated certificate for TLS")
	default:
		return nil, nil
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on (overrides config)")
	serverCmd.Flags().BoolVar(&selfSigned, "self-signed", false, "Serve TLS with a generated certificate when no tls_cert is configured")
}
