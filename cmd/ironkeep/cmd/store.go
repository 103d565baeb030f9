package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironkeep/config"
	"github.com/jmcleod/ironkeep/credentials"
	bboltstore "github.com/jmcleod/ironkeep/credentials/bbolt"
	"github.com/jmcleod/ironkeep/credentials/file"
	"github.com/jmcleod/ironkeep/credentials/memory"
	"github.com/jmcleod/ironkeep/credentials/postgres"
)

// openStore opens the credential store selected by cfg. The returned
// function releases it.
func openStore(ctx context.Context, cfg config.StoreConfig) (credentials.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), func() {}, nil
	case config.DriverFile:
		s, err := file.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening users file: %w", err)
		}
		return s, func() {}, nil
	case config.DriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating data directory: %w", err)
		}
		s, err := bboltstore.Open(cfg.Path, &bbolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("opening credential database: %w", err)
		}
		return s, func() { s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
