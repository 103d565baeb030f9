// Package postgres implements credentials.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironkeep/credentials"
)

// Store implements credentials.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ credentials.Store = (*Store)(nil)

// New returns a Store backed by the given pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates a connection pool from a DSN, ensures the schema exists and
// returns a new Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return New(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Lookup(ctx context.Context, username string) (*credentials.Credential, error) {
	name := credentials.CanonicalUsername(username)
	var c credentials.Credential
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, password_hash, salt, created_at
		 FROM credentials WHERE username = $1`, name).Scan(
		&c.UserID, &c.Username, &c.PasswordHash, &c.Salt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, credentials.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts c. An existing row for the username is left untouched, so
// a stored salt is never replaced.
func (s *Store) Create(ctx context.Context, c *credentials.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (username, user_id, password_hash, salt, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (username) DO NOTHING`,
		c.Username, c.UserID, c.PasswordHash, c.Salt, c.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", c.Username, credentials.ErrExists)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, username string) error {
	name := credentials.CanonicalUsername(username)
	tag, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE username = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", name, credentials.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*credentials.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, username, password_hash, salt, created_at
		 FROM credentials ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*credentials.Credential
	for rows.Next() {
		var c credentials.Credential
		if err := rows.Scan(&c.UserID, &c.Username, &c.PasswordHash, &c.Salt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
