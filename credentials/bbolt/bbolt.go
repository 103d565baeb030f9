// Package bbolt provides a BBolt-backed credentials.Store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironkeep/credentials"
)

var usersBucket = []byte("users")

// Store implements credentials.Store backed by a BBolt database. Records
// are JSON documents keyed by canonical username.
type Store struct {
	db *bbolt.DB
}

var _ credentials.Store = (*Store)(nil)

// New returns a Store backed by the given BBolt database.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(usersBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating users bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens a BBolt database at path and returns a new Store.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Lookup(_ context.Context, username string) (*credentials.Credential, error) {
	name := credentials.CanonicalUsername(username)
	var c credentials.Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(usersBucket).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%s: %w", name, credentials.ErrNotFound)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Create(_ context.Context, c *credentials.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(c.Username)) != nil {
			return fmt.Errorf("%s: %w", c.Username, credentials.ErrExists)
		}
		return b.Put([]byte(c.Username), data)
	})
}

func (s *Store) Delete(_ context.Context, username string) error {
	name := credentials.CanonicalUsername(username)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("%s: %w", name, credentials.ErrNotFound)
		}
		return b.Delete([]byte(name))
	})
}

// List returns every credential ordered by username (BBolt key order).
func (s *Store) List(_ context.Context) ([]*credentials.Credential, error) {
	var out []*credentials.Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(_, v []byte) error {
			var c credentials.Credential
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}
