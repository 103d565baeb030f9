// Package memory provides a thread-safe in-memory credentials.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/ironkeep/credentials"
)

// Store is a thread-safe in-memory credentials.Store. Suitable for tests,
// demos and single-process use.
type Store struct {
	mu    sync.RWMutex
	users map[string]*credentials.Credential
}

var _ credentials.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{users: make(map[string]*credentials.Credential)}
}

func (s *Store) Lookup(_ context.Context, username string) (*credentials.Credential, error) {
	name := credentials.CanonicalUsername(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.users[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, credentials.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *Store) Create(_ context.Context, c *credentials.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[c.Username]; ok {
		return fmt.Errorf("%s: %w", c.Username, credentials.ErrExists)
	}
	s.users[c.Username] = c.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, username string) error {
	name := credentials.CanonicalUsername(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; !ok {
		return fmt.Errorf("%s: %w", name, credentials.ErrNotFound)
	}
	delete(s.users, name)
	return nil
}

func (s *Store) List(_ context.Context) ([]*credentials.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*credentials.Credential, 0, len(s.users))
	for _, c := range s.users {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
