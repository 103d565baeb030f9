// Package custody holds the keychain keys of authenticated sessions in
// process memory.
//
// Each key is sealed in a memguard Enclave, so the plaintext key exists only
// inside a locked buffer while a caller is using it. Keys are never written
// to disk; a process restart drops every session.
package custody

import (
	"context"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironkeep/internal/util"
)

// KeySize is the only key length the store accepts.
const KeySize = util.AESKeySize

// Info describes a custody entry without exposing its key.
type Info struct {
	UserID    string
	SessionID string
	CreatedAt time.Time
	// ExpiresAt is zero when the store has no TTL.
	ExpiresAt time.Time
}

type entry struct {
	key  *memguard.Enclave
	info Info
}

// Store maps user IDs to their session key. It is safe for concurrent use;
// one RWMutex serialises writers against readers of the same entry.
// At most one key is held per user: Put replaces any previous entry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires entries d after they were put. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		s.ttl = d
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type putOptions struct {
	sessionID string
}

// PutOption customises a single Put.
type PutOption func(*putOptions)

// WithSessionID binds the entry to a session (token) ID, which Info reports
// back so callers can reject tokens from a replaced session.
func WithSessionID(id string) PutOption {
	return func(o *putOptions) {
		o.sessionID = id
	}
}

// Put takes ownership of key: it is sealed into an enclave and the caller's
// slice is wiped. Any previous entry for userID is discarded.
func (s *Store) Put(userID string, key []byte, opts ...PutOption) error {
	if userID == "" {
		util.WipeBytes(key)
		return ErrInvalidUserID
	}
	if len(key) != KeySize {
		util.WipeBytes(key)
		return ErrInvalidKey
	}
	o := putOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	now := s.now()
	e := &entry{
		key: memguard.NewEnclave(key),
		info: Info{
			UserID:    userID,
			SessionID: o.sessionID,
			CreatedAt: now,
		},
	}
	if s.ttl > 0 {
		e.info.ExpiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if old, ok := s.entries[userID]; ok {
		old.discard()
	}
	s.entries[userID] = e
	return nil
}

// Get returns a copy of the key for userID. The caller owns the copy and
// should wipe it when done; With avoids the copy altogether.
func (s *Store) Get(userID string) ([]byte, error) {
	var out []byte
	err := s.With(userID, func(key []byte) error {
		out = util.CopyBytes(key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// With opens the key for userID into a locked buffer, calls fn with it and
// destroys the buffer afterwards. fn must not retain key.
func (s *Store) With(userID string, fn func(key []byte) error) error {
	enclave, _, err := s.lookup(userID)
	if err != nil {
		return err
	}
	buf, err := enclave.Open()
	if err != nil {
		return ErrSessionNotFound
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Info returns the metadata of the live entry for userID.
func (s *Store) Info(userID string) (Info, error) {
	_, info, err := s.lookup(userID)
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

// lookup snapshots the entry for userID under the read lock and removes it
// if it has expired.
func (s *Store) lookup(userID string) (*memguard.Enclave, Info, error) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	var (
		enclave *memguard.Enclave
		info    Info
	)
	if ok {
		enclave, info = e.key, e.info
	}
	s.mu.RUnlock()
	if !ok || enclave == nil {
		return nil, Info{}, ErrSessionNotFound
	}
	if e.expired(s.now()) {
		s.removeIf(userID, e)
		return nil, Info{}, ErrSessionNotFound
	}
	return enclave, info, nil
}

// Remove discards the entry for userID and reports whether one existed.
func (s *Store) Remove(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		return false
	}
	e.discard()
	delete(s.entries, userID)
	return true
}

// removeIf deletes userID only if it still maps to e, so an expiry racing a
// fresh Put never drops the new entry.
func (s *Store) removeIf(userID string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[userID]; ok && cur == e {
		e.discard()
		delete(s.entries, userID)
	}
}

// Len returns the number of entries, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many it removed.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.expired(now) {
			e.discard()
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done or the store
// is closed.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close discards every entry and makes later Puts fail with ErrClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.closed)
		for id, e := range s.entries {
			e.discard()
			delete(s.entries, id)
		}
	})
}

func (e *entry) expired(now time.Time) bool {
	return !e.info.ExpiresAt.IsZero() && !now.Before(e.info.ExpiresAt)
}

// discard drops the sealed key. This is best-effort: memguard offers no way
// to wipe an Enclave, so its ciphertext stays on the heap until collected and
// remains decryptable with the process sealing key until memguard.Purge
// runs. The plaintext only ever lived in LockedBuffers, which With destroys.
func (e *entry) discard() {
	e.key = nil
}
