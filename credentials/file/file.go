// Package file provides a credentials.Store kept in a YAML users file.
//
// The whole file is loaded at Open and rewritten on every change, so it is
// meant for small deployments administered with `ironkeep user`.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/ironkeep/credentials"
	"github.com/jmcleod/ironkeep/internal/util"
)

type userRecord struct {
	UserID       string    `yaml:"user_id"`
	Username     string    `yaml:"username"`
	PasswordHash string    `yaml:"password_hash"`
	Salt         string    `yaml:"salt"` // hex
	CreatedAt    time.Time `yaml:"created_at"`
}

type usersFile struct {
	Users []userRecord `yaml:"users"`
}

// Store is a credentials.Store backed by a YAML file.
type Store struct {
	mu    sync.RWMutex
	path  string
	users map[string]*credentials.Credential
}

var _ credentials.Store = (*Store)(nil)

// Open loads the users file at path. A missing file is an empty store; it
// is created on the first Create.
func Open(path string) (*Store, error) {
	s := &Store{path: path, users: make(map[string]*credentials.Credential)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading users file: %w", err)
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing users file: %w", err)
	}
	for i, r := range f.Users {
		salt, err := util.HexDecode(r.Salt)
		if err != nil {
			return fmt.Errorf("users file entry %d: salt: %w", i, err)
		}
		c := &credentials.Credential{
			UserID:       r.UserID,
			Username:     credentials.CanonicalUsername(r.Username),
			PasswordHash: r.PasswordHash,
			Salt:         salt,
			CreatedAt:    r.CreatedAt,
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("users file entry %d: %w", i, err)
		}
		if _, dup := s.users[c.Username]; dup {
			return fmt.Errorf("users file entry %d: %s: %w", i, c.Username, credentials.ErrExists)
		}
		s.users[c.Username] = c
	}
	return nil
}

// saveLocked writes the users file atomically with 0600 permissions. The
// caller must hold s.mu.
func (s *Store) saveLocked() error {
	f := usersFile{Users: make([]userRecord, 0, len(s.users))}
	for _, c := range s.sortedLocked() {
		f.Users = append(f.Users, userRecord{
			UserID:       c.UserID,
			Username:     c.Username,
			PasswordHash: c.PasswordHash,
			Salt:         util.HexEncode(c.Salt),
			CreatedAt:    c.CreatedAt,
		})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding users file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".users-*.yaml")
	if err != nil {
		return fmt.Errorf("writing users file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing users file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing users file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("writing users file: %w", err)
	}
	return nil
}

func (s *Store) sortedLocked() []*credentials.Credential {
	out := make([]*credentials.Credential, 0, len(s.users))
	for _, c := range s.users {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
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
	if err := s.saveLocked(); err != nil {
		delete(s.users, c.Username)
		return err
	}
	return nil
}

func (s *Store) Delete(_ context.Context, username string) error {
	name := credentials.CanonicalUsername(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.users[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, credentials.ErrNotFound)
	}
	delete(s.users, name)
	if err := s.saveLocked(); err != nil {
		s.users[name] = c
		return err
	}
	return nil
}

func (s *Store) List(_ context.Context) ([]*credentials.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := s.sortedLocked()
	out := make([]*credentials.Credential, len(sorted))
	for i, c := range sorted {
		out[i] = c.Clone()
	}
	return out, nil
}
