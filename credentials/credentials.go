// Package credentials defines the stored user record and the Store
// abstraction the authentication gateway looks users up in.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
)

// Credential is one registered user. PasswordHash is a PHC string; Salt is
// the key-derivation salt and never changes after New.
type Credential struct {
	UserID       string    `json:"user_id" yaml:"user_id"`
	Username     string    `json:"username" yaml:"username"`
	PasswordHash string    `json:"password_hash" yaml:"password_hash"`
	Salt         []byte    `json:"salt" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// Store persists credentials keyed by canonical username. Implementations
// return ErrNotFound and ErrExists (possibly wrapped).
type Store interface {
	Lookup(ctx context.Context, username string) (*Credential, error)
	Create(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, username string) error
	List(ctx context.Context) ([]*Credential, error)
}

// New builds a Credential with a fresh user ID and key-derivation salt.
func New(username, passwordHash string) (*Credential, error) {
	name := CanonicalUsername(username)
	if name == "" {
		return nil, ErrInvalidUsername
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("password hash is required")
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return &Credential{
		UserID:       uuid.NewString(),
		Username:     name,
		PasswordHash: passwordHash,
		Salt:         salt,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// CanonicalUsername is the form usernames are stored and looked up in.
func CanonicalUsername(s string) string {
	return util.CanonicalName(s)
}

// Validate checks the fields every backend relies on.
func (c *Credential) Validate() error {
	if c == nil {
		return fmt.Errorf("credential is nil")
	}
	if c.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if c.Username == "" || c.Username != CanonicalUsername(c.Username) {
		return ErrInvalidUsername
	}
	if c.PasswordHash == "" {
		return fmt.Errorf("password hash is required")
	}
	if len(c.Salt) < crypto.MinSaltLength {
		return fmt.Errorf("salt must be at least %d bytes", crypto.MinSaltLength)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Salt = util.CopyBytes(c.Salt)
	return &out
}
