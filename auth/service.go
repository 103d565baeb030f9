// Package auth is the authentication gateway: it checks passwords against
// the credential store, hands the password-derived key to custody and
// issues the session token that later requests present.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/ironkeep/credentials"
	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/custody"
	"github.com/jmcleod/ironkeep/internal/util"
)

// Config holds the gateway settings.
type Config struct {
	// TokenSecret signs session tokens. Empty means a random per-process
	// secret.
	TokenSecret []byte
	// SessionTTL bounds both the token lifetime and the custody entry.
	SessionTTL time.Duration
	// KDFTimeout bounds how long a login waits for Argon2id work.
	KDFTimeout time.Duration
	// Mode selects the keychain item format.
	Mode crypto.Mode
}

// Service implements login, logout and keychain operations.
type Service struct {
	store  credentials.Store
	keys   *custody.Store
	pool   *crypto.Pool
	tokens *tokenIssuer
	cfg    Config
}

// Session is the result of a successful login.
type Session struct {
	UserID    string
	Username  string
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// Identity is what a valid token proves.
type Identity struct {
	UserID    string
	SessionID string
}

// NewService wires the gateway. keys should be created with the same TTL as
// cfg.SessionTTL. A nil pool runs Argon2id inline.
func NewService(store credentials.Store, keys *custody.Store, pool *crypto.Pool, cfg Config) (*Service, error) {
	if store == nil || keys == nil {
		return nil, errors.New("auth: credential store and custody store are required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.Mode == "" {
		cfg.Mode = crypto.ModeCBC
	}
	secret := util.CopyBytes(cfg.TokenSecret)
	if len(secret) == 0 {
		var err error
		if secret, err = util.RandomBytes(MinTokenSecretLength); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
	}
	if len(secret) < MinTokenSecretLength {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", MinTokenSecretLength)
	}
	cfg.TokenSecret = nil
	return &Service{
		store:  store,
		keys:   keys,
		pool:   pool,
		tokens: &tokenIssuer{secret: secret, ttl: cfg.SessionTTL, now: time.Now},
		cfg:    cfg,
	}, nil
}

func (s *Service) kdfContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.KDFTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.KDFTimeout)
	}
	return context.WithCancel(ctx)
}

// Login verifies the password, derives the user's keychain key into
// custody and issues a session token. Unknown users and wrong passwords
// both fail with ErrInvalidCredentials after the same amount of Argon2id
// work. A failed login leaves any existing session untouched.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	ctx, cancel := s.kdfContext(ctx)
	defer cancel()

	cred, err := s.store.Lookup(ctx, username)
	if errors.Is(err, credentials.ErrNotFound) {
		// An unparseable hash costs one default Argon2id run.
		if _, err := s.pool.VerifyPassword(ctx, "", password); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}

	ok, err := s.pool.VerifyPassword(ctx, cred.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	key, err := s.pool.DeriveKey(ctx, password, cred.Salt)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	token, exp, err := s.tokens.issue(cred.UserID, sessionID)
	if err != nil {
		util.WipeBytes(key)
		return nil, err
	}
	if err := s.keys.Put(cred.UserID, key, custody.WithSessionID(sessionID)); err != nil {
		return nil, fmt.Errorf("storing session key: %w", err)
	}

	return &Session{
		UserID:    cred.UserID,
		Username:  cred.Username,
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: exp,
	}, nil
}

// Logout drops the user's session key and reports whether one was held.
func (s *Service) Logout(userID string) bool {
	return s.keys.Remove(userID)
}

// Authenticate validates a session token and checks that it belongs to the
// session currently held in custody.
func (s *Service) Authenticate(token string) (Identity, error) {
	claims, err := s.tokens.parse(token)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	info, err := s.keys.Info(claims.UserID)
	if err != nil || info.SessionID != claims.ID {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: claims.UserID, SessionID: claims.ID}, nil
}

// EncryptItem encrypts a keychain item under the user's session key.
func (s *Service) EncryptItem(userID, plaintext string) (string, error) {
	var out string
	err := s.keys.With(userID, func(key []byte) error {
		var err error
		out, err = s.cfg.Mode.Encrypt(plaintext, key)
		return err
	})
	if errors.Is(err, custody.ErrSessionNotFound) {
		return "", ErrUnauthenticated
	}
	return out, err
}

// DecryptItem decrypts a keychain item under the user's session key.
// Decryption failures are crypto.ErrDecryption.
func (s *Service) DecryptItem(userID, item string) (string, error) {
	var out string
	err := s.keys.With(userID, func(key []byte) error {
		var err error
		out, err = s.cfg.Mode.Decrypt(item, key)
		return err
	})
	if errors.Is(err, custody.ErrSessionNotFound) {
		return "", ErrUnauthenticated
	}
	return out, err
}

// Register creates a credential for username with a fresh salt.
func (s *Service) Register(ctx context.Context, username, password string) (*credentials.Credential, error) {
	if password == "" {
		return nil, ErrInvalidPassword
	}
	ctx, cancel := s.kdfContext(ctx)
	defer cancel()

	hash, err := s.pool.HashPassword(ctx, password)
	if err != nil {
		return nil, err
	}
	cred, err := credentials.New(username, hash)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}
