// Package storetest holds the behaviour every credentials.Store backend
// must share, run by each backend's own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/credentials"
)

// Run exercises s, which must start empty.
func Run(t *testing.T, s credentials.Store) {
	t.Helper()
	ctx := context.Background()

	admin, err := credentials.New("admin", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA")
	require.NoError(t, err)

	t.Run("LookupMissing", func(t *testing.T) {
		_, err := s.Lookup(ctx, "admin")
		assert.ErrorIs(t, err, credentials.ErrNotFound)
	})

	t.Run("CreateLookup", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, admin))
		got, err := s.Lookup(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, admin.UserID, got.UserID)
		assert.Equal(t, admin.Username, got.Username)
		assert.Equal(t, admin.PasswordHash, got.PasswordHash)
		assert.Equal(t, admin.Salt, got.Salt)
		assert.WithinDuration(t, admin.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("LookupIsCanonical", func(t *testing.T) {
		got, err := s.Lookup(ctx, "  ADMIN ")
		require.NoError(t, err)
		assert.Equal(t, admin.UserID, got.UserID)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		dup, err := credentials.New("Admin", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Create(ctx, dup), credentials.ErrExists)

		got, err := s.Lookup(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, admin.Salt, got.Salt, "salt must never change once stored")
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		bad := admin.Clone()
		bad.Username = "bob"
		bad.Salt = []byte("short")
		assert.Error(t, s.Create(ctx, bad))
	})

	t.Run("ReturnedCopiesAreIndependent", func(t *testing.T) {
		got, err := s.Lookup(ctx, "admin")
		require.NoError(t, err)
		got.Salt[0] ^= 0xFF
		again, err := s.Lookup(ctx, "admin")
		require.NoError(t, err)
		assert.Equal(t, admin.Salt, again.Salt)
	})

	t.Run("List", func(t *testing.T) {
		bob, err := credentials.New("bob", "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA")
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, bob))

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "admin", all[0].Username)
		assert.Equal(t, "bob", all[1].Username)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "bob"))
		_, err := s.Lookup(ctx, "bob")
		assert.ErrorIs(t, err, credentials.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "bob"), credentials.ErrNotFound)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
