package crypto

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/jmcleod/ironkeep/internal/util"
)

// Pool bounds how many Argon2id computations run at once. Each computation
// holds 64 MiB for tens to hundreds of milliseconds, so request handlers
// route them through a Pool instead of calling the package functions
// directly.
//
// A caller whose context ends gets ctx.Err() right away. The computation
// itself cannot be interrupted: it finishes in the background and keeps
// its slot until then, and a key it derived is wiped.
//
// A nil Pool runs every computation inline without a limit.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool returns a Pool running at most size computations concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// HashPassword runs HashPassword in the pool.
func (p *Pool) HashPassword(ctx context.Context, password string) (string, error) {
	return run(ctx, p, func() (string, error) {
		return HashPassword(password)
	}, nil)
}

// VerifyPassword runs VerifyPassword in the pool. The error is non-nil only
// when ctx ended first.
func (p *Pool) VerifyPassword(ctx context.Context, hash, password string) (bool, error) {
	return run(ctx, p, func() (bool, error) {
		return VerifyPassword(hash, password), nil
	}, nil)
}

// DeriveKey runs DeriveKeyFromPassword in the pool.
func (p *Pool) DeriveKey(ctx context.Context, password string, salt []byte) ([]byte, error) {
	return run(ctx, p, func() ([]byte, error) {
		return DeriveKeyFromPassword(password, salt)
	}, util.WipeBytes)
}

type result[T any] struct {
	val T
	err error
}

func run[T any](ctx context.Context, p *Pool, fn func() (T, error), discard func(T)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if p == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	out := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn()
		out <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-out:
		return r.val, r.err
	case <-ctx.Done():
		if discard != nil {
			go func() {
				if r := <-out; r.err == nil {
					discard(r.val)
				}
			}()
		}
		return zero, ctx.Err()
	}
}
