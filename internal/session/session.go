// Package session keeps server-side session records keyed by an opaque token.
// Records slide: every successful Resolve pushes the expiry out by the TTL.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the token names no live session.
	ErrNotFound = errors.New("session not found")
	// ErrStoreUnavailable means the backing store could not answer.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Record is the server-side state behind a session token.
type Record struct {
	Token         string
	Username      string
	CreatedAt     time.Time
	LastTouchedAt time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the record is logically absent at now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store is a durable token to Record mapping with sliding expiry.
type Store interface {
	// Create allocates a fresh record for username and returns its token.
	Create(ctx context.Context, username string) (string, error)
	// Resolve returns the live record for token and refreshes its expiry.
	// It returns ErrNotFound for unknown or expired tokens.
	Resolve(ctx context.Context, token string) (Record, error)
	// Destroy removes the record. Unknown tokens are not an error.
	Destroy(ctx context.Context, token string) error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const tokenBytes = 32

// NewToken returns a random URL-safe token with 256 bits of entropy.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
