// Package auth admits or rejects requests based on their server-side session
// and turns credentials into sessions.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/chatgate/internal/log"
	"github.com/Tyrowin/chatgate/internal/session"
)

// ErrUnauthorized means the request carries no live session or a policy refused it.
var ErrUnauthorized = errors.New("unauthorized")

// Policy is an extra admission check layered on top of session resolution.
// Returning an error denies the request.
type Policy func(ctx context.Context, rec session.Record) error

// Gate is a stateless admission predicate; all state lives in the session store.
type Gate struct {
	store    session.Store
	policies []Policy
}

// NewGate creates a gate backed by store.
func NewGate(store session.Store, policies ...Policy) *Gate {
	return &Gate{store: store, policies: policies}
}

// Admit resolves token and returns the live record, or an error matching
// ErrUnauthorized. Store failures fail closed: they deny, but the returned
// error also matches session.ErrStoreUnavailable so operators can tell them apart.
func (g *Gate) Admit(ctx context.Context, token string) (session.Record, error) {
	if token == "" {
		return session.Record{}, ErrUnauthorized
	}

	rec, err := g.store.Resolve(ctx, token)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			l := log.Ctx(ctx)
			l.Error().Err(err).Msg("session store unavailable; denying request")
		}
		return session.Record{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	for _, policy := range g.policies {
		if err := policy(ctx, rec); err != nil {
			return session.Record{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}
	return rec, nil
}

type sessionKey struct{}

// WithSession stores the admitted record in ctx.
func WithSession(ctx context.Context, rec session.Record) context.Context {
	return context.WithValue(ctx, sessionKey{}, rec)
}

// FromContext returns the admitted record, if any.
func FromContext(ctx context.Context) (session.Record, bool) {
	rec, ok := ctx.Value(sessionKey{}).(session.Record)
	return rec, ok
}
