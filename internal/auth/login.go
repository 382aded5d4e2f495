package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/chatgate/internal/audit"
	"github.com/Tyrowin/chatgate/internal/log"
	"github.com/Tyrowin/chatgate/internal/session"
	"github.com/Tyrowin/chatgate/internal/user"
)

// ErrInvalidCredentials is returned for both unknown users and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid username or password")

// CredentialLookup finds users by name.
type CredentialLookup interface {
	FindByUsername(ctx context.Context, username string) (*user.User, error)
}

// Authenticator exchanges credentials for sessions.
type Authenticator struct {
	users    CredentialLookup
	sessions session.Store
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(users CredentialLookup, sessions session.Store) *Authenticator {
	return &Authenticator{users: users, sessions: sessions}
}

// Login verifies the credentials and creates a session, returning its token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		audit.Log(ctx, audit.ActionLoginFailed, username, "login failed: missing credentials")
		return "", ErrInvalidCredentials
	}

	u, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			audit.Log(ctx, audit.ActionLoginFailed, username, "login failed: user not found")
			return "", ErrInvalidCredentials
		}
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUsername, username).Msg("credential lookup failed")
		return "", fmt.Errorf("credential lookup: %w", err)
	}

	if !u.CheckPassword(password) {
		audit.Log(ctx, audit.ActionLoginFailed, username, "login failed: wrong password")
		return "", ErrInvalidCredentials
	}

	token, err := a.sessions.Create(ctx, u.Username)
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUsername, username).Msg("failed to create session")
		return "", err
	}

	audit.Log(ctx, audit.ActionLogin, u.Username, "user logged in")
	return token, nil
}

// Logout destroys the session behind token and returns the username it
// belonged to, or "" if it was already gone. Logging out twice is not an error.
func (a *Authenticator) Logout(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}

	var username string
	if rec, err := a.sessions.Resolve(ctx, token); err == nil {
		username = rec.Username
	}

	if err := a.sessions.Destroy(ctx, token); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to destroy session")
		return username, err
	}

	audit.Log(ctx, audit.ActionLogout, username, "user logged out")
	return username, nil
}
