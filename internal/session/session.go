// Package session owns the credential lifecycle: register/login store
// the bearer token under a fixed key in the workspace database, logout
// clears it and tears down the transport client built from it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskdeck/internal/repo"
	"taskdeck/internal/transport"
)

// ErrNotAuthenticated means no usable credential is stored and the
// user must log in (again).
var ErrNotAuthenticated = errors.New("not authenticated; run login first")

// Manager binds a transport client to the stored credential.
type Manager struct {
	BaseURL string
	Timeout time.Duration
	Repo    repo.Repo
}

// Client builds a transport client carrying the stored credential.
// Tokens that are already expired fail here, before any call is
// issued, with the same Unauthorized kind the server would return.
func (m Manager) Client(ctx context.Context) (*transport.Client, error) {
	token, err := m.Repo.GetCredential(ctx, repo.TokenKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	if expired(token) {
		return nil, &transport.Error{Kind: transport.KindUnauthorized, Message: "stored token is expired; log in again"}
	}
	return m.build(token), nil
}

// Anonymous builds a transport client without a credential, for
// register and login calls.
func (m Manager) Anonymous() *transport.Client {
	return m.build("")
}

// build configures the client before it is handed out; the transport
// layer never reconfigures itself once shared.
func (m Manager) build(token string) *transport.Client {
	c := transport.New(m.BaseURL, token)
	if m.Timeout > 0 {
		c.HTTPClient.Timeout = m.Timeout
	}
	return c
}

// Register creates an account and stores the issued credential.
func (m Manager) Register(ctx context.Context, name, email, password string) error {
	creds, err := m.Anonymous().Register(ctx, name, email, password)
	if err != nil {
		return err
	}
	return m.Repo.SetCredential(ctx, repo.TokenKey, creds.AccessToken)
}

// Login exchanges credentials for a token and stores it.
func (m Manager) Login(ctx context.Context, email, password string) error {
	creds, err := m.Anonymous().Login(ctx, email, password)
	if err != nil {
		return err
	}
	return m.Repo.SetCredential(ctx, repo.TokenKey, creds.AccessToken)
}

// Logout clears the stored credential. Clearing an absent credential
// is not an error.
func (m Manager) Logout(ctx context.Context) error {
	return m.Repo.DeleteCredential(ctx, repo.TokenKey)
}

// expired inspects the token's exp claim without verifying the
// signature; verification is the server's job. Tokens that don't parse
// are left for the server to reject.
func expired(token string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
