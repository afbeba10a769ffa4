// Package session persists the access and refresh tokens that identify the
// signed-in principal across process restarts.
//
// Every backend scopes its keys by a namespace, normally the API origin, so
// two servers never share a session. A Store holds at most one token pair per
// namespace. An empty string means "no token".
package session

import (
	"context"
	"errors"
)

// Fixed storage keys, shared by every backend.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// ErrCorrupt is returned by Init when persisted data cannot be decoded.
var ErrCorrupt = errors.New("session data corrupt")

// Store is the single owner of persisted tokens.
type Store interface {
	// Init loads or verifies existing tokens at startup.
	Init(ctx context.Context) error
	// SetTokens replaces both tokens. An empty refresh token removes the stored one.
	SetTokens(ctx context.Context, access, refresh string) error
	// ClearTokens removes both tokens.
	ClearTokens(ctx context.Context) error
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
}

// Tokens is the persisted pair.
type Tokens struct {
	Access  string `json:"access_token,omitempty"`
	Refresh string `json:"refresh_token,omitempty"`
}

func (t Tokens) empty() bool {
	return t.Access == "" && t.Refresh == ""
}
