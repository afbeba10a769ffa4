// Package state holds the process-wide authentication state read by
// protected views. It changes only through its action methods.
package state

import (
	"context"
	"sync"

	"github.com/filefortress/filefortress/internal/auth"
)

// AuthState is a point-in-time copy of the container.
type AuthState struct {
	User            *auth.User
	IsAuthenticated bool
	Loading         bool
	Error           string
}

// SessionEnder forgets the persisted session.
type SessionEnder interface {
	Logout(ctx context.Context) error
}

// Listener is called with the new state after every action.
type Listener func(AuthState)

// Container is safe for concurrent use. Authenticated implies a non-nil user.
type Container struct {
	mu        sync.RWMutex
	state     AuthState
	session   SessionEnder
	listeners []Listener
}

// New builds an unauthenticated container.
func New(session SessionEnder) *Container {
	return &Container{session: session}
}

// Snapshot returns a copy of the current state.
func (c *Container) Snapshot() AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// Subscribe registers fn for future changes.
func (c *Container) Subscribe(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SetAuthenticated records the signed-in user and clears loading and error.
func (c *Container) SetAuthenticated(user auth.User) {
	c.update(func(s *AuthState) {
		u := user
		s.User = &u
		s.IsAuthenticated = true
		s.Loading = false
		s.Error = ""
	})
}

// Logout clears the user and the persisted session. The state is cleared
// even when the session store fails; that error is returned.
func (c *Container) Logout(ctx context.Context) error {
	c.update(func(s *AuthState) {
		s.User = nil
		s.IsAuthenticated = false
		s.Loading = false
	})
	if c.session == nil {
		return nil
	}
	return c.session.Logout(ctx)
}

// SetLoading toggles the loading flag.
func (c *Container) SetLoading(loading bool) {
	c.update(func(s *AuthState) { s.Loading = loading })
}

// SetError records a user-facing error message.
func (c *Container) SetError(msg string) {
	c.update(func(s *AuthState) { s.Error = msg })
}

func (c *Container) update(fn func(*AuthState)) {
	c.mu.Lock()
	fn(&c.state)
	snap := c.copyLocked()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (c *Container) copyLocked() AuthState {
	s := c.state
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
