package session

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryStore builds a store that forgets everything when the process
// exits. Useful for tests and one-shot commands.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Init(context.Context) error { return nil }

func (s *memoryStore) SetTokens(_ context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{Access: access, Refresh: refresh}
	return nil
}

func (s *memoryStore) ClearTokens(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{}
	return nil
}

func (s *memoryStore) AccessToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Access, nil
}

func (s *memoryStore) RefreshToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Refresh, nil
}
