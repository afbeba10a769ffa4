package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps tokens in a JSON document keyed by namespace, one file per
// user. The file is rewritten atomically on every change.
type FileStore struct {
	mu        sync.Mutex
	path      string
	namespace string
}

// NewFileStore builds a file-backed store. The file and its directory are
// created on first write.
func NewFileStore(path, namespace string) *FileStore {
	return &FileStore{path: path, namespace: namespace}
}

// Init verifies that an existing file decodes.
func (s *FileStore) Init(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.read()
	return err
}

// SetTokens stores the pair under the store namespace.
func (s *FileStore) SetTokens(_ context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc[s.namespace] = Tokens{Access: access, Refresh: refresh}
	return s.write(doc)
}

// ClearTokens drops the namespace entry, leaving other namespaces intact.
func (s *FileStore) ClearTokens(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc[s.namespace]; !ok {
		return nil
	}
	delete(doc, s.namespace)
	return s.write(doc)
}

// AccessToken returns the stored access token or "".
func (s *FileStore) AccessToken(context.Context) (string, error) {
	t, err := s.current()
	return t.Access, err
}

// RefreshToken returns the stored refresh token or "".
func (s *FileStore) RefreshToken(context.Context) (string, error) {
	t, err := s.current()
	return t.Refresh, err
}

func (s *FileStore) current() (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return Tokens{}, err
	}
	return doc[s.namespace], nil
}

func (s *FileStore) read() (map[string]Tokens, error) {
	doc := make(map[string]Tokens)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]Tokens) error {
	for ns, t := range doc {
		if t.empty() {
			delete(doc, ns)
		}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
