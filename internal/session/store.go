package session

import (
	"context"
	"sync"
)

// Credentials is the client-side token pair the coordinator manages.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

func (c Credentials) empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// CredentialStore persists the token pair between requests. Implementations
// must be safe for concurrent use.
type CredentialStore interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	creds Credentials
}

var _ CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, nil
}

func (s *MemoryStore) Save(_ context.Context, creds Credentials) error {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	return s.Save(ctx, Credentials{})
}
