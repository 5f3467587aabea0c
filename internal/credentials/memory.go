package credentials

import (
	"context"
	"sync"
)

// MemoryProvider stores credentials in memory. It is safe for concurrent use.
// Intended for testing and as a cache layer for other providers.
type MemoryProvider struct {
	creds map[string]*Credential
	mu    sync.RWMutex
}

// NewMemoryProvider returns an empty in-memory credential provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		creds: make(map[string]*Credential),
	}
}

func (m *MemoryProvider) Get(_ context.Context, name string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.creds[name]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent mutation.
	cp := *cred
	return &cp, nil
}

func (m *MemoryProvider) Store(_ context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *cred
	m.creds[cred.Name] = &cp
	return nil
}

func (m *MemoryProvider) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.creds[name]; !ok {
		return ErrNotFound
	}
	delete(m.creds, name)
	return nil
}

func (m *MemoryProvider) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.creds))
	for name := range m.creds {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemoryProvider) Name() string {
	return "memory"
}
