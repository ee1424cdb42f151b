package credstore

import "sync"

// MemStore is an in-memory credential store for tests and embedding.
type MemStore struct {
	mu    sync.Mutex
	creds Credentials
	set   bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Read returns the stored credentials, if any.
func (s *MemStore) Read() (Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.set, nil
}

// Write stores the credentials, replacing any previous pair.
func (s *MemStore) Write(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.set = true
	return nil
}

// Clear removes the stored pair.
func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	s.set = false
	return nil
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
