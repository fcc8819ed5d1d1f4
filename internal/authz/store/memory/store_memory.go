package memory

import (
	"context"
	"fmt"
	"sync"

	"classauth/internal/authz/models"
	"classauth/pkg/platform/sentinel"
)

// Store keeps credential records in process memory for tests and local
// development. Records are copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	records map[models.CredentialKey]*models.TokenRecord
}

func New() *Store {
	return &Store{records: make(map[models.CredentialKey]*models.TokenRecord)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Get(_ context.Context, key models.CredentialKey) (*models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", key, sentinel.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) Put(_ context.Context, key models.CredentialKey, rec *models.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, key models.CredentialKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
