package store

import (
	"context"
	"sync"
	"time"

	"notary/internal/registry/models"
	id "notary/pkg/domain"
	"notary/pkg/platform/sentinel"
)

// InMemoryStore keeps records in a map guarded by a RWMutex. Readers never
// observe a partially applied mutation because Execute holds the write lock
// across validate and mutate.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.Fingerprint]*models.Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.Fingerprint]*models.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Fingerprint]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.records[record.Fingerprint] = record.Clone()
	return nil
}

func (s *InMemoryStore) FindByFingerprint(_ context.Context, fp id.Fingerprint) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[fp]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) FindMany(_ context.Context, fps []id.Fingerprint) (map[id.Fingerprint]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.Fingerprint]*models.Record, len(fps))
	for _, fp := range fps {
		if record, ok := s.records[fp]; ok {
			out[fp] = record.Clone()
		}
	}
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, fp id.Fingerprint, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[fp]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	// Work on a copy so a failed validation leaves the stored value untouched.
	next := current.Clone()
	if err := validate(next); err != nil {
		return nil, err
	}
	mutate(next)
	s.records[fp] = next
	return next.Clone(), nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *InMemoryStore) LatestIssuedAt(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, record := range s.records {
		if record.IssuedAt.After(latest) {
			latest = record.IssuedAt
		}
	}
	return latest, nil
}
