// Package memory provides the in-memory lock store used in tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"datahub/pkg/domain"
)

var _ domain.LockStore = (*Store)(nil)

// Store keeps locks in a map behind a mutex. PutIfAbsent is atomic with
// respect to concurrent callers.
type Store struct {
	mu    sync.Mutex
	locks map[string]domain.Lock
}

func NewStore() *Store {
	return &Store{locks: make(map[string]domain.Lock)}
}

func (s *Store) PutIfAbsent(_ context.Context, lock domain.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[lock.ID]; ok {
		return &domain.AlreadyExistsError{Entity: domain.EntityLock, ID: lock.ID}
	}
	s.locks[lock.ID] = lock
	return nil
}

func (s *Store) GetLock(_ context.Context, id string) (domain.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		return domain.Lock{}, &domain.NotFoundError{Entity: domain.EntityLock, ID: id}
	}
	return lock, nil
}

func (s *Store) DeleteLock(_ context.Context, lock domain.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[lock.ID]; !ok {
		return &domain.NotFoundError{Entity: domain.EntityLock, ID: lock.ID}
	}
	delete(s.locks, lock.ID)
	return nil
}

func (s *Store) ListLocks(_ context.Context) ([]domain.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lock, 0, len(s.locks))
	for _, lock := range s.locks {
		out = append(out, lock)
	}
	return out, nil
}
