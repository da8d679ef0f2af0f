// Package memory provides the in-memory catalog store. It is the reference
// implementation of the catalog semantics; the sqlite and postgres stores
// reuse it and add durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"datahub/pkg/domain"
)

var (
	_ domain.DatasetStore     = (*Store)(nil)
	_ domain.ResourceStore    = (*Store)(nil)
	_ domain.AccountDirectory = (*Store)(nil)
)

// Store keeps the catalog state behind a single RWMutex. Reads return clones
// so callers can never alias internal state.
type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

type state struct {
	datasets map[domain.DatasetID]domain.Dataset
	storage  map[domain.ResourceKey]domain.StorageResource
	syncs    map[domain.ResourceKey]domain.CatalogSyncResource
	accounts map[domain.AccountID]domain.Account
}

func NewStore() *Store {
	return &Store{
		state: state{
			datasets: make(map[domain.DatasetID]domain.Dataset),
			storage:  make(map[domain.ResourceKey]domain.StorageResource),
			syncs:    make(map[domain.ResourceKey]domain.CatalogSyncResource),
			accounts: make(map[domain.AccountID]domain.Account),
		},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) GetDataset(_ context.Context, id domain.DatasetID) (domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.datasets[id]
	if !ok {
		return domain.Dataset{}, &domain.NotFoundError{Entity: domain.EntityDataset, ID: string(id)}
	}
	return d.Clone(), nil
}

func (s *Store) ListDatasets(_ context.Context) ([]domain.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Dataset, 0, len(s.state.datasets))
	for _, d := range s.state.datasets {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateDataset(_ context.Context, d domain.Dataset) (domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.datasets[d.ID]; ok {
		return domain.Dataset{}, &domain.AlreadyExistsError{Entity: domain.EntityDataset, ID: string(d.ID)}
	}
	now := s.nowFn()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Version = 1
	s.state.datasets[d.ID] = d.Clone()
	return d, nil
}

func (s *Store) DeleteDataset(_ context.Context, id domain.DatasetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.datasets[id]; !ok {
		return &domain.NotFoundError{Entity: domain.EntityDataset, ID: string(id)}
	}
	delete(s.state.datasets, id)
	return nil
}

// UpdateDataset applies mutate to a private clone under the store lock, so
// the mutation commits atomically or not at all.
func (s *Store) UpdateDataset(_ context.Context, id domain.DatasetID, mutate func(*domain.Dataset) error) (domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.datasets[id]
	if !ok {
		return domain.Dataset{}, &domain.NotFoundError{Entity: domain.EntityDataset, ID: string(id)}
	}
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return domain.Dataset{}, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.nowFn()
	s.state.datasets[id] = next.Clone()
	return next, nil
}

func (s *Store) GetStorage(_ context.Context, key domain.ResourceKey) (domain.StorageResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.storage[key]
	if !ok {
		return domain.StorageResource{}, &domain.NotFoundError{Entity: domain.EntityStorageResource, ID: key.String()}
	}
	return r, nil
}

func (s *Store) PutStorage(_ context.Context, r domain.StorageResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.storage[r.Key()] = r
	return nil
}

func (s *Store) DeleteStorage(_ context.Context, key domain.ResourceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.storage[key]; !ok {
		return &domain.NotFoundError{Entity: domain.EntityStorageResource, ID: key.String()}
	}
	delete(s.state.storage, key)
	return nil
}

func (s *Store) GetCatalogSync(_ context.Context, key domain.ResourceKey) (domain.CatalogSyncResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.syncs[key]
	if !ok {
		return domain.CatalogSyncResource{}, &domain.NotFoundError{Entity: domain.EntityCatalogSync, ID: key.String()}
	}
	return r, nil
}

func (s *Store) PutCatalogSync(_ context.Context, r domain.CatalogSyncResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.syncs[r.Key()] = r
	return nil
}

func (s *Store) DeleteCatalogSync(_ context.Context, key domain.ResourceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.syncs[key]; !ok {
		return &domain.NotFoundError{Entity: domain.EntityCatalogSync, ID: key.String()}
	}
	delete(s.state.syncs, key)
	return nil
}

func (s *Store) GetAccount(_ context.Context, id domain.AccountID) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.accounts[id]
	if !ok {
		return domain.Account{}, &domain.NotFoundError{Entity: domain.EntityAccount, ID: string(id)}
	}
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.state.accounts))
	for _, a := range s.state.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PutAccount(_ context.Context, a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.accounts[a.ID] = a
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, id domain.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.accounts[id]; !ok {
		return &domain.NotFoundError{Entity: domain.EntityAccount, ID: string(id)}
	}
	delete(s.state.accounts, id)
	return nil
}
