package memory

import (
	"sort"

	"datahub/pkg/domain"
)

// Snapshot is the serializable form of the full catalog state, used by the
// durable stores to persist and hydrate.
type Snapshot struct {
	Datasets     []domain.Dataset             `json:"datasets"`
	Storage      []domain.StorageResource     `json:"storageResources"`
	CatalogSyncs []domain.CatalogSyncResource `json:"catalogSyncResources"`
	Accounts     []domain.Account             `json:"accounts"`
}

// ExportState returns a deterministic snapshot of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{}
	for _, d := range s.state.datasets {
		snap.Datasets = append(snap.Datasets, d.Clone())
	}
	for _, r := range s.state.storage {
		snap.Storage = append(snap.Storage, r)
	}
	for _, r := range s.state.syncs {
		snap.CatalogSyncs = append(snap.CatalogSyncs, r)
	}
	for _, a := range s.state.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	sort.Slice(snap.Datasets, func(i, j int) bool { return snap.Datasets[i].ID < snap.Datasets[j].ID })
	sort.Slice(snap.Storage, func(i, j int) bool { return snap.Storage[i].Key().String() < snap.Storage[j].Key().String() })
	sort.Slice(snap.CatalogSyncs, func(i, j int) bool { return snap.CatalogSyncs[i].Key().String() < snap.CatalogSyncs[j].Key().String() })
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].ID < snap.Accounts[j].ID })
	return snap
}

// ImportState replaces the current state with the snapshot's contents.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state{
		datasets: make(map[domain.DatasetID]domain.Dataset, len(snap.Datasets)),
		storage:  make(map[domain.ResourceKey]domain.StorageResource, len(snap.Storage)),
		syncs:    make(map[domain.ResourceKey]domain.CatalogSyncResource, len(snap.CatalogSyncs)),
		accounts: make(map[domain.AccountID]domain.Account, len(snap.Accounts)),
	}
	for _, d := range snap.Datasets {
		s.state.datasets[d.ID] = d.Clone()
	}
	for _, r := range snap.Storage {
		s.state.storage[r.Key()] = r
	}
	for _, r := range snap.CatalogSyncs {
		s.state.syncs[r.Key()] = r
	}
	for _, a := range snap.Accounts {
		s.state.accounts[a.ID] = a
	}
}
