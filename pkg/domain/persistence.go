package domain

import "context"

// DatasetStore is the strongly consistent catalog holding the authoritative
// permission sets. Mutations go through conditional writes that yield a new
// immutable snapshot.
type DatasetStore interface {
	GetDataset(ctx context.Context, id DatasetID) (Dataset, error)
	ListDatasets(ctx context.Context) ([]Dataset, error)
	CreateDataset(ctx context.Context, d Dataset) (Dataset, error)
	DeleteDataset(ctx context.Context, id DatasetID) error
	// UpdateDataset applies mutate to the current snapshot under a
	// conditional write, retrying on write conflicts, and returns the
	// committed snapshot. The mutation is atomic: it either commits fully or
	// leaves the stored dataset untouched.
	UpdateDataset(ctx context.Context, id DatasetID, mutate func(*Dataset) error) (Dataset, error)
}

// ResourceStore persists the storage and catalog-sync resource records keyed
// by (dataset, stage, region).
type ResourceStore interface {
	GetStorage(ctx context.Context, key ResourceKey) (StorageResource, error)
	PutStorage(ctx context.Context, r StorageResource) error
	DeleteStorage(ctx context.Context, key ResourceKey) error
	GetCatalogSync(ctx context.Context, key ResourceKey) (CatalogSyncResource, error)
	PutCatalogSync(ctx context.Context, r CatalogSyncResource) error
	DeleteCatalogSync(ctx context.Context, key ResourceKey) error
}

// AccountDirectory resolves account identifiers to registered accounts.
type AccountDirectory interface {
	GetAccount(ctx context.Context, id AccountID) (Account, error)
}

// LockStore is the strongly consistent key-value store backing the lock
// service. PutIfAbsent is a conditional insert: it fails with
// AlreadyExistsError when the key already holds an entry.
type LockStore interface {
	PutIfAbsent(ctx context.Context, lock Lock) error
	GetLock(ctx context.Context, id string) (Lock, error)
	DeleteLock(ctx context.Context, lock Lock) error
	ListLocks(ctx context.Context) ([]Lock, error)
}
