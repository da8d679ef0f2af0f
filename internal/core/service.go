package core

import (
	"github.com/rs/zerolog"

	"datahub/pkg/domain"
)

// Deps carries everything the control plane needs: the catalog and lock
// backends plus the provider clients. All fields are required except
// Notifier, which may be a no-op sink.
type Deps struct {
	Datasets    domain.DatasetStore
	Resources   domain.ResourceStore
	Accounts    domain.AccountDirectory
	LockStore   domain.LockStore
	Buckets     domain.BucketClient
	Databases   domain.DatabaseClient
	Links       domain.ResourceLinkClient
	Shares      domain.ResourceShareClient
	FineGrained domain.FineGrainedClient
	Notifier    domain.NotificationSink

	Storage StorageConfig
	// DatabasePrefix prefixes derived catalog database names. Unlike the
	// bucket prefix it has to stay within the catalog naming rules, so
	// dashes are not allowed.
	DatabasePrefix string
}

// Service is the composition root: the four managers wired against one set of
// backends, sharing a lock service and a metrics registry.
type Service struct {
	Locks       *LockService
	Storage     *StorageManager
	CatalogSync *CatalogSyncManager
	Permissions *PermissionOrchestrator
}

func NewService(deps Deps, log zerolog.Logger, metrics *Metrics) *Service {
	locks := NewLockService(deps.LockStore, log, metrics)
	storage := NewStorageManager(deps.Resources, locks, deps.Buckets, deps.Storage, log, metrics)
	catalogSync := NewCatalogSyncManager(deps.Resources, locks, deps.Databases, deps.Links, deps.Shares, deps.FineGrained, deps.Buckets, deps.DatabasePrefix, log, metrics)
	permissions := NewPermissionOrchestrator(deps.Datasets, deps.Resources, deps.Accounts, locks, storage, deps.Links, deps.FineGrained, deps.Notifier, log, metrics)
	return &Service{
		Locks:       locks,
		Storage:     storage,
		CatalogSync: catalogSync,
		Permissions: permissions,
	}
}
