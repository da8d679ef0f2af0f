package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"datahub/pkg/domain"
)

// GovernedBucketTagKey marks buckets whose catalog databases are managed
// through fine-grained permissions.
const GovernedBucketTagKey = "datahub-governed"

// CatalogSyncManager provisions and tears down the catalog databases that
// mirror a dataset's storage, including the cross-account plumbing the
// chosen sync mechanism needs.
type CatalogSyncManager struct {
	resources   domain.ResourceStore
	locks       *LockService
	databases   domain.DatabaseClient
	links       domain.ResourceLinkClient
	shares      domain.ResourceShareClient
	fineGrained domain.FineGrainedClient
	buckets     domain.BucketClient
	namePrefix  string
	log         zerolog.Logger
	metrics     *Metrics
	now         func() time.Time
}

func NewCatalogSyncManager(
	resources domain.ResourceStore,
	locks *LockService,
	databases domain.DatabaseClient,
	links domain.ResourceLinkClient,
	shares domain.ResourceShareClient,
	fineGrained domain.FineGrainedClient,
	buckets domain.BucketClient,
	namePrefix string,
	log zerolog.Logger,
	metrics *Metrics,
) *CatalogSyncManager {
	return &CatalogSyncManager{
		resources:   resources,
		locks:       locks,
		databases:   databases,
		links:       links,
		shares:      shares,
		fineGrained: fineGrained,
		buckets:     buckets,
		namePrefix:  namePrefix,
		log:         log.With().Str("component", "catalogsync").Logger(),
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// DatabaseName derives the catalog database name for a dataset slot.
func (m *CatalogSyncManager) DatabaseName(id domain.DatasetID, stage domain.Stage) string {
	return strings.ToLower(fmt.Sprintf("%s%s_%s", m.namePrefix, id, stage))
}

// CreateSync provisions the catalog database for one (dataset, stage, region)
// slot. Storage must already exist for the slot; the slot must not already
// hold a sync resource. For cross-account datasets the owner receives either
// a writable resource share or a fine-grained write grant, depending on the
// mechanism.
func (m *CatalogSyncManager) CreateSync(ctx context.Context, dataset domain.Dataset, stage domain.Stage, region domain.Region, mechanism domain.SyncMechanism, resourceAccountID domain.AccountID) (res domain.CatalogSyncResource, err error) {
	defer func(start time.Time) { m.metrics.observeOperation("create_sync", start, err) }(m.now())

	key := domain.ResourceKey{DatasetID: dataset.ID, Stage: stage, Region: region}
	if _, getErr := m.resources.GetCatalogSync(ctx, key); getErr == nil {
		return domain.CatalogSyncResource{}, &domain.AlreadyExistsError{Entity: domain.EntityCatalogSync, ID: key.String()}
	} else if !errors.As(getErr, new(*domain.NotFoundError)) {
		return domain.CatalogSyncResource{}, fmt.Errorf("check existing catalog sync %s: %w", key, getErr)
	}
	storage, err := m.resources.GetStorage(ctx, key)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return domain.CatalogSyncResource{}, &domain.MissingStorageError{Key: key}
		}
		return domain.CatalogSyncResource{}, fmt.Errorf("look up storage %s: %w", key, err)
	}

	lock, err := m.locks.Acquire(ctx, string(dataset.ID), domain.ScopeCatalogSync, stage, region, map[string]string{
		"datasetId": string(dataset.ID),
	})
	if err != nil {
		return domain.CatalogSyncResource{}, err
	}
	defer m.locks.ReleaseQuietly(ctx, lock)

	name := m.DatabaseName(dataset.ID, stage)
	database := domain.DatabaseRef{Name: name, AccountID: resourceAccountID, Region: region}
	crossAccount := dataset.OwnerAccountID != resourceAccountID

	// A database with the derived name in the owner account would collide
	// with the resource link created below.
	ownerDatabase := domain.DatabaseRef{Name: name, AccountID: dataset.OwnerAccountID, Region: region}
	if crossAccount {
		taken, err := m.databases.DatabaseExists(ctx, ownerDatabase)
		if err != nil {
			return domain.CatalogSyncResource{}, fmt.Errorf("check database %s in owner account: %w", name, err)
		}
		if taken {
			return domain.CatalogSyncResource{}, &domain.ConflictingDatabaseError{DatabaseName: name, AccountID: dataset.OwnerAccountID}
		}
	}

	if err := m.databases.CreateDatabase(ctx, database, mechanism == domain.SyncFineGrained); err != nil {
		return domain.CatalogSyncResource{}, fmt.Errorf("create database %s: %w", name, err)
	}

	if crossAccount {
		if err := m.links.CreateLink(ctx, dataset.OwnerAccountID, database); err != nil {
			if errors.As(err, new(*domain.EncryptionPreconditionError)) {
				// The database was created this call; remove it again so the
				// slot stays clean for a retry.
				if delErr := m.databases.DeleteDatabaseIfPresent(ctx, database); delErr != nil {
					m.log.Error().Err(delErr).Str("database", name).Msg("failed to remove database after link failure")
				}
			}
			return domain.CatalogSyncResource{}, fmt.Errorf("create owner resource link for %s: %w", name, err)
		}
		if err := m.grantOwnerWriteAccess(ctx, dataset.OwnerAccountID, database, storage, mechanism); err != nil {
			return domain.CatalogSyncResource{}, err
		}
	}

	res = domain.CatalogSyncResource{
		DatasetID:         dataset.ID,
		Stage:             stage,
		Region:            region,
		DatabaseName:      name,
		Mechanism:         mechanism,
		ResourceAccountID: resourceAccountID,
		OwnerAccountID:    dataset.OwnerAccountID,
		CreatedAt:         m.now(),
		UpdatedAt:         m.now(),
	}
	if err := m.resources.PutCatalogSync(ctx, res); err != nil {
		return domain.CatalogSyncResource{}, fmt.Errorf("record catalog sync %s: %w", key, err)
	}
	m.log.Info().Str("datasetId", string(dataset.ID)).Str("database", name).Str("mechanism", string(mechanism)).Msg("catalog sync created")
	return res, nil
}

// grantOwnerWriteAccess gives the owning account write access to the freshly
// created database through the mechanism's channel.
func (m *CatalogSyncManager) grantOwnerWriteAccess(ctx context.Context, owner domain.AccountID, database domain.DatabaseRef, storage domain.StorageResource, mechanism domain.SyncMechanism) error {
	switch mechanism {
	case domain.SyncResourceLink:
		if err := m.shares.CreateShareWithWriteAccess(ctx, database, owner); err != nil {
			return fmt.Errorf("share database %s with owner: %w", database.Name, err)
		}
	case domain.SyncFineGrained:
		if err := m.buckets.SetBucketTags(ctx, storage.BucketName, map[string]string{GovernedBucketTagKey: "true"}); err != nil {
			return fmt.Errorf("tag governed bucket %s: %w", storage.BucketName, err)
		}
		if err := m.fineGrained.GrantWrite(ctx, owner, database); err != nil {
			return fmt.Errorf("grant owner write on %s: %w", database.Name, err)
		}
	default:
		return fmt.Errorf("unsupported sync mechanism %q", mechanism)
	}
	return nil
}

// DeleteSync tears down the catalog database for one slot. Write access is
// withdrawn first; when the provider reports that earlier grants are still
// detaching, the record is left untouched and the caller retries later.
func (m *CatalogSyncManager) DeleteSync(ctx context.Context, res domain.CatalogSyncResource) (err error) {
	defer func(start time.Time) { m.metrics.observeOperation("delete_sync", start, err) }(m.now())

	lock, err := m.locks.Acquire(ctx, string(res.DatasetID), domain.ScopeCatalogSync, res.Stage, res.Region, map[string]string{
		"datasetId": string(res.DatasetID),
	})
	if err != nil {
		return err
	}
	defer m.locks.ReleaseQuietly(ctx, lock)

	database := res.Database()
	crossAccount := res.OwnerAccountID != res.ResourceAccountID

	if crossAccount {
		if err := m.revokeOwnerWriteAccess(ctx, res, database); err != nil {
			return err
		}
		if err := m.links.DeleteLink(ctx, res.OwnerAccountID, database); err != nil {
			return fmt.Errorf("delete owner resource link for %s: %w", database.Name, err)
		}
	}
	if err := m.databases.DeleteDatabaseIfPresent(ctx, database); err != nil {
		return fmt.Errorf("delete database %s: %w", database.Name, err)
	}
	if err := m.resources.DeleteCatalogSync(ctx, res.Key()); err != nil {
		return fmt.Errorf("remove catalog sync record %s: %w", res.Key(), err)
	}
	m.log.Info().Str("datasetId", string(res.DatasetID)).Str("database", database.Name).Msg("catalog sync deleted")
	return nil
}

func (m *CatalogSyncManager) revokeOwnerWriteAccess(ctx context.Context, res domain.CatalogSyncResource, database domain.DatabaseRef) error {
	switch res.Mechanism {
	case domain.SyncResourceLink:
		if err := m.shares.RevokeShareIfPresent(ctx, database); err != nil {
			return fmt.Errorf("revoke database share for %s: %w", database.Name, err)
		}
	case domain.SyncFineGrained:
		if err := m.fineGrained.RevokeWrite(ctx, res.OwnerAccountID, database); err != nil {
			return fmt.Errorf("revoke owner write on %s: %w", database.Name, err)
		}
		if storage, err := m.resources.GetStorage(ctx, res.Key()); err == nil {
			if err := m.buckets.RemoveBucketTags(ctx, storage.BucketName, []string{GovernedBucketTagKey}); err != nil {
				return fmt.Errorf("untag governed bucket %s: %w", storage.BucketName, err)
			}
		} else if !errors.As(err, new(*domain.NotFoundError)) {
			return fmt.Errorf("look up storage %s: %w", res.Key(), err)
		}
	default:
		return fmt.Errorf("unsupported sync mechanism %q", res.Mechanism)
	}
	return nil
}
