package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"datahub/pkg/domain"
)

// ValidatedGrant bundles everything a permission change needs after
// validation: the dataset snapshot the caller saw, the permission to apply,
// the resolved consumer account and the slot's storage resource.
type ValidatedGrant struct {
	Dataset    domain.Dataset
	Permission domain.Permission
	Account    domain.Account
	Storage    domain.StorageResource
}

// PermissionOrchestrator coordinates permission changes across the catalog,
// the bucket policies and the consumer-side metadata sync. Failures after the
// catalog write trigger compensating actions so the externally visible state
// converges back to a consistent snapshot.
type PermissionOrchestrator struct {
	datasets  domain.DatasetStore
	resources domain.ResourceStore
	accounts  domain.AccountDirectory
	locks     *LockService
	storage   *StorageManager
	links     domain.ResourceLinkClient
	grants    domain.FineGrainedClient
	notifier  domain.NotificationSink
	log       zerolog.Logger
	metrics   *Metrics
	now       func() time.Time
}

func NewPermissionOrchestrator(
	datasets domain.DatasetStore,
	resources domain.ResourceStore,
	accounts domain.AccountDirectory,
	locks *LockService,
	storage *StorageManager,
	links domain.ResourceLinkClient,
	grants domain.FineGrainedClient,
	notifier domain.NotificationSink,
	log zerolog.Logger,
	metrics *Metrics,
) *PermissionOrchestrator {
	return &PermissionOrchestrator{
		datasets:  datasets,
		resources: resources,
		accounts:  accounts,
		locks:     locks,
		storage:   storage,
		links:     links,
		grants:    grants,
		notifier:  notifier,
		log:       log.With().Str("component", "permissions").Logger(),
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ValidateGrant checks a requested permission before any lock is taken. The
// mechanism may be left empty, in which case it is inferred from the slot's
// catalog-sync resource. Mixing fine-grained and link-based permissions
// within one (stage, region) slice is rejected.
func (o *PermissionOrchestrator) ValidateGrant(ctx context.Context, datasetID domain.DatasetID, accountID domain.AccountID, region domain.Region, stage domain.Stage, mechanism domain.SyncMechanism) (ValidatedGrant, error) {
	dataset, err := o.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return ValidatedGrant{}, err
	}
	key := domain.ResourceKey{DatasetID: datasetID, Stage: stage, Region: region}

	mechanism, err = o.resolveMechanism(ctx, key, mechanism)
	if err != nil {
		return ValidatedGrant{}, err
	}
	for _, existing := range dataset.FilterPermissions(domain.PermissionFilter{Stage: stage, Region: region}) {
		if (existing.Mechanism == domain.SyncFineGrained) != (mechanism == domain.SyncFineGrained) {
			return ValidatedGrant{}, &domain.SyncMechanismMismatchError{Requested: mechanism, Existing: existing.Mechanism}
		}
	}
	permission := domain.Permission{AccountID: accountID, Region: region, Stage: stage, Mechanism: mechanism}
	if len(dataset.FilterPermissions(domain.PermissionFilter{AccountID: accountID, Stage: stage, Region: region})) > 0 {
		return ValidatedGrant{}, &domain.DuplicatePermissionError{Permission: permission}
	}

	storage, err := o.resources.GetStorage(ctx, key)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return ValidatedGrant{}, &domain.MissingStorageError{Key: key}
		}
		return ValidatedGrant{}, fmt.Errorf("look up storage %s: %w", key, err)
	}
	account, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return ValidatedGrant{}, err
	}
	return ValidatedGrant{Dataset: dataset, Permission: permission, Account: account, Storage: storage}, nil
}

// resolveMechanism infers the effective sync mechanism from the slot's
// catalog-sync resource and rejects requests that contradict it.
func (o *PermissionOrchestrator) resolveMechanism(ctx context.Context, key domain.ResourceKey, requested domain.SyncMechanism) (domain.SyncMechanism, error) {
	sync, err := o.resources.GetCatalogSync(ctx, key)
	switch {
	case err == nil:
		if requested == "" {
			return sync.Mechanism, nil
		}
		if requested != sync.Mechanism {
			return "", &domain.SyncMechanismMismatchError{Requested: requested, Existing: sync.Mechanism}
		}
		return requested, nil
	case errors.As(err, new(*domain.NotFoundError)):
		if requested == domain.SyncFineGrained {
			return "", &domain.SyncMechanismMismatchError{Requested: requested, Existing: domain.SyncResourceLink}
		}
		if requested == "" {
			return domain.SyncResourceLink, nil
		}
		return requested, nil
	default:
		return "", fmt.Errorf("look up catalog sync %s: %w", key, err)
	}
}

// ValidateRevoke resolves the existing permission for (dataset, account,
// region, stage). The stored permission's mechanism wins; there is nothing to
// infer.
func (o *PermissionOrchestrator) ValidateRevoke(ctx context.Context, datasetID domain.DatasetID, accountID domain.AccountID, region domain.Region, stage domain.Stage) (ValidatedGrant, error) {
	dataset, err := o.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return ValidatedGrant{}, err
	}
	matches := dataset.FilterPermissions(domain.PermissionFilter{AccountID: accountID, Region: region, Stage: stage})
	if len(matches) == 0 {
		return ValidatedGrant{}, &domain.NotFoundError{
			Entity: domain.EntityDataset,
			ID:     fmt.Sprintf("permission for %s on %s/%s/%s", accountID, datasetID, stage, region),
		}
	}
	key := domain.ResourceKey{DatasetID: datasetID, Stage: stage, Region: region}
	storage, err := o.resources.GetStorage(ctx, key)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return ValidatedGrant{}, &domain.MissingStorageError{Key: key}
		}
		return ValidatedGrant{}, fmt.Errorf("look up storage %s: %w", key, err)
	}
	account, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return ValidatedGrant{}, err
	}
	return ValidatedGrant{Dataset: dataset, Permission: matches[0], Account: account, Storage: storage}, nil
}

// GrantAccess validates and applies one permission grant. Metadata sync
// failures roll the grant back.
func (o *PermissionOrchestrator) GrantAccess(ctx context.Context, datasetID domain.DatasetID, accountID domain.AccountID, region domain.Region, stage domain.Stage, mechanism domain.SyncMechanism) (domain.Dataset, error) {
	grant, err := o.ValidateGrant(ctx, datasetID, accountID, region, stage, mechanism)
	if err != nil {
		return domain.Dataset{}, err
	}
	return o.AddOrRemovePermission(ctx, grant, domain.ActionAdd, true)
}

// RevokeAccess validates and applies one permission revocation. Metadata sync
// failures roll the revocation back.
func (o *PermissionOrchestrator) RevokeAccess(ctx context.Context, datasetID domain.DatasetID, accountID domain.AccountID, region domain.Region, stage domain.Stage) (domain.Dataset, error) {
	grant, err := o.ValidateRevoke(ctx, datasetID, accountID, region, stage)
	if err != nil {
		return domain.Dataset{}, err
	}
	return o.AddOrRemovePermission(ctx, grant, domain.ActionRemove, true)
}

// AddOrRemovePermission applies one validated permission change under the
// dataset's lock: catalog write first, then the bucket's read statement, then
// the consumer-side metadata sync. Recognized metadata failures compensate by
// applying the inverse change; enforceSync controls whether an unreachable
// consumer account aborts the change or merely logs. A change notification is
// published whenever the committed permission set differs from the snapshot
// the caller validated against.
func (o *PermissionOrchestrator) AddOrRemovePermission(ctx context.Context, grant ValidatedGrant, action domain.PermissionAction, enforceSync bool) (result domain.Dataset, err error) {
	defer func(start time.Time) { o.metrics.observeOperation("permission_"+string(action), start, err) }(o.now())

	lock, err := o.locks.Acquire(ctx, string(grant.Dataset.ID), domain.ScopeStorageResource, grant.Storage.Stage, grant.Storage.Region, map[string]string{
		"datasetId": string(grant.Dataset.ID),
		"accountId": string(grant.Permission.AccountID),
		"action":    string(action),
	})
	if err != nil {
		return domain.Dataset{}, err
	}
	defer o.locks.ReleaseQuietly(ctx, lock)

	current := grant.Dataset
	defer func() { o.notifyIfChanged(ctx, grant.Dataset, current) }()

	current, err = o.updateReadAccess(ctx, grant, action)
	if err != nil {
		return current, err
	}

	if syncErr := o.UpdateMetadataSync(ctx, current, grant.Permission, grant.Account, action); syncErr != nil {
		current, err = o.compensate(ctx, grant, action, current, enforceSync, syncErr)
		return current, err
	}
	return current, nil
}

// updateReadAccess commits the permission change to the catalog and then
// reconciles the bucket's shared read statement. A failing policy write does
// not revert the catalog: the bucket lags behind and the next successful
// reconciliation converges it. The returned snapshot always reflects what the
// catalog holds, even on failure.
func (o *PermissionOrchestrator) updateReadAccess(ctx context.Context, grant ValidatedGrant, action domain.PermissionAction) (domain.Dataset, error) {
	updated, err := o.datasets.UpdateDataset(ctx, grant.Dataset.ID, func(d *domain.Dataset) error {
		return domain.ApplyPermission(d, grant.Permission, action)
	})
	if err != nil {
		return grant.Dataset, err
	}
	if err := o.storage.UpdateReadAccessStatement(ctx, grant.Storage, updated); err != nil {
		return updated, fmt.Errorf("update bucket read access for %s: %w", grant.Dataset.ID, err)
	}
	return updated, nil
}

// compensate maps a metadata sync failure to its recovery: conflicting
// databases and hard precondition failures revert the permission change,
// while an unreachable consumer account is tolerated unless enforceSync is
// set.
func (o *PermissionOrchestrator) compensate(ctx context.Context, grant ValidatedGrant, action domain.PermissionAction, current domain.Dataset, enforceSync bool, cause error) (domain.Dataset, error) {
	var roleErr *domain.RoleAssumptionError
	switch {
	case errors.As(cause, new(*domain.ConflictingDatabaseError)):
		if action == domain.ActionAdd {
			current = o.rollback(ctx, grant, action, current)
		}
		return current, cause
	case errors.As(cause, new(*domain.EncryptionPreconditionError)),
		errors.As(cause, new(*domain.DependentAssociationsDetachingError)):
		current = o.rollback(ctx, grant, action, current)
		return current, cause
	case errors.As(cause, &roleErr):
		if enforceSync {
			current = o.rollback(ctx, grant, action, current)
			return current, cause
		}
		o.log.Warn().Err(cause).
			Str("datasetId", string(grant.Dataset.ID)).
			Str("accountId", string(grant.Permission.AccountID)).
			Msg("metadata sync skipped, consumer account not reachable")
		return current, nil
	default:
		return current, cause
	}
}

// rollback applies the inverse permission change. A failed rollback is logged
// and the partially changed snapshot returned; the original error still wins.
func (o *PermissionOrchestrator) rollback(ctx context.Context, grant ValidatedGrant, action domain.PermissionAction, current domain.Dataset) domain.Dataset {
	reverted, err := o.updateReadAccess(ctx, ValidatedGrant{
		Dataset:    current,
		Permission: grant.Permission,
		Account:    grant.Account,
		Storage:    grant.Storage,
	}, action.Inverse())
	if err != nil {
		o.log.Error().Err(err).
			Str("datasetId", string(grant.Dataset.ID)).
			Str("accountId", string(grant.Permission.AccountID)).
			Msg("failed to roll back permission change")
		return current
	}
	o.metrics.rollbackPerformed()
	return reverted
}

// notifyIfChanged publishes a dataset update when the committed permission
// set differs from the snapshot the caller started from. Publishing is best
// effort.
func (o *PermissionOrchestrator) notifyIfChanged(ctx context.Context, before, after domain.Dataset) {
	if after.PermissionsEqual(before) {
		return
	}
	if err := o.notifier.Publish(ctx, domain.EntityDataset, domain.OperationUpdate, after); err != nil {
		o.log.Error().Err(err).Str("datasetId", string(after.ID)).Msg("failed to publish dataset change")
		return
	}
	o.metrics.notificationPublished()
}

// UpdateMetadataSync reconciles the consumer account's view of the slot's
// catalog database with one permission change. A slot without a catalog-sync
// resource has nothing to reconcile.
func (o *PermissionOrchestrator) UpdateMetadataSync(ctx context.Context, dataset domain.Dataset, permission domain.Permission, account domain.Account, action domain.PermissionAction) error {
	key := domain.ResourceKey{DatasetID: dataset.ID, Stage: permission.Stage, Region: permission.Region}
	sync, err := o.resources.GetCatalogSync(ctx, key)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return nil
		}
		return fmt.Errorf("look up catalog sync %s: %w", key, err)
	}
	database := sync.Database()
	if sync.Mechanism == domain.SyncFineGrained {
		if action == domain.ActionAdd {
			err = o.grants.GrantRead(ctx, account.ID, database)
		} else {
			err = o.grants.RevokeRead(ctx, account.ID, database)
		}
		if err != nil {
			return fmt.Errorf("update fine-grained read access for %s: %w", account.FriendlyNameAndID(), err)
		}
	}
	if action == domain.ActionAdd {
		if err := o.links.CreateLink(ctx, account.ID, database); err != nil {
			return fmt.Errorf("create resource link in %s: %w", account.FriendlyNameAndID(), err)
		}
	} else {
		if err := o.links.DeleteLink(ctx, account.ID, database); err != nil {
			return fmt.Errorf("delete resource link in %s: %w", account.FriendlyNameAndID(), err)
		}
	}
	return nil
}

// CreateMissingLinks re-creates the consumer-side resource links of every
// link-based permission on one slot, typically after the slot's catalog-sync
// resource was re-provisioned. A consumer already holding a database with the
// link's name is skipped so one bad account does not abort the batch.
func (o *PermissionOrchestrator) CreateMissingLinks(ctx context.Context, dataset domain.Dataset, stage domain.Stage, region domain.Region) error {
	for _, permission := range dataset.FilterPermissions(domain.PermissionFilter{Stage: stage, Region: region, Mechanism: domain.SyncResourceLink}) {
		account, err := o.accounts.GetAccount(ctx, permission.AccountID)
		if err != nil {
			if errors.As(err, new(*domain.NotFoundError)) {
				o.log.Warn().Str("accountId", string(permission.AccountID)).Msg("skipping link for unregistered account")
				continue
			}
			return err
		}
		err = o.UpdateMetadataSync(ctx, dataset, permission, account, domain.ActionAdd)
		if err != nil {
			if errors.As(err, new(*domain.ConflictingDatabaseError)) {
				o.log.Warn().Err(err).Str("accountId", string(account.ID)).Msg("consumer already holds a conflicting database")
				continue
			}
			return err
		}
	}
	return nil
}

// RemoveLinksForDeletedSync removes the consumer-side resource links that
// pointed at a now-deleted catalog-sync resource.
func (o *PermissionOrchestrator) RemoveLinksForDeletedSync(ctx context.Context, sync domain.CatalogSyncResource, dataset domain.Dataset) error {
	for _, permission := range dataset.FilterPermissions(domain.PermissionFilter{Stage: sync.Stage, Region: sync.Region}) {
		account, err := o.accounts.GetAccount(ctx, permission.AccountID)
		if err != nil {
			if errors.As(err, new(*domain.NotFoundError)) {
				continue
			}
			return err
		}
		if permission.Mechanism != domain.SyncResourceLink {
			o.log.Error().Str("accountId", string(account.ID)).Str("mechanism", string(permission.Mechanism)).Msg("cannot remove link for unsupported mechanism")
			continue
		}
		o.log.Info().Str("accountId", string(account.ID)).Str("database", sync.DatabaseName).Msg("removing resource link")
		if err := o.links.DeleteLink(ctx, account.ID, sync.Database()); err != nil {
			return fmt.Errorf("delete resource link in %s: %w", account.FriendlyNameAndID(), err)
		}
	}
	return nil
}

// RemoveAllPermissionsForAccount revokes every permission held by one
// account across all datasets, used when an account is deregistered.
// Conflicting-database failures are tolerated per dataset; everything else
// aborts.
func (o *PermissionOrchestrator) RemoveAllPermissionsForAccount(ctx context.Context, account domain.Account) error {
	datasets, err := o.datasets.ListDatasets(ctx)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}
	for _, dataset := range datasets {
		for _, permission := range dataset.FilterPermissions(domain.PermissionFilter{AccountID: account.ID}) {
			key := domain.ResourceKey{DatasetID: dataset.ID, Stage: permission.Stage, Region: permission.Region}
			storage, err := o.resources.GetStorage(ctx, key)
			if err != nil {
				o.log.Error().Err(err).Str("datasetId", string(dataset.ID)).Msg("skipping permission without storage resource")
				continue
			}
			grant := ValidatedGrant{Dataset: dataset, Permission: permission, Account: account, Storage: storage}
			if _, err := o.AddOrRemovePermission(ctx, grant, domain.ActionRemove, false); err != nil {
				if errors.As(err, new(*domain.ConflictingDatabaseError)) {
					o.log.Warn().Err(err).Str("datasetId", string(dataset.ID)).Msg("leaving conflicting consumer database in place")
					continue
				}
				return err
			}
		}
	}
	return nil
}
