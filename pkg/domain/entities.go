// Package domain defines the persistent entities, value types, error
// taxonomy, and collaborator contracts used by the datahub access
// orchestration core.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// EntityType identifies the type of record stored in the catalog.
type EntityType string

// Supported entity type identifiers used in catalog records and
// change notifications.
const (
	// EntityDataset identifies a dataset record.
	EntityDataset EntityType = "dataset"
	// EntityAccount identifies a consumer or provider account record.
	EntityAccount EntityType = "account"
	// EntityStorageResource identifies an object-storage resource record.
	EntityStorageResource EntityType = "storage_resource"
	// EntityCatalogSync identifies a catalog-synchronization resource record.
	EntityCatalogSync EntityType = "catalog_sync_resource"
	// EntityLock identifies a lock token record.
	EntityLock EntityType = "lock"
)

// AccountID is a cloud provider account identifier.
type AccountID string

// DatasetID is the stable identifier of a dataset.
type DatasetID string

// Region is a cloud provider region such as "eu-west-1".
type Region string

// Stage distinguishes deployment stages of a dataset's resources.
type Stage string

// Canonical stages. Additional stages are accepted by the catalog; these
// cover the standard promotion path.
const (
	StageDev  Stage = "dev"
	StageInt  Stage = "int"
	StageProd Stage = "prod"
)

// SyncMechanism enumerates the strategies used to replicate catalog metadata
// for one permission grant.
type SyncMechanism string

const (
	// SyncResourceLink replicates metadata through a pointer-style database
	// created in the consumer account.
	SyncResourceLink SyncMechanism = "resource-link"
	// SyncFineGrained replicates metadata through grants issued by the
	// centralized fine-grained permissions service.
	SyncFineGrained SyncMechanism = "fine-grained"
	// SyncUnsupported marks permissions migrated from a mechanism this
	// system no longer manages.
	SyncUnsupported SyncMechanism = "unsupported"
)

// PermissionAction distinguishes granting from revoking a permission.
type PermissionAction string

const (
	// ActionAdd grants a permission.
	ActionAdd PermissionAction = "add"
	// ActionRemove revokes a permission.
	ActionRemove PermissionAction = "remove"
)

// Inverse returns the compensating action.
func (a PermissionAction) Inverse() PermissionAction {
	if a == ActionAdd {
		return ActionRemove
	}
	return ActionAdd
}

// Permission grants one account read access to a dataset's resources in one
// region and stage. At most one permission exists per (account, region,
// stage) for a given dataset.
type Permission struct {
	AccountID AccountID     `json:"accountId"`
	Region    Region        `json:"region"`
	Stage     Stage         `json:"stage"`
	Mechanism SyncMechanism `json:"syncMechanism"`
}

func (p Permission) String() string {
	return fmt.Sprintf("(%s, %s, %s, %s)", p.AccountID, p.Region, p.Stage, p.Mechanism)
}

// sameSlot reports whether two permissions address the same
// (account, region, stage) slot regardless of mechanism.
func (p Permission) sameSlot(other Permission) bool {
	return p.AccountID == other.AccountID && p.Region == other.Region && p.Stage == other.Stage
}

// PermissionFilter narrows a dataset's permission set. Zero-valued fields
// match everything.
type PermissionFilter struct {
	AccountID AccountID
	Region    Region
	Stage     Stage
	Mechanism SyncMechanism
}

func (f PermissionFilter) matches(p Permission) bool {
	if f.AccountID != "" && f.AccountID != p.AccountID {
		return false
	}
	if f.Region != "" && f.Region != p.Region {
		return false
	}
	if f.Stage != "" && f.Stage != p.Stage {
		return false
	}
	if f.Mechanism != "" && f.Mechanism != p.Mechanism {
		return false
	}
	return true
}

// Dataset is the unit of access control. It owns the authoritative set of
// account permissions and is only mutated through conditional writes that
// produce a new snapshot; a Dataset value is never mutated in place by
// callers.
type Dataset struct {
	ID             DatasetID    `json:"id"`
	Name           string       `json:"name"`
	OwnerAccountID AccountID    `json:"ownerAccountId"`
	Permissions    []Permission `json:"permissions"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	// Version increments on every committed write and backs the catalog
	// store's compare-and-swap.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the dataset.
func (d Dataset) Clone() Dataset {
	cp := d
	cp.Permissions = append([]Permission(nil), d.Permissions...)
	return cp
}

// FilterPermissions returns the permissions matching the filter.
func (d Dataset) FilterPermissions(f PermissionFilter) []Permission {
	var out []Permission
	for _, p := range d.Permissions {
		if f.matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// ReadAccessAccountIDs returns the sorted, de-duplicated set of accounts
// holding read access for the given stage and region slice.
func (d Dataset) ReadAccessAccountIDs(stage Stage, region Region) []AccountID {
	seen := make(map[AccountID]struct{})
	for _, p := range d.FilterPermissions(PermissionFilter{Stage: stage, Region: region}) {
		seen[p.AccountID] = struct{}{}
	}
	out := make([]AccountID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PermissionsEqual reports whether two datasets carry the same permission
// set, ignoring order.
func (d Dataset) PermissionsEqual(other Dataset) bool {
	if len(d.Permissions) != len(other.Permissions) {
		return false
	}
	remaining := append([]Permission(nil), other.Permissions...)
outer:
	for _, p := range d.Permissions {
		for i, q := range remaining {
			if p == q {
				remaining = append(remaining[:i], remaining[i+1:]...)
				continue outer
			}
		}
		return false
	}
	return true
}

// ApplyPermission mutates the dataset's permission set in place. It is the
// single mutator used inside catalog transactions. Adding a permission whose
// (account, region, stage) slot is already taken fails with
// DuplicatePermissionError; removing an absent permission fails with
// NotFoundError.
func ApplyPermission(d *Dataset, p Permission, action PermissionAction) error {
	switch action {
	case ActionAdd:
		for _, existing := range d.Permissions {
			if existing.sameSlot(p) {
				return &DuplicatePermissionError{Permission: existing}
			}
		}
		d.Permissions = append(d.Permissions, p)
		return nil
	case ActionRemove:
		for i, existing := range d.Permissions {
			if existing.sameSlot(p) {
				d.Permissions = append(d.Permissions[:i], d.Permissions[i+1:]...)
				return nil
			}
		}
		return &NotFoundError{Entity: EntityDataset, ID: fmt.Sprintf("%s permission %s", d.ID, p)}
	default:
		return fmt.Errorf("unknown permission action %q", action)
	}
}

// Account is an entry in the account directory.
type Account struct {
	ID   AccountID `json:"id"`
	Name string    `json:"name"`
}

// FriendlyNameAndID renders the account for log and error messages.
func (a Account) FriendlyNameAndID() string {
	if a.Name == "" {
		return string(a.ID)
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.ID)
}

// ResourceKey addresses the single storage or catalog-sync resource a
// dataset may own per stage and region.
type ResourceKey struct {
	DatasetID DatasetID `json:"datasetId"`
	Stage     Stage     `json:"stage"`
	Region    Region    `json:"region"`
}

func (k ResourceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DatasetID, k.Stage, k.Region)
}

// StorageResource records the object-storage bucket backing a dataset in one
// stage and region. At most one exists per key.
type StorageResource struct {
	DatasetID         DatasetID `json:"datasetId"`
	Stage             Stage     `json:"stage"`
	Region            Region    `json:"region"`
	BucketName        string    `json:"bucketName"`
	EncryptionKeyARN  string    `json:"encryptionKeyArn"`
	ResourceAccountID AccountID `json:"resourceAccountId"`
	OwnerAccountID    AccountID `json:"ownerAccountId"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Key returns the resource's catalog key.
func (r StorageResource) Key() ResourceKey {
	return ResourceKey{DatasetID: r.DatasetID, Stage: r.Stage, Region: r.Region}
}

// ARN returns the bucket's provider resource name.
func (r StorageResource) ARN() string {
	return "arn:aws:s3:::" + r.BucketName
}

// CatalogSyncResource records the synchronized database backing a dataset's
// catalog view. Creation requires a StorageResource for the same key;
// deletion is blocked while dependent permissions remain.
type CatalogSyncResource struct {
	DatasetID         DatasetID     `json:"datasetId"`
	Stage             Stage         `json:"stage"`
	Region            Region        `json:"region"`
	DatabaseName      string        `json:"databaseName"`
	Mechanism         SyncMechanism `json:"syncMechanism"`
	ResourceAccountID AccountID     `json:"resourceAccountId"`
	OwnerAccountID    AccountID     `json:"ownerAccountId"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// Key returns the resource's catalog key.
func (r CatalogSyncResource) Key() ResourceKey {
	return ResourceKey{DatasetID: r.DatasetID, Stage: r.Stage, Region: r.Region}
}

// Database returns a reference to the physical database in the resource
// account.
func (r CatalogSyncResource) Database() DatabaseRef {
	return DatabaseRef{Name: r.DatabaseName, AccountID: r.ResourceAccountID, Region: r.Region}
}

// DatabaseRef identifies a catalog database in one account and region.
type DatabaseRef struct {
	Name      string    `json:"name"`
	AccountID AccountID `json:"accountId"`
	Region    Region    `json:"region"`
}

func (d DatabaseRef) String() string {
	return fmt.Sprintf("%s/%s/%s", d.AccountID, d.Region, d.Name)
}

// LockScope partitions the lock key space per orchestration concern.
type LockScope string

const (
	// ScopeStorageResource covers bucket and permission mutations.
	ScopeStorageResource LockScope = "storage-resource"
	// ScopeCatalogSync covers catalog-sync resource lifecycles.
	ScopeCatalogSync LockScope = "catalog-sync-resource"
)

// Lock is an ephemeral mutual-exclusion token over the lock store. It is
// held only for the bounded duration of one orchestration call.
type Lock struct {
	ID         string            `json:"id"`
	Scope      LockScope         `json:"scope"`
	RequestID  string            `json:"requestId"`
	AcquiredAt time.Time         `json:"acquiredAt"`
	Data       map[string]string `json:"data,omitempty"`
}

func (l Lock) String() string {
	return fmt.Sprintf("lock %s (request %s)", l.ID, l.RequestID)
}

// BuildLockID derives the lock store key from the item and scope. Absent
// region or stage components are replaced with fixed placeholders so that
// scoped and unscoped locks never collide.
func BuildLockID(itemID string, scope LockScope, stage Stage, region Region) string {
	stagePart := string(stage)
	if stagePart == "" {
		stagePart = "no_stage"
	}
	regionPart := string(region)
	if regionPart == "" {
		regionPart = "no_region"
	}
	return fmt.Sprintf("%s_%s_%s_%s", itemID, scope, stagePart, regionPart)
}
