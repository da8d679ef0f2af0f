package domain

import (
	"errors"
	"fmt"
)

// The error taxonomy is closed: every provider error is translated at the
// client boundary into exactly one of the types below, or wrapped as an
// opaque internal fault. The orchestrator decides compensation versus
// propagation by matching on these types, never on provider error codes.

// NotFoundError reports a missing catalog entity.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// AlreadyExistsError reports a catalog entity that already exists for its
// key.
type AlreadyExistsError struct {
	Entity EntityType
	ID     string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.ID)
}

// DuplicatePermissionError reports a grant whose (account, region, stage)
// slot is already taken on the dataset.
type DuplicatePermissionError struct {
	Permission Permission
}

func (e *DuplicatePermissionError) Error() string {
	return fmt.Sprintf("permission %s already exists", e.Permission)
}

// ResourceLockedError reports a lost race for a lock key. It carries both
// payloads so the caller can report which operation is blocking. Always
// retryable after a delay; never retried internally.
type ResourceLockedError struct {
	Requested Lock
	// Existing is nil when the holding lock was released between the failed
	// conditional insert and the diagnostic read.
	Existing *Lock
}

func (e *ResourceLockedError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf("resource %s is currently locked by request %s", e.Requested.ID, e.Existing.RequestID)
	}
	return fmt.Sprintf("resource %s was locked during the request; please retry", e.Requested.ID)
}

// ConflictingDatabaseError reports a database in the target account whose
// name collides with the one the orchestrator would create. Not retryable;
// requires rollback of any prior mutation.
type ConflictingDatabaseError struct {
	DatabaseName string
	AccountID    AccountID
}

func (e *ConflictingDatabaseError) Error() string {
	return fmt.Sprintf("database %s already exists in account %s", e.DatabaseName, e.AccountID)
}

// EncryptionPreconditionError reports a catalog encryption configuration in
// the target account that blocks link creation. Not retryable without
// operator intervention; triggers compensation.
type EncryptionPreconditionError struct {
	DatabaseName string
	AccountID    AccountID
	Region       Region
}

func (e *EncryptionPreconditionError) Error() string {
	return fmt.Sprintf("encrypting database %s in account %s and region %s failed; verify the catalog encryption key",
		e.DatabaseName, e.AccountID, e.Region)
}

// Remediation returns the operator-facing message for a failed operation.
func (e *EncryptionPreconditionError) Remediation(failedOperation string) string {
	return fmt.Sprintf("%s, because the catalog encryption operation failed. The catalog in account %s and region %s "+
		"is most likely encrypted with a key that was deleted or is no longer accessible. Restore the key and repeat "+
		"this request.", failedOperation, e.AccountID, e.Region)
}

// DependentAssociationsDetachingError reports that cross-account permission
// associations have not finished detaching. Retryable by the caller after a
// delay; nothing was mutated.
type DependentAssociationsDetachingError struct {
	DatabaseName string
}

func (e *DependentAssociationsDetachingError) Error() string {
	return fmt.Sprintf("permissions for database %s have not finished detaching; try again later", e.DatabaseName)
}

// RoleAssumptionError reports that the metadata role in the target account
// could not be assumed, or the account does not support metadata sync at
// all. Rollback depends on whether the caller requires strict
// synchronization.
type RoleAssumptionError struct {
	AccountID   AccountID
	Unsupported bool
}

func (e *RoleAssumptionError) Error() string {
	if e.Unsupported {
		return fmt.Sprintf("account %s does not support metadata sync", e.AccountID)
	}
	return fmt.Sprintf("could not assume the metadata role in account %s", e.AccountID)
}

// SyncMechanismMismatchError reports a grant whose mechanism would break the
// homogeneity of a (region, stage) slice. Rejected before any mutation.
type SyncMechanismMismatchError struct {
	Requested SyncMechanism
	Existing  SyncMechanism
}

func (e *SyncMechanismMismatchError) Error() string {
	return fmt.Sprintf("sync mechanism %s is not allowed for a slice already using %s", e.Requested, e.Existing)
}

// MissingStorageError reports an operation that requires a storage resource
// which does not exist for the key.
type MissingStorageError struct {
	Key ResourceKey
}

func (e *MissingStorageError) Error() string {
	return fmt.Sprintf("no storage resource exists for %s", e.Key)
}

// StorageInUseError reports a storage deletion blocked by a catalog-sync
// resource that still references the key.
type StorageInUseError struct {
	Key ResourceKey
}

func (e *StorageInUseError) Error() string {
	return fmt.Sprintf("storage resource %s is still referenced by a catalog-sync resource", e.Key)
}

// BucketAlreadyExistsError reports a bucket name collision in the global
// bucket namespace.
type BucketAlreadyExistsError struct {
	Bucket string
}

func (e *BucketAlreadyExistsError) Error() string {
	return fmt.Sprintf("bucket %s already exists", e.Bucket)
}

// BucketNotEmptyError reports a bucket deletion refused because the bucket
// still contains objects.
type BucketNotEmptyError struct {
	Bucket string
}

func (e *BucketNotEmptyError) Error() string {
	return fmt.Sprintf("bucket %s is not empty", e.Bucket)
}

// Retryable reports whether the caller may retry the identical request after
// a delay. Conflict and precondition errors require the request to change
// first.
func Retryable(err error) bool {
	var locked *ResourceLockedError
	var detaching *DependentAssociationsDetachingError
	return errors.As(err, &locked) || errors.As(err, &detaching)
}
