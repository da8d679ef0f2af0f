package domain

import "context"

// BucketSpec carries the parameters for creating an encrypted bucket.
type BucketSpec struct {
	Name             string
	Region           Region
	EncryptionKeyARN string
	Tags             map[string]string
}

// BucketClient wraps the object-storage service for one resource account.
// Implementations translate provider errors into the domain taxonomy.
type BucketClient interface {
	// CreateBucket fails with BucketAlreadyExistsError on a name collision
	// anywhere in the global bucket namespace.
	CreateBucket(ctx context.Context, spec BucketSpec) error
	// DeleteBucketIfEmpty fails with BucketNotEmptyError when the bucket
	// still contains objects. The check is best effort against concurrent
	// writers.
	DeleteBucketIfEmpty(ctx context.Context, bucket string) error
	// GetBucketPolicy returns nil when the bucket carries no policy.
	GetBucketPolicy(ctx context.Context, bucket string) (*BucketPolicy, error)
	SetBucketPolicy(ctx context.Context, bucket string, policy *BucketPolicy) error
	DeleteBucketPolicy(ctx context.Context, bucket string) error
	BlockPublicAccess(ctx context.Context, bucket string) error
	SetLifecycleConfiguration(ctx context.Context, bucket string) error
	EnableVersioning(ctx context.Context, bucket string) error
	EnableAccessLogging(ctx context.Context, bucket, logBucket, logPrefix string) error
	EnableMetricsConfiguration(ctx context.Context, bucket string) error
	SetBucketTags(ctx context.Context, bucket string, tags map[string]string) error
	RemoveBucketTags(ctx context.Context, bucket string, keys []string) error
}

// DatabaseClient wraps the catalog database service in the resource account.
type DatabaseClient interface {
	// CreateDatabase creates the physical database. stripDefaultGrants
	// removes the provider's implicit table grants, required for databases
	// governed by fine-grained permissions.
	CreateDatabase(ctx context.Context, db DatabaseRef, stripDefaultGrants bool) error
	DeleteDatabaseIfPresent(ctx context.Context, db DatabaseRef) error
	DatabaseExists(ctx context.Context, db DatabaseRef) (bool, error)
}

// ResourceLinkClient manages pointer-style databases in consumer accounts.
// Operations run under the target account's metadata role; a failed or
// unsupported role assumption surfaces as RoleAssumptionError.
type ResourceLinkClient interface {
	// CreateLink fails with ConflictingDatabaseError when the target account
	// already holds a database with the link's name, and with
	// EncryptionPreconditionError when the target catalog's encryption
	// configuration rejects the write.
	CreateLink(ctx context.Context, targetAccount AccountID, source DatabaseRef) error
	DeleteLink(ctx context.Context, targetAccount AccountID, source DatabaseRef) error
	LinkExists(ctx context.Context, targetAccount AccountID, source DatabaseRef) (bool, error)
}

// FineGrainedClient wraps the centralized fine-grained permissions service.
// Revocations fail with DependentAssociationsDetachingError while earlier
// grant associations are still detaching.
type FineGrainedClient interface {
	GrantRead(ctx context.Context, principal AccountID, db DatabaseRef) error
	RevokeRead(ctx context.Context, principal AccountID, db DatabaseRef) error
	GrantWrite(ctx context.Context, principal AccountID, db DatabaseRef) error
	RevokeWrite(ctx context.Context, principal AccountID, db DatabaseRef) error
}

// ResourceShareClient manages cross-account shares of catalog databases.
type ResourceShareClient interface {
	CreateShareWithWriteAccess(ctx context.Context, db DatabaseRef, targetAccount AccountID) error
	// RevokeShareIfPresent fails with DependentAssociationsDetachingError
	// while share associations are still detaching; nothing is mutated in
	// that case.
	RevokeShareIfPresent(ctx context.Context, db DatabaseRef) error
}

// Operation labels the kind of change announced through the notification
// sink.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// NotificationSink publishes change notifications. Delivery is fire and
// forget: failures are logged by the caller and never block the
// orchestration's success path.
type NotificationSink interface {
	Publish(ctx context.Context, entity EntityType, op Operation, payload any) error
}
