package core

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"datahub/pkg/domain"
)

// maxBucketNameAttempts bounds the retry loop that searches for a free name
// in the provider's global bucket namespace.
const maxBucketNameAttempts = 10

const bucketNameSuffixLength = 4

// StorageConfig carries the deployment-wide parameters of the storage
// manager.
type StorageConfig struct {
	// NamePrefix is prepended to every derived bucket name, typically the
	// installation's short name.
	NamePrefix string
	// AccessLogBucket receives the server access logs of every managed
	// bucket. Logging is skipped when empty.
	AccessLogBucket string
}

// StorageManager provisions and tears down the per-(dataset, stage, region)
// object storage buckets and maintains their cross-account access policies.
type StorageManager struct {
	resources domain.ResourceStore
	locks     *LockService
	buckets   domain.BucketClient
	cfg       StorageConfig
	log       zerolog.Logger
	metrics   *Metrics
	now       func() time.Time
	suffix    func() string
}

func NewStorageManager(resources domain.ResourceStore, locks *LockService, buckets domain.BucketClient, cfg StorageConfig, log zerolog.Logger, metrics *Metrics) *StorageManager {
	return &StorageManager{
		resources: resources,
		locks:     locks,
		buckets:   buckets,
		cfg:       cfg,
		log:       log.With().Str("component", "storage").Logger(),
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		suffix:    randomBucketSuffix,
	}
}

// CreateStorage provisions the bucket for one (dataset, stage, region) slot,
// installs the initial owner policy and hardening configuration, and records
// the resource in the catalog. The slot must not already hold storage.
func (m *StorageManager) CreateStorage(ctx context.Context, dataset domain.Dataset, stage domain.Stage, region domain.Region, resourceAccountID domain.AccountID, encryptionKeyARN string) (res domain.StorageResource, err error) {
	defer func(start time.Time) { m.metrics.observeOperation("create_storage", start, err) }(m.now())

	key := domain.ResourceKey{DatasetID: dataset.ID, Stage: stage, Region: region}
	if _, getErr := m.resources.GetStorage(ctx, key); getErr == nil {
		return domain.StorageResource{}, &domain.AlreadyExistsError{Entity: domain.EntityStorageResource, ID: key.String()}
	} else if !errors.As(getErr, new(*domain.NotFoundError)) {
		return domain.StorageResource{}, fmt.Errorf("check existing storage %s: %w", key, getErr)
	}

	lock, err := m.locks.Acquire(ctx, string(dataset.ID), domain.ScopeStorageResource, stage, region, map[string]string{
		"datasetId": string(dataset.ID),
	})
	if err != nil {
		return domain.StorageResource{}, err
	}
	defer m.locks.ReleaseQuietly(ctx, lock)

	bucket, err := m.createAvailableBucket(ctx, dataset, stage, region, resourceAccountID, encryptionKeyARN)
	if err != nil {
		return domain.StorageResource{}, err
	}

	res = domain.StorageResource{
		DatasetID:         dataset.ID,
		Stage:             stage,
		Region:            region,
		BucketName:        bucket,
		EncryptionKeyARN:  encryptionKeyARN,
		ResourceAccountID: resourceAccountID,
		OwnerAccountID:    dataset.OwnerAccountID,
		CreatedAt:         m.now(),
		UpdatedAt:         m.now(),
	}
	if err := m.hardenBucket(ctx, res); err != nil {
		return domain.StorageResource{}, err
	}
	if err := m.resources.PutStorage(ctx, res); err != nil {
		return domain.StorageResource{}, fmt.Errorf("record storage %s: %w", key, err)
	}
	m.log.Info().Str("datasetId", string(dataset.ID)).Str("bucket", bucket).Msg("storage created")
	return res, nil
}

// createAvailableBucket derives candidate names until the provider accepts
// one. Only global name collisions are retried; every other failure aborts
// immediately.
func (m *StorageManager) createAvailableBucket(ctx context.Context, dataset domain.Dataset, stage domain.Stage, region domain.Region, resourceAccountID domain.AccountID, encryptionKeyARN string) (string, error) {
	for attempt := 1; attempt <= maxBucketNameAttempts; attempt++ {
		name := m.bucketName(dataset.ID)
		err := m.buckets.CreateBucket(ctx, domain.BucketSpec{
			Name:             name,
			Region:           region,
			EncryptionKeyARN: encryptionKeyARN,
			Tags: map[string]string{
				"datasetId":      string(dataset.ID),
				"stage":          string(stage),
				"ownerAccountId": string(dataset.OwnerAccountID),
			},
		})
		if err == nil {
			return name, nil
		}
		if errors.As(err, new(*domain.BucketAlreadyExistsError)) {
			m.log.Warn().Str("bucket", name).Int("attempt", attempt).Msg("bucket name taken, retrying")
			continue
		}
		return "", fmt.Errorf("create bucket %s: %w", name, err)
	}
	return "", fmt.Errorf("no available bucket name for dataset %s after %d attempts", dataset.ID, maxBucketNameAttempts)
}

// hardenBucket applies the initial policy and the opinionated bucket
// configuration. The bucket already exists at this point, so failures leave
// it behind under the still-held lock for the caller to retry.
func (m *StorageManager) hardenBucket(ctx context.Context, res domain.StorageResource) error {
	policy := domain.InitialBucketPolicy(res.ARN(), res.OwnerAccountID, res.EncryptionKeyARN)
	if err := m.buckets.SetBucketPolicy(ctx, res.BucketName, policy); err != nil {
		return fmt.Errorf("set initial policy on %s: %w", res.BucketName, err)
	}
	if err := m.buckets.BlockPublicAccess(ctx, res.BucketName); err != nil {
		return fmt.Errorf("block public access on %s: %w", res.BucketName, err)
	}
	if err := m.buckets.EnableVersioning(ctx, res.BucketName); err != nil {
		return fmt.Errorf("enable versioning on %s: %w", res.BucketName, err)
	}
	if err := m.buckets.SetLifecycleConfiguration(ctx, res.BucketName); err != nil {
		return fmt.Errorf("set lifecycle on %s: %w", res.BucketName, err)
	}
	if err := m.buckets.EnableMetricsConfiguration(ctx, res.BucketName); err != nil {
		return fmt.Errorf("enable request metrics on %s: %w", res.BucketName, err)
	}
	if m.cfg.AccessLogBucket != "" {
		if err := m.buckets.EnableAccessLogging(ctx, res.BucketName, m.cfg.AccessLogBucket, res.BucketName+"/"); err != nil {
			return fmt.Errorf("enable access logging on %s: %w", res.BucketName, err)
		}
	}
	return nil
}

// DeleteStorage removes the bucket and the catalog record for one slot. The
// slot must not hold a catalog-sync resource and the bucket must be empty.
func (m *StorageManager) DeleteStorage(ctx context.Context, res domain.StorageResource) (err error) {
	defer func(start time.Time) { m.metrics.observeOperation("delete_storage", start, err) }(m.now())

	key := res.Key()
	if _, getErr := m.resources.GetCatalogSync(ctx, key); getErr == nil {
		return &domain.StorageInUseError{Key: key}
	} else if !errors.As(getErr, new(*domain.NotFoundError)) {
		return fmt.Errorf("check catalog sync %s: %w", key, getErr)
	}

	lock, err := m.locks.Acquire(ctx, string(res.DatasetID), domain.ScopeStorageResource, res.Stage, res.Region, map[string]string{
		"datasetId": string(res.DatasetID),
		"bucket":    res.BucketName,
	})
	if err != nil {
		return err
	}
	defer m.locks.ReleaseQuietly(ctx, lock)

	if err := m.buckets.DeleteBucketIfEmpty(ctx, res.BucketName); err != nil {
		return fmt.Errorf("delete bucket %s: %w", res.BucketName, err)
	}
	if err := m.resources.DeleteStorage(ctx, key); err != nil {
		return fmt.Errorf("remove storage record %s: %w", key, err)
	}
	m.log.Info().Str("datasetId", string(res.DatasetID)).Str("bucket", res.BucketName).Msg("storage deleted")
	return nil
}

// UpdateReadAccessStatement reconciles the bucket's cross-account read
// statement with the dataset's current permissions.
func (m *StorageManager) UpdateReadAccessStatement(ctx context.Context, res domain.StorageResource, dataset domain.Dataset) error {
	return m.UpdateReadAccessInTransaction(ctx, res, dataset, nil)
}

// UpdateReadAccessInTransaction applies the reconciled read-access statement
// and then runs nested. If nested fails, the previous policy is restored (or
// removed when none existed) before the error is returned.
func (m *StorageManager) UpdateReadAccessInTransaction(ctx context.Context, res domain.StorageResource, dataset domain.Dataset, nested func(context.Context) error) error {
	accounts := dataset.ReadAccessAccountIDs(res.Stage, res.Region)
	previous, err := m.buckets.GetBucketPolicy(ctx, res.BucketName)
	if err != nil {
		return fmt.Errorf("read policy of %s: %w", res.BucketName, err)
	}
	updated := reconcileReadAccess(previous, res.ARN(), accounts)
	if err := m.applyPolicy(ctx, res.BucketName, updated); err != nil {
		return err
	}
	if nested == nil {
		return nil
	}
	if err := nested(ctx); err != nil {
		if revertErr := m.applyPolicy(ctx, res.BucketName, previous); revertErr != nil {
			m.log.Error().Err(revertErr).Str("bucket", res.BucketName).Msg("failed to restore previous bucket policy")
		}
		return err
	}
	return nil
}

// reconcileReadAccess upserts or drops the shared read statement. The rest of
// the policy is carried over untouched.
func reconcileReadAccess(previous *domain.BucketPolicy, bucketARN string, accounts []domain.AccountID) *domain.BucketPolicy {
	if len(accounts) == 0 {
		if previous == nil {
			return nil
		}
		return previous.WithoutStatement(domain.ReadAccessSID)
	}
	statement := domain.ReadAccessStatement(bucketARN, accounts)
	if previous == nil {
		return &domain.BucketPolicy{Version: domain.PolicyVersion, Statement: []domain.PolicyStatement{statement}}
	}
	return previous.WithStatement(statement)
}

// applyPolicy writes the given policy, deleting it when nil or empty.
func (m *StorageManager) applyPolicy(ctx context.Context, bucket string, policy *domain.BucketPolicy) error {
	if policy == nil || len(policy.Statement) == 0 {
		if err := m.buckets.DeleteBucketPolicy(ctx, bucket); err != nil {
			return fmt.Errorf("delete policy of %s: %w", bucket, err)
		}
		return nil
	}
	if err := m.buckets.SetBucketPolicy(ctx, bucket, policy); err != nil {
		return fmt.Errorf("set policy of %s: %w", bucket, err)
	}
	return nil
}

// bucketName derives a candidate bucket name from the dataset ID. A random
// suffix disambiguates retries after global name collisions.
func (m *StorageManager) bucketName(id domain.DatasetID) string {
	suffix := m.suffix()
	stem := m.cfg.NamePrefix + strings.ReplaceAll(string(id), "_", "-")
	// Bucket names are capped at 63 characters; the suffix always survives.
	if max := 63 - len(suffix) - 1; len(stem) > max {
		stem = stem[:max]
	}
	return strings.ToLower(stem + "-" + suffix)
}

const bucketSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomBucketSuffix() string {
	buf := make([]byte, bucketNameSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("random suffix: %v", err))
	}
	for i, b := range buf {
		buf[i] = bucketSuffixAlphabet[int(b)%len(bucketSuffixAlphabet)]
	}
	return string(buf)
}
