package awsclients

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"datahub/pkg/domain"
)

var _ domain.BucketClient = (*Buckets)(nil)

// Buckets implements the bucket client against S3.
type Buckets struct {
	client *s3.Client
}

func NewBuckets(cfg aws.Config) *Buckets {
	return &Buckets{client: s3.NewFromConfig(cfg)}
}

func (b *Buckets) CreateBucket(ctx context.Context, spec domain.BucketSpec) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(spec.Name)}
	// us-east-1 rejects an explicit location constraint.
	if spec.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(spec.Region),
		}
	}
	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		var taken *types.BucketAlreadyExists
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &taken) || errors.As(err, &owned) {
			return &domain.BucketAlreadyExistsError{Bucket: spec.Name}
		}
		return fmt.Errorf("create bucket: %w", err)
	}
	if _, err := b.client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(spec.Name),
		ServerSideEncryptionConfiguration: &types.ServerSideEncryptionConfiguration{
			Rules: []types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &types.ServerSideEncryptionByDefault{
					SSEAlgorithm:   types.ServerSideEncryptionAwsKms,
					KMSMasterKeyID: aws.String(spec.EncryptionKeyARN),
				},
				BucketKeyEnabled: aws.Bool(true),
			}},
		},
	}); err != nil {
		return fmt.Errorf("set bucket encryption: %w", err)
	}
	if len(spec.Tags) > 0 {
		if err := b.SetBucketTags(ctx, spec.Name, spec.Tags); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buckets) DeleteBucketIfEmpty(ctx context.Context, bucket string) error {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	if out.KeyCount != nil && *out.KeyCount > 0 {
		return &domain.BucketNotEmptyError{Bucket: bucket}
	}
	if _, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if errorCode(err) == "BucketNotEmpty" {
			return &domain.BucketNotEmptyError{Bucket: bucket}
		}
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}

func (b *Buckets) GetBucketPolicy(ctx context.Context, bucket string) (*domain.BucketPolicy, error) {
	out, err := b.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(bucket)})
	if err != nil {
		if errorCode(err) == "NoSuchBucketPolicy" {
			return nil, nil
		}
		return nil, fmt.Errorf("get bucket policy: %w", err)
	}
	if out.Policy == nil {
		return nil, nil
	}
	policy, err := domain.DecodeBucketPolicy(*out.Policy)
	if err != nil {
		return nil, fmt.Errorf("decode bucket policy: %w", err)
	}
	return policy, nil
}

func (b *Buckets) SetBucketPolicy(ctx context.Context, bucket string, policy *domain.BucketPolicy) error {
	doc, err := policy.Encode()
	if err != nil {
		return fmt.Errorf("encode bucket policy: %w", err)
	}
	if _, err := b.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(doc),
	}); err != nil {
		return fmt.Errorf("put bucket policy: %w", err)
	}
	return nil
}

func (b *Buckets) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	if _, err := b.client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("delete bucket policy: %w", err)
	}
	return nil
}

func (b *Buckets) BlockPublicAccess(ctx context.Context, bucket string) error {
	if _, err := b.client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(bucket),
		PublicAccessBlockConfiguration: &types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	}); err != nil {
		return fmt.Errorf("block public access: %w", err)
	}
	return nil
}

func (b *Buckets) SetLifecycleConfiguration(ctx context.Context, bucket string) error {
	if _, err := b.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{
				{
					ID:     aws.String("abort-incomplete-uploads"),
					Status: types.ExpirationStatusEnabled,
					Filter: &types.LifecycleRuleFilter{Prefix: aws.String("")},
					AbortIncompleteMultipartUpload: &types.AbortIncompleteMultipartUpload{
						DaysAfterInitiation: aws.Int32(7),
					},
				},
				{
					ID:     aws.String("expire-noncurrent-versions"),
					Status: types.ExpirationStatusEnabled,
					Filter: &types.LifecycleRuleFilter{Prefix: aws.String("")},
					NoncurrentVersionExpiration: &types.NoncurrentVersionExpiration{
						NoncurrentDays: aws.Int32(30),
					},
				},
			},
		},
	}); err != nil {
		return fmt.Errorf("put lifecycle configuration: %w", err)
	}
	return nil
}

func (b *Buckets) EnableVersioning(ctx context.Context, bucket string) error {
	if _, err := b.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusEnabled,
		},
	}); err != nil {
		return fmt.Errorf("enable versioning: %w", err)
	}
	return nil
}

func (b *Buckets) EnableAccessLogging(ctx context.Context, bucket, logBucket, logPrefix string) error {
	if _, err := b.client.PutBucketLogging(ctx, &s3.PutBucketLoggingInput{
		Bucket: aws.String(bucket),
		BucketLoggingStatus: &types.BucketLoggingStatus{
			LoggingEnabled: &types.LoggingEnabled{
				TargetBucket: aws.String(logBucket),
				TargetPrefix: aws.String(logPrefix),
			},
		},
	}); err != nil {
		return fmt.Errorf("enable access logging: %w", err)
	}
	return nil
}

func (b *Buckets) EnableMetricsConfiguration(ctx context.Context, bucket string) error {
	if _, err := b.client.PutBucketMetricsConfiguration(ctx, &s3.PutBucketMetricsConfigurationInput{
		Bucket:               aws.String(bucket),
		Id:                   aws.String("EntireBucket"),
		MetricsConfiguration: &types.MetricsConfiguration{Id: aws.String("EntireBucket")},
	}); err != nil {
		return fmt.Errorf("enable request metrics: %w", err)
	}
	return nil
}

func (b *Buckets) SetBucketTags(ctx context.Context, bucket string, tags map[string]string) error {
	merged, err := b.currentTags(ctx, bucket)
	if err != nil {
		return err
	}
	for k, v := range tags {
		merged[k] = v
	}
	return b.putTags(ctx, bucket, merged)
}

func (b *Buckets) RemoveBucketTags(ctx context.Context, bucket string, keys []string) error {
	merged, err := b.currentTags(ctx, bucket)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(merged, k)
	}
	return b.putTags(ctx, bucket, merged)
}

func (b *Buckets) currentTags(ctx context.Context, bucket string) (map[string]string, error) {
	tags := make(map[string]string)
	out, err := b.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		if errorCode(err) == "NoSuchTagSet" {
			return tags, nil
		}
		return nil, fmt.Errorf("get bucket tags: %w", err)
	}
	for _, tag := range out.TagSet {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}

func (b *Buckets) putTags(ctx context.Context, bucket string, tags map[string]string) error {
	set := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		set = append(set, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	if _, err := b.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(bucket),
		Tagging: &types.Tagging{TagSet: set},
	}); err != nil {
		return fmt.Errorf("put bucket tags: %w", err)
	}
	return nil
}
