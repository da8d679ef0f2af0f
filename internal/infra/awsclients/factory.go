// Package awsclients adapts the provider SDK to the domain client
// interfaces. Every adapter translates provider error codes into the domain
// taxonomy at the boundary; nothing above this package inspects SDK errors.
package awsclients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"datahub/pkg/domain"
)

// LoadConfig builds the base provider configuration. Transient provider
// faults are absorbed by the SDK's standard retryer with jittered backoff.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxBackoffDelay(retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = 5
			}), 20*time.Second)
		}),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load provider config: %w", err)
	}
	return cfg, nil
}

// GlueClientFactory yields a catalog client scoped to the metadata role of
// the given account. Implementations return RoleAssumptionError when the
// account's role cannot be used.
type GlueClientFactory func(ctx context.Context, account domain.AccountID, region domain.Region) (*glue.Client, error)

// NewAssumeRoleGlueFactory returns a factory that assumes
// arn:aws:iam::<account>:role/<roleName> for each target account. Clients are
// cached per (account, region).
func NewAssumeRoleGlueFactory(cfg aws.Config, roleName string) GlueClientFactory {
	stsClient := sts.NewFromConfig(cfg)
	var mu sync.Mutex
	cache := make(map[string]*glue.Client)
	return func(_ context.Context, account domain.AccountID, region domain.Region) (*glue.Client, error) {
		key := string(account) + "/" + string(region)
		mu.Lock()
		defer mu.Unlock()
		if client, ok := cache[key]; ok {
			return client, nil
		}
		roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", account, roleName)
		provider := stscreds.NewAssumeRoleProvider(stsClient, roleARN)
		client := glue.NewFromConfig(cfg, func(o *glue.Options) {
			o.Credentials = aws.NewCredentialsCache(provider)
			o.Region = string(region)
		})
		cache[key] = client
		return client, nil
	}
}
