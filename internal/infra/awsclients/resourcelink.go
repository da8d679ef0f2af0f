package awsclients

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"

	"datahub/pkg/domain"
)

var _ domain.ResourceLinkClient = (*ResourceLinks)(nil)

// ResourceLinks manages pointer databases in consumer accounts through each
// account's metadata role.
type ResourceLinks struct {
	factory GlueClientFactory
}

func NewResourceLinks(factory GlueClientFactory) *ResourceLinks {
	return &ResourceLinks{factory: factory}
}

func (l *ResourceLinks) CreateLink(ctx context.Context, target domain.AccountID, source domain.DatabaseRef) error {
	client, err := l.factory(ctx, target, source.Region)
	if err != nil {
		return &domain.RoleAssumptionError{AccountID: target}
	}
	_, err = client.CreateDatabase(ctx, &glue.CreateDatabaseInput{
		CatalogId: aws.String(string(target)),
		DatabaseInput: &types.DatabaseInput{
			Name: aws.String(source.Name),
			TargetDatabase: &types.DatabaseIdentifier{
				CatalogId:    aws.String(string(source.AccountID)),
				DatabaseName: aws.String(source.Name),
			},
		},
	})
	if err != nil {
		var exists *types.AlreadyExistsException
		var encryption *types.GlueEncryptionException
		switch {
		case errors.As(err, &exists):
			return &domain.ConflictingDatabaseError{DatabaseName: source.Name, AccountID: target}
		case errors.As(err, &encryption):
			return &domain.EncryptionPreconditionError{DatabaseName: source.Name, AccountID: target, Region: source.Region}
		case isRoleAssumptionFailure(err):
			return &domain.RoleAssumptionError{AccountID: target}
		}
		return fmt.Errorf("create resource link: %w", err)
	}
	return nil
}

func (l *ResourceLinks) DeleteLink(ctx context.Context, target domain.AccountID, source domain.DatabaseRef) error {
	client, err := l.factory(ctx, target, source.Region)
	if err != nil {
		return &domain.RoleAssumptionError{AccountID: target}
	}
	if _, err := client.DeleteDatabase(ctx, &glue.DeleteDatabaseInput{
		CatalogId: aws.String(string(target)),
		Name:      aws.String(source.Name),
	}); err != nil {
		var missing *types.EntityNotFoundException
		if errors.As(err, &missing) {
			return nil
		}
		if isRoleAssumptionFailure(err) {
			return &domain.RoleAssumptionError{AccountID: target}
		}
		return fmt.Errorf("delete resource link: %w", err)
	}
	return nil
}

func (l *ResourceLinks) LinkExists(ctx context.Context, target domain.AccountID, source domain.DatabaseRef) (bool, error) {
	client, err := l.factory(ctx, target, source.Region)
	if err != nil {
		return false, &domain.RoleAssumptionError{AccountID: target}
	}
	out, err := client.GetDatabase(ctx, &glue.GetDatabaseInput{
		CatalogId: aws.String(string(target)),
		Name:      aws.String(source.Name),
	})
	if err != nil {
		var missing *types.EntityNotFoundException
		if errors.As(err, &missing) {
			return false, nil
		}
		if isRoleAssumptionFailure(err) {
			return false, &domain.RoleAssumptionError{AccountID: target}
		}
		return false, fmt.Errorf("get resource link: %w", err)
	}
	return out.Database != nil && out.Database.TargetDatabase != nil, nil
}
