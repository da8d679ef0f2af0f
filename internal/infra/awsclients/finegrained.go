package awsclients

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation"
	"github.com/aws/aws-sdk-go-v2/service/lakeformation/types"

	"datahub/pkg/domain"
)

var _ domain.FineGrainedClient = (*FineGrained)(nil)

// FineGrained implements the fine-grained permissions client against Lake
// Formation in the resource account.
type FineGrained struct {
	client *lakeformation.Client
}

func NewFineGrained(cfg aws.Config) *FineGrained {
	return &FineGrained{client: lakeformation.NewFromConfig(cfg)}
}

var (
	readPermissions  = []types.Permission{types.PermissionDescribe}
	writePermissions = []types.Permission{
		types.PermissionCreateTable,
		types.PermissionAlter,
		types.PermissionDrop,
		types.PermissionDescribe,
	}
)

func (f *FineGrained) GrantRead(ctx context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	return f.grant(ctx, principal, db, readPermissions, true)
}

func (f *FineGrained) RevokeRead(ctx context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	return f.revoke(ctx, principal, db, readPermissions, true)
}

func (f *FineGrained) GrantWrite(ctx context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	return f.grant(ctx, principal, db, writePermissions, false)
}

func (f *FineGrained) RevokeWrite(ctx context.Context, principal domain.AccountID, db domain.DatabaseRef) error {
	return f.revoke(ctx, principal, db, writePermissions, false)
}

// grant gives the principal account database-level permissions. grantable
// lets the consumer re-grant to roles inside its own account, which read
// access needs and write access deliberately does not.
func (f *FineGrained) grant(ctx context.Context, principal domain.AccountID, db domain.DatabaseRef, permissions []types.Permission, grantable bool) error {
	input := &lakeformation.GrantPermissionsInput{
		Principal:   &types.DataLakePrincipal{DataLakePrincipalIdentifier: aws.String(string(principal))},
		Resource:    databaseResource(db),
		Permissions: permissions,
	}
	if grantable {
		input.PermissionsWithGrantOption = permissions
	}
	if _, err := f.client.GrantPermissions(ctx, input); err != nil {
		return fmt.Errorf("grant permissions on %s: %w", db.Name, err)
	}
	return nil
}

func (f *FineGrained) revoke(ctx context.Context, principal domain.AccountID, db domain.DatabaseRef, permissions []types.Permission, grantable bool) error {
	input := &lakeformation.RevokePermissionsInput{
		Principal:   &types.DataLakePrincipal{DataLakePrincipalIdentifier: aws.String(string(principal))},
		Resource:    databaseResource(db),
		Permissions: permissions,
	}
	if grantable {
		input.PermissionsWithGrantOption = permissions
	}
	if _, err := f.client.RevokePermissions(ctx, input); err != nil {
		var concurrent *types.ConcurrentModificationException
		if errors.As(err, &concurrent) {
			return &domain.DependentAssociationsDetachingError{DatabaseName: db.Name}
		}
		var missing *types.EntityNotFoundException
		if errors.As(err, &missing) {
			return nil
		}
		return fmt.Errorf("revoke permissions on %s: %w", db.Name, err)
	}
	return nil
}

func databaseResource(db domain.DatabaseRef) *types.Resource {
	return &types.Resource{
		Database: &types.DatabaseResource{
			CatalogId: aws.String(string(db.AccountID)),
			Name:      aws.String(db.Name),
		},
	}
}
