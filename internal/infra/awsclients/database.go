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

var _ domain.DatabaseClient = (*Databases)(nil)

// Databases implements the database client against the Glue data catalog.
// Operations on foreign accounts go through the per-account client factory;
// everything else uses the resource account's own client.
type Databases struct {
	client  *glue.Client
	factory GlueClientFactory
	// homeAccount is the account the default client operates in.
	homeAccount domain.AccountID
}

func NewDatabases(cfg aws.Config, homeAccount domain.AccountID, factory GlueClientFactory) *Databases {
	return &Databases{client: glue.NewFromConfig(cfg), factory: factory, homeAccount: homeAccount}
}

func (d *Databases) clientFor(ctx context.Context, account domain.AccountID, region domain.Region) (*glue.Client, error) {
	if account == d.homeAccount || d.factory == nil {
		return d.client, nil
	}
	client, err := d.factory(ctx, account, region)
	if err != nil {
		return nil, &domain.RoleAssumptionError{AccountID: account}
	}
	return client, nil
}

func (d *Databases) CreateDatabase(ctx context.Context, db domain.DatabaseRef, stripDefaultGrants bool) error {
	client, err := d.clientFor(ctx, db.AccountID, db.Region)
	if err != nil {
		return err
	}
	input := &glue.CreateDatabaseInput{
		CatalogId: aws.String(string(db.AccountID)),
		DatabaseInput: &types.DatabaseInput{
			Name: aws.String(db.Name),
		},
	}
	if stripDefaultGrants {
		// An empty slice (not nil) removes the implicit IAM_ALLOWED_PRINCIPALS
		// table grants, required for fine-grained governance.
		input.DatabaseInput.CreateTableDefaultPermissions = []types.PrincipalPermissions{}
	}
	if _, err := client.CreateDatabase(ctx, input); err != nil {
		var exists *types.AlreadyExistsException
		if errors.As(err, &exists) {
			return &domain.ConflictingDatabaseError{DatabaseName: db.Name, AccountID: db.AccountID}
		}
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func (d *Databases) DeleteDatabaseIfPresent(ctx context.Context, db domain.DatabaseRef) error {
	client, err := d.clientFor(ctx, db.AccountID, db.Region)
	if err != nil {
		return err
	}
	if _, err := client.DeleteDatabase(ctx, &glue.DeleteDatabaseInput{
		CatalogId: aws.String(string(db.AccountID)),
		Name:      aws.String(db.Name),
	}); err != nil {
		var missing *types.EntityNotFoundException
		if errors.As(err, &missing) {
			return nil
		}
		return fmt.Errorf("delete database: %w", err)
	}
	return nil
}

func (d *Databases) DatabaseExists(ctx context.Context, db domain.DatabaseRef) (bool, error) {
	client, err := d.clientFor(ctx, db.AccountID, db.Region)
	if err != nil {
		return false, err
	}
	if _, err := client.GetDatabase(ctx, &glue.GetDatabaseInput{
		CatalogId: aws.String(string(db.AccountID)),
		Name:      aws.String(db.Name),
	}); err != nil {
		var missing *types.EntityNotFoundException
		if errors.As(err, &missing) {
			return false, nil
		}
		if isRoleAssumptionFailure(err) {
			return false, &domain.RoleAssumptionError{AccountID: db.AccountID}
		}
		return false, fmt.Errorf("get database: %w", err)
	}
	return true, nil
}
