package awsclients

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ram"
	"github.com/aws/aws-sdk-go-v2/service/ram/types"

	"datahub/pkg/domain"
)

var _ domain.ResourceShareClient = (*Shares)(nil)

// glueWritePermissionARN is the managed share permission granting read and
// write on a shared Glue database.
const glueWritePermissionARN = "arn:aws:ram::aws:permission/AWSRAMPermissionGlueDatabaseReadWrite"

// Shares implements the resource share client against RAM.
type Shares struct {
	client *ram.Client
}

func NewShares(cfg aws.Config) *Shares {
	return &Shares{client: ram.NewFromConfig(cfg)}
}

func shareName(db domain.DatabaseRef) string {
	return "datahub-" + db.Name
}

func databaseARN(db domain.DatabaseRef) string {
	return fmt.Sprintf("arn:aws:glue:%s:%s:database/%s", db.Region, db.AccountID, db.Name)
}

func (s *Shares) CreateShareWithWriteAccess(ctx context.Context, db domain.DatabaseRef, target domain.AccountID) error {
	if _, err := s.client.CreateResourceShare(ctx, &ram.CreateResourceShareInput{
		Name:                    aws.String(shareName(db)),
		ResourceArns:            []string{databaseARN(db)},
		Principals:              []string{string(target)},
		PermissionArns:          []string{glueWritePermissionARN},
		AllowExternalPrincipals: aws.Bool(true),
	}); err != nil {
		return fmt.Errorf("create resource share: %w", err)
	}
	return nil
}

func (s *Shares) RevokeShareIfPresent(ctx context.Context, db domain.DatabaseRef) error {
	out, err := s.client.GetResourceShares(ctx, &ram.GetResourceSharesInput{
		ResourceOwner: types.ResourceOwnerSelf,
		Name:          aws.String(shareName(db)),
	})
	if err != nil {
		return fmt.Errorf("look up resource share: %w", err)
	}
	for _, share := range out.ResourceShares {
		if share.Status == types.ResourceShareStatusDeleted || share.Status == types.ResourceShareStatusDeleting {
			continue
		}
		if _, err := s.client.DeleteResourceShare(ctx, &ram.DeleteResourceShareInput{
			ResourceShareArn: share.ResourceShareArn,
		}); err != nil {
			switch errorCode(err) {
			case "InvalidStateTransitionException", "OperationNotPermittedException":
				return &domain.DependentAssociationsDetachingError{DatabaseName: db.Name}
			}
			return fmt.Errorf("delete resource share: %w", err)
		}
	}
	return nil
}
