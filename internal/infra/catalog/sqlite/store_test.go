package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"datahub/pkg/domain"
)

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.CreateDataset(ctx, domain.Dataset{ID: "ds_1", Name: "One", OwnerAccountID: "111111111111"}); err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if err := s.PutStorage(ctx, domain.StorageResource{DatasetID: "ds_1", Stage: domain.StageProd, Region: "eu-west-1", BucketName: "b"}); err != nil {
		t.Fatalf("put storage: %v", err)
	}
	if err := s.PutAccount(ctx, domain.Account{ID: "222222222222", Name: "consumer"}); err != nil {
		t.Fatalf("put account: %v", err)
	}
	if _, err := s.UpdateDataset(ctx, "ds_1", func(d *domain.Dataset) error {
		d.Permissions = append(d.Permissions, domain.Permission{AccountID: "222222222222", Region: "eu-west-1", Stage: domain.StageProd, Mechanism: domain.SyncResourceLink})
		return nil
	}); err != nil {
		t.Fatalf("update dataset: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, err := reopened.GetDataset(ctx, "ds_1")
	if err != nil {
		t.Fatalf("hydrated dataset: %v", err)
	}
	if got.Version != 2 || len(got.Permissions) != 1 {
		t.Fatalf("hydrated snapshot = %+v", got)
	}
	key := domain.ResourceKey{DatasetID: "ds_1", Stage: domain.StageProd, Region: "eu-west-1"}
	if _, err := reopened.GetStorage(ctx, key); err != nil {
		t.Fatalf("hydrated storage: %v", err)
	}
	if _, err := reopened.GetAccount(ctx, "222222222222"); err != nil {
		t.Fatalf("hydrated account: %v", err)
	}
}

func TestDeletesArePersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sync := domain.CatalogSyncResource{DatasetID: "ds_1", Stage: domain.StageProd, Region: "eu-west-1", DatabaseName: "db", Mechanism: domain.SyncResourceLink}
	if err := s.PutCatalogSync(ctx, sync); err != nil {
		t.Fatalf("put sync: %v", err)
	}
	if err := s.DeleteCatalogSync(ctx, sync.Key()); err != nil {
		t.Fatalf("delete sync: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if _, err := reopened.GetCatalogSync(ctx, sync.Key()); !errors.As(err, new(*domain.NotFoundError)) {
		t.Fatalf("expected NotFoundError after reopen, got %v", err)
	}
}
