package postgres

import (
	"context"
	"os"
	"testing"

	"datahub/pkg/domain"
)

// Integration test, gated on a reachable database. Point
// DATAHUB_POSTGRES_TEST_DSN at a scratch database to run it.
func TestStatePersistsAcrossReopen(t *testing.T) {
	dsn := os.Getenv("DATAHUB_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("DATAHUB_POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()

	s, err := NewStore(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `DELETE FROM state`); err != nil {
		t.Fatalf("reset state: %v", err)
	}
	if _, err := s.CreateDataset(ctx, domain.Dataset{ID: "ds_pg", Name: "PG", OwnerAccountID: "111111111111"}); err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if err := s.PutAccount(ctx, domain.Account{ID: "222222222222", Name: "consumer"}); err != nil {
		t.Fatalf("put account: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if _, err := reopened.GetDataset(ctx, "ds_pg"); err != nil {
		t.Fatalf("hydrated dataset: %v", err)
	}
	if _, err := reopened.GetAccount(ctx, "222222222222"); err != nil {
		t.Fatalf("hydrated account: %v", err)
	}
}
