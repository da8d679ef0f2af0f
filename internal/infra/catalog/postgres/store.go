// Package postgres provides a Postgres-backed catalog store that mirrors the
// in-memory semantics and snapshots state as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"datahub/internal/infra/catalog/memory"
	"datahub/pkg/domain"
)

var (
	_ domain.DatasetStore     = (*Store)(nil)
	_ domain.ResourceStore    = (*Store)(nil)
	_ domain.AccountDirectory = (*Store)(nil)
)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/datahub?sslmode=disable"
)

// Store persists catalog state to Postgres while reusing the in-memory
// implementation for semantics.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the snapshot table exists and hydrates the
// in-memory state.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	bucketDatasets = "datasets"
	bucketStorage  = "storage_resources"
	bucketSyncs    = "catalog_sync_resources"
	bucketAccounts = "accounts"
)

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		found = true
		var decodeErr error
		switch bucket {
		case bucketDatasets:
			decodeErr = json.Unmarshal(payload, &snapshot.Datasets)
		case bucketStorage:
			decodeErr = json.Unmarshal(payload, &snapshot.Storage)
		case bucketSyncs:
			decodeErr = json.Unmarshal(payload, &snapshot.CatalogSyncs)
		case bucketAccounts:
			decodeErr = json.Unmarshal(payload, &snapshot.Accounts)
		}
		if decodeErr != nil {
			return fmt.Errorf("decode %s: %w", bucket, decodeErr)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	buckets := []struct {
		name  string
		value any
	}{
		{bucketDatasets, snapshot.Datasets},
		{bucketStorage, snapshot.Storage},
		{bucketSyncs, snapshot.CatalogSyncs},
		{bucketAccounts, snapshot.Accounts},
	}
	for _, b := range buckets {
		data, err := json.Marshal(b.value)
		if err != nil {
			retErr = fmt.Errorf("encode %s: %w", b.name, err)
			return retErr
		}
		if data == nil {
			data = []byte("null")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, b.name, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", b.name, err)
			return retErr
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Store) CreateDataset(ctx context.Context, d domain.Dataset) (domain.Dataset, error) {
	out, err := s.Store.CreateDataset(ctx, d)
	if err != nil {
		return out, err
	}
	return out, s.persist(ctx)
}

func (s *Store) DeleteDataset(ctx context.Context, id domain.DatasetID) error {
	if err := s.Store.DeleteDataset(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) UpdateDataset(ctx context.Context, id domain.DatasetID, mutate func(*domain.Dataset) error) (domain.Dataset, error) {
	out, err := s.Store.UpdateDataset(ctx, id, mutate)
	if err != nil {
		return out, err
	}
	return out, s.persist(ctx)
}

func (s *Store) PutStorage(ctx context.Context, r domain.StorageResource) error {
	if err := s.Store.PutStorage(ctx, r); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) DeleteStorage(ctx context.Context, key domain.ResourceKey) error {
	if err := s.Store.DeleteStorage(ctx, key); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) PutCatalogSync(ctx context.Context, r domain.CatalogSyncResource) error {
	if err := s.Store.PutCatalogSync(ctx, r); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) DeleteCatalogSync(ctx context.Context, key domain.ResourceKey) error {
	if err := s.Store.DeleteCatalogSync(ctx, key); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) PutAccount(ctx context.Context, a domain.Account) error {
	if err := s.Store.PutAccount(ctx, a); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) DeleteAccount(ctx context.Context, id domain.AccountID) error {
	if err := s.Store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }
