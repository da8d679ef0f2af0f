// Package sqlite provides a SQLite-backed catalog store. It reuses the
// in-memory implementation for semantics and snapshots the full state to a
// single table as JSON after every successful mutation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"datahub/internal/infra/catalog/memory"
	"datahub/pkg/domain"
)

var (
	_ domain.DatasetStore     = (*Store)(nil)
	_ domain.ResourceStore    = (*Store)(nil)
	_ domain.AccountDirectory = (*Store)(nil)
)

// Store persists the in-memory catalog state to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the catalog database at path and hydrates the
// in-memory state from any existing snapshot.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "datahub.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
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

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
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

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
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
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, b.name, data); err != nil {
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
	return out, s.persist()
}

func (s *Store) DeleteDataset(ctx context.Context, id domain.DatasetID) error {
	if err := s.Store.DeleteDataset(ctx, id); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) UpdateDataset(ctx context.Context, id domain.DatasetID, mutate func(*domain.Dataset) error) (domain.Dataset, error) {
	out, err := s.Store.UpdateDataset(ctx, id, mutate)
	if err != nil {
		return out, err
	}
	return out, s.persist()
}

func (s *Store) PutStorage(ctx context.Context, r domain.StorageResource) error {
	if err := s.Store.PutStorage(ctx, r); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) DeleteStorage(ctx context.Context, key domain.ResourceKey) error {
	if err := s.Store.DeleteStorage(ctx, key); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) PutCatalogSync(ctx context.Context, r domain.CatalogSyncResource) error {
	if err := s.Store.PutCatalogSync(ctx, r); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) DeleteCatalogSync(ctx context.Context, key domain.ResourceKey) error {
	if err := s.Store.DeleteCatalogSync(ctx, key); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) PutAccount(ctx context.Context, a domain.Account) error {
	if err := s.Store.PutAccount(ctx, a); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) DeleteAccount(ctx context.Context, id domain.AccountID) error {
	if err := s.Store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	return s.persist()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }
