// Package config reads the deployment configuration from the environment and
// opens the configured backends.
package config

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"

	catalogmemory "datahub/internal/infra/catalog/memory"
	"datahub/internal/infra/catalog/postgres"
	"datahub/internal/infra/catalog/sqlite"
	lockdynamodb "datahub/internal/infra/locks/dynamodb"
	lockmemory "datahub/internal/infra/locks/memory"
	"datahub/pkg/domain"
)

// CatalogDriver identifies a concrete catalog store implementation.
type CatalogDriver string

const (
	CatalogMemory   CatalogDriver = "memory"   // in-memory only (tests / ephemeral)
	CatalogSQLite   CatalogDriver = "sqlite"   // embedded sqlite file
	CatalogPostgres CatalogDriver = "postgres" // PostgreSQL server
)

// LocksDriver identifies a concrete lock store implementation.
type LocksDriver string

const (
	LocksMemory   LocksDriver = "memory"   // single-process only
	LocksDynamoDB LocksDriver = "dynamodb" // shared table with conditional writes
)

// Config carries every environment-driven setting.
//
//	DATAHUB_CATALOG_DRIVER:   memory|sqlite|postgres (default sqlite)
//	DATAHUB_SQLITE_PATH:      path to sqlite file (default ./datahub.db)
//	DATAHUB_POSTGRES_DSN:     postgres DSN when driver=postgres
//	DATAHUB_LOCKS_DRIVER:     memory|dynamodb (default memory)
//	DATAHUB_LOCKS_TABLE:      dynamodb table name when driver=dynamodb
//	DATAHUB_REGION:           provider region of the control plane
//	DATAHUB_NAME_PREFIX:      prefix for derived bucket and database names
//	DATAHUB_ACCOUNT_ID:       resource account the control plane operates in
//	DATAHUB_METADATA_ROLE:    role name assumed in consumer accounts
//	DATAHUB_ACCESS_LOG_BUCKET: target bucket for access logs (empty disables)
//	DATAHUB_TOPIC_ARN:        notification topic (empty disables publishing)
//	DATAHUB_METRICS_ADDR:     listen address of the metrics endpoint
type Config struct {
	CatalogDriver   CatalogDriver
	SQLitePath      string
	PostgresDSN     string
	LocksDriver     LocksDriver
	LocksTable      string
	Region          string
	NamePrefix      string
	AccountID       domain.AccountID
	MetadataRole    string
	AccessLogBucket string
	TopicARN        string
	MetricsAddr     string
}

// FromEnv reads the configuration, applying defaults for everything
// optional.
func FromEnv() (Config, error) {
	cfg := Config{
		CatalogDriver:   CatalogDriver(envOr("DATAHUB_CATALOG_DRIVER", string(CatalogSQLite))),
		SQLitePath:      os.Getenv("DATAHUB_SQLITE_PATH"),
		PostgresDSN:     os.Getenv("DATAHUB_POSTGRES_DSN"),
		LocksDriver:     LocksDriver(envOr("DATAHUB_LOCKS_DRIVER", string(LocksMemory))),
		LocksTable:      os.Getenv("DATAHUB_LOCKS_TABLE"),
		Region:          envOr("DATAHUB_REGION", "eu-west-1"),
		NamePrefix:      envOr("DATAHUB_NAME_PREFIX", "dh-"),
		AccountID:       domain.AccountID(os.Getenv("DATAHUB_ACCOUNT_ID")),
		MetadataRole:    envOr("DATAHUB_METADATA_ROLE", "datahub-metadata-role"),
		AccessLogBucket: os.Getenv("DATAHUB_ACCESS_LOG_BUCKET"),
		TopicARN:        os.Getenv("DATAHUB_TOPIC_ARN"),
		MetricsAddr:     envOr("DATAHUB_METRICS_ADDR", ":9607"),
	}
	switch cfg.CatalogDriver {
	case CatalogMemory, CatalogSQLite, CatalogPostgres:
	default:
		return Config{}, fmt.Errorf("unknown catalog driver %s", cfg.CatalogDriver)
	}
	switch cfg.LocksDriver {
	case LocksMemory:
	case LocksDynamoDB:
		if cfg.LocksTable == "" {
			return Config{}, fmt.Errorf("DATAHUB_LOCKS_TABLE is required with the dynamodb locks driver")
		}
	default:
		return Config{}, fmt.Errorf("unknown locks driver %s", cfg.LocksDriver)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// CatalogStore is the full surface the catalog backends provide.
type CatalogStore interface {
	domain.DatasetStore
	domain.ResourceStore
	domain.AccountDirectory
}

// OpenCatalogStore opens the configured catalog backend.
func (c Config) OpenCatalogStore() (CatalogStore, io.Closer, error) {
	switch c.CatalogDriver {
	case CatalogMemory:
		return catalogmemory.NewStore(), nopCloser{}, nil
	case CatalogSQLite:
		s, err := sqlite.NewStore(c.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case CatalogPostgres:
		s, err := postgres.NewStore(c.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown catalog driver %s", c.CatalogDriver)
	}
}

// OpenLockStore opens the configured lock backend.
func (c Config) OpenLockStore(_ context.Context, awsCfg aws.Config) (domain.LockStore, error) {
	switch c.LocksDriver {
	case LocksMemory:
		return lockmemory.NewStore(), nil
	case LocksDynamoDB:
		return lockdynamodb.NewStore(awsCfg, c.LocksTable), nil
	default:
		return nil, fmt.Errorf("unknown locks driver %s", c.LocksDriver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
