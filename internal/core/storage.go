package core

import (
	"context"
	"fmt"

	"usqutils/internal/infra/persistence/memory"
	"usqutils/internal/infra/persistence/postgres"
	"usqutils/internal/infra/persistence/sqlite"
	"usqutils/pkg/domain"
)

// StorageDriver identifies a change log persistence backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the change log backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenChangeLogStore builds the backend described by cfg.
func OpenChangeLogStore(ctx context.Context, cfg StorageConfig) (domain.ChangeLogStore, error) {
	switch cfg.Driver {
	case StorageMemory, "":
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, wrapStorageErr(cfg.Driver, err)
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, wrapStorageErr(cfg.Driver, err)
		}
		return store, nil
	default:
		return nil, domain.ConfigurationError{
			Parameter: "changelog driver",
			Value:     string(cfg.Driver),
			Valid:     []string{string(StorageMemory), string(StorageSQLite), string(StoragePostgres)},
		}
	}
}

func wrapStorageErr(driver StorageDriver, err error) error {
	return fmt.Errorf("open %s change log store: %w", driver, err)
}
