// Package store selects and constructs the table backend holding each
// simulation's species and population tables. The sqlite backend is the
// default; memory serves tests and postgres serves shared deployments. All
// backends enforce the same contract: batch appends are atomic and the
// (tick, species) pair is unique per simulation.
package store

import (
	"context"
	"fmt"

	"bibitewatch/internal/store/memory"
	"bibitewatch/internal/store/postgres"
	"bibitewatch/internal/store/sqlite"
	"bibitewatch/pkg/domain"
)

// Driver identifies a concrete table store backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"   // one database file per simulation (default)
	DriverPostgres Driver = "postgres" // shared database, simulation column
	DriverMemory   Driver = "memory"   // in-memory (tests)
)

// Config holds backend selection parameters.
type Config struct {
	Driver Driver
	// PostgresDSN is consulted only when Driver is postgres; empty falls
	// back to the backend default.
	PostgresDSN string
}

// Open constructs the configured table store.
func Open(ctx context.Context, cfg Config) (domain.TableStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverSQLite:
		return sqlite.NewStore(), nil
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case DriverMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %s", driver)
	}
}
