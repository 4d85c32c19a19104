// Package postgres implements the table store on a shared Postgres database
// with a simulation column, for deployments where the dashboard runs on
// another host than the poller. Semantics mirror the sqlite backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"bibitewatch/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion.
var _ domain.TableStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/bibitewatch?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const ddl = `
CREATE TABLE IF NOT EXISTS species (
	seq BIGSERIAL PRIMARY KEY,
	simulation TEXT NOT NULL,
	species_id BIGINT NOT NULL,
	parent_id BIGINT,
	first_seen DOUBLE PRECISION NOT NULL,
	generic_name TEXT,
	specific_name TEXT,
	attributes JSONB,
	UNIQUE (simulation, species_id)
);
CREATE TABLE IF NOT EXISTS population (
	seq BIGSERIAL PRIMARY KEY,
	simulation TEXT NOT NULL,
	tick DOUBLE PRECISION NOT NULL,
	species_id BIGINT NOT NULL,
	count INTEGER NOT NULL,
	UNIQUE (simulation, tick, species_id)
);
`

// Store shares one database across all simulations.
type Store struct {
	db *sql.DB
}

// NewStore opens the Postgres-backed store using the provided DSN (falls
// back to defaultDSN), verifies connectivity, and applies the DDL.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes the batch's novel rows inside one transaction; conflicting
// rows are skipped via ON CONFLICT DO NOTHING.
func (s *Store) Append(ctx context.Context, handle domain.SimulationHandle, batch domain.SnapshotBatch) (domain.AppendResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AppendResult{}, domain.StorageWriteError{Simulation: handle.Name, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var res domain.AppendResult
	for _, snap := range batch.Species {
		var parent sql.NullInt64
		if snap.ParentID != nil {
			parent = sql.NullInt64{Int64: int64(*snap.ParentID), Valid: true}
		}
		var attrs sql.NullString
		if len(snap.Attributes) > 0 {
			attrs = sql.NullString{String: string(snap.Attributes), Valid: true}
		}
		out, err := tx.ExecContext(ctx,
			`INSERT INTO species (simulation, species_id, parent_id, first_seen, generic_name, specific_name, attributes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (simulation, species_id) DO NOTHING`,
			handle.Name, int64(snap.SpeciesID), parent, float64(snap.FirstSeen), snap.GenericName, snap.SpecificName, attrs)
		if err != nil {
			return domain.AppendResult{}, domain.StorageWriteError{Simulation: handle.Name, Err: fmt.Errorf("insert species: %w", err)}
		}
		res.SpeciesAdded += affected(out)
	}
	for _, rec := range batch.Population {
		out, err := tx.ExecContext(ctx,
			`INSERT INTO population (simulation, tick, species_id, count)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (simulation, tick, species_id) DO NOTHING`,
			handle.Name, float64(rec.Tick), int64(rec.SpeciesID), rec.Count)
		if err != nil {
			return domain.AppendResult{}, domain.StorageWriteError{Simulation: handle.Name, Err: fmt.Errorf("insert population: %w", err)}
		}
		res.PopulationAdded += affected(out)
	}
	if err := tx.Commit(); err != nil {
		return domain.AppendResult{}, domain.StorageWriteError{Simulation: handle.Name, Err: fmt.Errorf("commit: %w", err)}
	}
	committed = true
	return res, nil
}

// Ticks returns the distinct stored ticks for the simulation in ascending order.
func (s *Store) Ticks(ctx context.Context, handle domain.SimulationHandle) ([]domain.Tick, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tick FROM population WHERE simulation = $1 ORDER BY tick`, handle.Name)
	if err != nil {
		return nil, fmt.Errorf("select ticks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var ticks []domain.Tick
	for rows.Next() {
		var tick float64
		if err := rows.Scan(&tick); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		ticks = append(ticks, domain.Tick(tick))
	}
	return ticks, rows.Err()
}

// SpeciesRows returns the simulation's species table in insertion order.
func (s *Store) SpeciesRows(ctx context.Context, handle domain.SimulationHandle) ([]domain.SpeciesSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT species_id, parent_id, first_seen, generic_name, specific_name, attributes
		 FROM species WHERE simulation = $1 ORDER BY seq`, handle.Name)
	if err != nil {
		return nil, fmt.Errorf("select species: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.SpeciesSnapshot
	for rows.Next() {
		var (
			id      int64
			parent  sql.NullInt64
			seen    float64
			generic sql.NullString
			spec    sql.NullString
			attrs   sql.NullString
		)
		if err := rows.Scan(&id, &parent, &seen, &generic, &spec, &attrs); err != nil {
			return nil, fmt.Errorf("scan species: %w", err)
		}
		snap := domain.SpeciesSnapshot{
			SpeciesID:    domain.SpeciesID(id),
			FirstSeen:    domain.Tick(seen),
			GenericName:  generic.String,
			SpecificName: spec.String,
		}
		if parent.Valid {
			p := domain.SpeciesID(parent.Int64)
			snap.ParentID = &p
		}
		if attrs.Valid {
			snap.Attributes = []byte(attrs.String)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PopulationRows returns the simulation's population table ordered by tick
// ascending, insertion-stable within a tick.
func (s *Store) PopulationRows(ctx context.Context, handle domain.SimulationHandle) ([]domain.PopulationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, species_id, count FROM population WHERE simulation = $1 ORDER BY tick, seq`, handle.Name)
	if err != nil {
		return nil, fmt.Errorf("select population: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.PopulationRecord
	for rows.Next() {
		var (
			tick  float64
			id    int64
			count int
		)
		if err := rows.Scan(&tick, &id, &count); err != nil {
			return nil, fmt.Errorf("scan population: %w", err)
		}
		out = append(out, domain.PopulationRecord{Tick: domain.Tick(tick), SpeciesID: domain.SpeciesID(id), Count: count})
	}
	return out, rows.Err()
}

// Close releases the shared database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func affected(res sql.Result) int {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// OverrideSQLOpen swaps the sql.Open function for tests and returns a
// restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
