// Package sqlite implements the table store on one SQLite database per
// simulation directory. Appends run inside a single transaction per batch so
// concurrent readers never observe a partially written archive, and UNIQUE
// constraints enforce the (tick, species) invariant at the schema level.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"bibitewatch/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion.
var _ domain.TableStore = (*Store)(nil)

const dbFilename = "simulation.db"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const ddl = `
CREATE TABLE IF NOT EXISTS species (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	species_id INTEGER NOT NULL UNIQUE,
	parent_id INTEGER,
	first_seen REAL NOT NULL,
	generic_name TEXT,
	specific_name TEXT,
	attributes TEXT
);
CREATE TABLE IF NOT EXISTS population (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	tick REAL NOT NULL,
	species_id INTEGER NOT NULL,
	count INTEGER NOT NULL,
	UNIQUE (tick, species_id)
);
`

// Store lazily opens one database per simulation directory and caches the
// handles for the process lifetime.
type Store struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewStore constructs the sqlite-backed table store.
func NewStore() *Store {
	return &Store{dbs: make(map[string]*sql.DB)}
}

func (s *Store) db(handle domain.SimulationHandle) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[handle.Dir]; ok {
		return db, nil
	}
	path := filepath.Join(handle.Dir, dbFilename)
	openMu.Lock()
	db, err := sqlOpen("sqlite", path)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables in %s: %w", path, err)
	}
	s.dbs[handle.Dir] = db
	return db, nil
}

// Append writes the batch's novel rows inside one transaction. Rows whose
// species identifier or (tick, species) pair is already present are ignored,
// so re-appending an already ingested archive changes nothing.
func (s *Store) Append(ctx context.Context, handle domain.SimulationHandle, batch domain.SnapshotBatch) (domain.AppendResult, error) {
	db, err := s.db(handle)
	if err != nil {
		return domain.AppendResult{}, domain.StorageWriteError{Simulation: handle.Name, Err: err}
	}
	tx, err := db.BeginTx(ctx, nil)
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
			`INSERT OR IGNORE INTO species (species_id, parent_id, first_seen, generic_name, specific_name, attributes)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			int64(snap.SpeciesID), parent, float64(snap.FirstSeen), snap.GenericName, snap.SpecificName, attrs)
		if err != nil {
			return domain.AppendResult{}, domain.StorageWriteError{Simulation: handle.Name, Err: fmt.Errorf("insert species: %w", err)}
		}
		res.SpeciesAdded += affected(out)
	}
	for _, rec := range batch.Population {
		out, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO population (tick, species_id, count) VALUES (?, ?, ?)`,
			float64(rec.Tick), int64(rec.SpeciesID), rec.Count)
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

// Ticks returns the distinct stored ticks in ascending order.
func (s *Store) Ticks(ctx context.Context, handle domain.SimulationHandle) ([]domain.Tick, error) {
	db, err := s.db(handle)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT tick FROM population ORDER BY tick`)
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

// SpeciesRows returns the species table in insertion order.
func (s *Store) SpeciesRows(ctx context.Context, handle domain.SimulationHandle) ([]domain.SpeciesSnapshot, error) {
	db, err := s.db(handle)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT species_id, parent_id, first_seen, generic_name, specific_name, attributes FROM species ORDER BY seq`)
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

// PopulationRows returns the population table ordered by tick ascending,
// insertion-stable within a tick.
func (s *Store) PopulationRows(ctx context.Context, handle domain.SimulationHandle) ([]domain.PopulationRecord, error) {
	db, err := s.db(handle)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT tick, species_id, count FROM population ORDER BY tick, seq`)
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

// Close closes every cached database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for dir, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", dir, err)
		}
		delete(s.dbs, dir)
	}
	return firstErr
}

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
