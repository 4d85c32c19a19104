// Package domain defines the core entities, error taxonomy, and persistence
// contracts shared by the bibitewatch ingestion pipeline.
package domain

import (
	"encoding/json"
	"time"
)

// SpeciesID identifies a recorded species within one simulation.
type SpeciesID int64

// Tick is the simulation's time axis. The game records fractional simulated
// seconds, so the raw value is kept as-is for ordering and equality.
type Tick float64

// Simulation describes one registered simulation run. Identity is the name of
// the first zone declared in the autosave settings entry.
type Simulation struct {
	Name        string    `json:"name"`
	Dir         string    `json:"dir"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SimulationHandle is the registry-issued reference used to address a
// simulation's tables. Handles with equal names always address the same
// storage location.
type SimulationHandle struct {
	Name string
	Dir  string
}

// SpeciesSnapshot is one row of the species table: the recorded genetic state
// of a species at the tick it was first observed. Rows are append-only and
// never edited.
type SpeciesSnapshot struct {
	SpeciesID    SpeciesID  `json:"speciesID"`
	ParentID     *SpeciesID `json:"parentID,omitempty"`
	FirstSeen    Tick       `json:"first_seen"`
	GenericName  string     `json:"genericName,omitempty"`
	SpecificName string     `json:"specificName,omitempty"`
	// Attributes carries the remaining gene/attribute fields of the recorded
	// species verbatim, so downstream plotting keeps every column the game
	// emits without the store naming each one.
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// PopulationRecord is one row of the population table. The
// (simulation, tick, species) triple is unique; duplicates are dropped on
// append, never stored twice.
type PopulationRecord struct {
	Tick      Tick      `json:"update_time"`
	SpeciesID SpeciesID `json:"speciesID"`
	Count     int       `json:"count"`
}

// LineageEdge relates a child species to its genetic parent, anchored at the
// tick the child was first observed. Edges are derived from species snapshots
// and immutable once resolved.
type LineageEdge struct {
	Parent   SpeciesID `json:"parent"`
	Child    SpeciesID `json:"child"`
	Anchor   Tick      `json:"anchor"`
	Resolved bool      `json:"resolved"`
}

// SnapshotBatch is the decoded content of one autosave archive: the
// independently parsed artifacts the store appends in a single transaction.
// Species and Population may each be empty when the corresponding archive
// entry was missing or malformed; partial batches are valid.
type SnapshotBatch struct {
	Simulation  string
	Fingerprint string
	Tick        Tick
	Species     []SpeciesSnapshot
	Population  []PopulationRecord
}

// ArchiveKey identifies a source archive for processed-set tracking.
// Filename alone is not enough: the game rewrites autosaves in place, so size
// and modification time participate in the key.
type ArchiveKey struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// TickSpecies is a (tick, species) pair, the store's uniqueness key.
type TickSpecies struct {
	Tick      Tick
	SpeciesID SpeciesID
}
