// Package memory implements the table store contract with in-process maps.
// It is the reference implementation the durable backends mirror and the
// default in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"bibitewatch/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.TableStore = (*Store)(nil)

// Store holds per-simulation tables keyed by simulation name.
type Store struct {
	mu   sync.RWMutex
	sims map[string]*tables
}

type tables struct {
	species     []domain.SpeciesSnapshot
	speciesSeen map[domain.SpeciesID]struct{}
	population  []domain.PopulationRecord
	pairs       map[domain.TickSpecies]struct{}
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{sims: make(map[string]*tables)}
}

func (s *Store) tablesFor(handle domain.SimulationHandle) *tables {
	if t, ok := s.sims[handle.Name]; ok {
		return t
	}
	t := &tables{
		speciesSeen: make(map[domain.SpeciesID]struct{}),
		pairs:       make(map[domain.TickSpecies]struct{}),
	}
	s.sims[handle.Name] = t
	return t
}

// Append filters the batch down to novel rows and appends them. Duplicate
// species identifiers and already-present (tick, species) pairs are dropped,
// making re-ingestion of the same archive a no-op.
func (s *Store) Append(_ context.Context, handle domain.SimulationHandle, batch domain.SnapshotBatch) (domain.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tablesFor(handle)
	var res domain.AppendResult
	for _, snap := range batch.Species {
		if _, seen := t.speciesSeen[snap.SpeciesID]; seen {
			continue
		}
		t.speciesSeen[snap.SpeciesID] = struct{}{}
		t.species = append(t.species, snap)
		res.SpeciesAdded++
	}
	for _, rec := range batch.Population {
		key := domain.TickSpecies{Tick: rec.Tick, SpeciesID: rec.SpeciesID}
		if _, seen := t.pairs[key]; seen {
			continue
		}
		t.pairs[key] = struct{}{}
		t.population = append(t.population, rec)
		res.PopulationAdded++
	}
	return res, nil
}

// Ticks returns the distinct stored ticks in ascending order.
func (s *Store) Ticks(_ context.Context, handle domain.SimulationHandle) ([]domain.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.sims[handle.Name]
	if !ok {
		return nil, nil
	}
	seen := make(map[domain.Tick]struct{})
	var ticks []domain.Tick
	for _, rec := range t.population {
		if _, dup := seen[rec.Tick]; dup {
			continue
		}
		seen[rec.Tick] = struct{}{}
		ticks = append(ticks, rec.Tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks, nil
}

// SpeciesRows returns the species table in first-seen insertion order.
func (s *Store) SpeciesRows(_ context.Context, handle domain.SimulationHandle) ([]domain.SpeciesSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.sims[handle.Name]
	if !ok {
		return nil, nil
	}
	out := make([]domain.SpeciesSnapshot, len(t.species))
	copy(out, t.species)
	return out, nil
}

// PopulationRows returns the population table ordered by tick ascending,
// insertion-stable within a tick.
func (s *Store) PopulationRows(_ context.Context, handle domain.SimulationHandle) ([]domain.PopulationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.sims[handle.Name]
	if !ok {
		return nil, nil
	}
	out := make([]domain.PopulationRecord, len(t.population))
	copy(out, t.population)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }
