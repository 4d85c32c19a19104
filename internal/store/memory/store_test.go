package memory

import (
	"context"
	"testing"

	"bibitewatch/pkg/domain"
)

func handle() domain.SimulationHandle {
	return domain.SimulationHandle{Name: "Zone-A", Dir: "unused"}
}

func batchAt(tick domain.Tick, counts map[domain.SpeciesID]int) domain.SnapshotBatch {
	batch := domain.SnapshotBatch{Simulation: "Zone-A", Tick: tick}
	for id, count := range counts {
		batch.Population = append(batch.Population, domain.PopulationRecord{Tick: tick, SpeciesID: id, Count: count})
	}
	return batch
}

func TestAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	batch := batchAt(50, map[domain.SpeciesID]int{1: 7, 2: 3})
	batch.Species = []domain.SpeciesSnapshot{{SpeciesID: 1, FirstSeen: 0}, {SpeciesID: 2, FirstSeen: 50}}

	first, err := s.Append(ctx, handle(), batch)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.SpeciesAdded != 2 || first.PopulationAdded != 2 {
		t.Fatalf("unexpected first append %+v", first)
	}
	second, err := s.Append(ctx, handle(), batch)
	if err != nil {
		t.Fatalf("re-append: %v", err)
	}
	if second.SpeciesAdded != 0 || second.PopulationAdded != 0 {
		t.Fatalf("re-append must be a no-op, got %+v", second)
	}
	rows, err := s.PopulationRows(ctx, handle())
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestTicksAreSortedAndDistinct(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, tick := range []domain.Tick{100, 0, 50} {
		if _, err := s.Append(ctx, handle(), batchAt(tick, map[domain.SpeciesID]int{1: 1, 2: 2})); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ticks, err := s.Ticks(ctx, handle())
	if err != nil {
		t.Fatalf("ticks: %v", err)
	}
	want := []domain.Tick{0, 50, 100}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v", ticks)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
}

func TestSimulationsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	other := domain.SimulationHandle{Name: "Zone-B"}
	if _, err := s.Append(ctx, handle(), batchAt(1, map[domain.SpeciesID]int{1: 1})); err != nil {
		t.Fatalf("append: %v", err)
	}
	rows, err := s.PopulationRows(ctx, other)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("Zone-B must be empty, got %+v", rows)
	}
}
