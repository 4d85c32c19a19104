package domain

import "context"

// TableStore is the minimal abstraction over durable table backends. One
// batch append is atomic: readers either see the whole batch or none of it,
// and the (tick, species) uniqueness invariant is enforced inside the store
// so re-appending an already ingested archive is a no-op.
type TableStore interface {
	// Append writes the novel rows of the batch to the simulation's tables
	// and returns how many species and population rows were actually added.
	Append(ctx context.Context, handle SimulationHandle, batch SnapshotBatch) (AppendResult, error)
	// Ticks returns the set of ticks already present in the population
	// table, used to rebuild the processed-archive state on startup.
	Ticks(ctx context.Context, handle SimulationHandle) ([]Tick, error)
	// SpeciesRows returns the species table in insertion order.
	SpeciesRows(ctx context.Context, handle SimulationHandle) ([]SpeciesSnapshot, error)
	// PopulationRows returns the population table ordered by tick ascending,
	// insertion-stable within a tick.
	PopulationRows(ctx context.Context, handle SimulationHandle) ([]PopulationRecord, error)
	// Close releases backend resources.
	Close() error
}

// AppendResult reports the effect of one batch append.
type AppendResult struct {
	SpeciesAdded    int
	PopulationAdded int
}

// Logger is the structured logging contract used across the pipeline.
// Arguments are alternating key/value pairs, slog-style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards all records. It is the default wherever no logger is
// injected, keeping log calls nil-safe.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

var _ Logger = NopLogger{}
