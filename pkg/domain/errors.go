package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying archive-level failures. Callers match with
// errors.Is; wrapped context (path, entry name) rides on top via fmt.Errorf.
var (
	// ErrCorruptArchive marks an autosave that cannot be opened as a valid
	// zip container at all.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrArchiveIncomplete marks an autosave that is still being written by
	// the game (short read / unexpected EOF). Retryable on a later poll.
	ErrArchiveIncomplete = errors.New("archive incomplete")
)

// MissingSimulationNameError reports a settings entry with no usable zone
// name. The archive cannot be attributed to a simulation and is skipped
// after bounded retries.
type MissingSimulationNameError struct {
	Archive string
}

func (e MissingSimulationNameError) Error() string {
	return fmt.Sprintf("no simulation name in settings of %s", e.Archive)
}

// MalformedSpeciesDataError reports an unparseable species-definition entry.
// Only the species artifact is dropped; population rows from the same
// archive are still ingested.
type MalformedSpeciesDataError struct {
	Archive string
	Reason  string
}

func (e MalformedSpeciesDataError) Error() string {
	return fmt.Sprintf("malformed species data in %s: %s", e.Archive, e.Reason)
}

// StorageWriteError reports a failed table append. Scoped to one simulation
// and retryable; other simulations' ingestion proceeds unaffected.
type StorageWriteError struct {
	Simulation string
	Err        error
}

func (e StorageWriteError) Error() string {
	return fmt.Sprintf("storage write for %s: %v", e.Simulation, e.Err)
}

func (e StorageWriteError) Unwrap() error { return e.Err }

// CycleError reports a lineage cycle, which can only arise from corrupted
// input. Fatal for that simulation's lineage graph; ingestion of table data
// continues.
type CycleError struct {
	Simulation string
	Species    SpeciesID
}

func (e CycleError) Error() string {
	return fmt.Sprintf("lineage cycle detected in %s at species %d", e.Simulation, e.Species)
}
