// Package poller watches the autosave folder and drives the ingestion
// pipeline: archive discovery, parsing, identity resolution, append and
// lineage observation. One Poller owns the processed-archive ledger and
// the per-simulation lineage builders.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bibitewatch/internal/archive"
	"bibitewatch/internal/lineage"
	"bibitewatch/internal/metrics"
	"bibitewatch/internal/registry"
	"bibitewatch/internal/snapshot"
	"bibitewatch/pkg/domain"
)

const (
	defaultInterval      = 600 * time.Second
	defaultWorkers       = 4
	defaultSkipThreshold = 3
)

// Config tunes the polling loop.
type Config struct {
	// AutosaveDir is the folder the game writes autosave zips into.
	AutosaveDir string
	// Interval between poll cycles. Defaults to ten minutes, matching the
	// game's own autosave cadence.
	Interval time.Duration
	// Workers bounds concurrent archive processing within one cycle.
	Workers int
	// SkipThreshold bounds retries of archives that fail the same way
	// every time (no simulation name, unusable species data, corrupt
	// container): after this many consecutive identical failures the
	// archive is abandoned for good. Transient failures never count
	// against it.
	SkipThreshold int
	// LedgerPath persists the processed-archive markers across restarts.
	// Empty keeps the ledger in memory only.
	LedgerPath string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.SkipThreshold <= 0 {
		c.SkipThreshold = defaultSkipThreshold
	}
	return c
}

type failureState struct {
	message string
	count   int
}

// simState serializes store appends and lineage updates per simulation.
type simState struct {
	mu      sync.Mutex
	handle  domain.SimulationHandle
	builder *lineage.Builder
	ticks   map[domain.Tick]struct{}
	loaded  bool
}

// Poller scans the autosave folder and ingests new archives.
type Poller struct {
	cfg      Config
	parser   *snapshot.Parser
	registry *registry.Registry
	tables   domain.TableStore
	metrics  *metrics.Ingest
	log      domain.Logger

	mu        sync.Mutex
	processed map[domain.ArchiveKey]struct{}
	failures  map[domain.ArchiveKey]*failureState
	sims      map[string]*simState
}

// New constructs a poller. metrics and log may be nil.
func New(cfg Config, parser *snapshot.Parser, reg *registry.Registry, tables domain.TableStore, m *metrics.Ingest, log domain.Logger) *Poller {
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = domain.NopLogger{}
	}
	p := &Poller{
		cfg:       cfg.withDefaults(),
		parser:    parser,
		registry:  reg,
		tables:    tables,
		metrics:   m,
		log:       log,
		processed: make(map[domain.ArchiveKey]struct{}),
		failures:  make(map[domain.ArchiveKey]*failureState),
		sims:      make(map[string]*simState),
	}
	p.loadLedger()
	return p
}

// loadLedger restores processed-archive markers from the ledger file so a
// restart neither re-ingests everything nor retries abandoned archives.
func (p *Poller) loadLedger() {
	if p.cfg.LedgerPath == "" {
		return
	}
	raw, err := os.ReadFile(p.cfg.LedgerPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.log.Warn("processed-archive ledger unreadable, starting empty", "path", p.cfg.LedgerPath, "error", err)
		}
		return
	}
	var keys []domain.ArchiveKey
	if err := json.Unmarshal(raw, &keys); err != nil {
		p.log.Warn("processed-archive ledger malformed, starting empty", "path", p.cfg.LedgerPath, "error", err)
		return
	}
	for _, key := range keys {
		p.processed[key] = struct{}{}
	}
}

// saveLedger writes the processed set with a temp-file+rename so a crash
// never leaves a truncated ledger. Callers hold p.mu.
func (p *Poller) saveLedger() {
	if p.cfg.LedgerPath == "" {
		return
	}
	keys := make([]domain.ArchiveKey, 0, len(p.processed))
	for key := range p.processed {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].ModTime.Before(keys[j].ModTime)
	})
	raw, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		p.log.Warn("encode processed-archive ledger", "error", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.cfg.LedgerPath), ".ledger-*")
	if err != nil {
		p.log.Warn("write processed-archive ledger", "error", err)
		return
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		p.log.Warn("write processed-archive ledger", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		p.log.Warn("write processed-archive ledger", "error", err)
		return
	}
	if err := os.Rename(tmp.Name(), p.cfg.LedgerPath); err != nil {
		_ = os.Remove(tmp.Name())
		p.log.Warn("write processed-archive ledger", "error", err)
	}
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := p.RunOnce(ctx); err != nil {
			p.log.Error("poll cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type candidate struct {
	path string
	key  domain.ArchiveKey
}

// RunOnce executes a single poll cycle. Archives already ingested or
// permanently skipped are filtered out before any are opened.
func (p *Poller) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		p.metrics.PollCycles.Inc()
		p.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	candidates, err := p.scan()
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	p.log.Debug("poll cycle found archives", "count", len(candidates))

	workers := p.cfg.Workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	queue := make(chan candidate)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range queue {
				if ctx.Err() != nil {
					continue
				}
				p.processArchive(ctx, cand)
			}
		}()
	}
	for _, cand := range candidates {
		queue <- cand
	}
	close(queue)
	wg.Wait()
	return ctx.Err()
}

// scan lists unprocessed autosave zips sorted oldest first.
func (p *Poller) scan() ([]candidate, error) {
	entries, err := os.ReadDir(p.cfg.AutosaveDir)
	if err != nil {
		return nil, fmt.Errorf("read autosave folder: %w", err)
	}

	var out []candidate
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		key := domain.ArchiveKey{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime().UTC()}
		if _, done := p.processed[key]; done {
			continue
		}
		out = append(out, candidate{path: filepath.Join(p.cfg.AutosaveDir, entry.Name()), key: key})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].key.ModTime.Equal(out[j].key.ModTime) {
			return out[i].key.ModTime.Before(out[j].key.ModTime)
		}
		return out[i].key.Name < out[j].key.Name
	})
	return out, nil
}

func (p *Poller) processArchive(ctx context.Context, cand candidate) {
	batch, err := p.parse(cand.path)
	if err != nil {
		p.handleFailure(cand, err)
		return
	}

	handle, err := p.registry.Resolve(batch.Simulation, batch.Fingerprint)
	if err != nil {
		p.handleFailure(cand, err)
		return
	}

	sim := p.simFor(handle)
	sim.mu.Lock()
	defer sim.mu.Unlock()

	if err := p.loadSim(ctx, sim); err != nil {
		p.handleFailure(cand, err)
		return
	}

	// An already-ingested tick still goes through Append: the store no-ops
	// duplicate (tick, species) pairs, and species definitions that only
	// showed up in a later save of the same tick back-fill for free.
	_, seen := sim.ticks[batch.Tick]

	result, err := p.tables.Append(ctx, handle, batch)
	if err != nil {
		p.handleFailure(cand, err)
		return
	}
	if _, err := sim.builder.Observe(batch.Species); err != nil {
		// Graph inconsistencies do not block ingestion; the rows are
		// already durable and the edge stays unresolved.
		p.log.Warn("lineage update rejected", "simulation", handle.Name, "error", err)
	}
	if len(batch.Population) > 0 {
		sim.ticks[batch.Tick] = struct{}{}
	}

	p.markProcessed(cand.key)
	if seen && result.SpeciesAdded == 0 && result.PopulationAdded == 0 {
		p.metrics.Archives.WithLabelValues(metrics.OutcomeSkipped).Inc()
		p.log.Debug("tick already ingested", "archive", cand.key.Name, "simulation", handle.Name, "tick", batch.Tick)
		return
	}
	p.metrics.Archives.WithLabelValues(metrics.OutcomeIngested).Inc()
	p.metrics.RowsAppended.WithLabelValues("species").Add(float64(result.SpeciesAdded))
	p.metrics.RowsAppended.WithLabelValues("population").Add(float64(result.PopulationAdded))
	p.log.Info("archive ingested",
		"archive", cand.key.Name,
		"simulation", handle.Name,
		"tick", batch.Tick,
		"species_added", result.SpeciesAdded,
		"population_added", result.PopulationAdded)
}

func (p *Poller) parse(path string) (domain.SnapshotBatch, error) {
	a, err := archive.Open(path)
	if err != nil {
		return domain.SnapshotBatch{}, err
	}
	defer func() { _ = a.Close() }()

	result, err := p.parser.Parse(a)
	if err != nil {
		return domain.SnapshotBatch{}, err
	}
	if result.SpeciesErr != nil {
		p.log.Warn("species definitions unreadable", "archive", path, "error", result.SpeciesErr)
	}
	if result.SceneErr != nil {
		p.log.Warn("tick index unreadable, population dropped", "archive", path, "error", result.SceneErr)
	}
	return result.Batch, nil
}

// loadSim primes a simulation's tick set and lineage graph from storage,
// so a restarted process does not depend on reprocessing old archives.
func (p *Poller) loadSim(ctx context.Context, sim *simState) error {
	if sim.loaded {
		return nil
	}
	ticks, err := p.tables.Ticks(ctx, sim.handle)
	if err != nil {
		return fmt.Errorf("load ingested ticks for %s: %w", sim.handle.Name, err)
	}
	sim.ticks = make(map[domain.Tick]struct{}, len(ticks))
	for _, tick := range ticks {
		sim.ticks[tick] = struct{}{}
	}
	species, err := p.tables.SpeciesRows(ctx, sim.handle)
	if err != nil {
		return fmt.Errorf("load species rows for %s: %w", sim.handle.Name, err)
	}
	if _, err := sim.builder.Observe(species); err != nil {
		p.log.Warn("lineage reconstruction incomplete", "simulation", sim.handle.Name, "error", err)
	}
	sim.loaded = true
	return nil
}

func (p *Poller) simFor(handle domain.SimulationHandle) *simState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sim, ok := p.sims[handle.Name]; ok {
		return sim
	}
	sim := &simState{handle: handle, builder: lineage.NewBuilder(handle.Name)}
	p.sims[handle.Name] = sim
	return sim
}

// Lineage exposes the resolved and pending edges for one simulation.
func (p *Poller) Lineage(simulation string) []domain.LineageEdge {
	p.mu.Lock()
	sim, ok := p.sims[simulation]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.builder.Edges()
}

func (p *Poller) markProcessed(key domain.ArchiveKey) {
	p.mu.Lock()
	p.processed[key] = struct{}{}
	delete(p.failures, key)
	p.saveLedger()
	p.mu.Unlock()
}

// permanentFailure reports whether err is deterministic for an unchanged
// archive. The processed-archive key is filename+size+mtime, so these
// failures repeat identically until the file itself changes; everything
// else (incomplete write, storage outage) can clear up on its own.
func permanentFailure(err error) bool {
	var missingName domain.MissingSimulationNameError
	var malformed domain.MalformedSpeciesDataError
	return errors.As(err, &missingName) ||
		errors.As(err, &malformed) ||
		errors.Is(err, domain.ErrCorruptArchive)
}

// handleFailure classifies an archive error. Transient conditions are
// retried on every later cycle without bound; deterministic parse failures
// and corrupt containers are retried until the same error repeats
// SkipThreshold times in a row, then abandoned.
func (p *Poller) handleFailure(cand candidate, err error) {
	if !permanentFailure(err) {
		p.metrics.Archives.WithLabelValues(metrics.OutcomeRetried).Inc()
		if errors.Is(err, domain.ErrArchiveIncomplete) {
			p.log.Debug("archive still being written, will retry", "archive", cand.key.Name)
			return
		}
		p.log.Warn("archive failed, will retry", "archive", cand.key.Name, "error", err)
		return
	}

	p.mu.Lock()
	state, ok := p.failures[cand.key]
	if !ok || state.message != err.Error() {
		state = &failureState{message: err.Error()}
		p.failures[cand.key] = state
	}
	state.count++
	abandoned := state.count >= p.cfg.SkipThreshold
	if abandoned {
		p.processed[cand.key] = struct{}{}
		delete(p.failures, cand.key)
		p.saveLedger()
	}
	p.mu.Unlock()

	if abandoned {
		p.metrics.Archives.WithLabelValues(metrics.OutcomeFailed).Inc()
		p.log.Error("archive abandoned after repeated failures",
			"archive", cand.key.Name, "attempts", state.count, "error", err)
		return
	}
	p.metrics.Archives.WithLabelValues(metrics.OutcomeRetried).Inc()
	p.log.Warn("archive failed, will retry", "archive", cand.key.Name, "attempt", state.count, "error", err)
}
