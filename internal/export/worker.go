// Package export materializes a simulation's species and population
// tables into downloadable artifacts. Jobs run asynchronously on a
// single worker goroutine so exports never stall the ingestion loop.
package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bibitewatch/internal/blob/core"
	"bibitewatch/pkg/domain"
)

// Status describes the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format selects an artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Artifact references one stored export file.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Job tracks an export request and its resulting artifacts.
type Job struct {
	ID          string     `json:"id"`
	Simulation  string     `json:"simulation"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Request asks for the tables of one simulation in the given formats.
// An empty Formats slice means both CSV and JSON.
type Request struct {
	Handle  domain.SimulationHandle
	Formats []Format
}

// AuditEntry records one export lifecycle transition.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Simulation string    `json:"simulation"`
	Status     Status    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger receives export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

type task struct {
	id     string
	handle domain.SimulationHandle
}

// Worker executes export jobs against the table store and writes the
// artifacts to the configured artifact store.
type Worker struct {
	tables    domain.TableStore
	artifacts core.Store
	audit     AuditLogger
	log       domain.Logger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs an export worker. audit may be nil.
func NewWorker(tables domain.TableStore, artifacts core.Store, audit AuditLogger, log domain.Logger) *Worker {
	if log == nil {
		log = domain.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		tables:    tables,
		artifacts: artifacts,
		audit:     audit,
		log:       log,
		queue:     make(chan task, 32),
		jobs:      make(map[string]*Job),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker and waits for the in-flight job, honoring ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules an export job and returns its queued snapshot.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Job, error) {
	if req.Handle.Name == "" {
		return Job{}, fmt.Errorf("simulation required")
	}
	formats := req.Formats
	if len(formats) == 0 {
		formats = []Format{FormatCSV, FormatJSON}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, f := range formats {
		if f != FormatCSV && f != FormatJSON {
			return Job{}, fmt.Errorf("unsupported export format %q", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}

	now := time.Now().UTC()
	job := Job{
		ID:         newID(),
		Simulation: req.Handle.Name,
		Formats:    uniq,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	w.mu.Lock()
	w.jobs[job.ID] = &job
	snapshot := job.copy()
	w.mu.Unlock()

	w.record(ctx, job.Simulation, StatusQueued, "")

	select {
	case w.queue <- task{id: job.ID, handle: req.Handle}:
	default:
		w.fail(job.ID, "export queue full")
		return Job{}, fmt.Errorf("export queue full")
	}
	return snapshot, nil
}

// Job returns a snapshot of the job with the given id.
func (w *Worker) Job(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

func (w *Worker) process(t task) {
	w.setStatus(t.id, StatusRunning)
	w.record(w.ctx, t.handle.Name, StatusRunning, "")

	species, err := w.tables.SpeciesRows(w.ctx, t.handle)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("load species table: %v", err))
		return
	}
	population, err := w.tables.PopulationRows(w.ctx, t.handle)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("load population table: %v", err))
		return
	}

	w.mu.RLock()
	formats := append([]Format(nil), w.jobs[t.id].Formats...)
	w.mu.RUnlock()

	var stored []Artifact
	for _, format := range formats {
		for _, table := range []string{"species", "population"} {
			payload, contentType, err := materialize(format, table, t.handle.Name, species, population)
			if err != nil {
				w.fail(t.id, err.Error())
				return
			}
			key := fmt.Sprintf("exports/%s/%s/%s.%s", t.handle.Name, t.id, table, format)
			info, err := w.artifacts.Put(w.ctx, key, bytes.NewReader(payload), core.PutOptions{
				ContentType: contentType,
				Metadata:    map[string]string{"simulation": t.handle.Name, "table": table},
			})
			if err != nil {
				w.fail(t.id, fmt.Sprintf("store artifact %s: %v", key, err))
				return
			}
			stored = append(stored, Artifact{
				Key:         info.Key,
				Format:      format,
				ContentType: contentType,
				SizeBytes:   info.Size,
				URL:         info.URL,
				CreatedAt:   info.LastModified,
			})
		}
	}
	w.complete(t.id, stored)
	w.record(w.ctx, t.handle.Name, StatusSucceeded, "")
	w.log.Info("export finished", "simulation", t.handle.Name, "job", t.id, "artifacts", len(stored))
}

func materialize(format Format, table, simulation string, species []domain.SpeciesSnapshot, population []domain.PopulationRecord) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		var payload any
		if table == "species" {
			payload = struct {
				Simulation string                   `json:"simulation"`
				Species    []domain.SpeciesSnapshot `json:"species"`
			}{simulation, species}
		} else {
			payload = struct {
				Simulation string                    `json:"simulation"`
				Population []domain.PopulationRecord `json:"population"`
			}{simulation, population}
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s json: %w", table, err)
		}
		return raw, "application/json", nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if table == "species" {
			if err := writeSpeciesCSV(writer, species); err != nil {
				return nil, "", err
			}
		} else {
			if err := writePopulationCSV(writer, population); err != nil {
				return nil, "", err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

func writeSpeciesCSV(w *csv.Writer, rows []domain.SpeciesSnapshot) error {
	if err := w.Write([]string{"species_id", "parent_id", "first_seen", "generic_name", "specific_name"}); err != nil {
		return err
	}
	for _, row := range rows {
		parent := ""
		if row.ParentID != nil {
			parent = strconv.FormatInt(int64(*row.ParentID), 10)
		}
		record := []string{
			strconv.FormatInt(int64(row.SpeciesID), 10),
			parent,
			strconv.FormatFloat(float64(row.FirstSeen), 'f', -1, 64),
			row.GenericName,
			row.SpecificName,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writePopulationCSV(w *csv.Writer, rows []domain.PopulationRecord) error {
	if err := w.Write([]string{"tick", "species_id", "count"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatFloat(float64(row.Tick), 'f', -1, 64),
			strconv.FormatInt(int64(row.SpeciesID), 10),
			strconv.Itoa(row.Count),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) setStatus(id string, status Status) {
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = status
		job.UpdatedAt = time.Now().UTC()
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = StatusSucceeded
		job.Error = ""
		job.Artifacts = artifacts
		job.UpdatedAt = now
		job.CompletedAt = &now
	}
	w.mu.Unlock()
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	var simulation string
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = StatusFailed
		job.Error = reason
		job.UpdatedAt = now
		job.CompletedAt = &now
		simulation = job.Simulation
	}
	w.mu.Unlock()
	w.record(w.ctx, simulation, StatusFailed, reason)
	w.log.Error("export failed", "simulation", simulation, "job", id, "error", reason)
}

func (w *Worker) record(ctx context.Context, simulation string, status Status, note string) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         newID(),
		Action:     "table_export",
		Simulation: simulation,
		Status:     status,
		Note:       note,
		OccurredAt: time.Now().UTC(),
	})
}

func (j *Job) copy() Job {
	dup := *j
	dup.Formats = append([]Format(nil), j.Formats...)
	if len(j.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), j.Artifacts...)
	}
	return dup
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}

// MemoryAuditLog captures audit entries for assertions in tests.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
