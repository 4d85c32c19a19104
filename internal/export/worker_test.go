package export

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	blobmemory "bibitewatch/internal/blob/memory"
	storememory "bibitewatch/internal/store/memory"
	"bibitewatch/pkg/domain"
)

func seedTables(t *testing.T) (*storememory.Store, domain.SimulationHandle) {
	t.Helper()
	tables := storememory.NewStore()
	handle := domain.SimulationHandle{Name: "Zone-A", Dir: t.TempDir()}
	parent := domain.SpeciesID(1)
	batch := domain.SnapshotBatch{
		Simulation: "Zone-A",
		Tick:       50,
		Species: []domain.SpeciesSnapshot{
			{SpeciesID: 1, FirstSeen: 0, GenericName: "Root", SpecificName: "alpha"},
			{SpeciesID: 2, FirstSeen: 50, ParentID: &parent, GenericName: "Branch", SpecificName: "beta"},
		},
		Population: []domain.PopulationRecord{
			{Tick: 50, SpeciesID: 1, Count: 7},
			{Tick: 50, SpeciesID: 2, Count: 3},
		},
	}
	if _, err := tables.Append(context.Background(), handle, batch); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	return tables, handle
}

func waitForJob(t *testing.T, w *Worker, id string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := w.Job(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Job{}
}

func TestExportProducesArtifacts(t *testing.T) {
	tables, handle := seedTables(t)
	artifacts := blobmemory.New()
	audit := &MemoryAuditLog{}
	w := NewWorker(tables, artifacts, audit, domain.NopLogger{})
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	job, err := w.Enqueue(context.Background(), Request{Handle: handle})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued || len(job.Formats) != 2 {
		t.Fatalf("queued snapshot = %+v", job)
	}

	done := waitForJob(t, w, job.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("job failed: %s", done.Error)
	}
	if len(done.Artifacts) != 4 {
		t.Fatalf("expected csv+json for both tables, got %+v", done.Artifacts)
	}
	if done.CompletedAt == nil {
		t.Fatalf("completed job missing timestamp")
	}

	_, rc, err := artifacts.Get(context.Background(), "exports/Zone-A/"+job.ID+"/species.csv")
	if err != nil {
		t.Fatalf("species csv missing: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	text := string(body)
	if !strings.HasPrefix(text, "species_id,parent_id,first_seen,generic_name,specific_name\n") {
		t.Fatalf("csv header wrong: %q", text)
	}
	if !strings.Contains(text, "2,1,50,Branch,beta") {
		t.Fatalf("csv row missing: %q", text)
	}

	_, rc, err = artifacts.Get(context.Background(), "exports/Zone-A/"+job.ID+"/population.json")
	if err != nil {
		t.Fatalf("population json missing: %v", err)
	}
	body, _ = io.ReadAll(rc)
	_ = rc.Close()
	var decoded struct {
		Simulation string                    `json:"simulation"`
		Population []domain.PopulationRecord `json:"population"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if decoded.Simulation != "Zone-A" || len(decoded.Population) != 2 {
		t.Fatalf("json payload = %+v", decoded)
	}
}

func TestExportAuditTrail(t *testing.T) {
	tables, handle := seedTables(t)
	audit := &MemoryAuditLog{}
	w := NewWorker(tables, blobmemory.New(), audit, domain.NopLogger{})
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	job, err := w.Enqueue(context.Background(), Request{Handle: handle, Formats: []Format{FormatCSV}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForJob(t, w, job.ID)

	statuses := make([]Status, 0, 3)
	for _, e := range audit.Entries() {
		if e.Action != "table_export" || e.Simulation != "Zone-A" {
			t.Fatalf("unexpected entry %+v", e)
		}
		statuses = append(statuses, e.Status)
	}
	want := []Status{StatusQueued, StatusRunning, StatusSucceeded}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
}

func TestEnqueueRejectsUnknownFormat(t *testing.T) {
	tables, handle := seedTables(t)
	w := NewWorker(tables, blobmemory.New(), nil, domain.NopLogger{})
	if _, err := w.Enqueue(context.Background(), Request{Handle: handle, Formats: []Format{"parquet"}}); err == nil {
		t.Fatalf("expected format rejection")
	}
	if _, err := w.Enqueue(context.Background(), Request{}); err == nil {
		t.Fatalf("expected simulation requirement")
	}
}

func TestDuplicateFormatsCollapsed(t *testing.T) {
	tables, handle := seedTables(t)
	w := NewWorker(tables, blobmemory.New(), nil, domain.NopLogger{})
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	job, err := w.Enqueue(context.Background(), Request{Handle: handle, Formats: []Format{FormatJSON, FormatJSON}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(job.Formats) != 1 {
		t.Fatalf("formats = %v", job.Formats)
	}
	done := waitForJob(t, w, job.ID)
	if done.Status != StatusSucceeded || len(done.Artifacts) != 2 {
		t.Fatalf("job = %+v", done)
	}
}
