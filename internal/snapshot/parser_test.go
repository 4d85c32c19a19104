package snapshot

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bibitewatch/internal/archive"
	"bibitewatch/pkg/domain"
)

func buildAutosave(t *testing.T, dir, filename string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, body := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := f.Write([]byte(body)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	return path
}

func openArchive(t *testing.T, path string) *archive.Archive {
	t.Helper()
	a, err := archive.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

const settingsZoneA = `{"zones":[{"name":"Zone-A","radius":100}],"zoneGroups":[]}`

func TestParseFullArchive(t *testing.T) {
	path := buildAutosave(t, t.TempDir(), "run1.zip", map[string]string{
		"settings.bb8settings": "\x00\x01" + settingsZoneA + "\x7f",
		"scene.bb8scene":       `{"simulatedTime":50.0}`,
		"speciesData.json": `{"recordedSpecies":[
			{"speciesID":1,"genericName":"Primus","specificName":"origo","sizeGene":1.2},
			{"speciesID":2,"parentID":1,"genericName":"Primus","specificName":"secundus","sizeGene":1.4}
		]}`,
		"bibites/bibite_0.bb8": `{"genes":{"speciesID":1}}`,
		"bibites/bibite_1.bb8": `{"genes":{"speciesID":1}}`,
		"bibites/bibite_2.bb8": `{"genes":{"speciesID":2}}`,
	})

	res, err := New(nil).Parse(openArchive(t, path))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.SpeciesErr != nil || res.SceneErr != nil {
		t.Fatalf("unexpected artifact errors: %v %v", res.SpeciesErr, res.SceneErr)
	}

	batch := res.Batch
	if batch.Simulation != "Zone-A" {
		t.Fatalf("simulation name = %q", batch.Simulation)
	}
	if batch.Fingerprint == "" {
		t.Fatalf("expected zone fingerprint")
	}
	if batch.Tick != 50 {
		t.Fatalf("tick = %v", batch.Tick)
	}
	if len(batch.Species) != 2 {
		t.Fatalf("species rows = %d", len(batch.Species))
	}
	second := batch.Species[1]
	if second.ParentID == nil || *second.ParentID != 1 {
		t.Fatalf("expected parentID 1, got %+v", second)
	}
	if !bytes.Contains(second.Attributes, []byte("sizeGene")) {
		t.Fatalf("gene attributes not preserved: %s", second.Attributes)
	}
	if len(batch.Population) != 2 {
		t.Fatalf("population rows = %d", len(batch.Population))
	}
	if batch.Population[0].SpeciesID != 1 || batch.Population[0].Count != 2 {
		t.Fatalf("unexpected first population row %+v", batch.Population[0])
	}
	if batch.Population[1].SpeciesID != 2 || batch.Population[1].Count != 1 {
		t.Fatalf("unexpected second population row %+v", batch.Population[1])
	}
}

func TestParseMissingZoneNameIsFatal(t *testing.T) {
	path := buildAutosave(t, t.TempDir(), "noname.zip", map[string]string{
		"settings.bb8settings": `{"zones":[],"zoneGroups":[]}`,
		"scene.bb8scene":       `{"simulatedTime":1.0}`,
	})
	_, err := New(nil).Parse(openArchive(t, path))
	var missing domain.MissingSimulationNameError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSimulationNameError, got %v", err)
	}
}

func TestParseMalformedSpeciesKeepsPopulation(t *testing.T) {
	path := buildAutosave(t, t.TempDir(), "badspecies.zip", map[string]string{
		"settings.bb8settings": settingsZoneA,
		"scene.bb8scene":       `{"simulatedTime":10.0}`,
		"speciesData.json":     `{"recordedSpecies":"not an array"}`,
		"bibites/bibite_0.bb8": `{"genes":{"speciesID":9}}`,
	})

	res, err := New(nil).Parse(openArchive(t, path))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var malformed domain.MalformedSpeciesDataError
	if !errors.As(res.SpeciesErr, &malformed) {
		t.Fatalf("expected MalformedSpeciesDataError, got %v", res.SpeciesErr)
	}
	if len(res.Batch.Species) != 0 {
		t.Fatalf("species rows should be dropped, got %d", len(res.Batch.Species))
	}
	if len(res.Batch.Population) != 1 || res.Batch.Population[0].SpeciesID != 9 {
		t.Fatalf("population rows must survive species failure: %+v", res.Batch.Population)
	}
}

func TestParseMissingSceneDropsPopulationOnly(t *testing.T) {
	path := buildAutosave(t, t.TempDir(), "noscene.zip", map[string]string{
		"settings.bb8settings": settingsZoneA,
		"speciesData.json":     `{"recordedSpecies":[{"speciesID":3}]}`,
		"bibites/bibite_0.bb8": `{"genes":{"speciesID":3}}`,
	})

	res, err := New(nil).Parse(openArchive(t, path))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.SceneErr == nil {
		t.Fatalf("expected scene error")
	}
	if len(res.Batch.Population) != 0 {
		t.Fatalf("population rows need a tick axis, got %+v", res.Batch.Population)
	}
	if len(res.Batch.Species) != 1 {
		t.Fatalf("species rows must survive missing scene, got %d", len(res.Batch.Species))
	}
}

func TestParseUnknownSpeciesInPopulationIsEmitted(t *testing.T) {
	path := buildAutosave(t, t.TempDir(), "unknown.zip", map[string]string{
		"settings.bb8settings": settingsZoneA,
		"scene.bb8scene":       `{"simulatedTime":5.0}`,
		"speciesData.json":     `{"recordedSpecies":[]}`,
		"bibites/bibite_0.bb8": `{"genes":{"speciesID":42}}`,
		"bibites/bibite_1.bb8": `{"genes":{}}`,
	})

	res, err := New(nil).Parse(openArchive(t, path))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Batch.Population) != 1 || res.Batch.Population[0].SpeciesID != 42 {
		t.Fatalf("undefined species must still produce a count: %+v", res.Batch.Population)
	}
}
