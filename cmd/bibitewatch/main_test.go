package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestAutosave(t *testing.T, dir, filename string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	entries := map[string]string{
		"settings.bb8settings": `{"zones":[{"name":"Zone-A"}],"zoneGroups":[]}`,
		"scene.bb8scene":       `{"simulatedTime":25.0}`,
		"speciesData.json":     `{"recordedSpecies":[{"speciesID":1}]}`,
		"bibites/bibite_0.bb8": `{"genes":{"speciesID":1}}`,
	}
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
	if err := os.WriteFile(filepath.Join(dir, filename), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
}

func TestRunOnceMode(t *testing.T) {
	base := t.TempDir()
	saves := filepath.Join(base, "saves")
	if err := os.MkdirAll(saves, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTestAutosave(t, saves, "autosave_1.zip")

	dataRoot := filepath.Join(base, "data")
	configPath := filepath.Join(base, "config.json")
	body := fmt.Sprintf(`{
		"Path_To_Autosave_Folder": %q,
		"UpdateFrequency": 1,
		"Data_Root": %q,
		"Store_Driver": "memory",
		"Blob_Root": %q
	}`, saves, dataRoot, filepath.Join(base, "artifacts"))
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if code := run([]string{"-config", configPath, "-once"}, io.Discard); code != 0 {
		t.Fatalf("run exited %d", code)
	}

	// The cycle registered the simulation under the data root.
	if _, err := os.Stat(filepath.Join(dataRoot, "Zone-A", "manifest.json")); err != nil {
		t.Fatalf("simulation not registered: %v", err)
	}
}

func TestRunFailsWithoutConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if code := run([]string{"-config", configPath}, io.Discard); code != 1 {
		t.Fatalf("expected starter-config failure, got %d", code)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("starter config not written: %v", err)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if code := run([]string{"-definitely-not-a-flag"}, io.Discard); code != 2 {
		t.Fatalf("expected flag parse failure, got %d", code)
	}
}
