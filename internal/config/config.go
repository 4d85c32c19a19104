// Package config loads the watcher configuration from a JSON file and
// the environment. The file keeps the key names long-time users already
// have in their config, and every field can be overridden with a
// BIBITEWATCH_* environment variable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"bibitewatch/internal/blob/core"
	"bibitewatch/internal/store"
)

// DefaultPath is where the watcher looks for its config file.
const DefaultPath = "config.json"

const defaultInterval = 600 * time.Second

// file mirrors the on-disk JSON layout.
type file struct {
	AutosaveFolder  string  `json:"Path_To_Autosave_Folder"`
	UpdateFrequency float64 `json:"UpdateFrequency"` // seconds between polls
	DataRoot        string  `json:"Data_Root,omitempty"`
	StoreDriver     string  `json:"Store_Driver,omitempty"`
	PostgresDSN     string  `json:"Postgres_DSN,omitempty"`
	BlobDriver      string  `json:"Blob_Driver,omitempty"`
	BlobRoot        string  `json:"Blob_Root,omitempty"`
	ListenAddr      string  `json:"Listen_Addr,omitempty"`
	Workers         int     `json:"Workers,omitempty"`
}

// Config is the resolved runtime configuration.
type Config struct {
	// AutosaveDir is the game's autosave folder. Required.
	AutosaveDir string
	// Interval between poll cycles.
	Interval time.Duration
	// DataRoot holds per-simulation directories; empty uses the registry
	// default next to the working directory.
	DataRoot string
	// StoreDriver selects the table backend.
	StoreDriver store.Driver
	// PostgresDSN applies when StoreDriver is postgres.
	PostgresDSN string
	// BlobDriver selects the export artifact backend.
	BlobDriver core.Driver
	// BlobRoot is the artifact directory for the filesystem blob driver.
	BlobRoot string
	// ListenAddr serves the metrics and export endpoints. Empty disables
	// the HTTP listener.
	ListenAddr string
	// Workers bounds concurrent archive processing.
	Workers int
}

// Load reads path, creating a starter file when none exists, then
// applies environment overrides and validates. A freshly created file
// is returned as an error so the user fills in the autosave folder.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := writeStarter(path); writeErr != nil {
			return Config{}, fmt.Errorf("create starter config: %w", writeErr)
		}
		return Config{}, fmt.Errorf("no config found; wrote starter file %s, set Path_To_Autosave_Folder and rerun", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg := Config{
		AutosaveDir: f.AutosaveFolder,
		Interval:    time.Duration(f.UpdateFrequency * float64(time.Second)),
		DataRoot:    f.DataRoot,
		StoreDriver: store.Driver(f.StoreDriver),
		PostgresDSN: f.PostgresDSN,
		BlobDriver:  core.Driver(f.BlobDriver),
		BlobRoot:    f.BlobRoot,
		ListenAddr:  f.ListenAddr,
		Workers:     f.Workers,
	}
	applyEnv(&cfg)

	if cfg.AutosaveDir == "" {
		return Config{}, fmt.Errorf("Path_To_Autosave_Folder is not set in %s", path)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BIBITEWATCH_AUTOSAVE_DIR"); v != "" {
		cfg.AutosaveDir = v
	}
	if v := os.Getenv("BIBITEWATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Interval = d
		} else if secs, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Interval = time.Duration(secs * float64(time.Second))
		}
	}
	if v := os.Getenv("BIBITEWATCH_DATA_ROOT"); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv("BIBITEWATCH_STORE_DRIVER"); v != "" {
		cfg.StoreDriver = store.Driver(v)
	}
	if v := os.Getenv("BIBITEWATCH_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("BIBITEWATCH_BLOB_DRIVER"); v != "" {
		cfg.BlobDriver = core.Driver(v)
	}
	if v := os.Getenv("BIBITEWATCH_BLOB_ROOT"); v != "" {
		cfg.BlobRoot = v
	}
	if v := os.Getenv("BIBITEWATCH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BIBITEWATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
}

func writeStarter(path string) error {
	starter := file{
		AutosaveFolder:  "",
		UpdateFrequency: defaultInterval.Seconds(),
	}
	raw, err := json.MarshalIndent(starter, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
