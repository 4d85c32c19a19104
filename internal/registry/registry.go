// Package registry resolves autosave batches to durable simulation
// identities. A simulation is keyed by the name of its first settings zone;
// the registry allocates one directory per name under the data root and
// keeps a manifest sidecar so identity survives process restarts.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bibitewatch/pkg/domain"
)

const manifestName = "manifest.json"

// fallbackName mirrors the original monitor's behavior for saves whose
// settings carry no usable zone name during manual re-ingestion.
const fallbackName = "default_sim"

// Registry maps simulation names to storage directories.
type Registry struct {
	root string
	log  domain.Logger

	mu   sync.Mutex
	sims map[string]domain.Simulation
}

// New opens (or creates) the data root and loads all existing simulation
// manifests, so resolving a known name after a restart reuses its directory.
func New(root string, log domain.Logger) (*Registry, error) {
	if log == nil {
		log = domain.NopLogger{}
	}
	if root == "" {
		root = "Bibite_Simulation_Data"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	r := &Registry{root: root, log: log, sims: make(map[string]domain.Simulation)}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Root returns the data root directory.
func (r *Registry) Root() string { return r.root }

func (r *Registry) load() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("read data root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.root, entry.Name())
		sim, err := readManifest(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			r.log.Warn("skipping unreadable simulation manifest", "dir", dir, "error", err)
			continue
		}
		sim.Dir = dir
		r.sims[sim.Name] = sim
	}
	return nil
}

// Resolve returns the handle for name, creating and registering a fresh
// directory on first sighting. Repeated calls with the same name always
// return the same storage location. A differing settings fingerprint on a
// known simulation is logged as a warning and otherwise ignored: the name is
// the sole identity key, and users are expected to name their first zone
// uniquely per run.
func (r *Registry) Resolve(name, fingerprint string) (domain.SimulationHandle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallbackName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sim, ok := r.sims[name]; ok {
		if fingerprint != "" && sim.Fingerprint != "" && fingerprint != sim.Fingerprint {
			r.log.Warn("settings fingerprint differs for existing simulation; treating as same run",
				"simulation", name, "known", sim.Fingerprint, "incoming", fingerprint)
		}
		return domain.SimulationHandle{Name: sim.Name, Dir: sim.Dir}, nil
	}

	dir := filepath.Join(r.root, sanitizeName(name))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return domain.SimulationHandle{}, fmt.Errorf("create simulation dir: %w", err)
	}
	sim := domain.Simulation{
		Name:        name,
		Dir:         dir,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().UTC(),
	}
	if err := writeManifest(dir, sim); err != nil {
		return domain.SimulationHandle{}, err
	}
	r.sims[name] = sim
	r.log.Info("registered new simulation", "simulation", name, "dir", dir)
	return domain.SimulationHandle{Name: name, Dir: dir}, nil
}

// Simulations lists registered simulations sorted by name.
func (r *Registry) Simulations() []domain.Simulation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Simulation, 0, len(r.sims))
	for _, sim := range r.sims {
		out = append(out, sim)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// sanitizeName collapses filesystem-hostile characters so a user-chosen zone
// name maps to a safe directory component. Distinct names can collide after
// sanitization; the manifest keeps the authoritative name.
func sanitizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	mapped = strings.Trim(mapped, "._")
	if mapped == "" {
		mapped = fallbackName
	}
	return mapped
}

func readManifest(dir string) (domain.Simulation, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return domain.Simulation{}, err
	}
	var sim domain.Simulation
	if err := json.Unmarshal(data, &sim); err != nil {
		return domain.Simulation{}, fmt.Errorf("decode manifest: %w", err)
	}
	if sim.Name == "" {
		return domain.Simulation{}, fmt.Errorf("manifest has no name")
	}
	return sim, nil
}

func writeManifest(dir string, sim domain.Simulation) error {
	data, err := json.MarshalIndent(sim, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, manifestName))
}
