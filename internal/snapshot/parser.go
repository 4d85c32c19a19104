// Package snapshot decodes the internal entries of one autosave archive into
// the structured batch the store appends. The three artifacts (settings,
// species definitions, population counts) are decoded independently so a
// failure in one never discards data already decoded from the others.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"bibitewatch/internal/archive"
	"bibitewatch/pkg/domain"
)

// Entry names inside an autosave package. Matched case-insensitively by the
// archive reader.
const (
	settingsEntry = "settings.bb8settings"
	speciesEntry  = "speciesData.json"
	sceneEntry    = "scene.bb8scene"
	bibitesPrefix = "bibites/"
	bibiteSuffix  = ".bb8"
)

// Result carries the decoded batch plus the per-artifact failures that did
// not abort the archive. SpeciesErr reports a malformed species-definition
// entry (population rows survive); SceneErr reports a missing or unparseable
// tick index (species rows survive, population rows are dropped because they
// would have no time axis).
type Result struct {
	Batch      domain.SnapshotBatch
	SpeciesErr error
	SceneErr   error
}

// Parser decodes autosave archives.
type Parser struct {
	log domain.Logger
}

// New constructs a parser. A nil logger is replaced with a nop logger.
func New(log domain.Logger) *Parser {
	if log == nil {
		log = domain.NopLogger{}
	}
	return &Parser{log: log}
}

// Parse decodes one archive. The returned error is archive-fatal: either the
// settings entry yields no simulation name (MissingSimulationNameError) or a
// read failed because the game was mid-flush (ErrArchiveIncomplete wrapped).
// Artifact-scoped failures land in the Result instead.
func (p *Parser) Parse(a *archive.Archive) (Result, error) {
	var res Result

	name, fingerprint, err := p.parseSettings(a)
	if err != nil {
		return Result{}, err
	}
	res.Batch.Simulation = name
	res.Batch.Fingerprint = fingerprint

	tick, sceneErr := p.parseScene(a)
	if sceneErr != nil && errors.Is(sceneErr, domain.ErrArchiveIncomplete) {
		return Result{}, sceneErr
	}
	res.SceneErr = sceneErr
	res.Batch.Tick = tick

	species, speciesErr := p.parseSpecies(a, tick)
	if speciesErr != nil && errors.Is(speciesErr, domain.ErrArchiveIncomplete) {
		return Result{}, speciesErr
	}
	res.SpeciesErr = speciesErr
	res.Batch.Species = species

	if sceneErr == nil {
		population, err := p.parsePopulation(a, tick)
		if err != nil {
			return Result{}, err
		}
		res.Batch.Population = population
	}

	return res, nil
}

type settingsFile struct {
	Zones []struct {
		Name string `json:"name"`
	} `json:"zones"`
}

func (p *Parser) parseSettings(a *archive.Archive) (name, fingerprint string, err error) {
	data, err := a.Entry(settingsEntry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", domain.MissingSimulationNameError{Archive: a.Path()}
		}
		return "", "", err
	}
	cleaned := scrub(data)

	var settings settingsFile
	if err := json.Unmarshal(cleaned, &settings); err != nil {
		return "", "", fmt.Errorf("decode settings of %s: %w", a.Path(), domain.ErrCorruptArchive)
	}
	if len(settings.Zones) == 0 || strings.TrimSpace(settings.Zones[0].Name) == "" {
		return "", "", domain.MissingSimulationNameError{Archive: a.Path()}
	}

	// The fingerprint hashes the raw zones array so the registry can warn
	// when two differently configured runs share a zone name.
	var raw struct {
		Zones json.RawMessage `json:"zones"`
	}
	if err := json.Unmarshal(cleaned, &raw); err == nil && len(raw.Zones) > 0 {
		sum := sha256.Sum256(raw.Zones)
		fingerprint = hex.EncodeToString(sum[:])
	}
	return strings.TrimSpace(settings.Zones[0].Name), fingerprint, nil
}

func (p *Parser) parseScene(a *archive.Archive) (domain.Tick, error) {
	data, err := a.Entry(sceneEntry)
	if err != nil {
		return 0, err
	}
	var scene struct {
		SimulatedTime *float64 `json:"simulatedTime"`
	}
	if err := json.Unmarshal(scrub(data), &scene); err != nil {
		return 0, fmt.Errorf("decode scene of %s: %v", a.Path(), err)
	}
	if scene.SimulatedTime == nil {
		return 0, fmt.Errorf("scene of %s has no simulatedTime", a.Path())
	}
	return domain.Tick(*scene.SimulatedTime), nil
}

func (p *Parser) parseSpecies(a *archive.Archive, tick domain.Tick) ([]domain.SpeciesSnapshot, error) {
	data, err := a.Entry(speciesEntry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.MalformedSpeciesDataError{Archive: a.Path(), Reason: "speciesData.json missing"}
		}
		return nil, err
	}

	var file struct {
		RecordedSpecies []json.RawMessage `json:"recordedSpecies"`
	}
	if err := json.Unmarshal(scrub(data), &file); err != nil {
		return nil, domain.MalformedSpeciesDataError{Archive: a.Path(), Reason: err.Error()}
	}

	snapshots := make([]domain.SpeciesSnapshot, 0, len(file.RecordedSpecies))
	for i, raw := range file.RecordedSpecies {
		snap, err := decodeSpecies(raw, tick)
		if err != nil {
			return nil, domain.MalformedSpeciesDataError{
				Archive: a.Path(),
				Reason:  fmt.Sprintf("recordedSpecies[%d]: %v", i, err),
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func decodeSpecies(raw json.RawMessage, tick domain.Tick) (domain.SpeciesSnapshot, error) {
	var known struct {
		SpeciesID    *int64 `json:"speciesID"`
		ParentID     *int64 `json:"parentID"`
		GenericName  string `json:"genericName"`
		SpecificName string `json:"specificName"`
	}
	if err := json.Unmarshal(raw, &known); err != nil {
		return domain.SpeciesSnapshot{}, err
	}
	if known.SpeciesID == nil {
		return domain.SpeciesSnapshot{}, fmt.Errorf("speciesID missing")
	}

	// Everything besides the indexed columns rides along untouched as the
	// gene/attribute blob.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.SpeciesSnapshot{}, err
	}
	delete(fields, "speciesID")
	delete(fields, "parentID")
	delete(fields, "genericName")
	delete(fields, "specificName")
	attrs, err := marshalSorted(fields)
	if err != nil {
		return domain.SpeciesSnapshot{}, err
	}

	snap := domain.SpeciesSnapshot{
		SpeciesID:    domain.SpeciesID(*known.SpeciesID),
		FirstSeen:    tick,
		GenericName:  known.GenericName,
		SpecificName: known.SpecificName,
		Attributes:   attrs,
	}
	if known.ParentID != nil {
		parent := domain.SpeciesID(*known.ParentID)
		snap.ParentID = &parent
	}
	return snap, nil
}

func (p *Parser) parsePopulation(a *archive.Archive, tick domain.Tick) ([]domain.PopulationRecord, error) {
	counts := make(map[domain.SpeciesID]int)
	for _, name := range a.EntriesUnder(bibitesPrefix, bibiteSuffix) {
		data, err := a.Entry(name)
		if err != nil {
			if errors.Is(err, domain.ErrArchiveIncomplete) {
				return nil, err
			}
			p.log.Warn("skipping unreadable bibite entry", "archive", a.Path(), "entry", name, "error", err)
			continue
		}
		var bibite struct {
			Genes struct {
				SpeciesID *int64 `json:"speciesID"`
			} `json:"genes"`
		}
		if err := json.Unmarshal(scrub(data), &bibite); err != nil {
			p.log.Warn("skipping malformed bibite entry", "archive", a.Path(), "entry", name, "error", err)
			continue
		}
		if bibite.Genes.SpeciesID == nil {
			p.log.Warn("bibite entry has no speciesID", "archive", a.Path(), "entry", name)
			continue
		}
		counts[domain.SpeciesID(*bibite.Genes.SpeciesID)]++
	}

	records := make([]domain.PopulationRecord, 0, len(counts))
	for id, count := range counts {
		records = append(records, domain.PopulationRecord{Tick: tick, SpeciesID: id, Count: count})
	}
	// Deterministic row order within a tick keeps repeated ingests byte-stable.
	sort.Slice(records, func(i, j int) bool { return records[i].SpeciesID < records[j].SpeciesID })
	return records, nil
}

func marshalSorted(fields map[string]json.RawMessage) (json.RawMessage, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := &strings.Builder{}
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(fields[k])
	}
	buf.WriteByte('}')
	return json.RawMessage(buf.String()), nil
}

// scrub drops bytes outside the printable ASCII range. The game pads its
// JSON entries with stray control bytes that break strict decoders.
func scrub(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b >= 0x20 && b <= 0x7e {
			out = append(out, b)
		}
	}
	return out
}
