// Package archive opens Bibites autosave packages and exposes their internal
// entries as byte streams. Autosaves are plain zip containers written
// periodically by the game; the reader never modifies or deletes the source
// file.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"bibitewatch/pkg/domain"
)

// Archive is a read handle over one autosave package.
type Archive struct {
	path string
	rc   *zip.ReadCloser
}

// Open opens the autosave at path. Failure to open the container at all is
// classified as domain.ErrCorruptArchive, except for truncation signatures
// which mean the game is still flushing the file and map to
// domain.ErrArchiveIncomplete so the caller retries on a later poll.
func Open(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		if isTruncation(err) {
			return nil, fmt.Errorf("open %s: %w", path, domain.ErrArchiveIncomplete)
		}
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrChecksum) {
			return nil, fmt.Errorf("open %s: %w", path, domain.ErrCorruptArchive)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Archive{path: path, rc: rc}, nil
}

// Path returns the source file path.
func (a *Archive) Path() string { return a.path }

// Close releases the underlying file handle.
func (a *Archive) Close() error { return a.rc.Close() }

// Entry reads the named entry fully. The lookup is case-insensitive because
// the game has shipped both `speciesData.json` and lowercased variants.
// A short or failed read means the writer was mid-flush and maps to
// domain.ErrArchiveIncomplete; a missing entry maps to fs.ErrNotExist.
func (a *Archive) Entry(name string) ([]byte, error) {
	for _, f := range a.rc.File {
		if strings.EqualFold(f.Name, name) {
			return a.read(f)
		}
	}
	return nil, fmt.Errorf("entry %s in %s: %w", name, a.path, fs.ErrNotExist)
}

// EntriesUnder lists entry names beneath prefix carrying the suffix, both
// matched case-insensitively.
func (a *Archive) EntriesUnder(prefix, suffix string) []string {
	var names []string
	for _, f := range a.rc.File {
		lower := strings.ToLower(f.Name)
		if strings.HasPrefix(lower, strings.ToLower(prefix)) && strings.HasSuffix(lower, strings.ToLower(suffix)) {
			names = append(names, f.Name)
		}
	}
	return names
}

func (a *Archive) read(f *zip.File) ([]byte, error) {
	r, err := f.Open()
	if err != nil {
		if isTruncation(err) || errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("open entry %s in %s: %w", f.Name, a.path, domain.ErrArchiveIncomplete)
		}
		return nil, fmt.Errorf("open entry %s in %s: %w", f.Name, a.path, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		// Decompression or checksum failures on an entry that listed fine
		// almost always mean the central directory landed before the data
		// finished flushing.
		return nil, fmt.Errorf("read entry %s in %s: %w", f.Name, a.path, domain.ErrArchiveIncomplete)
	}
	return data, nil
}

func isTruncation(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
