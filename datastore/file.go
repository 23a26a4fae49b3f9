package datastore

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/spektr-org/bankquery/engine"
	"github.com/spektr-org/bankquery/helpers"
)

//go:embed data/*.json
var embedded embed.FS

// FileStore reads datasets from <name>.json or <name>.csv in a file system.
// Files are decoded on every Load.
type FileStore struct {
	fsys fs.FS
}

// NewEmbedded returns a FileStore over the bundled reference data.
func NewEmbedded() *FileStore {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(err) // embedded layout is fixed at build time
	}
	return &FileStore{fsys: sub}
}

// NewDir returns a FileStore over a directory on disk.
func NewDir(dir string) *FileStore {
	return &FileStore{fsys: os.DirFS(dir)}
}

// NewFS returns a FileStore over any file system.
func NewFS(fsys fs.FS) *FileStore {
	return &FileStore{fsys: fsys}
}

// Load reads a dataset. JSON wins over CSV when both exist.
func (s *FileStore) Load(ctx context.Context, name string) ([]engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if data, err := fs.ReadFile(s.fsys, name+".json"); err == nil {
		return decodeJSONRows(name, data)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s.json: %w", name, err)
	}

	data, err := fs.ReadFile(s.fsys, name+".csv")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.csv: %w", name, err)
	}
	rows, _, err := helpers.ParseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s.csv: %w", name, err)
	}
	return rows, nil
}

// LoadThresholds reads the cash-reporting threshold table.
func (s *FileStore) LoadThresholds(ctx context.Context) ([]engine.Threshold, error) {
	rows, err := s.Load(ctx, ThresholdsDataset)
	if err != nil {
		return nil, err
	}
	return thresholdsFromRows(rows), nil
}

// Datasets lists the dataset names available, thresholds excluded, sorted.
func (s *FileStore) Datasets() []string {
	return listDatasets(s.fsys)
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func decodeJSONRows(name string, data []byte) ([]engine.Row, error) {
	var rows []engine.Row
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s.json: %w", name, err)
	}
	return rows, nil
}

func listDatasets(fsys fs.FS) []string {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if ext != ".json" && ext != ".csv" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if name == ThresholdsDataset || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// validName accepts a bare file stem: no separators, no dots.
func validName(name string) bool {
	return name != "" && fs.ValidPath(name) && !strings.ContainsAny(name, `/\.`)
}
