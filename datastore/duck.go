package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/spektr-org/bankquery/engine"
)

// ============================================================================
// DUCKDB STORE — Datasets read through an in-memory DuckDB
// ============================================================================
// Each Load runs SELECT * FROM read_json_auto('<dir>/<name>.json') (or
// read_csv_auto for CSV). DuckDB infers column types; scanned values are
// normalised to the engine's row scalars:
//   integers → float64   DATE/TIMESTAMP → YYYY-MM-DD   NULL → field omitted
// ============================================================================

// DuckStore queries JSON or CSV dataset files with DuckDB.
type DuckStore struct {
	db      *sql.DB
	dir     string
	tempDir string // extracted embedded data, removed on Close
	logger  *slog.Logger
}

// NewDuckStore opens an in-memory DuckDB over dir. An empty dir extracts
// the embedded reference data to a temporary directory.
func NewDuckStore(dir string, logger *slog.Logger) (*DuckStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &DuckStore{dir: dir, logger: logger}
	if dir == "" {
		tmp, err := extractEmbedded()
		if err != nil {
			return nil, err
		}
		s.dir, s.tempDir = tmp, tmp
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	s.db = db
	return s, nil
}

// Load queries a dataset file.
func (s *DuckStore) Load(ctx context.Context, name string) ([]engine.Row, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	reader, file := "read_json_auto", filepath.Join(s.dir, name+".json")
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		reader, file = "read_csv_auto", filepath.Join(s.dir, name+".csv")
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
	}

	query := fmt.Sprintf("SELECT * FROM %s('%s')", reader, strings.ReplaceAll(file, "'", "''"))
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", name, err)
	}

	var out []engine.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", name, err)
		}

		row := make(engine.Row, len(cols))
		for i, c := range cols {
			if v := normalize(values[i]); v != nil {
				row[c] = v
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	s.logger.Debug("📊 DuckStore: loaded", "dataset", name, "rows", len(out), "took", time.Since(start))
	return out, nil
}

// LoadThresholds reads the cash-reporting threshold table.
func (s *DuckStore) LoadThresholds(ctx context.Context) ([]engine.Threshold, error) {
	rows, err := s.Load(ctx, ThresholdsDataset)
	if err != nil {
		return nil, err
	}
	return thresholdsFromRows(rows), nil
}

// Datasets lists dataset files in the store directory.
func (s *DuckStore) Datasets() []string {
	return listDatasets(os.DirFS(s.dir))
}

// Close closes the database and removes extracted data.
func (s *DuckStore) Close() error {
	err := s.db.Close()
	s.cleanup()
	return err
}

func (s *DuckStore) cleanup() {
	if s.tempDir != "" {
		_ = os.RemoveAll(s.tempDir)
	}
}

// normalize maps DuckDB scan types onto row scalars.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.Format(time.DateOnly)
	case []byte:
		return string(x)
	}
	return v
}

// extractEmbedded copies the bundled data files into a fresh temp directory.
func extractEmbedded() (string, error) {
	tmp, err := os.MkdirTemp("", "bankquery-data-")
	if err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}

	err = fs.WalkDir(embedded, "data", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := embedded.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(tmp, d.Name()), data, 0o600)
	})
	if err != nil {
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("failed to extract embedded data: %w", err)
	}
	return tmp, nil
}
