// Package datastore provides the dataset sources the engine reads from.
//
// Three implementations share the engine.Store contract:
//
//	FileStore   — JSON/CSV files from an fs.FS (embedded reference data or a directory)
//	DuckStore   — the same files queried through DuckDB's read_json_auto
//	CachedStore — a TTL cache in front of either
//
// Every Load returns rows the caller owns; stores never hand out their
// internal maps.
package datastore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spektr-org/bankquery/engine"
)

// ErrNotFound reports a dataset with no backing file.
var ErrNotFound = errors.New("dataset not found")

// ThresholdsDataset is the name of the cash-reporting threshold table.
const ThresholdsDataset = "thresholds"

// Store kinds accepted by Open.
const (
	KindEmbed  = "embed"
	KindDir    = "dir"
	KindDuckDB = "duckdb"
)

// Store is an engine.Store that can list its datasets and release resources.
type Store interface {
	engine.Store
	Datasets() []string
	Close() error
}

// Options selects and tunes a Store.
type Options struct {
	Kind     string        // embed (default), dir, duckdb
	Dir      string        // data directory for dir and duckdb; duckdb falls back to the embedded data
	CacheTTL time.Duration // 0 disables caching
	Logger   *slog.Logger
}

// Open builds the store described by opts.
func Open(opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var (
		s   Store
		err error
	)
	switch opts.Kind {
	case "", KindEmbed:
		s = NewEmbedded()
	case KindDir:
		if opts.Dir == "" {
			return nil, errors.New("dir store requires a data directory")
		}
		s = NewDir(opts.Dir)
	case KindDuckDB:
		s, err = NewDuckStore(opts.Dir, opts.Logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
	}

	opts.Logger.Debug("🔧 Datastore: opened", "kind", opts.Kind, "dir", opts.Dir, "datasets", s.Datasets())

	if opts.CacheTTL > 0 {
		s = NewCachedStore(s, opts.CacheTTL, opts.Logger)
	}
	return s, nil
}

// thresholdsFromRows converts threshold table rows.
func thresholdsFromRows(rows []engine.Row) []engine.Threshold {
	out := make([]engine.Threshold, 0, len(rows))
	for _, r := range rows {
		out = append(out, engine.Threshold{
			Jurisdiction:           engine.Text(r, "jurisdiction"),
			Currency:               engine.Text(r, "currency"),
			CashReportingThreshold: engine.Number(r, "cash_reporting_threshold"),
		})
	}
	return out
}

func cloneRows(rows []engine.Row) []engine.Row {
	out := make([]engine.Row, len(rows))
	for i, r := range rows {
		c := make(engine.Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}
