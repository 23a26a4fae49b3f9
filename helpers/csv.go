package helpers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spektr-org/bankquery/engine"
)

// ============================================================================
// CSV HELPER — CSV bytes ↔ engine rows
// ============================================================================
// Reading: headers become snake_case field keys, each cell becomes the
// narrowest scalar it parses as (float64, bool, string). Empty cells are
// left out of the row so they read as missing.
// Writing: a TableData is written header-first, one record per row.
// ============================================================================

// ParseCSV parses CSV bytes into rows. Returns the rows and the field keys
// in header order. Malformed records are skipped.
func ParseCSV(data []byte) ([]engine.Row, []string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = toSnakeCase(strings.TrimSpace(h))
	}

	var rows []engine.Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}

		row := make(engine.Row, len(keys))
		for i, val := range record {
			if i >= len(keys) {
				break
			}
			val = strings.TrimSpace(val)
			if val == "" {
				continue
			}
			row[keys[i]] = parseCell(val)
		}
		rows = append(rows, row)
	}

	return rows, keys, nil
}

// parseCell converts a cell to float64 or bool when it parses as one.
// Date-like strings stay strings.
func parseCell(val string) any {
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f
	}
	switch strings.ToLower(val) {
	case "true":
		return true
	case "false":
		return false
	}
	return val
}

// WriteCSV writes a table as CSV: column keys as the header, then each row.
func WriteCSV(w io.Writer, td *engine.TableData) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(td.Columns))
	for i, c := range td.Columns {
		header[i] = c.Key
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := cw.WriteAll(td.Rows); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}

// toSnakeCase converts "Column Name" → "column_name".
func toSnakeCase(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
