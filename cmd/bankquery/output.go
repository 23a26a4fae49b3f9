package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/spektr-org/bankquery/engine"
	"github.com/spektr-org/bankquery/helpers"
)

// Output formats.
const (
	formatJSON   = "json"
	formatPretty = "pretty"
	formatTable  = "table"
	formatCSV    = "csv"
)

var errCSVUnsupported = errors.New("csv output is only available for results")

// view is what a command prints: a JSON value plus optional table and CSV
// renderings.
type view struct {
	value any
	table func(w io.Writer)
	csv   *engine.TableData
}

// emit writes v in the selected format to --out or stdout.
func (a *app) emit(stdout io.Writer, v view) error {
	w := stdout
	if a.outPath != "" {
		f, err := os.Create(a.outPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	var err error
	switch a.format {
	case formatTable:
		if v.table == nil {
			err = writeJSON(w, v.value, true)
		} else {
			v.table(w)
		}
	case formatCSV:
		if v.csv == nil {
			return errCSVUnsupported
		}
		err = helpers.WriteCSV(w, v.csv)
	default:
		err = writeJSON(w, v.value, a.format == formatPretty)
	}
	if err != nil {
		return err
	}

	if a.outPath != "" {
		a.logger.Info("📄 Output written", "path", a.outPath, "format", a.format)
	}
	return nil
}

// ============================================================================
// JSON OUTPUT
// ============================================================================

func writeJSON(w io.Writer, v any, pretty bool) error {
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// ============================================================================
// TABLE OUTPUT
// ============================================================================

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetBorder(true)
	table.SetHeader(headers)
	return table
}

// writeResultTable renders result rows, the summary and the safety notes.
func writeResultTable(w io.Writer, td *engine.TableData, notes []string) {
	if td.Title != "" {
		fmt.Fprintln(w, td.Title)
	}

	if len(td.Rows) == 0 {
		fmt.Fprintln(w, "No results.")
	} else {
		headers := make([]string, len(td.Columns))
		aligns := make([]int, len(td.Columns))
		for i, c := range td.Columns {
			headers[i] = c.Label
			aligns[i] = alignment(c.Align)
		}
		table := newTable(w, headers)
		table.SetColumnAlignment(aligns)
		table.AppendBulk(td.Rows)
		table.Render()
	}

	if td.Summary != nil {
		fmt.Fprintln(w, td.Summary.Label)
		table := newTable(w, []string{"Key", "Value"})
		for _, k := range td.Summary.Keys {
			table.Append([]string{k, td.Summary.Values[k]})
		}
		table.Render()
	}

	for _, n := range notes {
		fmt.Fprintln(w, "⚠️ "+n)
	}
}

// writeKeyValues renders ordered key/value pairs as a two-column table.
func writeKeyValues(w io.Writer, pairs [][2]string) {
	table := newTable(w, []string{"Key", "Value"})
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
}

func alignment(align string) int {
	switch align {
	case "right":
		return tablewriter.ALIGN_RIGHT
	case "center":
		return tablewriter.ALIGN_CENTER
	default:
		return tablewriter.ALIGN_LEFT
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
