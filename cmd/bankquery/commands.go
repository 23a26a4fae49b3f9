package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/spektr-org/bankquery/datastore"
	"github.com/spektr-org/bankquery/engine"
	"github.com/spektr-org/bankquery/metrics"
	"github.com/spektr-org/bankquery/pipeline"
	"github.com/spektr-org/bankquery/schema"
	"github.com/spektr-org/bankquery/server"
	"github.com/spektr-org/bankquery/translator"
)

var errInvalidPlan = errors.New("plan is not valid")

// ── ask ──────────────────────────────────────────────────────────────────

func (a *app) askCmd() *cobra.Command {
	var hint string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Generate, validate and execute a plan for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			resp := p.Ask(cmd.Context(), strings.Join(args, " "), hint)
			return a.emit(cmd.OutOrStdout(), responseView(resp))
		},
	}
	cmd.Flags().StringVarP(&hint, "domain", "d", "", "domain hint: Finance, Risk, Treasury, AML or Auto")
	return cmd
}

// ── run ──────────────────────────────────────────────────────────────────

func (a *app) runCmd() *cobra.Command {
	var promptContext string
	cmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Validate, repair and execute raw model output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), responseView(p.Run(cmd.Context(), string(raw), promptContext)))
		},
	}
	cmd.Flags().StringVar(&promptContext, "context", "", "question the output answers, for logs")
	return cmd
}

// ── validate ─────────────────────────────────────────────────────────────

type validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file|-]",
		Short: "Check a plan against the QueryPlan schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			v, err := schema.Load()
			if err != nil {
				return err
			}

			valid, _, errs := translator.ParseAndValidate(string(raw), v)
			out := validation{Valid: valid, Errors: schema.Strings(errs)}
			if err := a.emit(cmd.OutOrStdout(), view{
				value: out,
				table: func(w io.Writer) {
					pairs := [][2]string{{"valid", strconv.FormatBool(valid)}}
					for _, e := range out.Errors {
						pairs = append(pairs, [2]string{"error", e})
					}
					writeKeyValues(w, pairs)
				},
			}); err != nil {
				return err
			}
			if !valid {
				return errInvalidPlan
			}
			return nil
		},
	}
}

// ── execute ──────────────────────────────────────────────────────────────

func (a *app) executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute [file|-]",
		Short: "Execute a valid plan without repair",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}

			valid, plan, errs := translator.ParseAndValidate(string(raw), p.Validator())
			if !valid {
				for _, e := range errs {
					a.logger.Error("❌ " + e.String())
				}
				return errInvalidPlan
			}
			decoded, err := engine.DecodePlan(plan)
			if err != nil {
				return err
			}

			res := p.Execute(cmd.Context(), decoded)
			td := engine.BuildTable(decoded.PlanDomain()+" · "+decoded.PlanDataset(), res)
			return a.emit(cmd.OutOrStdout(), view{
				value: res,
				table: func(w io.Writer) { writeResultTable(w, td, res.SafetyNotes) },
				csv:   td,
			})
		},
	}
}

// ── schema ───────────────────────────────────────────────────────────────

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the QueryPlan schema, or the metric catalog as a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.emit(cmd.OutOrStdout(), view{
				value: json.RawMessage(schema.Document()),
				table: func(w io.Writer) {
					table := newTable(w, []string{"Metric", "Label", "Formula", "Dataset", "Domain"})
					for _, m := range schema.Metrics {
						table.Append([]string{m.ID, m.Label, m.Formula, m.Dataset, m.Domain})
					}
					table.Render()
				},
			})
		},
	}
}

// ── datasets ─────────────────────────────────────────────────────────────

func (a *app) datasetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets [name]",
		Short: "Describe the fields of the available datasets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			catalog := p.Catalog(cmd.Context())

			if len(args) == 0 {
				return a.emit(cmd.OutOrStdout(), view{
					value: catalog,
					table: func(w io.Writer) {
						table := newTable(w, []string{"Dataset", "Rows", "Time Field", "Fields"})
						for _, ds := range catalog {
							table.Append([]string{ds.Name, strconv.Itoa(ds.RowCount), ds.DateField, joinOrDash(ds.FieldKeys())})
						}
						table.Render()
					},
				})
			}

			for _, ds := range catalog {
				if ds.Name != args[0] {
					continue
				}
				return a.emit(cmd.OutOrStdout(), view{
					value: ds,
					table: func(w io.Writer) {
						table := newTable(w, []string{"Field", "Kind", "Role", "Cardinality", "Samples"})
						for _, f := range ds.Fields {
							table.Append([]string{f.Key, f.Kind, f.Role, f.CardinalityHint, joinOrDash(f.SampleValues)})
						}
						table.Render()
					},
				})
			}
			return fmt.Errorf("%w: %s", datastore.ErrNotFound, args[0])
		},
	}
}

// ── model ────────────────────────────────────────────────────────────────

func (a *app) modelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Show the text generator in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			info := translator.Info(cmd.Context(), p.Client())
			return a.emit(cmd.OutOrStdout(), view{
				value: info,
				table: func(w io.Writer) {
					writeKeyValues(w, [][2]string{
						{"provider", p.Client().Name()},
						{"alias", info.Alias},
						{"model_id", info.ModelID},
						{"device", info.Device},
						{"endpoint", info.Endpoint},
						{"connected", strconv.FormatBool(info.Connected)},
					})
				},
			})
		},
	}
}

// ── serve ────────────────────────────────────────────────────────────────

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.openPipeline(ctx)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.ListenAddr
			}

			metrics.BuildInfo.WithLabelValues(version, p.Client().Name()).Set(1)
			if cached, ok := p.Store().(*datastore.CachedStore); ok {
				if err := cached.Warm(ctx); err != nil {
					a.logger.Warn("⚠️ Dataset cache warm-up failed", "error", err)
				}
				if err := metrics.RegisterCacheStats(prometheus.DefaultRegisterer, cached.Stats); err != nil {
					return err
				}
			}

			srv := server.New(p, server.WithLogger(a.logger), server.WithVersion(version))
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from BANKQUERY_LISTEN_ADDR or :8080)")
	return cmd
}

// ── version ──────────────────────────────────────────────────────────────

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "bankquery %s\n", version)
			return err
		},
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────

// responseView renders a pipeline response.
func responseView(resp *pipeline.Response) view {
	res := resp.Result()
	title := fmt.Sprintf("%v · %v", resp.QueryPlan["domain"], resp.QueryPlan["dataset"])
	td := engine.BuildTable(title, res)
	return view{
		value: resp,
		table: func(w io.Writer) {
			writeKeyValues(w, [][2]string{
				{"run_id", resp.RunID},
				{"intent", fmt.Sprint(resp.QueryPlan["intent"])},
				{"retries", strconv.Itoa(resp.Retries)},
				{"validation_errors", joinOrDash(resp.ValidationErrors)},
			})
			writeResultTable(w, td, resp.SafetyNotes)
		},
		csv: td,
	}
}

// readInput reads the file named by args[0], or stdin for none or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return data, nil
}
