package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/spektr-org/bankquery/config"
	"github.com/spektr-org/bankquery/datastore"
	"github.com/spektr-org/bankquery/engine"
	"github.com/spektr-org/bankquery/pipeline"
	"github.com/spektr-org/bankquery/translator"
)

// ============================================================================
// BANKQUERY CLI — Banking questions → validated QueryPlans → results
// ============================================================================

var version = "0.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds the state shared by every command.
type app struct {
	verbose    bool
	configPath string
	format     string
	outPath    string
	stderr     io.Writer

	cfg    *config.Config
	logger *slog.Logger
	store  datastore.Store
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}

	root := &cobra.Command{
		Use:   "bankquery",
		Short: "Banking analytics questions answered through validated query plans.",
		Long: `bankquery turns a banking analytics question into a schema-valid QueryPlan,
repairs model output that does not validate, and executes the plan over
local datasets.

Environment:
  BANKQUERY_PROVIDER   mock, foundry (default), gemini, anthropic
  MOCK_MODE=1          force the deterministic mock generator
  GEMINI_API_KEY       required for the gemini provider
  ANTHROPIC_API_KEY    required for the anthropic provider
  BANKQUERY_STORE      embed (default), dir, duckdb`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "set debug logging level")
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file overlaying the environment")
	flags.StringVarP(&a.format, "format", "f", formatJSON, "output format: json, pretty, table, csv")
	flags.StringVarP(&a.outPath, "out", "o", "", "write output to a file instead of stdout")

	root.AddCommand(
		a.askCmd(),
		a.runCmd(),
		a.validateCmd(),
		a.executeCmd(),
		a.schemaCmd(),
		a.datasetsCmd(),
		a.modelCmd(),
		a.serveCmd(),
		a.versionCmd(),
	)
	return root
}

// setup loads configuration and installs the logger.
func (a *app) setup() error {
	switch a.format {
	case formatJSON, formatPretty, formatTable, formatCSV:
	default:
		return fmt.Errorf("unknown format %q", a.format)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	level := cfg.SlogLevel()
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(tint.NewHandler(a.stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(a.logger)

	for _, w := range cfg.Warnings {
		a.logger.Warn("⚠️ Config: " + w)
	}
	return nil
}

// openPipeline opens the store and the text generator named by the config.
func (a *app) openPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	store, err := datastore.Open(a.cfg.StoreOptions(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store

	client, err := translator.NewClient(ctx, a.cfg.Translator(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", a.cfg.Provider, err)
	}
	a.logger.Debug("🔧 Generator ready", "provider", client.Name(), "model", a.cfg.Model)

	return pipeline.New(
		pipeline.WithClient(client, a.cfg.GeneratorRetries),
		pipeline.WithStore(store),
		pipeline.WithLogger(a.logger),
		pipeline.WithEngineOptions(
			engine.WithRowCap(a.cfg.RowCap),
			engine.WithJurisdiction(a.cfg.Jurisdiction, a.cfg.Currency),
		),
	), nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
