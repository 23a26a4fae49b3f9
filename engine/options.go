package engine

import "log/slog"

// ============================================================================
// ENGINE OPTIONS — Functional options for Execute()
// ============================================================================

// Option configures engine behavior via functional options pattern.
type Option func(*config)

type config struct {
	Store                Store
	Logger               *slog.Logger
	RowCap               int     // passthrough row limit
	DefaultFlagThreshold float64 // NSFR breach threshold when the plan sets none
	Jurisdiction         string  // threshold table lookup key
	Currency             string
	DefaultThreshold     float64 // used when no threshold row matches
}

// WithStore sets the dataset source. Execute fails every plan without one.
func WithStore(s Store) Option {
	return func(c *config) {
		c.Store = s
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithRowCap limits passthrough results. Values <= 0 are ignored.
func WithRowCap(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.RowCap = n
		}
	}
}

// WithDefaultFlagThreshold sets the NSFR breach threshold (percent)
// used when post_processing.flag_threshold is absent.
func WithDefaultFlagThreshold(pct float64) Option {
	return func(c *config) {
		c.DefaultFlagThreshold = pct
	}
}

// WithJurisdiction selects the cash-reporting threshold row
// (e.g., "UK", "GBP") used for structuring detection.
func WithJurisdiction(jurisdiction, currency string) Option {
	return func(c *config) {
		c.Jurisdiction = jurisdiction
		c.Currency = currency
	}
}

// applyOptions creates a config from functional options.
func applyOptions(opts []Option) *config {
	cfg := &config{
		Logger:               slog.Default(),
		RowCap:               50,
		DefaultFlagThreshold: 100.0,
		Jurisdiction:         "UK",
		Currency:             "GBP",
		DefaultThreshold:     10000,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
