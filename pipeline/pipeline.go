// Package pipeline wires generation, validation with repair, and execution
// into a single question-to-result run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spektr-org/bankquery/datastore"
	"github.com/spektr-org/bankquery/engine"
	"github.com/spektr-org/bankquery/metrics"
	"github.com/spektr-org/bankquery/schema"
	"github.com/spektr-org/bankquery/translator"
)

// ============================================================================
// PIPELINE — Question → QueryPlan → Result
// ============================================================================
// Stages:
//   1. Generator  — prompt the text generator (retry, then deterministic mock)
//   2. Controller — validate, repair up to MaxRetries, else an error plan
//   3. Executor   — run the plan over the dataset store
//
// Each stage appends one line to the response trace.
// ============================================================================

// AutoDomain is the domain hint that means "let the generator decide".
const AutoDomain = "Auto"

// Response is the outcome of one pipeline run.
type Response struct {
	RunID            string         `json:"run_id"`
	Question         string         `json:"question,omitempty"`
	QueryPlan        map[string]any `json:"query_plan"`
	Results          []engine.Row   `json:"results"`
	Summary          map[string]any `json:"summary"`
	SafetyNotes      []string       `json:"safety_notes"`
	Retries          int            `json:"retries"`
	ValidationErrors []string       `json:"validation_errors"`
	Trace            []string       `json:"trace"`
}

// Result returns the execution part of the response.
func (r *Response) Result() *engine.Result {
	return &engine.Result{Results: r.Results, Summary: r.Summary, SafetyNotes: r.SafetyNotes}
}

// Pipeline runs questions and raw generator output to results.
// It is safe for concurrent use once built.
type Pipeline struct {
	validator  *schema.Validator
	client     translator.Client
	attempts   uint
	completer  *translator.Fallback
	loop       *translator.RepairLoop
	store      datastore.Store
	engineOpts []engine.Option
	logger     *slog.Logger

	catalogOnce sync.Once
	catalog     []schema.DatasetInfo
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithValidator sets the plan validator. Default: schema.MustLoad().
func WithValidator(v *schema.Validator) Option {
	return func(p *Pipeline) {
		p.validator = v
	}
}

// WithClient sets the text generator and how many times each request is
// attempted before falling back to the mock. Default: the mock, 3 attempts.
func WithClient(c translator.Client, attempts uint) Option {
	return func(p *Pipeline) {
		p.client = c
		p.attempts = attempts
	}
}

// WithStore sets the dataset store. Default: the embedded reference data.
func WithStore(s datastore.Store) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// WithEngineOptions passes options through to engine.Execute.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(p *Pipeline) {
		p.engineOpts = append(p.engineOpts, opts...)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a Pipeline from options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		attempts: 3,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.validator == nil {
		p.validator = schema.MustLoad()
	}
	if p.client == nil {
		p.client = translator.NewMock()
	}
	if p.store == nil {
		p.store = datastore.NewEmbedded()
	}

	p.completer = translator.NewFallback(p.client, p.attempts, p.logger)
	p.loop = translator.NewRepairLoop(p.validator, p.completer, p.logger)
	return p
}

// Validator returns the validator the pipeline checks plans with.
func (p *Pipeline) Validator() *schema.Validator { return p.validator }

// Client returns the underlying text generator.
func (p *Pipeline) Client() translator.Client { return p.client }

// Store returns the dataset store.
func (p *Pipeline) Store() datastore.Store { return p.store }

// Ask generates a plan for question, then validates and executes it.
// hint may name a domain; "" and AutoDomain leave the choice to the generator.
func (p *Pipeline) Ask(ctx context.Context, question, hint string) *Response {
	if hint == AutoDomain {
		hint = ""
	}

	msgs := translator.BuildGenerationMessages(p.validator.Document(), translator.PromptInput{
		Question:   question,
		DomainHint: hint,
		Catalog:    p.Catalog(ctx),
	})

	start := time.Now()
	raw := p.completer.Complete(ctx, msgs, translator.GenerationTemperature, translator.MaxTokens)
	metrics.GenerationDuration.WithLabelValues(p.completer.Name()).Observe(time.Since(start).Seconds())
	p.logger.Info("🔧 Pipeline: generated plan text", "provider", p.completer.Name(), "chars", len(raw))

	resp := p.Run(ctx, raw, question)
	resp.Question = question
	resp.Trace = append([]string{fmt.Sprintf("[Generator] produced raw output (%d chars)", len(raw))}, resp.Trace...)
	return resp
}

// Run validates raw generator output (repairing it if needed) and executes
// the resulting plan. promptContext is the question the output answers.
func (p *Pipeline) Run(ctx context.Context, raw, promptContext string) *Response {
	resp := &Response{RunID: uuid.NewString()}

	plan, errs, retries := p.loop.Run(ctx, raw, promptContext)
	resp.QueryPlan = plan
	resp.Retries = retries
	resp.ValidationErrors = schema.Strings(errs)
	resp.Trace = append(resp.Trace, fmt.Sprintf("[Controller] valid=%t, retries=%d", len(errs) == 0, retries))

	decoded, err := engine.DecodePlan(plan)
	if err != nil {
		p.logger.Warn("⚠️ Pipeline: plan could not be decoded", "error", err)
		resp.QueryPlan = schema.BuildErrorPlan(text(plan, "domain"), text(plan, "dataset"),
			schema.ErrorTypeValidation, err.Error(), retries > 0)
		decoded = &engine.ErrorPlan{
			Domain:          text(resp.QueryPlan, "domain"),
			Dataset:         text(resp.QueryPlan, "dataset"),
			Type:            schema.ErrorTypeValidation,
			Message:         err.Error(),
			RepairAttempted: retries > 0,
		}
	}

	_, isError := decoded.(*engine.ErrorPlan)
	metrics.ObservePlan(decoded.PlanDomain(), retries, isError)

	res := p.Execute(ctx, decoded)
	resp.Results = res.Results
	resp.Summary = res.Summary
	resp.SafetyNotes = res.SafetyNotes
	resp.Trace = append(resp.Trace, fmt.Sprintf("[Executor] %d results", len(res.Results)))

	p.logger.Info("✅ Pipeline: run complete",
		"run_id", resp.RunID,
		"domain", decoded.PlanDomain(),
		"dataset", decoded.PlanDataset(),
		"retries", retries,
		"results", len(res.Results),
	)
	return resp
}

// Execute runs an already-decoded plan against the pipeline's store.
func (p *Pipeline) Execute(ctx context.Context, plan engine.Plan) *engine.Result {
	opts := append([]engine.Option{engine.WithStore(p.store), engine.WithLogger(p.logger)}, p.engineOpts...)

	start := time.Now()
	res := engine.Execute(ctx, plan, opts...)
	if _, ok := plan.(*engine.WellFormedPlan); ok {
		metrics.ObserveExecution(plan.PlanDataset(), res.Failed(), len(res.Results), time.Since(start))
	}
	return res
}

// Catalog describes every dataset in the store. It is computed once;
// datasets that fail to load are skipped.
func (p *Pipeline) Catalog(ctx context.Context) []schema.DatasetInfo {
	p.catalogOnce.Do(func() {
		for _, name := range p.store.Datasets() {
			rows, err := p.store.Load(ctx, name)
			if err != nil {
				p.logger.Warn("⚠️ Pipeline: dataset skipped in catalog", "dataset", name, "error", err)
				continue
			}
			dateField, _ := engine.DateField(name)
			p.catalog = append(p.catalog, schema.Describe(name, rows, schema.DescribeOptions{DateField: dateField}))
		}
		p.logger.Debug("📊 Pipeline: catalog built", "datasets", len(p.catalog))
	})
	return p.catalog
}

func text(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
