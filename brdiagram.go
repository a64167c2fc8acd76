// Package brdiagram turns a Business Requirements Document into three
// Mermaid diagrams: a data-flow diagram, a decision-logic flowchart and an
// entity-relationship diagram.
//
// A Pipeline normalizes the input to plain text, then either hands the
// whole text to a tool-calling agent or runs fact extraction followed by
// the three synthesizers directly. The choice is made once in New. Every
// run ends by writing the markup files and attempting SVG and PDF output.
package brdiagram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/brdiagram/agent"
	"github.com/brunobiangulo/brdiagram/diagram"
	"github.com/brunobiangulo/brdiagram/facts"
	"github.com/brunobiangulo/brdiagram/llm"
	"github.com/brunobiangulo/brdiagram/logging"
	"github.com/brunobiangulo/brdiagram/parser"
	"github.com/brunobiangulo/brdiagram/render"
	"github.com/brunobiangulo/brdiagram/store"
)

// StrategyDirect names the fallback that runs extraction and synthesis
// without an agent.
const StrategyDirect = "direct"

// Pipeline is the main entry point.
type Pipeline interface {
	// Run processes one BRD. The returned error is non-nil only when there
	// is no text to process (ErrInputAbsent) or ctx ends; stage failures
	// are reported in the Result.
	Run(ctx context.Context, in Input) (*Result, error)

	// Strategy returns the strategy chosen at construction.
	Strategy() string

	// Tools returns ParseBRD, GenDFD, GenLogic and GenDB for use outside a run.
	Tools() []agent.Tool

	// History returns the run history store, or nil when disabled.
	History() *store.Store

	// OutputDir returns the directory receiving generated files.
	OutputDir() string

	// Close releases the history database and any browser.
	Close() error
}

// Input is one BRD: plain text, an uploaded file (Data with Filename), or
// a file path. A file takes precedence over Text.
type Input struct {
	Text     string
	Filename string
	Data     []byte
	Path     string
}

// Artifact is one generated diagram.
type Artifact = diagram.Artifact

// Status summarizes a run.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// StageFailure records a failed stage. Kind is set for per-diagram stages.
type StageFailure struct {
	Stage   string       `json:"stage"` // ingest, extract, agent, synthesize, render, convert
	Kind    diagram.Kind `json:"kind,omitempty"`
	Err     error        `json:"-"`
	Message string       `json:"error"`
}

func newFailure(stage string, kind diagram.Kind, err error) StageFailure {
	return StageFailure{Stage: stage, Kind: kind, Err: err, Message: err.Error()}
}

func (f StageFailure) String() string {
	if f.Kind != "" {
		return fmt.Sprintf("%s %s: %s", f.Stage, f.Kind, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Stage, f.Message)
}

// Result is the outcome of one run. Artifacts are always in the order dfd,
// logic, erd.
type Result struct {
	RunID     string           `json:"run_id"`
	Strategy  string           `json:"strategy"`
	Source    string           `json:"source"`
	Facts     *facts.Facts     `json:"facts,omitempty"`
	Artifacts []Artifact       `json:"artifacts"`
	Summary   string           `json:"summary"`
	Warnings  []string         `json:"warnings,omitempty"`
	Failures  []StageFailure   `json:"failures,omitempty"`
	Status    Status           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	Timings   map[string]int64 `json:"timings_ms"`
}

// Artifact returns the artifact of the given kind.
func (r *Result) Artifact(kind diagram.Kind) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return Artifact{}, false
}

// Option customizes New.
type Option func(*options)

type options struct {
	provider     llm.Provider
	renderer     render.Renderer
	converter    render.Converter
	constructors []agent.Constructor
	parsers      *parser.Registry
}

// WithProvider uses p instead of building a provider from Config.LLM. No
// credential check is made.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithRenderer replaces the configured markup renderer.
func WithRenderer(r render.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithConverter replaces the configured SVG to PDF converter.
func WithConverter(c render.Converter) Option {
	return func(o *options) { o.converter = c }
}

// WithStrategies replaces the constructors named in Config.Agent.
func WithStrategies(cs ...agent.Constructor) Option {
	return func(o *options) { o.constructors = cs }
}

// WithParsers replaces the built-in parser registry.
func WithParsers(reg *parser.Registry) Option {
	return func(o *options) { o.parsers = reg }
}

// pipeline is the concrete implementation of Pipeline.
type pipeline struct {
	cfg           Config
	log           *slog.Logger
	parsers       *parser.Registry
	extractor     *facts.Extractor
	synth         *diagram.Synthesizer
	strategy      agent.Strategy
	tools         []agent.Tool
	persister     *render.Persister
	renderEnabled bool
	chrome        *render.Chrome
	history       *store.Store

	mu     sync.Mutex
	closed bool
}

// New builds a Pipeline. The strategy is selected here and stays fixed for
// the Pipeline's lifetime.
func New(cfg Config, opts ...Option) (Pipeline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider := o.provider
	if provider == nil {
		if llm.RequiresAPIKey(cfg.LLM.Provider) && cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("%w: provider %s needs an API key (set %s)",
				ErrMissingCredential, cfg.LLM.Provider, llm.KeyEnvVar(cfg.LLM.Provider))
		}
		var err error
		provider, err = llm.NewProvider(llm.Config{
			Provider:   cfg.LLM.Provider,
			Model:      cfg.LLM.Model,
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			Timeout:    cfg.LLM.timeout(),
			MaxRetries: cfg.LLM.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	p := &pipeline{
		cfg:       cfg,
		log:       logging.New("pipeline"),
		parsers:   o.parsers,
		extractor: facts.New(provider, facts.Config{Model: cfg.LLM.Model, Temperature: cfg.LLM.Temperature, Validate: cfg.Facts.Validate}),
		synth:     diagram.NewSynthesizer(provider, cfg.LLM.Model, cfg.LLM.Temperature),
	}
	if p.parsers == nil {
		p.parsers = parser.NewRegistry()
	}
	p.tools = p.buildTools()

	constructors := o.constructors
	if constructors == nil {
		var err error
		constructors, err = agent.ConstructorsByName(cfg.Agent.Strategies)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	strategy, skipped, err := agent.Select(constructors, agent.Deps{
		Provider:         provider,
		Tools:            p.tools,
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		MaxTurns:         cfg.Agent.MaxTurns,
		MaxParseFailures: cfg.Agent.MaxParseFailures,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, ue := range skipped {
		p.log.Info("strategy unavailable", "strategy", ue.Strategy, "reason", ue.Reason)
	}
	p.strategy = strategy

	p.setupRender(o)

	if cfg.History.Enabled {
		s, err := store.New(cfg.History.resolveDBPath())
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		p.history = s
	}

	p.log.Info("pipeline ready", "strategy", p.Strategy(), "provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model, "render", p.renderEnabled)
	return p, nil
}

func (p *pipeline) setupRender(o *options) {
	rc := p.cfg.Render
	timeout := time.Duration(rc.TimeoutSec) * time.Second

	var renderer render.Renderer
	var converter render.Converter
	if rc.Enabled {
		p.renderEnabled = true
		renderer = o.renderer
		if renderer == nil {
			if rc.Renderer == "chrome" {
				renderer = p.chromeInstance()
			} else {
				renderer = render.NewInkRenderer(rc.InkBaseURL, timeout)
			}
		}
		if rc.ConvertPDF {
			converter = o.converter
			if converter == nil {
				converter = p.chromeInstance()
			}
		}
	}
	p.persister = render.NewPersister(renderer, converter)
}

func (p *pipeline) chromeInstance() *render.Chrome {
	if p.chrome == nil {
		p.chrome = render.NewChrome(p.cfg.Render.MermaidScriptURL, time.Duration(p.cfg.Render.TimeoutSec)*time.Second)
	}
	return p.chrome
}

func (p *pipeline) Strategy() string {
	if p.strategy == nil {
		return StrategyDirect
	}
	return p.strategy.Name()
}

func (p *pipeline) Tools() []agent.Tool {
	out := make([]agent.Tool, len(p.tools))
	copy(out, p.tools)
	return out
}

func (p *pipeline) History() *store.Store { return p.history }

func (p *pipeline) OutputDir() string { return p.cfg.OutputDir }

func (p *pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.chrome != nil {
		errs = append(errs, p.chrome.Close())
	}
	if p.history != nil {
		errs = append(errs, p.history.Close())
	}
	return errors.Join(errs...)
}

func (p *pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Run processes one BRD through ingestion, generation and persistence.
func (p *pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	start := time.Now()
	res := &Result{
		RunID:     ulid.Make().String(),
		Strategy:  p.Strategy(),
		StartedAt: start,
		Timings:   make(map[string]int64),
	}
	log := p.log.With("run", res.RunID)

	// Ingest.
	doc, err := parser.Normalize(ctx, p.parsers, parser.Source{
		Text: in.Text,
		Name: in.Filename,
		Data: in.Data,
		Path: in.Path,
	})
	res.Timings["ingest"] = time.Since(start).Milliseconds()
	if doc != nil {
		res.Source = doc.Source
		res.Warnings = append(res.Warnings, doc.Warnings...)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		res.Status = StatusFailed
		res.Summary = "No BRD text to process."
		res.Timings["total"] = time.Since(start).Milliseconds()
		if errors.Is(err, parser.ErrDecode) {
			ingestErr := fmt.Errorf("%w: %v", ErrIngestionFailed, err)
			res.Failures = append(res.Failures, newFailure("ingest", "", ingestErr))
			log.Warn("ingest failed, treating input as absent", "source", res.Source, "error", err)
			return res, fmt.Errorf("%w: %w", ErrInputAbsent, ingestErr)
		}
		log.Warn("no input text", "source", res.Source)
		return res, ErrInputAbsent
	}

	log.Info("run started", "source", res.Source, "strategy", res.Strategy, "chars", len(doc.Text))

	// Generate.
	genStart := time.Now()
	if p.strategy != nil {
		p.runAgent(ctx, doc.Text, res)
	} else {
		p.runDirect(ctx, doc.Text, res)
	}
	res.Timings["generate"] = time.Since(genStart).Milliseconds()

	// Persist and render.
	renderStart := time.Now()
	artifacts, err := p.persister.PersistAndRender(ctx, res.Artifacts, p.cfg.OutputDir)
	res.Artifacts = artifacts
	if err != nil {
		res.Warnings = append(res.Warnings, err.Error())
		log.Warn("persist failed", "dir", p.cfg.OutputDir, "error", err)
	}
	p.recordFileFailures(res)
	res.Timings["render"] = time.Since(renderStart).Milliseconds()

	res.Status = runStatus(res)
	if res.Summary == "" {
		res.Summary = directSummary(res)
	}
	res.Timings["total"] = time.Since(start).Milliseconds()

	p.recordHistory(ctx, doc.Text, res)

	log.Info("run complete", "status", res.Status, "failures", len(res.Failures),
		"duration_ms", res.Timings["total"])
	return res, ctx.Err()
}

// runDirect extracts facts once and fans the same facts string out to the
// three synthesizers.
func (p *pipeline) runDirect(ctx context.Context, text string, res *Result) {
	f, err := p.extractor.Extract(ctx, text)
	if err != nil {
		genErr := fmt.Errorf("%w: extraction: %v", ErrGenerationFailed, err)
		res.Failures = append(res.Failures, newFailure("extract", "", genErr))
		res.Artifacts = skippedArtifacts("skipped: fact extraction failed")
		p.log.Warn("extraction failed", "error", err)
		return
	}
	res.Facts = f
	if f.Unstructured {
		res.Warnings = append(res.Warnings, "extracted facts did not validate ("+f.ParseError+"); diagrams use the raw response")
	}
	p.log.Debug("extraction complete", "attempts", f.Attempts, "unstructured", f.Unstructured)

	results := make([]Artifact, len(diagram.Kinds))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for i, kind := range diagram.Kinds {
		factsRaw := f.Raw
		g.Go(func() error {
			results[i] = Artifact{Kind: kind}
			markup, err := p.synth.Synthesize(ctx, kind, factsRaw)
			if err == nil && strings.TrimSpace(markup) == "" {
				err = fmt.Errorf("%s synthesis returned an empty response", kind)
			}
			if err != nil {
				results[i].Err = fmt.Errorf("%w: %v", ErrGenerationFailed, err).Error()
				return nil
			}
			results[i].Markup = markup
			return nil
		})
	}
	g.Wait()

	for _, a := range results {
		if a.Err != "" {
			res.Failures = append(res.Failures, StageFailure{
				Stage:   "synthesize",
				Kind:    a.Kind,
				Err:     ErrGenerationFailed,
				Message: a.Err,
			})
			p.log.Warn("synthesis failed", "kind", a.Kind, "error", a.Err)
		}
	}
	res.Artifacts = results
}

// runAgent delegates the whole text to the strategy and collects what its
// tool calls produced.
func (p *pipeline) runAgent(ctx context.Context, text string, res *Result) {
	col := newCollector()
	answer, err := p.strategy.Run(withCollector(ctx, col), text)
	if err != nil {
		genErr := fmt.Errorf("%w: agent: %v", ErrGenerationFailed, err)
		res.Failures = append(res.Failures, newFailure("agent", "", genErr))
		p.log.Warn("agent run failed", "strategy", p.strategy.Name(), "error", err)
	}
	res.Summary = strings.TrimSpace(answer)
	res.Facts = col.facts()
	if res.Facts != nil && res.Facts.Unstructured {
		res.Warnings = append(res.Warnings, "extracted facts did not validate ("+res.Facts.ParseError+")")
	}

	res.Artifacts = col.artifacts()
	for _, a := range res.Artifacts {
		if a.Err != "" {
			res.Failures = append(res.Failures, StageFailure{
				Stage:   "synthesize",
				Kind:    a.Kind,
				Err:     ErrGenerationFailed,
				Message: a.Err,
			})
		}
	}
}

// recordFileFailures turns per-artifact file step errors into stage
// failures. Render errors are only failures when rendering is enabled.
func (p *pipeline) recordFileFailures(res *Result) {
	for _, a := range res.Artifacts {
		if a.WriteErr != "" {
			res.Failures = append(res.Failures, StageFailure{Stage: "persist", Kind: a.Kind, Err: ErrRenderFailed, Message: a.WriteErr})
		}
		if !p.renderEnabled {
			continue
		}
		if a.RenderErr != "" {
			res.Failures = append(res.Failures, StageFailure{Stage: "render", Kind: a.Kind, Err: ErrRenderFailed, Message: a.RenderErr})
		}
		if a.ConvertErr != "" {
			res.Failures = append(res.Failures, StageFailure{Stage: "convert", Kind: a.Kind, Err: ErrRenderFailed, Message: a.ConvertErr})
		}
	}
}

func (p *pipeline) recordHistory(ctx context.Context, text string, res *Result) {
	if p.history == nil {
		return
	}

	run := store.Run{
		ID:         res.RunID,
		Source:     res.Source,
		SourceHash: store.HashContent(text),
		Strategy:   res.Strategy,
		Model:      p.cfg.LLM.Model,
		Status:     string(res.Status),
		Summary:    res.Summary,
		Warnings:   res.Warnings,
		DurationMS: res.Timings["total"],
		Artifacts:  res.Artifacts,
	}
	if res.Facts != nil {
		run.FactsRaw = res.Facts.Raw
		run.Unstructured = res.Facts.Unstructured
	}
	for _, f := range res.Failures {
		run.Failures = append(run.Failures, f.String())
	}

	// Record even when the run's context was cancelled.
	if err := p.history.InsertRun(context.WithoutCancel(ctx), run); err != nil {
		p.log.Warn("recording run history failed", "run", res.RunID, "error", err)
	}
}

func skippedArtifacts(reason string) []Artifact {
	out := make([]Artifact, len(diagram.Kinds))
	for i, k := range diagram.Kinds {
		out[i] = Artifact{Kind: k, Err: reason}
	}
	return out
}

// runStatus is complete when all three diagrams have markup and no
// generation stage failed, failed when none has markup, and partial
// otherwise. File step failures do not affect it.
func runStatus(res *Result) Status {
	ok := 0
	for _, a := range res.Artifacts {
		if a.OK() {
			ok++
		}
	}
	genFailures := 0
	for _, f := range res.Failures {
		if !errors.Is(f.Err, ErrRenderFailed) {
			genFailures++
		}
	}
	switch {
	case ok == 0:
		return StatusFailed
	case ok == len(diagram.Kinds) && genFailures == 0:
		return StatusComplete
	default:
		return StatusPartial
	}
}

func directSummary(res *Result) string {
	var done, failed []string
	for _, a := range res.Artifacts {
		if a.OK() {
			done = append(done, a.Kind.Title())
		} else {
			failed = append(failed, a.Kind.Title())
		}
	}
	s := fmt.Sprintf("Generated %d of %d diagrams", len(done), len(diagram.Kinds))
	if len(done) > 0 {
		s += " (" + strings.Join(done, ", ") + ")"
	}
	if len(failed) > 0 {
		s += "; failed: " + strings.Join(failed, ", ")
	}
	return s + "."
}
