// Package processor wires loaded declarations into the composition pipeline.
//
// A Pipeline owns the fixed evaluation order: resolve first, derive second.
// Derived constants are computed lazily on first read after a rebuild and
// cached until the next rebuild or reload. A Pipeline is built for
// single-goroutine use; all of its inputs are immutable snapshots.
package processor

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/firmkit/layerkit/config"
	"github.com/firmkit/layerkit/derive"
	"github.com/firmkit/layerkit/resolve"
	"github.com/firmkit/layerkit/telemetry"
	"github.com/firmkit/layerkit/validate"
)

// Pipeline composes override layers with the default table and evaluates
// derivations over the result.
type Pipeline struct {
	cfg       *config.Config
	logger    zerolog.Logger
	collector telemetry.Collector

	layers   []*resolve.ConstantSet
	defaults *resolve.DefaultProvider
	engine   *derive.Engine
	critical []resolve.Symbol

	resolved *resolve.Configuration
	derived  map[resolve.Symbol]derive.Derived
}

// New constructs a pipeline from the loaded configuration.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	settings := settings{
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	pipeline := &Pipeline{
		cfg:       cfg,
		logger:    settings.logger,
		collector: settings.collector,
	}
	if err := pipeline.build(cfg); err != nil {
		return nil, err
	}
	return pipeline, nil
}

func (p *Pipeline) build(cfg *config.Config) error {
	layers := make([]*resolve.ConstantSet, 0, len(cfg.Layers))
	for _, layerCfg := range cfg.Layers {
		if layerCfg.Name == "" {
			return fmt.Errorf("layer declared in %s has no name", layerCfg.Source.File)
		}
		entries := toEntries(layerCfg.Symbols)
		set, err := resolve.NewConstantSet(layerCfg.Name, entries)
		if err != nil {
			return fmt.Errorf("layer %s (%s): %w", layerCfg.Name, layerCfg.Source.File, err)
		}
		layers = append(layers, set)
	}

	defaultsName := "defaults"
	var defaultEntries []resolve.Entry
	if cfg.Defaults != nil {
		if cfg.Defaults.Name != "" {
			defaultsName = cfg.Defaults.Name
		}
		defaultEntries = toEntries(cfg.Defaults.Symbols)
	}
	defaults := resolve.NewDefaultProvider(defaultsName, defaultEntries)

	specs := make([]derive.Spec, 0, len(cfg.Derivations))
	for _, derivationCfg := range cfg.Derivations {
		inputs := make([]resolve.Symbol, len(derivationCfg.Inputs))
		for i, input := range derivationCfg.Inputs {
			inputs[i] = resolve.Symbol(input)
		}
		specs = append(specs, derive.Spec{
			Output:     resolve.Symbol(derivationCfg.Symbol),
			Inputs:     inputs,
			Expression: derivationCfg.Expression,
		})
	}
	engine, err := derive.NewEngine(specs)
	if err != nil {
		return err
	}

	// Derived constants are never directly overridable; only their inputs are.
	for _, output := range engine.Outputs() {
		for _, layer := range layers {
			if _, ok := layer.Lookup(output); ok {
				return fmt.Errorf("derived symbol %s is also declared by layer %s", output, layer.Name())
			}
		}
		if _, ok := defaults.DefaultFor(output); ok {
			return fmt.Errorf("derived symbol %s is also declared by the default table %s", output, defaults.Name())
		}
	}

	critical := make([]resolve.Symbol, len(cfg.Critical))
	for i, sym := range cfg.Critical {
		critical[i] = resolve.Symbol(sym)
	}

	p.cfg = cfg
	p.layers = layers
	p.defaults = defaults
	p.engine = engine
	p.critical = critical
	p.resolved = nil
	p.derived = nil
	return nil
}

// Rebuild resolves the layer sequence from scratch and invalidates the
// derived cache.
func (p *Pipeline) Rebuild() *resolve.Configuration {
	p.resolved = resolve.Resolve(p.layers, p.defaults)
	p.derived = nil
	p.collector.IncRebuild()
	p.collector.SetResolvedSymbols(p.resolved.Len())
	p.logger.Debug().Int("symbols", p.resolved.Len()).Msg("configuration rebuilt")
	return p.resolved
}

// Resolved returns the current resolved configuration, rebuilding on first use.
func (p *Pipeline) Resolved() *resolve.Configuration {
	if p.resolved == nil {
		return p.Rebuild()
	}
	return p.resolved
}

// Derived computes the derived constants for the current resolved
// configuration. The result is cached until the next rebuild.
func (p *Pipeline) Derived() (map[resolve.Symbol]derive.Derived, error) {
	if p.derived != nil {
		return p.derived, nil
	}
	resolved := p.Resolved()
	derived, err := p.engine.DeriveAll(resolved)
	if err != nil {
		return nil, err
	}
	p.derived = derived
	return derived, nil
}

// Validate lints the declared ordering against the critical symbol list.
// Violations are reported, logged and counted, never returned as errors.
func (p *Pipeline) Validate() validate.Report {
	report := validate.Check(p.layers, p.defaults, p.critical, p.engine.Specs())
	for _, violation := range report.Violations {
		p.collector.IncOrderingViolation(string(violation.Symbol))
		p.logger.Warn().
			Str("symbol", string(violation.Symbol)).
			Str("reason", string(violation.Reason)).
			Int("rank", violation.Rank).
			Msg(violation.Detail)
	}
	return report
}

// Reload swaps in a new configuration and drops all cached state.
func (p *Pipeline) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	return p.build(cfg)
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Critical returns the declared critical symbols.
func (p *Pipeline) Critical() []resolve.Symbol {
	out := make([]resolve.Symbol, len(p.critical))
	copy(out, p.critical)
	return out
}

// DerivedOutputs lists the derived symbols in evaluation order.
func (p *Pipeline) DerivedOutputs() []resolve.Symbol {
	return p.engine.Outputs()
}

func toEntries(table config.SymbolTable) []resolve.Entry {
	entries := make([]resolve.Entry, 0, len(table.Entries))
	for _, entry := range table.Entries {
		entries = append(entries, resolve.Entry{
			Symbol: resolve.Symbol(entry.Symbol),
			Value:  entry.Value,
		})
	}
	return entries
}
