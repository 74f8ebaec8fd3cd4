package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/firmkit/layerkit/config"
	"github.com/firmkit/layerkit/internal/logging"
	"github.com/firmkit/layerkit/internal/reload"
	"github.com/firmkit/layerkit/processor"
	"github.com/firmkit/layerkit/telemetry"
	"github.com/firmkit/layerkit/validate"
)

func main() {
	cfgPath := flag.String("config", "layers.yaml", "Path to declaration file or directory")
	check := flag.Bool("check", false, "Validate composition ordering and exit")
	watch := flag.Bool("watch", false, "Keep running and revalidate when declaration files change")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load declarations")
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		collector = telemetry.Noop()
	}

	pipeline, err := processor.New(cfg, processor.WithLogger(logger), processor.WithCollector(collector))
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid declarations")
	}

	if *check {
		code := executeCheck(pipeline)
		cleanup()
		os.Exit(code)
	}

	if err := printConfiguration(pipeline); err != nil {
		logger.Fatal().Err(err).Msg("failed to evaluate configuration")
	}

	if *watch {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if err := runWatch(ctx, *cfgPath, pipeline, logger, collector); err != nil && err != context.Canceled {
			logger.Fatal().Err(err).Msg("watch stopped with error")
		}
	}
}

func executeCheck(pipeline *processor.Pipeline) int {
	report := pipeline.Validate()
	if report.Empty() {
		fmt.Println("Composition order OK.")
		return 0
	}
	fmt.Printf("Found %d ordering violation(s):\n", report.Len())
	for _, violation := range report.Violations {
		printViolation(violation)
	}
	return 1
}

func printViolation(violation validate.Violation) {
	fmt.Printf("  - %s: %s\n", violation.Symbol, violation.Reason)
	fmt.Printf("    rank: %d\n", violation.Rank)
	if violation.Detail != "" {
		fmt.Printf("    %s\n", violation.Detail)
	}
}

func printConfiguration(pipeline *processor.Pipeline) error {
	resolved := pipeline.Resolved()
	derived, err := pipeline.Derived()
	if err != nil {
		return err
	}

	fmt.Println("Resolved constants:")
	if resolved.Len() == 0 {
		fmt.Println("  <none>")
	}
	for _, sym := range resolved.Symbols() {
		binding, _ := resolved.Lookup(sym)
		fmt.Printf("  %s = %s [%s]\n", sym, binding.Value, binding.Origin)
	}

	fmt.Println("Derived constants:")
	outputs := pipeline.DerivedOutputs()
	if len(outputs) == 0 {
		fmt.Println("  <none>")
	}
	for _, sym := range outputs {
		value := derived[sym]
		inputs := make([]string, len(value.Inputs))
		for i, input := range value.Inputs {
			inputs[i] = string(input)
		}
		fmt.Printf("  %s = %s (from %s)\n", sym, value.Value, strings.Join(inputs, ", "))
	}
	return nil
}

func runWatch(ctx context.Context, cfgPath string, pipeline *processor.Pipeline, logger zerolog.Logger, collector telemetry.Collector) error {
	watcher, err := reload.NewWatcher(cfgPath, pipeline.Config())
	if err != nil {
		return fmt.Errorf("create declaration watcher: %w", err)
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changes, err := watcher.Check()
			if err != nil {
				logger.Error().Err(err).Msg("failed to check declaration changes")
				continue
			}
			if len(changes) == 0 {
				continue
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Error().Err(err).Msg("failed to reload declarations")
				continue
			}
			if err := pipeline.Reload(cfg); err != nil {
				logger.Error().Err(err).Msg("reloaded declarations invalid")
				continue
			}
			if err := watcher.Update(cfgPath, cfg); err != nil {
				logger.Error().Err(err).Msg("failed to update watcher state")
			}
			for _, file := range changes {
				collector.IncHotReload(file)
			}
			report := pipeline.Validate()
			if !report.Empty() {
				logger.Warn().Int("violations", report.Len()).Msg("ordering violations after reload")
			}
			if err := printConfiguration(pipeline); err != nil {
				logger.Error().Err(err).Msg("failed to evaluate reloaded configuration")
			}
		}
	}
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
