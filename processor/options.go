package processor

import (
	"github.com/rs/zerolog"

	"github.com/firmkit/layerkit/telemetry"
)

// Option configures the pipeline during construction.
type Option func(*settings) error

type settings struct {
	logger    zerolog.Logger
	collector telemetry.Collector
}

// WithLogger provides a custom logger instance for the pipeline.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		return nil
	}
}

// WithCollector installs a telemetry collector for rebuild and validation events.
func WithCollector(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.collector = collector
		return nil
	}
}
