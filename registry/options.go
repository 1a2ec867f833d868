package registry

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/timzifer/connreg/telemetry"
)

// Option configures the registry during construction.
type Option func(*settings) error

type settings struct {
	logger        zerolog.Logger
	telemetry     telemetry.Collector
	warmupWorkers int
}

// WithLogger provides a custom logger instance for the registry.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		return nil
	}
}

// WithTelemetry injects a collector that records registrations and connect attempts.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		return nil
	}
}

// WithWarmupWorkers limits the number of concurrent connects performed by Warmup.
func WithWarmupWorkers(workers int) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if workers < 1 {
			return fmt.Errorf("warmup workers must be positive, got %d", workers)
		}
		cfg.warmupWorkers = workers
		return nil
	}
}
