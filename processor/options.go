package processor

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/connreg/config"
	"github.com/timzifer/connreg/drivers/bundle"
	"github.com/timzifer/connreg/runtime/connections"
	"github.com/timzifer/connreg/telemetry"
)

// WithLogger provides a custom logger instance for the processor.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		cfg.customLogger = true
		return nil
	}
}

// WithConfigPath configures the processor to load configuration data from the provided path.
// The optional register callback receives the processor's Reload function.
func WithConfigPath(path string, register func(ReloadFunc)) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.configPath = strings.TrimSpace(path)
		cfg.registerReload = register
		return nil
	}
}

// WithConfig supplies an already loaded configuration instance.
func WithConfig(cfgData *config.Config) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.config = cfgData
		return nil
	}
}

// WithTelemetry injects a collector instance overriding the default configuration-based behaviour.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		cfg.telemetryProvided = true
		return nil
	}
}

// WithConnector replaces the bundled driver dispatcher.
func WithConnector(connector connections.Connector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if connector == nil {
			return errors.New("connector must not be nil")
		}
		cfg.connector = connector
		return nil
	}
}

// WithDriver adds or overrides the connector used for an address prefix of
// the bundled dispatcher. It has no effect when WithConnector is used.
func WithDriver(prefix string, connector connections.Connector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.drivers = append(cfg.drivers, bundle.WithConnector(prefix, connector))
		return nil
	}
}
