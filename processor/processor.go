package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/connreg/config"
	"github.com/timzifer/connreg/drivers/bundle"
	"github.com/timzifer/connreg/internal/logging"
	"github.com/timzifer/connreg/internal/reload"
	"github.com/timzifer/connreg/registry"
	"github.com/timzifer/connreg/runtime/connections"
	"github.com/timzifer/connreg/telemetry"
)

// ReloadFunc represents a function that reloads the processor configuration.
type ReloadFunc func(ctx context.Context) error

// Option configures the processor during construction.
type Option func(*settings) error

type settings struct {
	config            *config.Config
	configPath        string
	registerReload    func(ReloadFunc)
	logger            zerolog.Logger
	customLogger      bool
	telemetry         telemetry.Collector
	telemetryProvided bool
	connector         connections.Connector
	drivers           []bundle.Option
}

// definition is the registered form of a configured connection. Reload
// compares definitions to decide which connections must be re-registered.
type definition struct {
	spec    connections.Spec
	options connections.Options
}

// Processor keeps a registry in sync with its configuration files.
type Processor struct {
	mu       sync.Mutex
	reloadMu sync.Mutex

	config     *config.Config
	configPath string

	registry  *registry.Registry
	collector telemetry.Collector
	logger    zerolog.Logger
	cleanup   func()

	applied map[string]definition
	removed map[string]struct{}
	watcher *reload.Watcher
	running bool
}

// New loads the configuration, registers every enabled connection and warms
// the registry up when the configuration asks for it.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := settings{
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		if cfg.configPath == "" {
			return nil, errors.New("configuration path required")
		}
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg.config = loaded
	} else if err := config.Validate(cfg.config); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}

	if !cfg.telemetryProvided {
		collector, err := newTelemetryCollector(cfg.config.Telemetry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
	}

	logger := cfg.logger
	cleanup := func() {}
	if !cfg.customLogger {
		var err error
		logger, cleanup, err = logging.Setup(cfg.config.Logging)
		if err != nil {
			return nil, err
		}
		log.Logger = logger
	}

	connector := cfg.connector
	if connector == nil {
		connector = bundle.New(append([]bundle.Option{bundle.WithLogger(logger)}, cfg.drivers...)...)
	}

	reg, err := registry.New(connector,
		registry.WithLogger(logger),
		registry.WithTelemetry(cfg.telemetry),
		registry.WithWarmupWorkers(cfg.config.Workers()),
	)
	if err != nil {
		cleanup()
		return nil, err
	}

	proc := &Processor{
		config:     cfg.config,
		configPath: cfg.configPath,
		registry:   reg,
		collector:  cfg.telemetry,
		logger:     logger,
		cleanup:    cleanup,
		applied:    make(map[string]definition),
		removed:    make(map[string]struct{}),
	}

	changed := proc.apply(cfg.config)
	if cfg.config.Warmup {
		proc.warmup(ctx, changed)
	}

	if err := proc.initWatcher(cfg.config); err != nil {
		_ = proc.Close()
		return nil, err
	}

	if cfg.registerReload != nil {
		cfg.registerReload(proc.Reload)
	}

	return proc, nil
}

// Registry returns the registry managed by the processor.
func (p *Processor) Registry() *registry.Registry {
	return p.registry
}

// Config returns the configuration that was applied last.
func (p *Processor) Config() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// Run polls the configuration sources when hot reload is enabled and blocks
// until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	interval := p.config.ReloadEvery()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.mu.Lock()
			watcher := p.watcher
			p.mu.Unlock()
			if watcher == nil {
				continue
			}
			changes, err := watcher.Check()
			if err != nil {
				p.logger.Error().Err(err).Msg("failed to check configuration changes")
				continue
			}
			if len(changes) == 0 {
				continue
			}
			if err := p.reload(ctx); err != nil {
				p.logger.Error().Err(err).Strs("files", changes).Msg("failed to reload configuration")
				continue
			}
			for _, file := range changes {
				p.collector.IncHotReload(file)
			}

			p.mu.Lock()
			next := p.config.ReloadEvery()
			p.mu.Unlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Reload loads the configuration from disk and re-registers the connections
// whose definition changed. Unchanged connections keep their live handles.
func (p *Processor) Reload(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return p.reload(ctx)
}

func (p *Processor) reload(ctx context.Context) error {
	if p.configPath == "" {
		return errors.New("reload not supported without configuration path")
	}
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	cfg, err := config.Load(p.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	changed := p.apply(cfg)

	p.mu.Lock()
	p.config = cfg
	err = p.initWatcher(cfg)
	p.mu.Unlock()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to update configuration watcher")
	}

	p.logger.Info().Strs("changed", changed).Msg("configuration reloaded")
	if cfg.Warmup && len(changed) > 0 {
		p.warmup(ctx, changed)
	}
	return nil
}

// Close closes every live handle and flushes the logging sinks.
func (p *Processor) Close() error {
	err := p.registry.Close()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to close connections")
	}
	p.mu.Lock()
	cleanup := p.cleanup
	p.cleanup = func() {}
	p.mu.Unlock()
	cleanup()
	return err
}

// apply registers new and modified connections of cfg and returns their
// identifiers in sorted order.
func (p *Processor) apply(cfg *config.Config) []string {
	next := make(map[string]definition, len(cfg.Connections))
	for _, conn := range cfg.Connections {
		if conn.Disable {
			continue
		}
		next[conn.ID] = definition{spec: conn.Spec(), options: conn.ConnectionOptions()}
	}

	changed := make([]string, 0, len(next))
	for id, def := range next {
		if prev, ok := p.applied[id]; ok && reflect.DeepEqual(prev, def) {
			continue
		}
		p.registry.Register(id, def.spec, def.options)
		changed = append(changed, id)
	}
	for id := range p.applied {
		if _, ok := next[id]; ok {
			continue
		}
		if _, warned := p.removed[id]; !warned {
			p.removed[id] = struct{}{}
			p.logger.Warn().Str("connection", id).Msg("connection removed from configuration; keeping registration")
		}
	}
	for id, def := range next {
		p.applied[id] = def
		delete(p.removed, id)
	}
	sort.Strings(changed)
	return changed
}

func (p *Processor) warmup(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := p.registry.Warmup(ctx, ids...); err != nil {
		p.logger.Warn().Err(err).Msg("warmup incomplete")
	}
}

func (p *Processor) initWatcher(cfg *config.Config) error {
	if p.configPath == "" || !cfg.HotReload {
		p.watcher = nil
		return nil
	}
	if p.watcher == nil {
		watcher, err := reload.NewWatcher(p.configPath, cfg)
		if err != nil {
			return err
		}
		p.watcher = watcher
		return nil
	}
	return p.watcher.Update(p.configPath, cfg)
}
