package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/connreg/runtime/connections"
	"github.com/timzifer/connreg/telemetry"
)

// HandleState describes the cached handle slot of a registered identifier.
type HandleState int

const (
	// Absent means no handle exists yet, or the previous one was invalidated.
	Absent HandleState = iota
	// Live means the slot holds a handle returned by the connector.
	Live
)

func (s HandleState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("HandleState(%d)", int(s))
	}
}

// entry is a single registration. Register always installs a fresh entry, so
// a connect still running against a replaced entry never touches the new one.
type entry struct {
	spec    connections.Spec
	options connections.Options

	mu     sync.Mutex
	state  HandleState
	handle connections.Handle
}

// Registry associates identifiers with lazily created connection handles.
type Registry struct {
	connector connections.Connector
	logger    zerolog.Logger
	collector telemetry.Collector
	workers   int

	mu      sync.RWMutex
	entries map[string]*entry
}

var _ connections.Provider = (*Registry)(nil)

// New constructs a registry that creates handles through connector.
func New(connector connections.Connector, opts ...Option) (*Registry, error) {
	if connector == nil {
		return nil, errors.New("registry: connector must not be nil")
	}
	cfg := settings{
		logger:        zerolog.Nop(),
		telemetry:     telemetry.Noop(),
		warmupWorkers: 4,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Registry{
		connector: connector,
		logger:    cfg.logger,
		collector: cfg.telemetry,
		workers:   cfg.warmupWorkers,
		entries:   make(map[string]*entry),
	}, nil
}

// Register stores the spec and options for id and resets its handle to
// Absent, replacing any previous registration. A previously live handle is
// dropped without being closed.
func (r *Registry) Register(id string, spec connections.Spec, options connections.Options) {
	e := &entry{spec: spec, options: options.Clone(), state: Absent}

	r.mu.Lock()
	_, replaced := r.entries[id]
	r.entries[id] = e
	r.mu.Unlock()

	r.collector.IncRegistration(id)
	r.logger.Debug().Str("connection", id).Bool("replaced", replaced).Msg("connection registered")
}

// Resolve returns the handle for id, creating it on first use. Creation
// happens at most once per registration even with concurrent callers; a
// failed attempt leaves the slot Absent so the next call tries again.
func (r *Registry) Resolve(ctx context.Context, id string) (connections.Handle, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Live {
		return e.handle, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	handle, err := r.connector.Connect(ctx, e.spec, e.options)
	if err == nil && handle == nil {
		err = errors.New("connector returned no handle")
	}
	r.collector.ObserveConnect(id, err)
	if err != nil {
		r.logger.Warn().Err(err).Str("connection", id).Dur("elapsed", time.Since(started)).Msg("connect failed")
		return nil, &ConnectionError{ID: id, Err: err}
	}
	e.handle = handle
	e.state = Live
	r.logger.Info().Str("connection", id).Dur("elapsed", time.Since(started)).Msg("connection established")
	return handle, nil
}

// Invalidate marks the cached handle of id as Absent so the next Resolve
// creates a new one. The old handle is not closed.
func (r *Registry) Invalidate(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	wasLive := e.state == Live
	e.handle = nil
	e.state = Absent
	e.mu.Unlock()
	if wasLive {
		r.logger.Debug().Str("connection", id).Msg("connection invalidated")
	}
	return nil
}

// State reports the handle state of id.
func (r *Registry) State(id string) (HandleState, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Absent, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close closes every live handle and resets its slot to Absent. Registrations
// are kept, so the registry can still resolve afterwards.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, e := range r.entries {
		e.mu.Lock()
		if e.state == Live && e.handle != nil {
			if err := e.handle.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close connection %s: %w", id, err))
			}
		}
		e.handle = nil
		e.state = Absent
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownIdentifierError{ID: id}
	}
	return e, nil
}
