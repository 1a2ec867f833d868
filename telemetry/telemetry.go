package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the registry and processor.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with Register and Resolve.
type Collector interface {
	IncHotReload(file string)
	IncRegistration(connection string)
	ObserveConnect(connection string, err error)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)          {}
func (noopCollector) IncRegistration(string)       {}
func (noopCollector) ObserveConnect(string, error) {}

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads    *prometheus.CounterVec
	registrations *prometheus.CounterVec
	connects      *prometheus.CounterVec
}

var (
	collectorsLock      sync.Mutex
	hotReloadCounter    *prometheus.CounterVec
	registrationCounter *prometheus.CounterVec
	connectCounter      *prometheus.CounterVec
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Collectors already registered by an earlier call are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectorsLock.Lock()
	defer collectorsLock.Unlock()

	var err error
	if hotReloadCounter, err = registerCounterVec(reg, hotReloadCounter, prometheus.CounterOpts{
		Name: "connreg_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, "file"); err != nil {
		return nil, err
	}
	if registrationCounter, err = registerCounterVec(reg, registrationCounter, prometheus.CounterOpts{
		Name: "connreg_registrations_total",
		Help: "Number of times a connection identifier was registered or replaced.",
	}, "connection"); err != nil {
		return nil, err
	}
	if connectCounter, err = registerCounterVec(reg, connectCounter, prometheus.CounterOpts{
		Name: "connreg_connect_attempts_total",
		Help: "Number of handle creation attempts per connection and result.",
	}, "connection", "result"); err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		hotReloads:    hotReloadCounter,
		registrations: registrationCounter,
		connects:      connectCounter,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, current *prometheus.CounterVec, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	if current != nil {
		return current, nil
	}
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return counter, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncRegistration counts a Register call for the connection.
func (p *PrometheusCollector) IncRegistration(connection string) {
	if p == nil || p.registrations == nil {
		return
	}
	p.registrations.WithLabelValues(connection).Inc()
}

// ObserveConnect records the outcome of a handle creation attempt.
func (p *PrometheusCollector) ObserveConnect(connection string, err error) {
	if p == nil || p.connects == nil {
		return
	}
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	p.connects.WithLabelValues(connection, result).Inc()
}
