// Package metrics defines the ambient counters/gauges seam observing core
// transitions (drops, queue depth, subscriber counts) without participating
// in them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records counters and gauges. Implementations must be safe for
// concurrent use, since a dispatcher's actor loop may share a Recorder
// with other dispatchers.
type Recorder interface {
	Incr(name string, n int64)
	Gauge(name string, v int64)
}

// noop discards everything.
type noop struct{}

// Noop returns a Recorder that discards all observations.
func Noop() Recorder { return noop{} }

func (noop) Incr(string, int64)  {}
func (noop) Gauge(string, int64) {}

// Prometheus is a Recorder backed by github.com/prometheus/client_golang.
// Counters and gauges are created lazily on first use and registered
// against the supplied registry, namespaced under the given prefix.
type Prometheus struct {
	namespace string
	reg       *prometheus.Registry

	mut      sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewPrometheus constructs a Prometheus recorder. If reg is nil, a fresh
// registry is created.
func NewPrometheus(namespace string, reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Prometheus{
		namespace: namespace,
		reg:       reg,
		counters:  map[string]prometheus.Counter{},
		gauges:    map[string]prometheus.Gauge{},
	}
}

// Registry returns the underlying Prometheus registry, for wiring into an
// HTTP handler (e.g. promhttp.HandlerFor).
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

func (p *Prometheus) Incr(name string, n int64) {
	p.mut.Lock()
	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      name,
		})
		p.reg.MustRegister(c)
		p.counters[name] = c
	}
	p.mut.Unlock()
	c.Add(float64(n))
}

func (p *Prometheus) Gauge(name string, v int64) {
	p.mut.Lock()
	g, ok := p.gauges[name]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      name,
		})
		p.reg.MustRegister(g)
		p.gauges[name] = g
	}
	p.mut.Unlock()
	g.Set(float64(v))
}
