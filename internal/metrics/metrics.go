package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts migration events.
type Metrics interface {
	IncEntry(verdict string)
	IncRewritten()
	IncWrapper(outcome string)
	IncTranscode(outcome string)
	ObserveInstall(status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncEntry(string)                {}
func (Noop) IncRewritten()                  {}
func (Noop) IncWrapper(string)              {}
func (Noop) IncTranscode(string)            {}
func (Noop) ObserveInstall(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors on its own
// registry. The CLI is short lived, so the registry is exported through
// the node-exporter textfile format rather than served.
type Prom struct {
	registry   *prometheus.Registry
	entries    *prometheus.CounterVec
	rewritten  prometheus.Counter
	wrappers   *prometheus.CounterVec
	transcodes *prometheus.CounterVec
	installs   *prometheus.HistogramVec
	once       sync.Once
}

// NewProm constructs Prom with collectors under namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Bundle entries staged by verdict",
		}, []string{"verdict"}),
		rewritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_rewritten_total",
			Help:      "Text artifacts whose content changed",
		}),
		wrappers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wrappers_total",
			Help:      "Wrapper synthesis results by outcome",
		}, []string{"outcome"}),
		transcodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcodes_total",
			Help:      "Package archive transcodes by outcome",
		}, []string{"outcome"}),
		installs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Bundle install duration by status",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		p.registry.MustRegister(p.entries, p.rewritten, p.wrappers, p.transcodes, p.installs)
	})
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prom) IncEntry(verdict string) {
	p.entries.WithLabelValues(verdict).Inc()
}

func (p *Prom) IncRewritten() {
	p.rewritten.Inc()
}

func (p *Prom) IncWrapper(outcome string) {
	p.wrappers.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncTranscode(outcome string) {
	p.transcodes.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveInstall(status string, durationSeconds float64) {
	p.installs.WithLabelValues(status).Observe(durationSeconds)
}

// WriteTextfile writes the current values in the Prometheus text format.
func (p *Prom) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
