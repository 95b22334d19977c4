package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bardlex/gominer/internal/backend"
	"github.com/bardlex/gominer/internal/node"
	"github.com/bardlex/gominer/pkg/circuit"
)

const registryScrapeTimeout = 100 * time.Millisecond

// Metrics are the Prometheus collectors of one core.
type Metrics struct {
	registry *prometheus.Registry

	solutionsRouted  *prometheus.CounterVec
	enginesExhausted prometheus.Counter
	hierarchyNodes   *prometheus.GaugeVec
	breakerState     *prometheus.GaugeVec
	backendInit      *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		solutionsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gominer_solutions_routed_total",
			Help: "Solutions taken from the solution queue, by outcome.",
		}, []string{"outcome"}),
		enginesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gominer_engines_exhausted_total",
			Help: "Work engines whose last assignment was taken.",
		}),
		hierarchyNodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gominer_hierarchy_nodes",
			Help: "Registered backend nodes by kind.",
		}, []string{"kind"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gominer_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"name"}),
		backendInit: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gominer_backend_init_seconds",
			Help:    "Time spent initializing a backend.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"backend"}),
	}
}

// Registry returns the Prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BreakerStateChanged records a circuit breaker transition.
func (m *Metrics) BreakerStateChanged(name string, _, to circuit.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// observeHierarchy exports the solver statistics of every registered solver.
// The registry is only referenced weakly; once it is gone the values drop to zero.
func (m *Metrics) observeHierarchy(registry backend.WeakRegistry) {
	sum := func(field func(*node.Stats) uint64) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), registryScrapeTimeout)
			defer cancel()

			var total uint64
			for _, s := range registry.Solvers(ctx) {
				total += field(s.Stats())
			}
			return float64(total)
		}
	}

	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gominer_hashes_total",
			Help: "Hashes computed by all solvers.",
		}, sum(func(s *node.Stats) uint64 { return s.Hashes.Load() })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gominer_valid_solutions_total",
			Help: "Solutions that met their backend target.",
		}, sum(func(s *node.Stats) uint64 { return s.ValidSolutions.Load() })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "gominer_hardware_errors_total",
			Help: "Results that missed their backend target.",
		}, sum(func(s *node.Stats) uint64 { return s.HardwareErrors.Load() })),
	)
}

func (m *Metrics) setHierarchy(ctx context.Context, registry backend.WeakRegistry) {
	m.hierarchyNodes.WithLabelValues(node.KindHub.String()).Set(float64(len(registry.Hubs(ctx))))
	m.hierarchyNodes.WithLabelValues(node.KindSolver.String()).Set(float64(len(registry.Solvers(ctx))))
}
