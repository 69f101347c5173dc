package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Skip reasons reported by the installer.
const (
	ReasonAbsent          = "absent"
	ReasonAlreadyPatched  = "already_patched"
	ReasonNonConfigurable = "non_configurable"
	ReasonFactoryFailed   = "factory_failed"
	ReasonDefineFailed    = "define_failed"
)

// Metrics holds the engine's Prometheus collectors on a private registry,
// so several realms in one process never collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	// Installer metrics
	PatchesInstalled *prometheus.CounterVec
	PatchesSkipped   *prometheus.CounterVec

	// Seed metrics
	SeedRotations   prometheus.Counter
	MicroReseeds    prometheus.Counter
	GeneratorStates prometheus.Gauge
	WeakEntropy     prometheus.Counter

	// Noise metrics
	SimulatedFailures *prometheus.CounterVec
	InjectedDelay     prometheus.Histogram

	// Snapshot store metrics
	SnapshotHits   prometheus.Counter
	SnapshotMisses prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		PatchesInstalled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_patches_installed_total",
				Help: "Members replaced with disguised wrappers",
			},
			[]string{"member"},
		),
		PatchesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_patches_skipped_total",
				Help: "Install attempts that were skipped, by reason",
			},
			[]string{"reason"},
		),

		SeedRotations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shield_seed_rotations_total",
				Help: "Time bucket changes that invalidated cached generators",
			},
		),
		MicroReseeds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shield_micro_reseeds_total",
				Help: "Auxiliary generator reseeds",
			},
		),
		GeneratorStates: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shield_generator_states",
				Help: "Cached generator states",
			},
		),
		WeakEntropy: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shield_weak_entropy_total",
				Help: "Context tags drawn from the weak fallback source",
			},
		),

		SimulatedFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shield_simulated_failures_total",
				Help: "Synthetic hardware failures surfaced to callers",
			},
			[]string{"family"},
		),
		InjectedDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shield_injected_delay_seconds",
				Help:    "Artificial delays applied before resolution",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),

		SnapshotHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shield_snapshot_hits_total",
				Help: "Snapshot store reads that returned a live entry",
			},
		),
		SnapshotMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shield_snapshot_misses_total",
				Help: "Snapshot store reads that found nothing or an expired entry",
			},
		),
	}
}

// Total sums every series of the named counter or gauge. Unknown names
// yield zero.
func (m *Metrics) Total(name string) (float64, error) {
	families, err := m.Registry.Gather()
	if err != nil {
		return 0, err
	}

	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			switch f.GetType() {
			case dto.MetricType_COUNTER:
				total += metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += metric.GetGauge().GetValue()
			}
		}
	}
	return total, nil
}
