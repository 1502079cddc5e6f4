package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"repscore/internal/achievement"
	"repscore/internal/catalog"
	"repscore/internal/score"
)

const (
	namespace = "repscore"

	reloadSuccess = "success"
	reloadFailure = "failure"
)

type Manager struct {
	// counters
	CounterCalculations     *prometheus.CounterVec
	CounterRuleApplications *prometheus.CounterVec
	CounterReloads          *prometheus.CounterVec
	CounterUnlocks          *prometheus.CounterVec

	// gauges
	GaugeConfigGeneration prometheus.Gauge
	GaugeCacheDegraded    prometheus.Gauge

	// histograms
	HistCalculationDuration prometheus.Histogram
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("test", reg), reg
}

func NewManager(subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	return &Manager{
		CounterCalculations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "calculations_total",
			Help:      "The total number of calculations by status",
		}, []string{"status"}),
		CounterRuleApplications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rule_applications_total",
			Help:      "The total number of times a rule fired",
		}, []string{"rule"}),
		CounterReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "config_reloads_total",
			Help:      "The total number of configuration reloads by outcome",
		}, []string{"outcome"}),
		CounterUnlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "achievement_unlocks_total",
			Help:      "The total number of achievement unlocks",
		}, []string{"achievement"}),
		GaugeConfigGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "config_generation",
			Help:      "Generation of the live configuration snapshot",
		}),
		GaugeCacheDegraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_degraded",
			Help:      "Whether the remote cache is bypassed (1) or healthy (0)",
		}),
		HistCalculationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "calculation_duration_seconds",
			Help:      "Histogram of single calculation time in seconds",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		}),
	}
}

// ObserveCalculation implements score.Observer.
func (m *Manager) ObserveCalculation(result score.Result) {
	m.CounterCalculations.WithLabelValues(string(result.Status)).Inc()
	m.HistCalculationDuration.Observe(result.CalculationTimeMs / 1000)
	for _, id := range result.AppliedRules {
		m.CounterRuleApplications.WithLabelValues(id).Inc()
	}
}

// ObserveReload is a catalog reload hook.
func (m *Manager) ObserveReload(report catalog.ReloadReport, err error) {
	if err != nil {
		m.CounterReloads.WithLabelValues(reloadFailure).Inc()
		return
	}
	m.CounterReloads.WithLabelValues(reloadSuccess).Inc()
	m.GaugeConfigGeneration.Set(float64(report.Generation))
}

// ObserveCacheState is a cache state hook.
func (m *Manager) ObserveCacheState(degraded bool) {
	if degraded {
		m.GaugeCacheDegraded.Set(1)
		return
	}
	m.GaugeCacheDegraded.Set(0)
}

// Emit implements achievement.Emitter.
func (m *Manager) Emit(_ context.Context, unlock achievement.Unlock) {
	m.CounterUnlocks.WithLabelValues(unlock.AchievementID).Inc()
}
