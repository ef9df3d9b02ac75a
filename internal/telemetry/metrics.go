// Package telemetry carries the scanner's operational surface: the
// Prometheus metrics registry and the append-only event stream written
// as JSONL artifacts, one file per scan run.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Pipeline step names recorded in the step duration histogram.
const (
	StepIngest       = "ingest"
	StepIndicators   = "indicators"
	StepStructure    = "structure"
	StepRegime       = "regime"
	StepScore        = "score"
	StepThreshold    = "threshold"
	StepRiskGate     = "risk_gate"
	StepCooldownGate = "cooldown_gate"
	StepEmit         = "emit"
)

// Step results.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultRejected = "rejected"
	ResultSkipped  = "skipped"
)

// Metrics holds every Prometheus collector the scanner exports.
type Metrics struct {
	StepDuration    *prometheus.HistogramVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	ActiveScans     prometheus.Gauge
	ScansTotal      prometheus.Counter
	RegimeSwitches  *prometheus.CounterVec
	SignalsEmitted  *prometheus.CounterVec
	SignalsRejected *prometheus.CounterVec
	VenueRequests   *prometheus.HistogramVec
	EventsDropped   prometheus.Counter
}

// NewMetrics builds the collector set and registers it on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smcscan_scan_step_duration_seconds",
				Help:    "Duration of each scan pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcscan_cache_hits_total",
				Help: "Cache hits by namespace",
			},
			[]string{"namespace"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcscan_cache_misses_total",
				Help: "Cache misses by namespace",
			},
			[]string{"namespace"},
		),
		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smcscan_active_scans",
				Help: "Number of currently running scans",
			},
		),
		ScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smcscan_scans_total",
				Help: "Total number of scans started",
			},
		),
		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcscan_regime_switches_total",
				Help: "Global regime transitions by from/to regime",
			},
			[]string{"from_regime", "to_regime"},
		),
		SignalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcscan_signals_emitted_total",
				Help: "Signals emitted by direction",
			},
			[]string{"direction"},
		),
		SignalsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcscan_signals_rejected_total",
				Help: "Symbols rejected by reason",
			},
			[]string{"reason"},
		),
		VenueRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smcscan_venue_request_duration_seconds",
				Help:    "Exchange adapter request duration in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"venue", "endpoint"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smcscan_telemetry_events_dropped_total",
				Help: "Telemetry events dropped because the sink buffer was full",
			},
		),
	}

	reg.MustRegister(
		m.StepDuration,
		m.CacheHits,
		m.CacheMisses,
		m.ActiveScans,
		m.ScansTotal,
		m.RegimeSwitches,
		m.SignalsEmitted,
		m.SignalsRejected,
		m.VenueRequests,
		m.EventsDropped,
	)
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on the global
// Prometheus registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Handler serves the global registry, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StepTimer times one pipeline step.
type StepTimer struct {
	metrics *Metrics
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step.
func (m *Metrics) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop records the elapsed time under the given result.
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("pipeline step completed")
}

// RecordCacheHit counts a hit for the cache namespace.
func (m *Metrics) RecordCacheHit(namespace string) {
	m.CacheHits.WithLabelValues(namespace).Inc()
}

// RecordCacheMiss counts a miss for the cache namespace.
func (m *Metrics) RecordCacheMiss(namespace string) {
	m.CacheMisses.WithLabelValues(namespace).Inc()
}

// ScanStarted bumps the active gauge and the lifetime scan counter.
func (m *Metrics) ScanStarted() {
	m.ActiveScans.Inc()
	m.ScansTotal.Inc()
}

// ScanFinished decrements the active gauge.
func (m *Metrics) ScanFinished() {
	m.ActiveScans.Dec()
}

// RecordRegimeSwitch counts a global regime transition.
func (m *Metrics) RecordRegimeSwitch(from, to string) {
	m.RegimeSwitches.WithLabelValues(from, to).Inc()

	log.Info().
		Str("from_regime", from).
		Str("to_regime", to).
		Msg("regime switch recorded")
}

// RecordSignal counts an emitted signal by direction.
func (m *Metrics) RecordSignal(direction string) {
	m.SignalsEmitted.WithLabelValues(direction).Inc()
}

// RecordRejection counts a rejected symbol by reason.
func (m *Metrics) RecordRejection(reason string) {
	m.SignalsRejected.WithLabelValues(reason).Inc()
}

// ObserveVenueRequest records one adapter request duration.
func (m *Metrics) ObserveVenueRequest(venue, endpoint string, d time.Duration) {
	m.VenueRequests.WithLabelValues(venue, endpoint).Observe(d.Seconds())
}
