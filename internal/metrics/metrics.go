package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	ransomwareDetected prometheus.Counter
	compromiseTotal    *prometheus.CounterVec
	restorationsTotal  *prometheus.CounterVec
	scanOutcomes       *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
	alertFailures      *prometheus.CounterVec
	messagesTotal      *prometheus.CounterVec
	inFlight           prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		eventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_sentinel_events_total",
			Help: "Backup events that reached a final status",
		}, []string{"status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backup_sentinel_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		ransomwareDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "backup_sentinel_ransomware_detected_total",
			Help: "Backups classified as containing ransomware",
		}),
		compromiseTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_sentinel_compromise_checks_total",
			Help: "Compromise verifications by verdict",
		}, []string{"compromised"}),
		restorationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_sentinel_restorations_total",
			Help: "Restoration attempts by result",
		}, []string{"result"}),
		scanOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_sentinel_scan_outcomes_total",
			Help: "Content inspection outcomes",
		}, []string{"outcome"}),
		alertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_sentinel_alerts_total",
			Help: "Alerts emitted by type and severity",
		}, []string{"type", "severity"}),
		alertFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_sentinel_alert_delivery_failures_total",
			Help: "Alert deliveries that failed, by channel",
		}, []string{"channel"}),
		messagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_sentinel_messages_total",
			Help: "Inbound messages by handling result",
		}, []string{"result"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "backup_sentinel_events_in_flight",
			Help: "Backup events currently being processed",
		}),
	}
}

func (m *Metrics) EventFinished(status string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RansomwareDetected() {
	if m == nil {
		return
	}
	m.ransomwareDetected.Inc()
}

func (m *Metrics) CompromiseChecked(compromised bool) {
	if m == nil {
		return
	}
	label := "false"
	if compromised {
		label = "true"
	}
	m.compromiseTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) Restoration(result string) {
	if m == nil {
		return
	}
	m.restorationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ScanOutcome(outcome string) {
	if m == nil {
		return
	}
	m.scanOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AlertEmitted(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) AlertFailed(channel string) {
	if m == nil {
		return
	}
	m.alertFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) MessageHandled(result string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(result).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its decrement
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
