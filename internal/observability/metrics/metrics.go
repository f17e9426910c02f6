package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "greenledger_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	readingsTotal     *prometheus.CounterVec
	malformedReadings *prometheus.CounterVec
	ingestLatency     *prometheus.HistogramVec

	lateDroppedEvents *prometheus.CounterVec
	windowsOpened     *prometheus.CounterVec
	windowsClosed     *prometheus.CounterVec
	watermarkLag      *prometheus.GaugeVec

	violationsTotal *prometheus.CounterVec
	scoresTotal     prometheus.Counter

	sinkFailures *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers pipeline metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total ingested readings by result",
			},
			[]string{"result"},
		)
		malformedReadings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "malformed_readings_total",
				Help: "Total rejected readings by offending field",
			},
			[]string{"field"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		lateDroppedEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "late_dropped_events_total",
				Help: "Readings dropped because their window already closed, by window spec",
			},
			[]string{"window"},
		)
		windowsOpened = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "windows_opened_total",
				Help: "Window instances created by window spec",
			},
			[]string{"window"},
		)
		windowsClosed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "windows_closed_total",
				Help: "Window instances closed by window spec",
			},
			[]string{"window"},
		)
		watermarkLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "watermark_lag_seconds",
				Help: "Arrival-time lag behind the per-partition watermark in seconds",
			},
			[]string{"partition"},
		)

		violationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "violations_total",
				Help: "Total compliance violations by rule and severity",
			},
			[]string{"rule", "severity"},
		)
		scoresTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "compliance_scores_total",
				Help: "Total compliance score emissions",
			},
		)

		sinkFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_failures_total",
				Help: "Subscriber delivery failures by sink",
			},
			[]string{"sink"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Report export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			readingsTotal,
			malformedReadings,
			ingestLatency,
			lateDroppedEvents,
			windowsOpened,
			windowsClosed,
			watermarkLag,
			violationsTotal,
			scoresTotal,
			sinkFailures,
			exportTotal,
			exportLatency,
		)
	})
}

// IncReading counts an ingested reading by result.
func IncReading(result string) {
	if result == "" {
		result = resultSuccess
	}
	if readingsTotal != nil {
		readingsTotal.WithLabelValues(result).Inc()
	}
}

// IncMalformedReading counts a rejected reading by field.
func IncMalformedReading(field string) {
	if field == "" {
		field = "unknown"
	}
	if malformedReadings != nil {
		malformedReadings.WithLabelValues(field).Inc()
	}
}

// ObserveIngest records ingest request latency.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncLateDropped counts a late reading dropped for a closed window.
func IncLateDropped(window string) {
	if window == "" {
		window = "unknown"
	}
	if lateDroppedEvents != nil {
		lateDroppedEvents.WithLabelValues(window).Inc()
	}
}

// IncWindowOpened counts a lazily created window instance.
func IncWindowOpened(window string) {
	if windowsOpened != nil {
		windowsOpened.WithLabelValues(window).Inc()
	}
}

// IncWindowClosed counts a closed window instance.
func IncWindowClosed(window string) {
	if windowsClosed != nil {
		windowsClosed.WithLabelValues(window).Inc()
	}
}

// SetWatermarkLag records how far wall clock trails the event-time
// watermark for a partition.
func SetWatermarkLag(partition string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	if watermarkLag != nil {
		watermarkLag.WithLabelValues(partition).Set(lag.Seconds())
	}
}

// IncViolation counts an emitted violation.
func IncViolation(rule, severity string) {
	if rule == "" {
		rule = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}
	if violationsTotal != nil {
		violationsTotal.WithLabelValues(rule, severity).Inc()
	}
}

// IncScore counts an emitted compliance score.
func IncScore() {
	if scoresTotal != nil {
		scoresTotal.Inc()
	}
}

// IncSinkFailure counts an isolated subscriber failure.
func IncSinkFailure(sink string) {
	if sink == "" {
		sink = "unknown"
	}
	if sinkFailures != nil {
		sinkFailures.WithLabelValues(sink).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
