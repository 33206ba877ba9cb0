// Package metrics provides Prometheus metrics for the airdrop distribution engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the distribution engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion
	linesRead    prometheus.Counter
	linesSkipped *prometheus.CounterVec

	// Execution
	batchesSubmitted      prometheus.Counter
	batchesFailed         prometheus.Counter
	recipientsDistributed prometheus.Counter
	gasUsed               prometheus.Counter
	batchLatency          prometheus.Histogram
	batchSize             prometheus.Histogram

	// Checkpointing
	checkpointWrites       prometheus.Counter
	checkpointWriteLatency prometheus.Histogram
	unconfirmedBatches     prometheus.Counter

	// Run progress
	pendingRecipients prometheus.Gauge
	runState          prometheus.Gauge

	// Status server
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "airdrop",
		subsystem:        "distribution",
		histogramBuckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		enabled:          true,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.linesRead = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("lines_read_total"),
		Help:        "Total number of recipient source lines read",
		ConstLabels: labels,
	})

	m.linesSkipped = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("lines_skipped_total"),
			Help:        "Total number of recipient source lines dropped, by reason",
			ConstLabels: labels,
		},
		[]string{"reason"},
	)

	m.batchesSubmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batches_confirmed_total"),
		Help:        "Total number of batch transactions confirmed by the ledger",
		ConstLabels: labels,
	})

	m.batchesFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batches_failed_total"),
		Help:        "Total number of batch transactions rejected, reverted or lost",
		ConstLabels: labels,
	})

	m.recipientsDistributed = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("recipients_distributed_total"),
		Help:        "Total number of recipients paid and checkpointed",
		ConstLabels: labels,
	})

	m.gasUsed = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("gas_used_total"),
		Help:        "Total gas consumed by confirmed batch transactions",
		ConstLabels: labels,
	})

	m.batchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batch_confirmation_latency_milliseconds"),
		Help:        "Time from batch submission to confirmation or rejection in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.batchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batch_recipients"),
		Help:        "Number of recipients carried by each submitted batch",
		Buckets:     []float64{1, 5, 10, 20, 30, 40, 50, 100, 200, 500},
		ConstLabels: labels,
	})

	m.checkpointWrites = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("checkpoint_writes_total"),
		Help:        "Total number of distribution results persisted",
		ConstLabels: labels,
	})

	m.checkpointWriteLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("checkpoint_commit_latency_milliseconds"),
		Help:        "Time to persist and flush one batch of results in milliseconds",
		Buckets:     []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: labels,
	})

	m.unconfirmedBatches = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("batches_unconfirmed_locally_total"),
		Help:        "Batches confirmed on-chain whose results could not be checkpointed",
		ConstLabels: labels,
	})

	m.pendingRecipients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("pending_recipients"),
		Help:        "Recipients planned for this run and not yet checkpointed",
		ConstLabels: labels,
	})

	m.runState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("run_state"),
		Help:        "Current run state (0=init 1=loading 2=allocating 3=executing 4=completed 5=aborted)",
		ConstLabels: labels,
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of status server requests by endpoint and method",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "Status server request duration in milliseconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_component_total"),
			Help:        "Total number of errors by component",
			ConstLabels: labels,
		},
		[]string{"component", "error_type"},
	)
}

// Enabled reports whether the manager records observations.
func (m *Manager) Enabled() bool { return m.enabled }

// SetEnabled switches recording for the global manager. Call it before a
// run starts; it is not synchronised with the helpers.
func SetEnabled(on bool) {
	globalManager.enabled = on
}

// IsEnabled reports whether the global manager is recording.
func IsEnabled() bool { return globalManager.enabled }

// RecordLineRead increments the source lines counter.
func RecordLineRead() {
	if !globalManager.enabled {
		return
	}
	globalManager.linesRead.Inc()
}

// RecordLineSkipped increments the dropped lines counter for reason.
func RecordLineSkipped(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.linesSkipped.WithLabelValues(reason).Inc()
}

// RecordBatchConfirmed records a confirmed batch with its size, gas and latency.
func RecordBatchConfirmed(recipients int, gas uint64, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.batchesSubmitted.Inc()
	globalManager.batchSize.Observe(float64(recipients))
	globalManager.gasUsed.Add(float64(gas))
	globalManager.batchLatency.Observe(latencyMs)
}

// RecordBatchFailed records a rejected batch and how long the ledger took to say so.
func RecordBatchFailed(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.batchesFailed.Inc()
	globalManager.batchLatency.Observe(latencyMs)
}

// RecordRecipientsDistributed adds n to the distributed recipients counter.
func RecordRecipientsDistributed(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.recipientsDistributed.Add(float64(n))
	globalManager.checkpointWrites.Add(float64(n))
}

// RecordCheckpointCommitLatency records the time spent persisting one batch.
func RecordCheckpointCommitLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.checkpointWriteLatency.Observe(latencyMs)
}

// RecordUnconfirmedBatch increments the executed-but-unconfirmed-locally counter.
func RecordUnconfirmedBatch() {
	if !globalManager.enabled {
		return
	}
	globalManager.unconfirmedBatches.Inc()
}

// UpdatePendingRecipients sets the number of recipients still to be paid.
func UpdatePendingRecipients(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.pendingRecipients.Set(float64(n))
}

// UpdateRunState sets the numeric run state.
func UpdateRunState(state int) {
	if !globalManager.enabled {
		return
	}
	globalManager.runState.Set(float64(state))
}

// RecordHTTPRequest records a status server request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records status server request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
