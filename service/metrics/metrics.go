package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ledger RPC Metrics
	ledgerRPCCallsTotal   *prometheus.CounterVec
	ledgerRPCCallDuration *prometheus.HistogramVec
	ledgerPageSize        *prometheus.HistogramVec

	// Address resolution Metrics
	resolverLookupsTotal    *prometheus.CounterVec
	resolverBatchCallsTotal *prometheus.CounterVec

	// Transaction stream Metrics
	recordsMergedTotal   *prometheus.CounterVec
	memoDecipherFailures *prometheus.CounterVec
	recordsWrittenTotal  *prometheus.CounterVec
	recordsSkippedTotal  *prometheus.CounterVec
	syncWorkflowDuration *prometheus.HistogramVec
	syncActivityDuration *prometheus.HistogramVec

	// Signing operations Metrics
	unlockAttemptsTotal      *prometheus.CounterVec
	transfersTotal           *prometheus.CounterVec
	activationsTotal         *prometheus.CounterVec
	activationPollDuration   *prometheus.HistogramVec
	backendNotificationTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger RPC Metrics
		ledgerRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rpc_calls_total",
				Help: "Total number of ledger RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		ledgerRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_rpc_call_duration_seconds",
				Help:    "Duration of ledger RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		ledgerPageSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_page_size",
				Help:    "Number of raw movements returned per history fetch",
				Buckets: []float64{0, 1, 5, 10, 30, 100, 500, 1000},
			},
			[]string{"mode"},
		),

		// Address resolution Metrics
		resolverLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_lookups_total",
				Help: "Total number of counterparty addresses requested, by cache result",
			},
			[]string{"result"},
		),
		resolverBatchCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolver_batch_calls_total",
				Help: "Total number of batch label lookups sent to the backend",
			},
			[]string{"status"},
		),

		// Transaction stream Metrics
		recordsMergedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_merged_total",
				Help: "Total number of transaction records emitted by merged streams",
			},
			[]string{"account"},
		),
		memoDecipherFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memo_decipher_failures_total",
				Help: "Total number of memos that could not be deciphered",
			},
			[]string{"account"},
		),
		recordsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_written_total",
				Help: "Total number of transaction records written to database",
			},
			[]string{"account"},
		),
		recordsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_skipped_total",
				Help: "Total number of transaction records skipped",
			},
			[]string{"account", "reason"},
		),
		syncWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_workflow_duration_seconds",
				Help:    "Duration of wallet sync workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"wallet", "status"},
		),
		syncActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_activity_duration_seconds",
				Help:    "Duration of wallet sync activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "wallet"},
		),

		// Signing operations Metrics
		unlockAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_unlock_attempts_total",
				Help: "Total number of wallet unlock attempts by result",
			},
			[]string{"result"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_total",
				Help: "Total number of transfers by outcome",
			},
			[]string{"outcome"},
		),
		activationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activations_total",
				Help: "Total number of account validations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		activationPollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "activation_poll_duration_seconds",
				Help:    "Time spent waiting for an account status transition",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind", "status"},
		),
		backendNotificationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_notifications_total",
				Help: "Total number of administrative backend notifications by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger RPC metric helpers

// RecordRPCCall records a ledger RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.ledgerRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.ledgerRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordPageSize records the number of movements in a fetched page.
func (m *Metrics) RecordPageSize(mode string, count int) {
	if m == nil {
		return
	}
	m.ledgerPageSize.WithLabelValues(mode).Observe(float64(count))
}

// Address resolution metric helpers

// RecordResolverLookups records how many requested addresses hit or missed the cache.
func (m *Metrics) RecordResolverLookups(result string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.resolverLookupsTotal.WithLabelValues(result).Add(float64(count))
}

// RecordResolverBatchCall records one batch lookup against the backend.
func (m *Metrics) RecordResolverBatchCall(err error) {
	if m == nil {
		return
	}
	m.resolverBatchCallsTotal.WithLabelValues(statusFromError(err)).Inc()
}

// Transaction stream metric helpers

// RecordRecordMerged records a record emitted by a merged stream.
func (m *Metrics) RecordRecordMerged(account string) {
	if m == nil {
		return
	}
	m.recordsMergedTotal.WithLabelValues(account).Inc()
}

// RecordMemoDecipherFailure records a memo that degraded to an empty description.
func (m *Metrics) RecordMemoDecipherFailure(account string) {
	if m == nil {
		return
	}
	m.memoDecipherFailures.WithLabelValues(account).Inc()
}

// RecordRecordsWritten records transaction records written to database.
func (m *Metrics) RecordRecordsWritten(account string, count int) {
	if m == nil {
		return
	}
	m.recordsWrittenTotal.WithLabelValues(account).Add(float64(count))
}

// RecordRecordsSkipped records transaction records skipped.
func (m *Metrics) RecordRecordsSkipped(account, reason string, count int) {
	if m == nil {
		return
	}
	m.recordsSkippedTotal.WithLabelValues(account, reason).Add(float64(count))
}

// RecordWorkflowDuration records sync workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(wallet, status string, duration float64) {
	if m == nil {
		return
	}
	m.syncWorkflowDuration.WithLabelValues(wallet, status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, wallet string, duration float64) {
	if m == nil {
		return
	}
	m.syncActivityDuration.WithLabelValues(activity, wallet).Observe(duration)
}

// Signing operations metric helpers

// RecordUnlockAttempt records one password attempt ("success" or "failure").
func (m *Metrics) RecordUnlockAttempt(result string) {
	if m == nil {
		return
	}
	m.unlockAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordTransfer records the outcome of a transfer.
func (m *Metrics) RecordTransfer(outcome string) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(outcome).Inc()
}

// RecordActivation records the outcome of a wallet or credit validation.
func (m *Metrics) RecordActivation(kind, outcome string) {
	if m == nil {
		return
	}
	m.activationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordActivationPoll records how long a status poll ran.
func (m *Metrics) RecordActivationPoll(kind, status string, duration float64) {
	if m == nil {
		return
	}
	m.activationPollDuration.WithLabelValues(kind, status).Observe(duration)
}

// RecordBackendNotification records a notification sent to the administrative backend.
func (m *Metrics) RecordBackendNotification(endpoint string, err error) {
	if m == nil {
		return
	}
	m.backendNotificationTotal.WithLabelValues(endpoint, statusFromError(err)).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, statusFromError(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusFromError(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
