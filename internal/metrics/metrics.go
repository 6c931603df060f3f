package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the monitor runner pipeline.
var (
	// HTTP request metrics (admin/dry-run surface)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitorrunner_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Monitor run metrics
	MonitorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_monitor_runs_total",
			Help: "Total number of monitor invocations",
		},
		[]string{"monitor_name", "status"},
	)

	MonitorRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitorrunner_monitor_run_duration_seconds",
			Help:    "Time spent running a monitor end to end",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"monitor_name"},
	)

	InputsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_inputs_collected_total",
			Help: "Total number of input collections executed",
		},
		[]string{"monitor_name", "status"},
	)

	InputCollectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitorrunner_input_collection_duration_seconds",
			Help:    "Time spent collecting a single input",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"monitor_name"},
	)

	ActiveAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitorrunner_active_alerts",
			Help: "Number of currently active or errored alerts",
		},
		[]string{"monitor_name", "state"},
	)

	// Trigger evaluation metrics
	TriggersEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_triggers_evaluated_total",
			Help: "Total number of triggers evaluated",
		},
		[]string{"trigger_name", "fired"},
	)

	TriggerEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitorrunner_trigger_evaluation_duration_seconds",
			Help:    "Time spent evaluating a single trigger condition",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"trigger_name"},
	)

	// Action dispatch metrics
	ActionsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_actions_dispatched_total",
			Help: "Total number of actions dispatched",
		},
		[]string{"destination_type", "status"},
	)

	ActionDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitorrunner_action_dispatch_duration_seconds",
			Help:    "Time spent dispatching a single action",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"destination_type"},
	)

	ActionsThrottled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_actions_throttled_total",
			Help: "Total number of actions suppressed by throttle",
		},
		[]string{"action_id"},
	)

	ActionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_action_errors_total",
			Help: "Total number of action dispatch errors",
		},
		[]string{"destination_type", "error_type"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitorrunner_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction", "message_type"},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitorrunner_store_operation_duration_seconds",
			Help:    "Alert store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_store_errors_total",
			Help: "Total number of alert store errors",
		},
		[]string{"operation", "error_type"},
	)

	// Retry / circuit breaker metrics
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_retries_total",
			Help: "Total number of retry attempts",
		},
		[]string{"policy"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitorrunner_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// System metrics
	ConfigReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitorrunner_config_reloads_total",
			Help: "Total number of configuration reloads",
		},
	)

	RateLimitedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_rate_limited_requests_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"client_ip"},
	)

	ValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorrunner_validation_errors_total",
			Help: "Total number of validation errors",
		},
		[]string{"type", "field"},
	)
)

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, endpoint, statusCode string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordMonitorRun records a completed monitor invocation.
func RecordMonitorRun(monitorName, status string, duration float64) {
	MonitorRunsTotal.WithLabelValues(monitorName, status).Inc()
	MonitorRunDuration.WithLabelValues(monitorName).Observe(duration)
}

// RecordInputCollection records one input collection attempt.
func RecordInputCollection(monitorName, status string, duration float64) {
	InputsCollected.WithLabelValues(monitorName, status).Inc()
	InputCollectionDuration.WithLabelValues(monitorName).Observe(duration)
}

// UpdateActiveAlerts sets the active-alert gauge for a monitor/state pair.
func UpdateActiveAlerts(monitorName, state string, count float64) {
	ActiveAlerts.WithLabelValues(monitorName, state).Set(count)
}

// RecordTriggerEvaluation records one trigger evaluation.
func RecordTriggerEvaluation(triggerName string, fired bool, duration float64) {
	fired_ := "false"
	if fired {
		fired_ = "true"
	}
	TriggersEvaluated.WithLabelValues(triggerName, fired_).Inc()
	TriggerEvaluationDuration.WithLabelValues(triggerName).Observe(duration)
}

// RecordActionDispatch records a destination publish attempt.
func RecordActionDispatch(destinationType, status string, duration float64) {
	ActionsDispatched.WithLabelValues(destinationType, status).Inc()
	ActionDispatchDuration.WithLabelValues(destinationType).Observe(duration)
}

// RecordActionThrottled records a throttle-suppressed action.
func RecordActionThrottled(actionID string) {
	ActionsThrottled.WithLabelValues(actionID).Inc()
}

// RecordActionError records an action dispatch error.
func RecordActionError(destinationType, errorType string) {
	ActionErrors.WithLabelValues(destinationType, errorType).Inc()
}

// UpdateWebSocketConnections sets the websocket connections gauge.
func UpdateWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a websocket message.
func RecordWebSocketMessage(direction, messageType string) {
	WebSocketMessagesTotal.WithLabelValues(direction, messageType).Inc()
}

// RecordStoreOperation records an alert store operation's duration.
func RecordStoreOperation(operation string, duration float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordStoreError records an alert store error.
func RecordStoreError(operation, errorType string) {
	StoreErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordRetry records one retry attempt under a named policy.
func RecordRetry(policy string) {
	RetriesTotal.WithLabelValues(policy).Inc()
}

// UpdateCircuitBreakerState records a circuit breaker's numeric state.
func UpdateCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// IncrementConfigReloads increments the config reloads counter.
func IncrementConfigReloads() {
	ConfigReloads.Inc()
}

// RecordRateLimitedRequest records a rate-limited admin API request.
func RecordRateLimitedRequest(clientIP string) {
	RateLimitedRequests.WithLabelValues(clientIP).Inc()
}

// RecordValidationError records a monitor-definition validation error.
func RecordValidationError(validationType, field string) {
	ValidationErrors.WithLabelValues(validationType, field).Inc()
}
