package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatcher metrics

	// DispatcherBatchesDispatched tracks batches handed to the agent provider
	DispatcherBatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "dispatcher",
			Name:      "batches_dispatched_total",
			Help:      "Total supplier batches dispatched to the agent provider",
			// result: success, rejected, error
		},
		[]string{"result"},
	)

	// DispatcherLoopDuration tracks time spent in one dispatcher poll iteration
	DispatcherLoopDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "poresolve",
			Subsystem: "dispatcher",
			Name:      "loop_duration_seconds",
			Help:      "Time to run one dispatcher poll iteration",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// DispatcherInFlightCalls tracks concurrent outbound agent provider calls
	DispatcherInFlightCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poresolve",
			Subsystem: "dispatcher",
			Name:      "in_flight_calls",
			Help:      "Number of agent provider calls currently in flight",
		},
	)

	// DispatcherLeaderElectionState reports whether this instance holds the dispatcher lock
	// 0 = follower, 1 = leader
	DispatcherLeaderElectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poresolve",
			Subsystem: "dispatcher",
			Name:      "leader_election_state",
			Help:      "Leader election state (0=follower, 1=leader)",
		},
	)

	// DispatcherStaleBatchesRecovered tracks batches recovered from stuck processing
	DispatcherStaleBatchesRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "dispatcher",
			Name:      "stale_batches_recovered_total",
			Help:      "Total batches recovered from the processing set after exceeding the stale threshold",
		},
	)

	// Agent provider client metrics

	// AgentHTTPRequests tracks outbound agent provider HTTP calls
	AgentHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "agent",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests made to the agent provider",
		},
		[]string{"status_code"},
	)

	// AgentHTTPDuration tracks agent provider call latency
	AgentHTTPDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "poresolve",
			Subsystem: "agent",
			Name:      "http_duration_seconds",
			Help:      "Agent provider HTTP call duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// AgentCircuitBreakerState tracks the agent provider circuit breaker state
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	AgentCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poresolve",
			Subsystem: "agent",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// AgentCircuitBreakerTrips tracks circuit breaker trip events
	AgentCircuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "agent",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total agent provider circuit breaker trip events",
		},
	)

	// Queue store metrics (Redis-backed sorted sets)

	// QueueStoreEnqueued tracks batches pushed into a queue store structure
	QueueStoreEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "queue_store",
			Name:      "enqueued_total",
			Help:      "Total items enqueued into the queue store",
		},
		[]string{"structure"}, // primary, callback, processing
	)

	// QueueStoreDepth tracks pending item counts in the queue store
	QueueStoreDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poresolve",
			Subsystem: "queue_store",
			Name:      "depth",
			Help:      "Number of pending items in a queue store structure",
		},
		[]string{"structure"},
	)

	// QueueStoreSupplierExclusions tracks suppliers currently claimed exclusively
	QueueStoreSupplierExclusions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poresolve",
			Subsystem: "queue_store",
			Name:      "supplier_exclusions",
			Help:      "Number of suppliers currently held in the exclusion set",
		},
	)

	// Event bus metrics (NATS core pub/sub)

	// EventBusPublished tracks events published to the bus
	EventBusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "eventbus",
			Name:      "published_total",
			Help:      "Total events published to the event bus",
		},
		[]string{"subject"},
	)

	// EventBusPublishErrors tracks publish failures
	EventBusPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "eventbus",
			Name:      "publish_errors_total",
			Help:      "Total event bus publish errors",
		},
		[]string{"subject"},
	)

	// EventBusSubscribers tracks active subscriber count per subject
	EventBusSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poresolve",
			Subsystem: "eventbus",
			Name:      "subscribers",
			Help:      "Active subscriber count per subject",
		},
		[]string{"subject"},
	)

	// Batch builder metrics

	// BatchBuilderBatchesBuilt tracks supplier batches built from uploaded purchase orders
	BatchBuilderBatchesBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "batch_builder",
			Name:      "batches_built_total",
			Help:      "Total supplier batches built from queued purchase orders",
		},
	)

	// BatchBuilderConflictsDetected tracks conflicts raised on re-upload
	BatchBuilderConflictsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "batch_builder",
			Name:      "conflicts_detected_total",
			Help:      "Total conflicts detected while building or rebuilding batches",
		},
	)

	// Callback scheduler metrics

	// CallbackSchedulerDue tracks callbacks picked up as due
	CallbackSchedulerDue = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "callback_scheduler",
			Name:      "due_total",
			Help:      "Total due callbacks picked up by the sweep",
		},
	)

	// CallbackSchedulerEscalations tracks callbacks that escalated instead of resolving
	CallbackSchedulerEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "callback_scheduler",
			Name:      "escalations_total",
			Help:      "Total callbacks that escalated after exceeding the retry budget",
		},
	)

	// Upload job metrics

	// UploadJobsProcessed tracks completed upload jobs
	UploadJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "upload",
			Name:      "jobs_processed_total",
			Help:      "Total upload jobs processed",
		},
		[]string{"result"}, // completed, failed
	)

	// UploadJobDuration tracks upload job processing duration
	UploadJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "poresolve",
			Subsystem: "upload",
			Name:      "job_duration_seconds",
			Help:      "Time to process an upload job end to end",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// HTTP API metrics

	// HTTPRequestsTotal tracks HTTP API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poresolve",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "poresolve",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPActiveSSEConnections tracks open server-sent-events streams
	HTTPActiveSSEConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poresolve",
			Subsystem: "http",
			Name:      "active_sse_connections",
			Help:      "Number of open server-sent-events streams",
		},
		[]string{"stream"}, // progress, batch_events
	)
)

// CircuitBreakerState constants, shared by any gauge reporting a gobreaker state.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
