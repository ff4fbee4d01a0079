package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// === Dispatcher Metrics Tests ===

func TestDispatcherBatchesDispatched_Labels(t *testing.T) {
	results := []string{"success", "rejected", "error"}
	for _, r := range results {
		DispatcherBatchesDispatched.WithLabelValues(r).Inc()
	}

	counter := DispatcherBatchesDispatched.WithLabelValues("success")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestDispatcherLoopDuration_Observe(t *testing.T) {
	durations := []float64{0.001, 0.01, 0.1, 0.5, 1.0}
	for _, d := range durations {
		DispatcherLoopDuration.Observe(d)
	}
}

func TestDispatcherInFlightCalls_GaugeOperations(t *testing.T) {
	DispatcherInFlightCalls.Set(5)
	DispatcherInFlightCalls.Inc()
	DispatcherInFlightCalls.Dec()
	DispatcherInFlightCalls.Add(10)
	DispatcherInFlightCalls.Sub(5)
}

func TestDispatcherLeaderElectionState_Values(t *testing.T) {
	DispatcherLeaderElectionState.Set(0)
	DispatcherLeaderElectionState.Set(1)
}

func TestDispatcherStaleBatchesRecovered_Counter(t *testing.T) {
	DispatcherStaleBatchesRecovered.Inc()
	DispatcherStaleBatchesRecovered.Add(3)
}

// === Agent Provider Metrics Tests ===

func TestAgentHTTPRequests_Labels(t *testing.T) {
	statusCodes := []string{"200", "400", "500", "502", "504"}
	for _, code := range statusCodes {
		AgentHTTPRequests.WithLabelValues(code).Inc()
	}

	counter := AgentHTTPRequests.WithLabelValues("200")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestAgentHTTPDuration_Observe(t *testing.T) {
	AgentHTTPDuration.Observe(0.123)
	AgentHTTPDuration.Observe(5.0)
}

func TestAgentCircuitBreakerState_Values(t *testing.T) {
	AgentCircuitBreakerState.Set(CircuitBreakerClosed)
	AgentCircuitBreakerState.Set(CircuitBreakerOpen)
	AgentCircuitBreakerState.Set(CircuitBreakerHalfOpen)
}

func TestAgentCircuitBreakerTrips_Counter(t *testing.T) {
	AgentCircuitBreakerTrips.Inc()
}

// === Queue Store Metrics Tests ===

func TestQueueStoreEnqueued_Labels(t *testing.T) {
	structures := []string{"primary", "callback", "processing"}
	for _, s := range structures {
		QueueStoreEnqueued.WithLabelValues(s).Inc()
	}

	counter := QueueStoreEnqueued.WithLabelValues("primary")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestQueueStoreDepth_Gauge(t *testing.T) {
	QueueStoreDepth.WithLabelValues("primary").Set(42)
	QueueStoreDepth.WithLabelValues("callback").Set(7)

	gauge := QueueStoreDepth.WithLabelValues("primary")
	if gauge == nil {
		t.Error("Expected gauge to be non-nil")
	}
}

func TestQueueStoreSupplierExclusions_Gauge(t *testing.T) {
	QueueStoreSupplierExclusions.Set(3)
	QueueStoreSupplierExclusions.Inc()
	QueueStoreSupplierExclusions.Dec()
}

// === Event Bus Metrics Tests ===

func TestEventBusPublished_Labels(t *testing.T) {
	subjects := []string{"poresolve.pipeline", "poresolve.batch.b1.log"}
	for _, s := range subjects {
		EventBusPublished.WithLabelValues(s).Inc()
	}

	counter := EventBusPublished.WithLabelValues("poresolve.pipeline")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestEventBusPublishErrors_Counter(t *testing.T) {
	EventBusPublishErrors.WithLabelValues("poresolve.pipeline").Inc()
}

func TestEventBusSubscribers_Gauge(t *testing.T) {
	EventBusSubscribers.WithLabelValues("poresolve.pipeline").Set(2)
}

// === Batch Builder Metrics Tests ===

func TestBatchBuilderBatchesBuilt_Counter(t *testing.T) {
	BatchBuilderBatchesBuilt.Inc()
	BatchBuilderBatchesBuilt.Add(2)
}

func TestBatchBuilderConflictsDetected_Counter(t *testing.T) {
	BatchBuilderConflictsDetected.Inc()
}

// === Callback Scheduler Metrics Tests ===

func TestCallbackSchedulerDue_Counter(t *testing.T) {
	CallbackSchedulerDue.Inc()
	CallbackSchedulerDue.Add(4)
}

func TestCallbackSchedulerEscalations_Counter(t *testing.T) {
	CallbackSchedulerEscalations.Inc()
}

// === Upload Job Metrics Tests ===

func TestUploadJobsProcessed_Labels(t *testing.T) {
	UploadJobsProcessed.WithLabelValues("completed").Inc()
	UploadJobsProcessed.WithLabelValues("failed").Inc()
}

func TestUploadJobDuration_Observe(t *testing.T) {
	UploadJobDuration.Observe(1.5)
}

// === HTTP API Metrics Tests ===

func TestHTTPRequestsTotal_Labels(t *testing.T) {
	methods := []string{"GET", "POST"}
	paths := []string{"/api/batches", "/api/upload"}
	statuses := []string{"200", "400", "404"}

	for _, method := range methods {
		for _, path := range paths {
			for _, status := range statuses {
				HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
			}
		}
	}

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/api/batches", "200")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestHTTPRequestDuration_Observe(t *testing.T) {
	HTTPRequestDuration.WithLabelValues("GET", "/api/batches").Observe(0.015)
}

func TestHTTPActiveSSEConnections_Gauge(t *testing.T) {
	HTTPActiveSSEConnections.WithLabelValues("progress").Set(1)
	HTTPActiveSSEConnections.WithLabelValues("batch_events").Inc()
}

// === Circuit Breaker Constants Tests ===

func TestCircuitBreakerConstants(t *testing.T) {
	if CircuitBreakerClosed != 0 {
		t.Errorf("Expected CircuitBreakerClosed=0, got %d", CircuitBreakerClosed)
	}
	if CircuitBreakerOpen != 1 {
		t.Errorf("Expected CircuitBreakerOpen=1, got %d", CircuitBreakerOpen)
	}
	if CircuitBreakerHalfOpen != 2 {
		t.Errorf("Expected CircuitBreakerHalfOpen=2, got %d", CircuitBreakerHalfOpen)
	}
}

// === Counter/Gauge/Histogram sanity (isolated registry) ===

func TestCounterValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})
	reg.MustRegister(counter)

	counter.Add(5)
	if val := testutil.ToFloat64(counter); val != 5 {
		t.Errorf("Expected counter value 5, got %f", val)
	}
}

func TestGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "Test gauge",
	})
	reg.MustRegister(gauge)

	gauge.Set(100)
	gauge.Add(50)
	gauge.Sub(30)

	if val := testutil.ToFloat64(gauge); val != 120 {
		t.Errorf("Expected gauge value 120, got %f", val)
	}
}

// Benchmarks

func BenchmarkDispatcherBatchesDispatchedInc(b *testing.B) {
	counter := DispatcherBatchesDispatched.WithLabelValues("success")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		counter.Inc()
	}
}

func BenchmarkAgentHTTPDurationObserve(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		AgentHTTPDuration.Observe(0.1)
	}
}
