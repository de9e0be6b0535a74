package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a service operation.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "commit_failed"
)

// OperationMetrics tracks the engine operations the service runs and the
// requests turned away before they reach the engine.
type OperationMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	throttles  *prometheus.CounterVec
}

var (
	operationMetricsOnce sync.Once
	operationRegistry    *OperationMetrics
)

// Operations returns the lazily registered operation metrics.
func Operations() *OperationMetrics {
	operationMetricsOnce.Do(func() {
		operationRegistry = &OperationMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablerisk",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stablerisk",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Time spent inside the service lock per operation, commit included.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablerisk",
				Subsystem: "engine",
				Name:      "throttles_total",
				Help:      "Requests refused by a rate limit or the mint quota, by source and reason.",
			}, []string{"source", "reason"}),
		}
		prometheus.MustRegister(
			operationRegistry.operations,
			operationRegistry.duration,
			operationRegistry.throttles,
		)
	})
	return operationRegistry
}

// ObserveOperation records one finished operation.
func (m *OperationMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	operation = label(operation)
	m.operations.WithLabelValues(operation, label(outcome)).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordThrottle counts a refused request. Source names the limiter, such as
// a rate limit group or the mint quota; reason is the stable reason code.
func (m *OperationMetrics) RecordThrottle(source, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(source), label(reason)).Inc()
}

func label(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
