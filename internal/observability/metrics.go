package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session and turn metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "june_active_sessions",
		Help: "Number of active assistant sessions",
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "june_turns_total",
		Help: "Total number of turns by outcome",
	}, []string{"outcome"}) // completed, aborted, cancelled

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "june_turn_duration_seconds",
		Help:    "Time from accepted input to drained playback",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	chunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "june_chunks_total",
		Help: "Total number of chunks emitted by the chunker",
	})

	// Collaborator metrics
	collaboratorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "june_collaborator_requests_total",
		Help: "Total number of collaborator requests",
	}, []string{"collaborator", "status"}) // generator, transcriber, synthesizer

	collaboratorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "june_collaborator_latency_seconds",
		Help:    "Collaborator latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"collaborator"})

	// Audio metrics
	clipsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "june_clips_skipped_total",
		Help: "Synthesized clips dropped because they failed to decode",
	})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "june_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "june_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "june_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "june_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Collaborator names used as metric labels
const (
	Generator   = "generator"
	Transcriber = "transcriber"
	Synthesizer = "synthesizer"
)

// SessionMetrics tracks metrics for one assistant session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordTurn records a finished turn and how it ended
func (m *SessionMetrics) RecordTurn(outcome string, started time.Time) {
	turnsTotal.WithLabelValues(outcome).Inc()
	if !started.IsZero() {
		turnDuration.Observe(time.Since(started).Seconds())
	}
}

// RecordChunk counts one chunk handed to synthesis
func (m *SessionMetrics) RecordChunk() {
	chunksTotal.Inc()
}

// StartCollaborator returns a function that records latency and status of a
// single collaborator call when invoked.
func (m *SessionMetrics) StartCollaborator(name string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		collaboratorLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		status := "success"
		if !success {
			status = "error"
		}
		collaboratorRequests.WithLabelValues(name, status).Inc()
	}
}

// RecordClipSkipped counts a clip that failed to decode
func (m *SessionMetrics) RecordClipSkipped() {
	clipsSkipped.Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
