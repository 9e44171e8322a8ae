package infra

import (
	"fmt"
	"sync"
	"time"

	"copytrade_go/internal/domain"
)

const (
	// Alert thresholds
	errorBurstThreshold = 3
	driftThreshold      = 0.1

	// UnknownErrorCode buckets failures reported without a code.
	UnknownErrorCode = "unknown"

	ErrorCodeBuilderValidation = "builder_validation"
	ErrorCodeInvalidBuilder    = "InvalidBuilder"
)

// ExecuteOutcome is one execute attempt as seen by the metrics pipeline.
type ExecuteOutcome struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode,omitempty"`
	Source    string `json:"source_ref"`
}

// ExecuteMetrics aggregates execute outcomes.
type ExecuteMetrics struct {
	Success         int            `json:"success"`
	FailByErrorCode map[string]int `json:"failByErrorCode"`
}

// TotalFailures sums failures across codes.
func (e ExecuteMetrics) TotalFailures() int {
	total := 0
	for _, n := range e.FailByErrorCode {
		total += n
	}
	return total
}

// Metrics is an operational snapshot. Gauges pass through unchanged.
type Metrics struct {
	WSReconnectCount  int            `json:"wsReconnectCount"`
	SubscriptionLagMs int64          `json:"subscriptionLagMs"`
	CopyDrift         float64        `json:"copyDrift"`
	Execute           ExecuteMetrics `json:"execute"`
}

// BuildMetrics aggregates outcomes into a success count and per-code failures.
func BuildMetrics(outcomes []ExecuteOutcome, wsReconnectCount int, subscriptionLag time.Duration, copyDrift float64) Metrics {
	fails := make(map[string]int)
	success := 0
	for _, o := range outcomes {
		if o.OK {
			success++
			continue
		}
		code := o.ErrorCode
		if code == "" {
			code = UnknownErrorCode
		}
		fails[code]++
	}
	return Metrics{
		WSReconnectCount:  wsReconnectCount,
		SubscriptionLagMs: subscriptionLag.Milliseconds(),
		CopyDrift:         copyDrift,
		Execute:           ExecuteMetrics{Success: success, FailByErrorCode: fails},
	}
}

// DetectAlerts applies the fixed thresholds to a snapshot.
func DetectAlerts(m Metrics) []domain.Alert {
	var alerts []domain.Alert

	if total := m.Execute.TotalFailures(); total >= errorBurstThreshold {
		alerts = append(alerts, domain.Alert{
			Severity: domain.SeverityCritical,
			Code:     domain.AlertErrorBurst,
			Message:  fmt.Sprintf("Execute failures burst detected: %d", total),
			Source:   "metrics.execute.failByErrorCode",
		})
	}

	if m.CopyDrift > driftThreshold {
		alerts = append(alerts, domain.Alert{
			Severity: domain.SeverityWarning,
			Code:     domain.AlertDriftThreshold,
			Message:  fmt.Sprintf("Copy drift above threshold: %.3f", m.CopyDrift),
			Source:   "metrics.copyDrift",
		})
	}

	if m.Execute.FailByErrorCode[ErrorCodeBuilderValidation] > 0 || m.Execute.FailByErrorCode[ErrorCodeInvalidBuilder] > 0 {
		alerts = append(alerts, domain.Alert{
			Severity: domain.SeverityCritical,
			Code:     domain.AlertBuilderValidationFailures,
			Message:  "Builder validation failures detected in execute stage",
			Source:   "metrics.execute.failByErrorCode.InvalidBuilder",
		})
	}

	return alerts
}

// MetricsRecorder collects outcomes and gauges from concurrent producers.
// Snapshot hands them to BuildMetrics.
type MetricsRecorder struct {
	mu         sync.Mutex
	outcomes   []ExecuteOutcome
	reconnects int
	lag        time.Duration
	drift      float64
}

// NewMetricsRecorder creates an empty recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// RecordExecute appends an execute outcome.
func (r *MetricsRecorder) RecordExecute(o ExecuteOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

// IncReconnect counts one websocket reconnect.
func (r *MetricsRecorder) IncReconnect() {
	r.mu.Lock()
	r.reconnects++
	r.mu.Unlock()
}

// SetSubscriptionLag sets the latest observed delivery lag.
func (r *MetricsRecorder) SetSubscriptionLag(d time.Duration) {
	r.mu.Lock()
	r.lag = d
	r.mu.Unlock()
}

// SetCopyDrift sets the latest leader/follower drift ratio.
func (r *MetricsRecorder) SetCopyDrift(v float64) {
	r.mu.Lock()
	r.drift = v
	r.mu.Unlock()
}

// Snapshot builds Metrics from everything recorded so far.
func (r *MetricsRecorder) Snapshot() Metrics {
	r.mu.Lock()
	outcomes := make([]ExecuteOutcome, len(r.outcomes))
	copy(outcomes, r.outcomes)
	reconnects, lag, drift := r.reconnects, r.lag, r.drift
	r.mu.Unlock()

	return BuildMetrics(outcomes, reconnects, lag, drift)
}

// SnapshotAndReset builds Metrics like Snapshot, then starts a new interval:
// outcomes and the reconnect count are cleared, lag and drift are kept.
func (r *MetricsRecorder) SnapshotAndReset() Metrics {
	r.mu.Lock()
	outcomes := r.outcomes
	reconnects, lag, drift := r.reconnects, r.lag, r.drift
	r.outcomes = nil
	r.reconnects = 0
	r.mu.Unlock()

	return BuildMetrics(outcomes, reconnects, lag, drift)
}

// Reset clears outcomes and gauges.
func (r *MetricsRecorder) Reset() {
	r.mu.Lock()
	r.outcomes = nil
	r.reconnects = 0
	r.lag = 0
	r.drift = 0
	r.mu.Unlock()
}
