package domain

// Severity of an operational alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert codes emitted by the metrics evaluator.
const (
	AlertErrorBurst                = "error_burst"
	AlertDriftThreshold            = "drift_threshold"
	AlertBuilderValidationFailures = "builder_validation_failures"
)

// Alert is a derived, stateless report. It is never persisted by the core.
type Alert struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Source   string   `json:"source_ref"`
}
