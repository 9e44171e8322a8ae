package domain

// IntentReason records why an intent was produced.
type IntentReason string

const (
	ReasonEvent     IntentReason = "event"
	ReasonReconcile IntentReason = "reconcile"
	ReasonRiskGuard IntentReason = "risk_guard"
)

// OrderIntent flows from sizing to risk to execution. The risk engine replaces
// it rather than mutating it.
type OrderIntent struct {
	Market     string       `json:"market"`
	Side       Side         `json:"side"`
	TargetSize float64      `json:"targetSize"`
	ReduceOnly bool         `json:"reduceOnly,omitempty"`
	Reason     IntentReason `json:"reason"`
	Source     string       `json:"source_ref"`

	// Appendix is the packed order metadata, set only when the worker encodes
	// builder information for the venue.
	Appendix string `json:"appendix,omitempty"`
}

// ExecutionResult is what the gateway reports for an executed intent.
type ExecutionResult struct {
	Accepted bool   `json:"accepted"`
	OrderID  string `json:"orderId,omitempty"`
	Source   string `json:"source_ref"`
}
