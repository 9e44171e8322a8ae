package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"copytrade_go/internal/infra"
	"copytrade_go/pkg/appendix"
)

var (
	// ErrCircuitOpen is back-pressure from the breaker, not a venue fault.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrMaintenance refuses automated execution inside a maintenance window.
	ErrMaintenance = errors.New("maintenance window active")
)

// Error codes reported to metrics.
const (
	CodeCircuitOpen    = "circuit_open"
	CodeMaintenance    = "maintenance"
	CodeGatewayTimeout = "gateway_timeout"
	CodeRejected       = "rejected"
)

// GatewayError is an HTTP-like failure from a venue client.
type GatewayError struct {
	Status     int
	Code       string
	RetryAfter time.Duration
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway status %d (%s): %v", e.Status, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway status %d (%s)", e.Status, e.Code)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether the status is 429 or 5xx.
func (e *GatewayError) Retryable() bool {
	return infra.IsRetryableStatus(e.Status)
}

// ErrorCode maps an execution error to its metrics code. Unclassified
// errors map to "", which metrics count as unknown.
func ErrorCode(err error) string {
	var ge *GatewayError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrMaintenance):
		return CodeMaintenance
	case errors.Is(err, appendix.ErrInvalidBuilder):
		return ErrorCodeInvalidBuilder
	case errors.Is(err, context.DeadlineExceeded):
		return CodeGatewayTimeout
	case errors.As(err, &ge):
		return ge.Code
	default:
		return ""
	}
}
