package infra

import "time"

// CallTarget names the upstream a response came from.
type CallTarget string

const (
	TargetGateway CallTarget = "gateway"
	TargetArchive CallTarget = "archive"
)

// CallResponse is one observed response of a batch of upstream calls.
type CallResponse struct {
	Target     CallTarget
	Status     int
	RetryAfter time.Duration
}

// Schedule is the retry plan for a batch.
type Schedule struct {
	TotalDelay time.Duration
	Retries    int
}

// IsRetryableStatus reports whether an HTTP-like status warrants a retry.
func IsRetryableStatus(status int) bool {
	return status == 429 || status >= 500
}

// ScheduleGatewayArchiveCalls accumulates the backoff of every throttled or
// failed response. Attempts are numbered by 1-based position in the batch.
func ScheduleGatewayArchiveCalls(responses []CallResponse) Schedule {
	var s Schedule
	for i, r := range responses {
		if !IsRetryableStatus(r.Status) {
			continue
		}
		s.Retries++
		s.TotalDelay += ComputeBackoff(i+1, r.RetryAfter)
	}
	return s
}
