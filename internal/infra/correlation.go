package infra

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// CorrelationContext ties the log lines of one decision cycle together.
type CorrelationContext struct {
	RequestID  string `json:"requestId"`
	InstanceID string `json:"instanceId"`
	IntentID   string `json:"intentId"`
	Digest     string `json:"digest"`
}

// NewCorrelationContext creates a context for command at now.
func NewCorrelationContext(command string, now time.Time) CorrelationContext {
	return CorrelationContext{
		RequestID:  uuid.NewString(),
		InstanceID: fmt.Sprintf("copytrade-%d", os.Getpid()),
		IntentID:   fmt.Sprintf("%s-%d", command, now.UnixMilli()),
		Digest:     uuid.NewString()[:12],
	}
}

// LogAttr renders the context as a "correlation" group.
func (c CorrelationContext) LogAttr() slog.Attr {
	return slog.Group("correlation",
		slog.String("request_id", c.RequestID),
		slog.String("instance_id", c.InstanceID),
		slog.String("intent_id", c.IntentID),
		slog.String("digest", c.Digest),
	)
}
