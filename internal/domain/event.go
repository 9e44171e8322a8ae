package domain

// LeaderEventType tags the leader events the worker subscribes to.
type LeaderEventType string

const (
	EventPositionChange LeaderEventType = "position_change"
	EventFill           LeaderEventType = "fill"
)

// LeaderEvent is produced by the leader stream and never mutated after receipt.
// Timestamp is Unix milliseconds.
type LeaderEvent struct {
	Type      LeaderEventType `json:"type"`
	LeaderID  string          `json:"leaderId"`
	Market    string          `json:"market"`
	Size      float64         `json:"size"`
	Side      Side            `json:"side"`
	FillPrice *float64        `json:"fillPrice,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source_ref"`
}

// Snapshot converts the event into the position it describes.
func (e LeaderEvent) Snapshot() PositionSnapshot {
	return PositionSnapshot{
		Market:    e.Market,
		Size:      e.Size,
		Side:      e.Side,
		MarkPrice: e.FillPrice,
	}
}
