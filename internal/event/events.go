package event

import "copytrade_go/internal/domain"

// Type defines the type of event.
type Type uint16

const (
	EvLeaderEvent Type = iota + 1
	EvReconcileTick
)

func (t Type) String() string {
	switch t {
	case EvLeaderEvent:
		return "leader_event"
	case EvReconcileTick:
		return "reconcile_tick"
	default:
		return "unknown"
	}
}

// Event is the interface for everything the worker inbox carries.
type Event interface {
	GetSeq() uint64
	GetTs() int64 // Unix ms
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64 { return e.Seq }
func (e BaseEvent) GetTs() int64   { return e.Ts }

// LeaderEventReceived wraps a leader stream event for the inbox.
type LeaderEventReceived struct {
	BaseEvent
	Leader domain.LeaderEvent `json:"leader"`
}

func (e LeaderEventReceived) GetType() Type { return EvLeaderEvent }

// ReconcileTick asks the worker to reconcile against the leader account.
type ReconcileTick struct {
	BaseEvent
}

func (e ReconcileTick) GetType() Type { return EvReconcileTick }
