package event

import (
	"testing"

	"copytrade_go/internal/domain"
)

func TestEventTypes(t *testing.T) {
	var evs = []Event{
		LeaderEventReceived{BaseEvent: BaseEvent{Seq: 1, Ts: 10}, Leader: domain.LeaderEvent{Market: "BTC-PERP"}},
		ReconcileTick{BaseEvent: BaseEvent{Seq: 2, Ts: 20}},
	}

	want := []Type{EvLeaderEvent, EvReconcileTick}
	for i, ev := range evs {
		if ev.GetType() != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ev.GetType())
		}
		if ev.GetSeq() != uint64(i+1) || ev.GetTs() != int64((i+1)*10) {
			t.Errorf("event %d: base fields not exposed", i)
		}
	}

	if Type(99).String() != "unknown" {
		t.Error("unexpected string for unknown type")
	}
}
