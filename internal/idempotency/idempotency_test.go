package idempotency

import (
	"testing"
	"time"

	"copytrade_go/internal/domain"
)

func btcIntent() domain.OrderIntent {
	return domain.OrderIntent{
		Market:     "BTC",
		Side:       domain.SideLong,
		TargetSize: 1,
		Reason:     domain.ReasonEvent,
		Source:     "x",
	}
}

func TestBuildIntentKey_Golden(t *testing.T) {
	// sha256("BTC|long|1|0|event|1")
	want := "ad7e324c0cd349164a56b808c0a81df98b4a49b93ab91009b6094099c9c9b2a6"
	got := BuildIntentKey(btcIntent(), time.UnixMilli(10_000))
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestBuildIntentKey_StableWithinBucket(t *testing.T) {
	a := BuildIntentKey(btcIntent(), time.UnixMilli(20_000))
	b := BuildIntentKey(btcIntent(), time.UnixMilli(29_999))
	if a != b {
		t.Error("keys in the same bucket must match")
	}

	c := BuildIntentKey(btcIntent(), time.UnixMilli(30_000))
	if a == c {
		t.Error("keys in different buckets must differ")
	}
}

func TestBuildIntentKey_IgnoresSource(t *testing.T) {
	now := time.UnixMilli(10_000)
	a := btcIntent()
	b := btcIntent()
	b.Source = "leader:ws:fill"
	if BuildIntentKey(a, now) != BuildIntentKey(b, now) {
		t.Error("provenance must not change the key")
	}
}

func TestBuildIntentKey_FieldsMatter(t *testing.T) {
	now := time.UnixMilli(10_000)
	base := BuildIntentKey(btcIntent(), now)

	tests := []struct {
		name   string
		mutate func(*domain.OrderIntent)
	}{
		{"Market", func(i *domain.OrderIntent) { i.Market = "ETH" }},
		{"Side", func(i *domain.OrderIntent) { i.Side = domain.SideShort }},
		{"Size", func(i *domain.OrderIntent) { i.TargetSize = 2 }},
		{"ReduceOnly", func(i *domain.OrderIntent) { i.ReduceOnly = true }},
		{"Reason", func(i *domain.OrderIntent) { i.Reason = domain.ReasonReconcile }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := btcIntent()
			tt.mutate(&intent)
			if BuildIntentKey(intent, now) == base {
				t.Errorf("changing %s must change the key", tt.name)
			}
		})
	}
}

func TestBuildIntentKeyWithWindow_CustomBucket(t *testing.T) {
	a := BuildIntentKeyWithWindow(btcIntent(), time.UnixMilli(0), time.Second)
	b := BuildIntentKeyWithWindow(btcIntent(), time.UnixMilli(1_000), time.Second)
	if a == b {
		t.Error("1s window must split at 1000ms")
	}
}

func TestIntentDeduper(t *testing.T) {
	d := NewIntentDeduper()

	if !d.MarkAndCheck("k1") {
		t.Error("first sighting must return true")
	}
	if d.MarkAndCheck("k1") {
		t.Error("second sighting must return false")
	}
	if d.MarkAndCheck("k1") {
		t.Error("later sightings must keep returning false")
	}
	if !d.MarkAndCheck("k2") {
		t.Error("distinct key must return true")
	}
	if d.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", d.Len())
	}

	d.Clear()
	if d.Len() != 0 {
		t.Errorf("expected empty deduper after Clear, got %d", d.Len())
	}
	if !d.MarkAndCheck("k1") {
		t.Error("key must be fresh again after Clear")
	}
}
