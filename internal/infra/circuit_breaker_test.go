package infra

import (
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_AllowInClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	if !cb.CanRun(time.Now()) {
		t.Error("Expected CanRun() to return true in closed state")
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CooldownBoundary(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		Cooldown:         1000 * time.Millisecond,
	})
	t0 := time.UnixMilli(1_700_000_000_000)

	cb.RecordFailure(t0)
	if cb.GetState() != StateClosed {
		t.Fatal("Should still be closed after 1 failure")
	}
	cb.RecordFailure(t0)

	if cb.CanRun(t0) {
		t.Error("Expected CanRun(t) = false right after opening")
	}
	if cb.CanRun(t0.Add(999 * time.Millisecond)) {
		t.Error("Expected CanRun(t+999ms) = false")
	}
	if !cb.CanRun(t0.Add(1000 * time.Millisecond)) {
		t.Error("Expected CanRun(t+1000ms) = true")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected half-open, got %s", cb.GetState())
	}

	cb.RecordSuccess()
	snap := cb.Snapshot()
	if snap.State != "closed" || snap.FailureCount != 0 {
		t.Errorf("Expected closed/0 after success, got %+v", snap)
	}
}

func TestCircuitBreaker_HalfOpenPermitsUntilOutcome(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 2, Cooldown: time.Second})
	t0 := time.UnixMilli(0)

	cb.RecordFailure(t0)
	cb.RecordFailure(t0)
	later := t0.Add(time.Second)
	if !cb.CanRun(later) {
		t.Fatal("Expected half-open transition")
	}
	for i := 0; i < 3; i++ {
		if !cb.CanRun(later) {
			t.Fatalf("half-open must permit call %d", i)
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 2, Cooldown: time.Second})
	t0 := time.UnixMilli(0)

	cb.RecordFailure(t0)
	cb.RecordFailure(t0)
	t1 := t0.Add(time.Second)
	cb.CanRun(t1)

	// Count is already past the threshold, so one more failure reopens.
	cb.RecordFailure(t1)
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.GetState())
	}
	if cb.Snapshot().FailureCount != 3 {
		t.Errorf("Expected failure count 3, got %d", cb.Snapshot().FailureCount)
	}
	if cb.CanRun(t1.Add(500 * time.Millisecond)) {
		t.Error("Cooldown must restart from the new open transition")
	}
	if !cb.CanRun(t1.Add(time.Second)) {
		t.Error("Expected half-open after the second cooldown")
	}
}

func TestCircuitBreaker_SuccessResetsInClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 2, Cooldown: time.Second})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordSuccess()
	cb.RecordFailure(now)

	if cb.GetState() != StateClosed {
		t.Error("Failures must be consecutive to open the breaker")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 1, Cooldown: time.Hour})
	now := time.Now()

	cb.RecordFailure(now)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed || !cb.CanRun(now) {
		t.Error("Expected closed after reset")
	}
}

func TestCircuitBreaker_StateStrings(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", int(s), s.String(), want)
		}
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", FailureThreshold: 1000, Cooldown: time.Second})
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.CanRun(now)
			cb.RecordFailure(now)
			_ = cb.Snapshot()
		}()
	}
	wg.Wait()

	if got := cb.Snapshot().FailureCount; got != 50 {
		t.Errorf("Expected 50 failures, got %d", got)
	}
}
