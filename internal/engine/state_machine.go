package engine

import "sync"

// WorkerState is the lifecycle state of a copy-trading worker.
type WorkerState string

const (
	StateStopped WorkerState = "stopped"
	StateRunning WorkerState = "running"
	StatePaused  WorkerState = "paused"
	StateError   WorkerState = "error"
)

// StateMachine holds the worker lifecycle. Transitions are pure state updates;
// invalid ones are no-ops. There is no terminal state.
type StateMachine struct {
	mu      sync.RWMutex
	state   WorkerState
	lastErr string
	hasErr  bool
}

// NewStateMachine starts in stopped.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateStopped}
}

// Current returns the current state.
func (m *StateMachine) Current() WorkerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the recorded failure message, if any.
func (m *StateMachine) LastError() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr, m.hasErr
}

// Start moves to running from any state.
func (m *StateMachine) Start() {
	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()
}

// Pause moves running to paused.
func (m *StateMachine) Pause() {
	m.mu.Lock()
	if m.state == StateRunning {
		m.state = StatePaused
	}
	m.mu.Unlock()
}

// Resume moves paused to running.
func (m *StateMachine) Resume() {
	m.mu.Lock()
	if m.state == StatePaused {
		m.state = StateRunning
	}
	m.mu.Unlock()
}

// Stop moves to stopped from any state and clears the error.
func (m *StateMachine) Stop() {
	m.mu.Lock()
	m.state = StateStopped
	m.lastErr, m.hasErr = "", false
	m.mu.Unlock()
}

// Fail moves to error from any state and records message.
func (m *StateMachine) Fail(message string) {
	m.mu.Lock()
	m.state = StateError
	m.lastErr, m.hasErr = message, true
	m.mu.Unlock()
}

// Recover moves error to paused and clears the error.
func (m *StateMachine) Recover() {
	m.mu.Lock()
	if m.state == StateError {
		m.state = StatePaused
		m.lastErr, m.hasErr = "", false
	}
	m.mu.Unlock()
}
