package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"copytrade_go/internal/domain"
)

// MockCall is one ExecuteIntent call seen by MockGateway.
type MockCall struct {
	Intent         domain.OrderIntent
	IdempotencyKey string
}

// MockGateway is a safe gateway that only logs and records intents.
// Accounts and scripted errors can be set for tests.
type MockGateway struct {
	mu          sync.Mutex
	accounts    map[string]domain.SubaccountInfo
	calls       []MockCall
	readErrs    []error
	executeErrs []error
	reads       int
}

// NewMockGateway creates an empty mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{accounts: make(map[string]domain.SubaccountInfo)}
}

// SetAccount sets what GetSubaccountInfo returns for id.
func (m *MockGateway) SetAccount(id string, info domain.SubaccountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = info
}

// FailReads queues errors returned by the next GetSubaccountInfo calls.
func (m *MockGateway) FailReads(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs = append(m.readErrs, errs...)
}

// FailExecutes queues errors returned by the next ExecuteIntent calls.
func (m *MockGateway) FailExecutes(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeErrs = append(m.executeErrs, errs...)
}

func (m *MockGateway) GetSubaccountInfo(ctx context.Context, subaccountID string) (domain.SubaccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		return domain.SubaccountInfo{}, err
	}
	info, ok := m.accounts[subaccountID]
	if !ok {
		return domain.SubaccountInfo{Source: "mock"}, nil
	}
	return info, nil
}

func (m *MockGateway) ExecuteIntent(ctx context.Context, intent domain.OrderIntent, idempotencyKey string) (domain.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.executeErrs) > 0 {
		err := m.executeErrs[0]
		m.executeErrs = m.executeErrs[1:]
		return domain.ExecutionResult{}, err
	}

	m.calls = append(m.calls, MockCall{Intent: intent, IdempotencyKey: idempotencyKey})
	slog.Info("MOCK EXECUTION: Execute Intent",
		slog.String("market", intent.Market),
		slog.String("side", string(intent.Side)),
		slog.Float64("target_size", intent.TargetSize),
		slog.String("reason", string(intent.Reason)),
		slog.String("key", idempotencyKey),
	)
	return domain.ExecutionResult{
		Accepted: true,
		OrderID:  fmt.Sprintf("mock-%d", len(m.calls)),
		Source:   "mock",
	}, nil
}

// Calls returns a copy of every successful ExecuteIntent call.
func (m *MockGateway) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reads returns how many times GetSubaccountInfo was called.
func (m *MockGateway) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
