package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/execution"
	"copytrade_go/internal/infra"
)

type fakeStream struct {
	mu           sync.Mutex
	handlers     map[domain.LeaderEventType]domain.EventHandler
	unsubscribed []domain.LeaderEventType
	failOn       domain.LeaderEventType
}

func newFakeStream() *fakeStream {
	return &fakeStream{handlers: make(map[domain.LeaderEventType]domain.EventHandler)}
}

func (s *fakeStream) Subscribe(_ context.Context, _ string, et domain.LeaderEventType, h domain.EventHandler) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if et == s.failOn {
		return nil, errors.New("ws unavailable")
	}
	s.handlers[et] = h
	return &fakeSub{stream: s, et: et}, nil
}

// emit delivers ev synchronously, like a stream waiting for its handler.
func (s *fakeStream) emit(t *testing.T, ev domain.LeaderEvent) error {
	t.Helper()
	s.mu.Lock()
	h, ok := s.handlers[ev.Type]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %s", ev.Type)
	}
	return h(context.Background(), ev)
}

func (s *fakeStream) unsubs() []domain.LeaderEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LeaderEventType(nil), s.unsubscribed...)
}

type fakeSub struct {
	stream *fakeStream
	et     domain.LeaderEventType
}

func (f *fakeSub) Unsubscribe(context.Context) error {
	f.stream.mu.Lock()
	defer f.stream.mu.Unlock()
	delete(f.stream.handlers, f.et)
	f.stream.unsubscribed = append(f.stream.unsubscribed, f.et)
	return nil
}

type fakeSigner struct{}

func (fakeSigner) Provider() string  { return "test" }
func (fakeSigner) SessionID() string { return "s1" }
func (fakeSigner) Sign(context.Context, []byte) (string, error) {
	return "0xabcdef0123456789", nil
}

var fixedNow = time.UnixMilli(1_767_225_600_000)

func testConfig() domain.CopyTradingConfig {
	return domain.CopyTradingConfig{
		LeaderID:             "leader",
		FollowerID:           "follower",
		Multiplier:           2,
		SizingMode:           domain.SizingC1,
		MaxExposureUSD:       1_000_000,
		LiquidationBufferPct: 0.1,
		ReconcileInterval:    time.Hour,
	}
}

func btcEvent() domain.LeaderEvent {
	return domain.LeaderEvent{
		Type:      domain.EventPositionChange,
		LeaderID:  "leader",
		Market:    "BTC-PERP",
		Size:      1,
		Side:      domain.SideLong,
		Timestamp: fixedNow.UnixMilli(),
		Source:    "ws",
	}
}

func newTestWorker(t *testing.T, cfg domain.CopyTradingConfig, opts ...Option) (*Worker, *fakeStream, *execution.MockGateway) {
	t.Helper()
	stream := newFakeStream()
	gw := execution.NewMockGateway()
	gw.SetAccount("follower", domain.SubaccountInfo{AccountValue: 100_000, Source: "mock"})

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	w, err := NewWorker(cfg, stream, gw, fakeSigner{}, opts...)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	t.Cleanup(func() { w.Stop(context.Background()) })
	return w, stream, gw
}

func TestWorker_EventExecutesOnceWithinBucket(t *testing.T) {
	w, stream, gw := newTestWorker(t, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if w.State() != StateRunning {
		t.Fatalf("expected running, got %s", w.State())
	}

	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 execute call, got %d", len(calls))
	}
	got := calls[0].Intent
	if got.TargetSize != 2 || got.Market != "BTC-PERP" || got.Side != domain.SideLong || got.Reason != domain.ReasonEvent {
		t.Errorf("unexpected intent %+v", got)
	}
	if want := "ws|signed_by:test|session:s1|sig:0xabcdef0123"; got.Source != want {
		t.Errorf("source = %q, want %q", got.Source, want)
	}
	if calls[0].IdempotencyKey == "" {
		t.Error("expected an idempotency key")
	}

	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if n := len(gw.Calls()); n != 1 {
		t.Errorf("duplicate event must not execute again, got %d calls", n)
	}
}

func TestWorker_PauseDropsEvents(t *testing.T) {
	w, stream, gw := newTestWorker(t, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	w.Pause()
	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatal(err)
	}
	if n := len(gw.Calls()); n != 0 {
		t.Fatalf("paused worker executed %d intents", n)
	}
	if gw.Reads() != 0 {
		t.Errorf("paused worker should not fetch accounts, got %d reads", gw.Reads())
	}

	w.Resume()
	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatal(err)
	}
	if n := len(gw.Calls()); n != 1 {
		t.Errorf("expected 1 call after resume, got %d", n)
	}
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	w, stream, gw := newTestWorker(t, testConfig())
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := w.Stop(ctx); err != nil {
			t.Fatalf("Stop #%d failed: %v", i+1, err)
		}
	}

	if w.State() != StateStopped {
		t.Errorf("expected stopped, got %s", w.State())
	}
	unsubs := stream.unsubs()
	want := []domain.LeaderEventType{domain.EventFill, domain.EventPositionChange}
	if len(unsubs) != len(want) || unsubs[0] != want[0] || unsubs[1] != want[1] {
		t.Errorf("unsubscribe order = %v, want %v", unsubs, want)
	}
	if w.deduper.Len() != 0 {
		t.Errorf("deduper not cleared: %d keys", w.deduper.Len())
	}

	// Restart with a cleared deduper executes the same intent again.
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatal(err)
	}
	if n := len(gw.Calls()); n != 2 {
		t.Errorf("expected 2 calls after restart, got %d", n)
	}
}

func TestWorker_SubscribeFailure(t *testing.T) {
	w, stream, _ := newTestWorker(t, testConfig())
	stream.failOn = domain.EventFill

	err := w.Start(context.Background())
	if err == nil {
		t.Fatal("expected start error")
	}
	if w.State() != StateError {
		t.Errorf("expected error state, got %s", w.State())
	}
	msg, ok := w.LastError()
	if !ok || !strings.Contains(msg, "ws unavailable") {
		t.Errorf("unexpected last error %q (%v)", msg, ok)
	}
	if unsubs := stream.unsubs(); len(unsubs) != 1 || unsubs[0] != domain.EventPositionChange {
		t.Errorf("partial subscriptions not released: %v", unsubs)
	}

	// Retry succeeds once the stream recovers.
	stream.failOn = ""
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("retry Start failed: %v", err)
	}
	if w.State() != StateRunning {
		t.Errorf("expected running after retry, got %s", w.State())
	}
}

func TestWorker_RiskRejectionIsSilent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExposureUSD = 100
	w, stream, gw := newTestWorker(t, cfg)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ev := btcEvent()
	ev.Size = 10
	ev.FillPrice = domain.Price(20)
	if err := stream.emit(t, ev); err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if n := len(gw.Calls()); n != 0 {
		t.Errorf("rejected intent executed %d times", n)
	}
	if w.State() != StateRunning {
		t.Errorf("expected running, got %s", w.State())
	}
}

func fillEvent(size, price float64) domain.LeaderEvent {
	ev := btcEvent()
	ev.Type = domain.EventFill
	ev.Size = size
	ev.FillPrice = domain.Price(price)
	return ev
}

func TestWorker_FillPriceReachesRisk(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExposureUSD = 100
	w, stream, gw := newTestWorker(t, cfg)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Target 20 at 20 is 400 notional, above the 100 exposure limit.
	if err := stream.emit(t, fillEvent(10, 20)); err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if n := len(gw.Calls()); n != 0 {
		t.Errorf("fill above max exposure executed %d times", n)
	}
}

func TestWorker_FillExecutesWithinLimits(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExposureUSD = 1_000
	w, stream, gw := newTestWorker(t, cfg)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := stream.emit(t, fillEvent(10, 20)); err != nil {
		t.Fatal(err)
	}
	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := calls[0].Intent; got.TargetSize != 20 || got.Reason != domain.ReasonEvent {
		t.Errorf("unexpected intent %+v", got)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestWorker_ExecutedLogKeepsCorrelationIDs(t *testing.T) {
	out := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	sub := execution.NewSubmitter(execution.SubmitRequest{
		Venue:          execution.VenueCopyEngine,
		OrderFlags:     13,
		Builder:        "0xff",
		BuilderFeeRate: 44,
		FeeMode:        execution.FeeModeFailOpen,
	}, nil, nil)
	w, stream, gw := newTestWorker(t, testConfig(), WithSubmitter(sub))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatal(err)
	}
	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}

	var entry struct {
		Msg            string `json:"msg"`
		IdempotencyKey string `json:"idempotency_key"`
		AuditDigest    string `json:"audit_digest"`
		Correlation    struct {
			IntentID string `json:"intent_id"`
			Digest   string `json:"digest"`
		} `json:"correlation"`
	}
	found := false
	for _, line := range out.lines() {
		if err := json.Unmarshal([]byte(line), &entry); err == nil && entry.Msg == "Intent executed" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("no executed log line in %v", out.lines())
	}

	if want := "sync-1767225600000"; entry.Correlation.IntentID != want {
		t.Errorf("intent_id = %q, want %q", entry.Correlation.IntentID, want)
	}
	if len(entry.Correlation.Digest) != 12 {
		t.Errorf("digest should be a 12-char id, got %q", entry.Correlation.Digest)
	}
	if entry.IdempotencyKey != calls[0].IdempotencyKey {
		t.Errorf("idempotency_key = %q, want %q", entry.IdempotencyKey, calls[0].IdempotencyKey)
	}
	if entry.AuditDigest == "" || entry.AuditDigest == entry.Correlation.Digest {
		t.Errorf("audit digest must be logged separately, got %q", entry.AuditDigest)
	}
}

func TestWorker_Reconcile(t *testing.T) {
	cfg := testConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	recorder := infra.NewMetricsRecorder()
	w, _, gw := newTestWorker(t, cfg, WithMetrics(recorder))
	gw.SetAccount("leader", domain.SubaccountInfo{
		Positions: []domain.PositionSnapshot{
			{Market: "ETH-PERP", Size: 3, Side: domain.SideLong, MarkPrice: domain.Price(10)},
		},
		Source: "leader-info",
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(gw.Calls()) > 0 && recorder.Snapshot().CopyDrift > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 reconcile execution, got %d", len(calls))
	}
	got := calls[0].Intent
	if got.Market != "ETH-PERP" || got.TargetSize != 6 || got.Reason != domain.ReasonReconcile {
		t.Errorf("unexpected intent %+v", got)
	}
	if !strings.HasPrefix(got.Source, "leader-info|signed_by:test") {
		t.Errorf("unexpected source %q", got.Source)
	}
	if drift := recorder.Snapshot().CopyDrift; drift != 1 {
		t.Errorf("expected drift 1 for a missing follower position, got %v", drift)
	}
}

func TestWorker_FailClosedSkipsExecution(t *testing.T) {
	recorder := infra.NewMetricsRecorder()
	sub := execution.NewSubmitter(execution.SubmitRequest{
		Venue:          execution.VenueCopyEngine,
		OrderFlags:     13,
		Builder:        "not-a-builder",
		BuilderFeeRate: 44,
		FeeMode:        execution.FeeModeFailClosed,
	}, nil, recorder)

	w, stream, gw := newTestWorker(t, testConfig(), WithSubmitter(sub))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatalf("fail-closed must not be an error: %v", err)
	}
	if n := len(gw.Calls()); n != 0 {
		t.Errorf("fail-closed submission executed %d intents", n)
	}
	if got := recorder.Snapshot().Execute.FailByErrorCode[execution.ErrorCodeInvalidBuilder]; got != 1 {
		t.Errorf("expected 1 InvalidBuilder failure, got %d", got)
	}
}

func TestWorker_AppendixAttached(t *testing.T) {
	sub := execution.NewSubmitter(execution.SubmitRequest{
		Venue:          execution.VenueCopyEngine,
		OrderFlags:     13,
		Builder:        "0xff",
		BuilderFeeRate: 44,
		FeeMode:        execution.FeeModeFailOpen,
	}, nil, nil)

	w, stream, gw := newTestWorker(t, testConfig(), WithSubmitter(sub))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := stream.emit(t, btcEvent()); err != nil {
		t.Fatal(err)
	}

	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if len(calls[0].Intent.Appendix) != 128 {
		t.Errorf("expected a 128-bit appendix, got %q", calls[0].Intent.Appendix)
	}
}

func TestWorker_FieldWidthFaultIsFatal(t *testing.T) {
	sub := execution.NewSubmitter(execution.SubmitRequest{
		Venue:      execution.VenueCopyEngine,
		OrderFlags: 1 << 33,
		Builder:    "1",
		FeeMode:    execution.FeeModeFailOpen,
	}, nil, nil)

	w, stream, gw := newTestWorker(t, testConfig(), WithSubmitter(sub))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := stream.emit(t, btcEvent()); err == nil {
		t.Fatal("expected encoding fault")
	}
	if w.State() != StateError {
		t.Errorf("expected error state, got %s", w.State())
	}
	if n := len(gw.Calls()); n != 0 {
		t.Errorf("faulted intent executed %d times", n)
	}
}

func TestWorker_GatewayErrorPropagates(t *testing.T) {
	w, stream, gw := newTestWorker(t, testConfig())
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	gw.FailReads(errors.New("gateway down"))
	if err := stream.emit(t, btcEvent()); err == nil {
		t.Fatal("expected fetch error")
	}
	if w.State() != StateRunning {
		t.Errorf("a gateway error must not fail the worker, got %s", w.State())
	}
}

func TestNewWorker_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LeaderID = ""
	if _, err := NewWorker(cfg, newFakeStream(), execution.NewMockGateway(), fakeSigner{}); !errors.Is(err, domain.ErrInvalidCopyConfig) {
		t.Errorf("expected ErrInvalidCopyConfig, got %v", err)
	}
}
