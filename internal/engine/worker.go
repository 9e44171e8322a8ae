package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/event"
	"copytrade_go/internal/execution"
	"copytrade_go/internal/idempotency"
	"copytrade_go/internal/infra"
	"copytrade_go/internal/risk"
	"copytrade_go/internal/strategy"
	"copytrade_go/pkg/safe"
)

// ErrWorkerStopped is returned to handlers whose event arrived during Stop.
var ErrWorkerStopped = errors.New("worker stopped")

const sigPrefixLen = 12

// Option configures a Worker.
type Option func(*Worker)

// WithClock overrides time.Now for idempotency buckets and event stamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithSubmitter encodes the order appendix for every intent before it is signed.
func WithSubmitter(s *execution.Submitter) Option {
	return func(w *Worker) { w.submitter = s }
}

// WithMetrics reports copy drift measured on reconciliation.
func WithMetrics(r *infra.MetricsRecorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithDumpPath writes a state dump there if the inbox consumer panics.
func WithDumpPath(path string) Option {
	return func(w *Worker) { w.dumpPath = path }
}

// job is one inbox item. The consumer always answers on done.
type job struct {
	ev   event.Event
	done chan error
}

// loop is the per-Start consumer. A new one is created on every Start.
type loop struct {
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan job
	wg     sync.WaitGroup
}

// Worker mirrors one leader into one follower.
//
// Leader events and reconciliation ticks are funneled into a single consumer
// goroutine, so the sync routine never runs concurrently with itself. Stream
// handlers block until their event is processed.
type Worker struct {
	cfg       domain.CopyTradingConfig
	stream    domain.LeaderStream
	exchange  domain.ExchangeGateway
	signer    domain.SessionSigner
	submitter *execution.Submitter
	recorder  *infra.MetricsRecorder
	now       func() time.Time
	dumpPath  string

	machine *StateMachine
	deduper *idempotency.IntentDeduper
	nextSeq atomic.Uint64

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	subs      []domain.Subscription
	loop      *loop
}

// NewWorker validates cfg and creates a stopped worker.
func NewWorker(cfg domain.CopyTradingConfig, stream domain.LeaderStream, exchange domain.ExchangeGateway, signer domain.SessionSigner, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stream == nil || exchange == nil || signer == nil {
		return nil, errors.New("worker requires a stream, a gateway and a signer")
	}

	w := &Worker{
		cfg:      cfg,
		stream:   stream,
		exchange: exchange,
		signer:   signer,
		now:      time.Now,
		machine:  NewStateMachine(),
		deduper:  idempotency.NewIntentDeduper(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the immutable copy-trading config.
func (w *Worker) Config() domain.CopyTradingConfig { return w.cfg }

// State returns the lifecycle state.
func (w *Worker) State() WorkerState { return w.machine.Current() }

// LastError returns the message recorded by the last failure.
func (w *Worker) LastError() (string, bool) { return w.machine.LastError() }

// Start subscribes to position changes and fills, starts the reconcile
// timer and moves to running. On subscription failure every subscription
// made so far is released, the error is recorded and returned.
// Calling Start on a started worker only moves it to running.
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.loop != nil {
		w.machine.Start()
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &loop{ctx: runCtx, cancel: cancel, inbox: make(chan job)}
	l.wg.Add(1)
	go w.consume(l)

	handler := func(hctx context.Context, ev domain.LeaderEvent) error {
		if w.machine.Current() != StateRunning {
			return nil
		}
		return w.enqueue(hctx, l, event.LeaderEventReceived{BaseEvent: w.stamp(), Leader: ev})
	}

	for _, et := range []domain.LeaderEventType{domain.EventPositionChange, domain.EventFill} {
		sub, err := w.stream.Subscribe(ctx, w.cfg.LeaderID, et, handler)
		if err != nil {
			err = fmt.Errorf("subscribe %s: %w", et, err)
			w.unsubscribeAll(ctx)
			cancel()
			l.wg.Wait()
			w.machine.Fail(err.Error())
			slog.Error("Worker start failed", slog.String("leader", w.cfg.LeaderID), slog.Any("error", err))
			return err
		}
		w.subs = append(w.subs, sub)
	}

	l.wg.Add(1)
	go w.reconcileTimer(l)

	w.loop = l
	w.machine.Start()
	slog.Info("Copy-trading worker started",
		slog.String("leader", w.cfg.LeaderID),
		slog.String("follower", w.cfg.FollowerID),
		slog.Duration("reconcile_interval", w.cfg.ReconcileInterval))
	return nil
}

// Pause drops incoming events and ticks. Subscriptions stay registered.
func (w *Worker) Pause() { w.machine.Pause() }

// Resume resumes processing after Pause.
func (w *Worker) Resume() { w.machine.Resume() }

// Stop moves to stopped, cancels the timer, unsubscribes in reverse
// registration order and clears the deduper. It is safe to call repeatedly.
func (w *Worker) Stop(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.machine.Stop()

	if w.loop != nil {
		w.loop.cancel()
		w.loop.wg.Wait()
		w.loop = nil
	}

	err := w.unsubscribeAll(ctx)
	w.deduper.Clear()
	return err
}

func (w *Worker) unsubscribeAll(ctx context.Context) error {
	var errs []error
	for len(w.subs) > 0 {
		last := len(w.subs) - 1
		sub := w.subs[last]
		w.subs = w.subs[:last]
		if err := sub.Unsubscribe(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) stamp() event.BaseEvent {
	return event.BaseEvent{Seq: w.nextSeq.Add(1), Ts: w.now().UnixMilli()}
}

// enqueue hands ev to the consumer and waits for its result.
func (w *Worker) enqueue(ctx context.Context, l *loop, ev event.Event) error {
	done := make(chan error, 1)
	select {
	case l.inbox <- job{ev: ev, done: done}:
	case <-l.ctx.Done():
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-done
}

func (w *Worker) reconcileTimer(l *loop) {
	defer l.wg.Done()

	ticker := time.NewTicker(w.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if w.machine.Current() != StateRunning {
				continue
			}
			if err := w.enqueue(l.ctx, l, event.ReconcileTick{BaseEvent: w.stamp()}); err != nil && !errors.Is(err, ErrWorkerStopped) {
				slog.Warn("Reconcile failed", slog.Any("error", err))
			}
		}
	}
}

// consume is the single consumer of the inbox.
func (w *Worker) consume(l *loop) {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case j := <-l.inbox:
			j.done <- w.process(l.ctx, j.ev)
		}
	}
}

func (w *Worker) process(ctx context.Context, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Uint64("seq", ev.GetSeq()))
			if w.dumpPath != "" {
				w.DumpState(w.dumpPath)
			}
			err = fmt.Errorf("panic processing %s: %v", ev.GetType(), r)
			w.machine.Fail(err.Error())
		}
	}()

	// Paused or stopped while queued.
	if w.machine.Current() != StateRunning {
		return nil
	}

	switch e := ev.(type) {
	case event.LeaderEventReceived:
		return w.syncPosition(ctx, e.Leader.Snapshot(), domain.ReasonEvent, e.Leader.Source)
	case event.ReconcileTick:
		return w.reconcile(ctx)
	default:
		slog.Warn("Unknown event type", slog.String("type", ev.GetType().String()))
		return nil
	}
}

// reconcile routes every leader position through the sync routine.
func (w *Worker) reconcile(ctx context.Context) error {
	leader, err := w.exchange.GetSubaccountInfo(ctx, w.cfg.LeaderID)
	if err != nil {
		return fmt.Errorf("fetch leader account: %w", err)
	}

	var errs []error
	drift := 0.0
	for _, pos := range leader.Positions {
		d, err := w.syncPositionDrift(ctx, pos, domain.ReasonReconcile, leader.Source)
		if err != nil {
			errs = append(errs, err)
			if w.machine.Current() == StateError {
				break
			}
			continue
		}
		drift = math.Max(drift, d)
	}

	if w.recorder != nil {
		w.recorder.SetCopyDrift(drift)
	}
	return errors.Join(errs...)
}

func (w *Worker) syncPosition(ctx context.Context, pos domain.PositionSnapshot, reason domain.IntentReason, source string) error {
	_, err := w.syncPositionDrift(ctx, pos, reason, source)
	return err
}

// syncPositionDrift is the shared sync routine. It also returns the relative
// gap between the follower's current size and the target before acting.
func (w *Worker) syncPositionDrift(ctx context.Context, pos domain.PositionSnapshot, reason domain.IntentReason, source string) (float64, error) {
	account, err := w.exchange.GetSubaccountInfo(ctx, w.cfg.FollowerID)
	if err != nil {
		return 0, fmt.Errorf("fetch follower account: %w", err)
	}

	target := strategy.CalculateTargetSize(pos, w.cfg)
	drift := relativeDrift(currentSize(account, pos.Market), target)

	intent := domain.OrderIntent{
		Market:     pos.Market,
		Side:       pos.Side,
		TargetSize: target,
		Reason:     reason,
		Source:     source,
	}

	decision := risk.ApplyControls(intent, w.cfg, account, pos.Mark())
	if !decision.Allowed {
		slog.Debug("Intent rejected by risk controls",
			slog.String("market", intent.Market),
			slog.String("reason", string(decision.Reason)))
		return drift, nil
	}
	intent = decision.Intent

	now := w.now()
	key := idempotency.BuildIntentKey(intent, now)
	if !w.deduper.MarkAndCheck(key) {
		return drift, nil
	}

	corr := infra.NewCorrelationContext("sync", now)
	trace := []any{corr.LogAttr(), slog.String("idempotency_key", key)}

	if w.submitter != nil {
		res, err := w.submitter.Submit(ctx)
		if err != nil {
			w.machine.Fail(err.Error())
			return drift, fmt.Errorf("encode appendix: %w", err)
		}
		if !res.OK {
			return drift, nil
		}
		intent.Appendix = res.Audit.Appendix
		trace = append(trace, slog.String("audit_digest", res.Audit.Digest))
	}

	payload, err := json.Marshal(struct {
		Intent         domain.OrderIntent `json:"intent"`
		IdempotencyKey string             `json:"idempotencyKey"`
	}{intent, key})
	if err != nil {
		return drift, fmt.Errorf("marshal signing payload: %w", err)
	}

	sig, err := w.signer.Sign(ctx, payload)
	if err != nil {
		return drift, fmt.Errorf("sign intent: %w", err)
	}

	intent.Source = fmt.Sprintf("%s|signed_by:%s|session:%s|sig:%s",
		source, w.signer.Provider(), w.signer.SessionID(), truncate(sig, sigPrefixLen))

	res, err := w.exchange.ExecuteIntent(ctx, intent, key)
	if err != nil {
		slog.Warn("Execute failed", append(trace, slog.Any("error", err))...)
		return drift, fmt.Errorf("execute intent: %w", err)
	}

	slog.Info("Intent executed", append(trace,
		slog.String("market", intent.Market),
		slog.String("side", string(intent.Side)),
		slog.Float64("target_size", intent.TargetSize),
		slog.String("reason", string(intent.Reason)),
		slog.Bool("accepted", res.Accepted),
		slog.String("order_id", res.OrderID))...)
	return drift, nil
}

func currentSize(account domain.SubaccountInfo, market string) float64 {
	for _, p := range account.Positions {
		if p.Market == market {
			return p.Size
		}
	}
	return 0
}

func relativeDrift(current, target float64) float64 {
	gap := safe.Dec(current).Sub(safe.Dec(target)).Abs()
	d, _ := safe.Div(gap, safe.Dec(target).Abs()).Float64()
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// DumpState writes the worker status to filename for post-mortem.
func (w *Worker) DumpState(filename string) {
	slog.Info("Dumping worker state...", slog.String("file", filename))

	lastErr, _ := w.machine.LastError()
	data := struct {
		State     WorkerState `json:"state"`
		LastError string      `json:"last_error,omitempty"`
		NextSeq   uint64      `json:"next_seq"`
		SeenKeys  int         `json:"seen_keys"`
		LeaderID  string      `json:"leader_id"`
	}{
		State:     w.machine.Current(),
		LastError: lastErr,
		NextSeq:   w.nextSeq.Load(),
		SeenKeys:  w.deduper.Len(),
		LeaderID:  w.cfg.LeaderID,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0o644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
