package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

// OutcomeRecord is one ExecuteIntent attempt, as persisted by an OutcomeSink.
type OutcomeRecord struct {
	IdempotencyKey string
	Market         string
	Side           domain.Side
	TargetSize     float64
	Reason         domain.IntentReason
	Accepted       bool
	OrderID        string
	ErrorCode      string
	Source         string
	At             time.Time
}

// OutcomeSink persists execution outcomes.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, rec OutcomeRecord) error
}

// ResilientConfig wires the guards of a ResilientGateway. Nil guards are skipped.
type ResilientConfig struct {
	Breaker         *infra.CircuitBreaker
	Limiter         *infra.RateLimiter
	Windows         []infra.MaintenanceWindow
	Recorder        *infra.MetricsRecorder
	Outcomes        OutcomeSink
	MaxReadAttempts int
}

// ResilientGateway decorates a domain.ExchangeGateway with maintenance
// windows, a circuit breaker, rate limiting, read retries and outcome
// recording. ExecuteIntent is never retried.
type ResilientGateway struct {
	inner domain.ExchangeGateway
	cfg   ResilientConfig
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResilientGateway wraps inner.
func NewResilientGateway(inner domain.ExchangeGateway, cfg ResilientConfig) *ResilientGateway {
	if cfg.MaxReadAttempts < 1 {
		cfg.MaxReadAttempts = 1
	}
	return &ResilientGateway{inner: inner, cfg: cfg, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetSubaccountInfo retries 429/5xx gateway errors with ComputeBackoff.
func (g *ResilientGateway) GetSubaccountInfo(ctx context.Context, subaccountID string) (domain.SubaccountInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxReadAttempts; attempt++ {
		if g.cfg.Limiter != nil {
			if err := g.cfg.Limiter.Wait(ctx); err != nil {
				return domain.SubaccountInfo{}, err
			}
		}

		info, err := g.inner.GetSubaccountInfo(ctx, subaccountID)
		if err == nil {
			return info, nil
		}
		lastErr = err

		var ge *GatewayError
		if !errors.As(err, &ge) || !ge.Retryable() || attempt == g.cfg.MaxReadAttempts {
			break
		}
		delay := infra.ComputeBackoff(attempt, ge.RetryAfter)
		slog.Warn("Subaccount read failed, retrying",
			slog.String("subaccount", subaccountID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err))
		if err := g.sleep(ctx, delay); err != nil {
			return domain.SubaccountInfo{}, err
		}
	}
	return domain.SubaccountInfo{}, fmt.Errorf("get subaccount %s: %w", subaccountID, lastErr)
}

// ExecuteIntent refuses inside a maintenance window or while the breaker is
// open, and otherwise forwards exactly once.
func (g *ResilientGateway) ExecuteIntent(ctx context.Context, intent domain.OrderIntent, idempotencyKey string) (domain.ExecutionResult, error) {
	now := g.now()

	if infra.IsMaintenanceWindow(now, g.cfg.Windows) {
		err := fmt.Errorf("execute %s: %w", intent.Market, ErrMaintenance)
		g.record(ctx, intent, idempotencyKey, domain.ExecutionResult{}, err, now)
		return domain.ExecutionResult{}, err
	}
	if g.cfg.Breaker != nil && !g.cfg.Breaker.CanRun(now) {
		err := fmt.Errorf("execute %s: %w", intent.Market, ErrCircuitOpen)
		g.record(ctx, intent, idempotencyKey, domain.ExecutionResult{}, err, now)
		return domain.ExecutionResult{}, err
	}
	if g.cfg.Limiter != nil {
		if err := g.cfg.Limiter.Wait(ctx); err != nil {
			return domain.ExecutionResult{}, err
		}
	}

	res, err := g.inner.ExecuteIntent(ctx, intent, idempotencyKey)
	done := g.now()
	if g.cfg.Breaker != nil {
		if err != nil {
			g.cfg.Breaker.RecordFailure(done)
		} else {
			g.cfg.Breaker.RecordSuccess()
		}
	}
	g.record(ctx, intent, idempotencyKey, res, err, done)
	return res, err
}

func (g *ResilientGateway) record(ctx context.Context, intent domain.OrderIntent, key string, res domain.ExecutionResult, err error, at time.Time) {
	code := ErrorCode(err)
	if err == nil && !res.Accepted {
		code = CodeRejected
	}
	ok := err == nil && res.Accepted
	source := res.Source
	if source == "" {
		source = intent.Source
	}

	if g.cfg.Recorder != nil {
		g.cfg.Recorder.RecordExecute(infra.ExecuteOutcome{OK: ok, ErrorCode: code, Source: source})
	}
	if g.cfg.Outcomes != nil {
		rec := OutcomeRecord{
			IdempotencyKey: key,
			Market:         intent.Market,
			Side:           intent.Side,
			TargetSize:     intent.TargetSize,
			Reason:         intent.Reason,
			Accepted:       ok,
			OrderID:        res.OrderID,
			ErrorCode:      code,
			Source:         source,
			At:             at,
		}
		if err := g.cfg.Outcomes.RecordOutcome(ctx, rec); err != nil {
			slog.Warn("Failed to record execution outcome", slog.Any("error", err))
		}
	}
}

// Breaker returns the execute breaker, or nil.
func (g *ResilientGateway) Breaker() *infra.CircuitBreaker {
	return g.cfg.Breaker
}
