package execution

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

// ErrLiveNotConfirmed guards live execution behind CONFIRM_REAL_MONEY=true.
var ErrLiveNotConfirmed = errors.New("SAFETY_GUARD: live trading requires CONFIRM_REAL_MONEY=true")

// ExecutionFactory creates the gateway for the configured trading mode.
type ExecutionFactory struct {
	config *infra.Config
}

// NewExecutionFactory creates a new factory
func NewExecutionFactory(cfg *infra.Config) *ExecutionFactory {
	return &ExecutionFactory{config: cfg}
}

// CreateGateway returns the venue gateway for the mode. LIVE needs the venue
// client supplied by the caller.
func (f *ExecutionFactory) CreateGateway(live domain.ExchangeGateway) (domain.ExchangeGateway, error) {
	mode := f.config.Trading.Mode

	slog.Info("Initializing execution gateway", "mode", mode)

	switch mode {
	case infra.ModePaper:
		return NewPaperGateway(f.config.Copy.FollowerID, PaperMarginRate), nil

	case infra.ModeMock:
		return NewMockGateway(), nil

	case infra.ModeLive:
		if os.Getenv("CONFIRM_REAL_MONEY") != "true" {
			slog.Error(ErrLiveNotConfirmed.Error())
			return nil, ErrLiveNotConfirmed
		}
		if live == nil {
			return nil, fmt.Errorf("live mode requires a venue gateway")
		}
		slog.Warn("LIVE execution: follower orders reach the venue", "network", f.config.Trading.Network)
		return live, nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}

// Wrap decorates gw with the configured resilience guards.
func (f *ExecutionFactory) Wrap(gw domain.ExchangeGateway, recorder *infra.MetricsRecorder, outcomes OutcomeSink) *ResilientGateway {
	r := f.config.Resilience
	return NewResilientGateway(gw, ResilientConfig{
		Breaker: infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name:             "execute",
			FailureThreshold: r.BreakerThreshold,
			Cooldown:         time.Duration(r.BreakerCooldownMS) * time.Millisecond,
		}),
		Limiter:         infra.NewRateLimiter(r.RateLimitBurst, r.RateLimitPerSec),
		Windows:         r.MaintenanceWindows,
		Recorder:        recorder,
		Outcomes:        outcomes,
		MaxReadAttempts: r.MaxReadAttempts,
	})
}

// SubmitRequest builds the appendix request from the order section.
func (f *ExecutionFactory) SubmitRequest() SubmitRequest {
	o := f.config.Order
	return SubmitRequest{
		Venue:          Venue(o.Venue),
		OrderFlags:     o.OrderFlags,
		Builder:        o.Builder,
		BuilderFeeRate: o.BuilderFeeRate,
		FeeMode:        BuilderFeeMode(o.BuilderFeeMode),
	}
}
