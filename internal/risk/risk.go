// Package risk decides whether a copy intent may be executed.
package risk

import (
	"github.com/shopspring/decimal"

	"copytrade_go/internal/domain"
	"copytrade_go/pkg/safe"
)

// Reason codes attached to a Decision.
const (
	ReasonMaxExposureExceeded        = "max_exposure_exceeded"
	ReasonPerMarketCapClamped        = "per_market_cap_clamped"
	ReasonCustomStopLossTriggered    = "custom_stop_loss_triggered"
	ReasonLiquidationPreventionGuard = "liquidation_prevention_guard"
)

// Decision is the outcome of ApplyControls. A rejection is a normal outcome,
// not an error. Intent holds the intent to execute when Allowed is true.
type Decision struct {
	Allowed bool
	Intent  domain.OrderIntent
	Reason  string
}

// ApplyControls evaluates the checks in order; the first match wins.
//
//  1. Total exposure including the intent must not exceed MaxExposureUSD.
//  2. A per-market cap clamps the target size instead of rejecting.
//  3. A per-market stop-loss fraction of account value rejects.
//  4. Margin ratio at or above 1 - LiquidationBufferPct rejects.
func ApplyControls(intent domain.OrderIntent, cfg domain.CopyTradingConfig, account domain.SubaccountInfo, marketPrice float64) Decision {
	exposure := decimal.Zero
	for _, p := range account.Positions {
		exposure = exposure.Add(safe.Notional(p.Size, p.Mark()))
	}
	intentNotional := safe.Notional(intent.TargetSize, marketPrice)

	if exposure.Add(intentNotional).GreaterThan(safe.Dec(cfg.MaxExposureUSD)) {
		return Decision{Reason: ReasonMaxExposureExceeded}
	}

	if capUSD, ok := cfg.PerMarketCapUSD[intent.Market]; ok && intentNotional.GreaterThan(safe.Dec(capUSD)) {
		clamped := intent
		size := safe.Div(safe.Dec(capUSD), safe.Dec(marketPrice)).InexactFloat64()
		clamped.TargetSize = sign(intent.TargetSize) * size
		clamped.Reason = domain.ReasonRiskGuard
		return Decision{Allowed: true, Intent: clamped, Reason: ReasonPerMarketCapClamped}
	}

	if pct, ok := cfg.StopLossPctByMarket[intent.Market]; ok && pct > 0 {
		maxLoss := safe.Dec(account.AccountValue).Mul(safe.Dec(pct))
		if intentNotional.GreaterThan(maxLoss) {
			return Decision{Reason: ReasonCustomStopLossTriggered}
		}
	}

	marginRatio := safe.Div(safe.Dec(account.MarginUsed), safe.Dec(account.AccountValue))
	ceiling := decimal.Max(decimal.Zero, decimal.NewFromInt(1).Sub(safe.Dec(cfg.LiquidationBufferPct)))
	if marginRatio.GreaterThanOrEqual(ceiling) {
		return Decision{Reason: ReasonLiquidationPreventionGuard}
	}

	return Decision{Allowed: true, Intent: intent}
}

func sign(f float64) float64 {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}
