package domain

import (
	"errors"
	"fmt"
	"time"
)

// SizingMode selects how leader sizes translate into follower sizes.
type SizingMode string

const (
	SizingC1 SizingMode = "C1"
	SizingC2 SizingMode = "C2"
)

// CopyTradingConfig is immutable for the lifetime of a worker.
type CopyTradingConfig struct {
	LeaderID             string
	FollowerID           string
	Multiplier           float64
	SizingMode           SizingMode
	MaxExposureUSD       float64
	PerMarketCapUSD      map[string]float64
	StopLossPctByMarket  map[string]float64
	LiquidationBufferPct float64
	ReconcileInterval    time.Duration
}

var ErrInvalidCopyConfig = errors.New("invalid copy trading config")

// Validate checks the required fields. Per-market maps may be empty.
func (c CopyTradingConfig) Validate() error {
	switch {
	case c.LeaderID == "":
		return fmt.Errorf("%w: leader id is required", ErrInvalidCopyConfig)
	case c.FollowerID == "":
		return fmt.Errorf("%w: follower id is required", ErrInvalidCopyConfig)
	case c.SizingMode != SizingC1 && c.SizingMode != SizingC2:
		return fmt.Errorf("%w: unknown sizing mode %q", ErrInvalidCopyConfig, c.SizingMode)
	case c.MaxExposureUSD < 0:
		return fmt.Errorf("%w: max exposure must not be negative", ErrInvalidCopyConfig)
	case c.LiquidationBufferPct < 0 || c.LiquidationBufferPct > 1:
		return fmt.Errorf("%w: liquidation buffer must be within [0, 1]", ErrInvalidCopyConfig)
	case c.ReconcileInterval <= 0:
		return fmt.Errorf("%w: reconcile interval must be positive", ErrInvalidCopyConfig)
	}
	return nil
}
