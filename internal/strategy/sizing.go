package strategy

import "copytrade_go/internal/domain"

// CalculateTargetSize maps a leader position onto the follower's target size.
//
// C1 is a linear proportional copy. C2 is reserved and currently uses the C1
// formula; it has no distinct algorithm yet.
func CalculateTargetSize(leader domain.PositionSnapshot, cfg domain.CopyTradingConfig) float64 {
	switch cfg.SizingMode {
	case domain.SizingC2:
		// Placeholder: same formula as C1 until C2 is defined.
		return leader.Size * cfg.Multiplier
	default:
		return leader.Size * cfg.Multiplier
	}
}
