package domain

import "math"

// Side is the direction of a position or intent.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionSnapshot is a point-in-time position, either the leader's or one
// derived from a leader event. Size is signed.
type PositionSnapshot struct {
	Market    string   `json:"market"`
	Size      float64  `json:"size"`
	Side      Side     `json:"side"`
	MarkPrice *float64 `json:"markPrice,omitempty"`
}

// Mark returns the mark price, or 0 when none is known.
func (p PositionSnapshot) Mark() float64 {
	if p.MarkPrice == nil {
		return 0
	}
	return *p.MarkPrice
}

// Notional returns |size| * mark.
func (p PositionSnapshot) Notional() float64 {
	return math.Abs(p.Size) * p.Mark()
}

// Price is a small helper for optional price fields.
func Price(v float64) *float64 {
	return &v
}

// SubaccountInfo is the account state of a leader or follower. It is fetched
// fresh for every decision and never cached.
type SubaccountInfo struct {
	Positions    []PositionSnapshot `json:"positions"`
	AccountValue float64            `json:"accountValue"`
	MarginUsed   float64            `json:"marginUsed"`
	Source       string             `json:"source_ref"`
}
