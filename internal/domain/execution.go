package domain

import "context"

// EventHandler processes one leader event. The stream must not deliver the
// next event on the same subscription until the handler has returned.
type EventHandler func(ctx context.Context, ev LeaderEvent) error

// Subscription is a handle to an active leader-event subscription.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}

// LeaderStream delivers the leader's position changes and fills.
type LeaderStream interface {
	Subscribe(ctx context.Context, leaderID string, eventType LeaderEventType, handler EventHandler) (Subscription, error)
}

// ExchangeGateway queries account state and executes intents on the venue.
type ExchangeGateway interface {
	GetSubaccountInfo(ctx context.Context, subaccountID string) (SubaccountInfo, error)
	ExecuteIntent(ctx context.Context, intent OrderIntent, idempotencyKey string) (ExecutionResult, error)
}

// SessionSigner signs execution payloads on behalf of the follower session.
type SessionSigner interface {
	Provider() string
	SessionID() string
	Sign(ctx context.Context, payload []byte) (string, error)
}
