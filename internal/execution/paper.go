package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"copytrade_go/internal/domain"
)

const paperSource = "paper"

// PaperMarginRate is the fraction of notional the paper venue reports as
// margin used.
const PaperMarginRate = 0.1

// PaperFill is one intent applied by the PaperGateway.
type PaperFill struct {
	OrderID        string
	IdempotencyKey string
	Intent         domain.OrderIntent
	Price          float64
	At             time.Time
}

type paperAccount struct {
	value     float64
	positions map[string]domain.PositionSnapshot
}

// PaperGateway is an in-memory domain.ExchangeGateway.
// Executed intents set the follower's position in the market to the target
// size. Unknown subaccounts read as empty accounts.
type PaperGateway struct {
	followerID string

	mu         sync.Mutex
	accounts   map[string]*paperAccount
	marks      map[string]float64
	byKey      map[string]domain.ExecutionResult
	fills      []PaperFill
	nextID     uint64
	marginRate float64
	now        func() time.Time
}

// NewPaperGateway creates a paper venue whose executions land on followerID.
// marginRate is the fraction of notional reported as margin used.
func NewPaperGateway(followerID string, marginRate float64) *PaperGateway {
	if marginRate <= 0 {
		marginRate = PaperMarginRate
	}
	return &PaperGateway{
		followerID: followerID,
		accounts:   make(map[string]*paperAccount),
		marks:      make(map[string]float64),
		byKey:      make(map[string]domain.ExecutionResult),
		marginRate: marginRate,
		now:        time.Now,
	}
}

// Fund sets the account value of a subaccount.
func (p *PaperGateway) Fund(subaccountID string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account(subaccountID).value = value
}

// SetPosition overwrites a position, e.g. to seed the leader account.
func (p *PaperGateway) SetPosition(subaccountID string, pos domain.PositionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := p.account(subaccountID)
	if pos.Size == 0 {
		delete(acct.positions, pos.Market)
		return
	}
	acct.positions[pos.Market] = pos
}

// UpdateMark sets the mark price used for new fills and margin.
func (p *PaperGateway) UpdateMark(market string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[market] = price
}

func (p *PaperGateway) account(id string) *paperAccount {
	acct, ok := p.accounts[id]
	if !ok {
		acct = &paperAccount{positions: make(map[string]domain.PositionSnapshot)}
		p.accounts[id] = acct
	}
	return acct
}

func (p *PaperGateway) GetSubaccountInfo(ctx context.Context, subaccountID string) (domain.SubaccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubaccountInfo{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info := domain.SubaccountInfo{Source: paperSource}
	acct, ok := p.accounts[subaccountID]
	if !ok {
		return info, nil
	}

	info.AccountValue = acct.value
	margin := 0.0
	for _, pos := range acct.positions {
		if mark, ok := p.marks[pos.Market]; ok {
			pos.MarkPrice = domain.Price(mark)
		}
		info.Positions = append(info.Positions, pos)
		margin += pos.Notional() * p.marginRate
	}
	info.MarginUsed = margin
	return info, nil
}

// ExecuteIntent applies intent to the follower account. A repeated
// idempotency key returns the original result without applying it again.
func (p *PaperGateway) ExecuteIntent(ctx context.Context, intent domain.OrderIntent, idempotencyKey string) (domain.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.byKey[idempotencyKey]; ok && idempotencyKey != "" {
		return prev, nil
	}

	acct := p.account(p.followerID)
	current := acct.positions[intent.Market]

	if intent.ReduceOnly && math.Abs(intent.TargetSize) > math.Abs(current.Size) {
		return p.remember(idempotencyKey, domain.ExecutionResult{Accepted: false, Source: paperSource}), nil
	}

	p.nextID++
	orderID := fmt.Sprintf("paper-%d", p.nextID)

	if intent.TargetSize == 0 {
		delete(acct.positions, intent.Market)
	} else {
		acct.positions[intent.Market] = domain.PositionSnapshot{
			Market: intent.Market,
			Size:   intent.TargetSize,
			Side:   intent.Side,
		}
	}

	price := p.marks[intent.Market]
	p.fills = append(p.fills, PaperFill{
		OrderID:        orderID,
		IdempotencyKey: idempotencyKey,
		Intent:         intent,
		Price:          price,
		At:             p.now(),
	})

	slog.Info("PAPER EXECUTION: Intent applied",
		slog.String("order_id", orderID),
		slog.String("subaccount", p.followerID),
		slog.String("market", intent.Market),
		slog.Float64("target_size", intent.TargetSize),
		slog.String("reason", string(intent.Reason)))

	return p.remember(idempotencyKey, domain.ExecutionResult{Accepted: true, OrderID: orderID, Source: paperSource}), nil
}

func (p *PaperGateway) remember(key string, res domain.ExecutionResult) domain.ExecutionResult {
	if key != "" {
		p.byKey[key] = res
	}
	return res
}

// Fills returns a copy of every applied intent.
func (p *PaperGateway) Fills() []PaperFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperFill, len(p.fills))
	copy(out, p.fills)
	return out
}
