// Package sim is the virtual exchange backing paper-trading sessions. It
// owns balance, equity and margin for one (user, broker) account and turns
// strategy signals into simulated fills and closed trades.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"botcore/internal/broker"
	"botcore/pkg/store"
)

var (
	// ErrInsufficientEquity rejects a trade that would push equity negative.
	ErrInsufficientEquity = errors.New("insufficient equity")
	// ErrPositionNotFound is returned when closing an unknown trade id.
	ErrPositionNotFound = errors.New("position not found")
)

// Simulator is the virtual account for one (user, broker) paper session.
// Equity is always recomputed from live marks, never drifted incrementally.
type Simulator struct {
	userID string
	broker string
	store  *store.Store

	mu             sync.Mutex
	balance        float64
	initialBalance float64
	positions      []*Position
	history        []ClosedTrade
	initialized    bool
}

// New creates an uninitialized simulator; call Initialize before use.
func New(userID, brokerName string, s *store.Store, initialBalance float64) *Simulator {
	if initialBalance <= 0 {
		initialBalance = 10000
	}
	return &Simulator{
		userID:         userID,
		broker:         brokerName,
		store:          s,
		initialBalance: initialBalance,
	}
}

// Initialize loads the persisted account or creates a fresh one. Idempotent;
// a duplicate-create race falls back to loading the winner's record.
func (s *Simulator) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	acct, err := s.store.FindAccount(ctx, s.userID, s.broker)
	if err == store.ErrNotFound {
		create := store.Account{
			UserID:         s.userID,
			Broker:         s.broker,
			Balance:        s.initialBalance,
			Equity:         s.initialBalance,
			InitialBalance: s.initialBalance,
		}
		if cerr := s.store.CreateAccount(ctx, create); cerr != nil {
			if !store.IsDuplicateAccount(cerr) {
				return cerr
			}
			// Another initializer won the race; use its record.
			acct, err = s.store.FindAccount(ctx, s.userID, s.broker)
			if err != nil {
				return err
			}
		} else {
			acct = &create
		}
	} else if err != nil {
		return err
	}

	s.balance = acct.Balance
	s.initialBalance = acct.InitialBalance
	s.initialized = true
	log.Printf("simulator ready: user=%s broker=%s balance=%.2f", s.userID, s.broker, s.balance)
	return nil
}

// GetBalance returns the current account snapshot.
func (s *Simulator) GetBalance() AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Simulator) stateLocked() AccountState {
	return AccountState{
		Balance:        s.balance,
		Equity:         s.equityLocked(),
		Margin:         s.marginLocked(),
		InitialBalance: s.initialBalance,
		OpenPositions:  len(s.positions),
	}
}

// equityLocked recomputes equity from balance plus live unrealized PnL.
func (s *Simulator) equityLocked() float64 {
	equity := s.balance
	for _, p := range s.positions {
		equity += p.UnrealizedPnl
	}
	return equity
}

func (s *Simulator) marginLocked() float64 {
	var margin float64
	for _, p := range s.positions {
		margin += p.EntryPrice * p.Quantity
	}
	return margin
}

// GetOpenPositions returns copies of all open positions, oldest first.
func (s *Simulator) GetOpenPositions() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// GetHistory returns the closed trades, oldest first.
func (s *Simulator) GetHistory() []ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClosedTrade, len(s.history))
	copy(out, s.history)
	return out
}

// FindClosed looks up one closed trade by id, newest match first.
func (s *Simulator) FindClosed(tradeID string) (ClosedTrade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].TradeID == tradeID {
			return s.history[i], true
		}
	}
	return ClosedTrade{}, false
}

// ExecuteTrade opens a position at the quoted mark. The trade is rejected,
// not clipped, when the account cannot carry it.
func (s *Simulator) ExecuteTrade(ctx context.Context, req TradeRequest, q broker.Quote) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := q.Mid()
	if req.Side == broker.SideBuy && q.Ask > 0 {
		entry = q.Ask
	} else if req.Side == broker.SideSell && q.Bid > 0 {
		entry = q.Bid
	}
	if entry <= 0 || req.Quantity <= 0 {
		return Position{}, fmt.Errorf("invalid trade: price=%.4f qty=%.4f", entry, req.Quantity)
	}

	required := entry * req.Quantity
	if required > s.equityLocked() {
		return Position{}, fmt.Errorf("%w: need %.2f, equity %.2f", ErrInsufficientEquity, required, s.equityLocked())
	}

	tradeID := req.TradeID
	if tradeID == "" {
		tradeID = uuid.NewString()
	}
	pos := &Position{
		TradeID:      tradeID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		EntryPrice:   entry,
		Quantity:     req.Quantity,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		CurrentPrice: entry,
		OpenedAt:     time.Now(),
	}
	s.positions = append(s.positions, pos)

	s.persistLocked(ctx)
	return *pos, nil
}

// UpdatePositions marks every open position for the quoted symbol to market
// and closes any that crossed their stop or target. Returns the trades
// closed by this tick.
func (s *Simulator) UpdatePositions(ctx context.Context, q broker.Quote) []ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := q.Mid()
	if price <= 0 {
		return nil
	}

	var closed []ClosedTrade
	remaining := s.positions[:0]
	for _, p := range s.positions {
		if p.Symbol != q.Symbol {
			remaining = append(remaining, p)
			continue
		}

		p.CurrentPrice = price
		p.UnrealizedPnl = unrealized(p.Side, p.EntryPrice, price, p.Quantity)

		if reason := exitReason(p, price); reason != "" {
			closed = append(closed, s.closeLocked(p, price, reason))
			continue
		}
		remaining = append(remaining, p)
	}
	s.positions = remaining

	if len(closed) > 0 {
		s.persistLocked(ctx)
	}
	return closed
}

// ClosePosition closes one position at the given mark for the given reason.
func (s *Simulator) ClosePosition(ctx context.Context, tradeID string, price float64, reason string) (ClosedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.positions {
		if p.TradeID != tradeID {
			continue
		}
		if price <= 0 {
			price = p.CurrentPrice
		}
		ct := s.closeLocked(p, price, reason)
		s.positions = append(s.positions[:i], s.positions[i+1:]...)
		s.persistLocked(ctx)
		return ct, nil
	}
	return ClosedTrade{}, ErrPositionNotFound
}

// closeLocked realizes the position's PnL into balance and appends history.
// Balance changes only here and in Reset.
func (s *Simulator) closeLocked(p *Position, price float64, reason string) ClosedTrade {
	pnl := unrealized(p.Side, p.EntryPrice, price, p.Quantity)
	s.balance += pnl

	ct := ClosedTrade{
		TradeID:     p.TradeID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   price,
		Quantity:    p.Quantity,
		ProfitLoss:  pnl,
		CloseReason: reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    time.Now(),
	}
	s.history = append(s.history, ct)
	return ct
}

// Reset wipes positions and history and restores the given starting balance.
func (s *Simulator) Reset(ctx context.Context, initialBalance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if initialBalance <= 0 {
		initialBalance = s.initialBalance
	}
	s.balance = initialBalance
	s.initialBalance = initialBalance
	s.positions = nil
	s.history = nil
	s.persistLocked(ctx)
	log.Printf("simulator reset: user=%s broker=%s balance=%.2f", s.userID, s.broker, initialBalance)
}

// persistLocked writes the account snapshot through to the trade store.
func (s *Simulator) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	state := s.stateLocked()
	err := s.store.UpsertAccount(ctx, s.userID, s.broker, store.AccountPatch{
		Balance:        &state.Balance,
		Equity:         &state.Equity,
		Margin:         &state.Margin,
		InitialBalance: &state.InitialBalance,
	})
	if err != nil {
		log.Printf("simulator persist failed: user=%s broker=%s: %v", s.userID, s.broker, err)
	}
}

func unrealized(side broker.Side, entry, price, qty float64) float64 {
	if side == broker.SideSell {
		return (entry - price) * qty
	}
	return (price - entry) * qty
}

// exitReason reports whether the mark crossed the position's stop or target.
func exitReason(p *Position, price float64) string {
	if p.Side == broker.SideBuy {
		if p.StopLoss > 0 && price <= p.StopLoss {
			return store.CloseReasonStopLoss
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return store.CloseReasonTakeProfit
		}
		return ""
	}
	if p.StopLoss > 0 && price >= p.StopLoss {
		return store.CloseReasonStopLoss
	}
	if p.TakeProfit > 0 && price <= p.TakeProfit {
		return store.CloseReasonTakeProfit
	}
	return ""
}
