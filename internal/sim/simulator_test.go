package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"botcore/internal/broker"
	"botcore/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := store.ApplyMigrations(s); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return s
}

func quote(symbol string, price float64) broker.Quote {
	return broker.Quote{Symbol: symbol, Bid: price, Ask: price}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sim := New("u1", "mock", s, 5000)
	if err := sim.Initialize(ctx); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := sim.Initialize(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if got := sim.GetBalance().Balance; !almostEqual(got, 5000) {
		t.Fatalf("balance = %v, want 5000", got)
	}

	// A second simulator for the same account must load the persisted record,
	// not reseed it.
	other := New("u1", "mock", s, 999)
	if err := other.Initialize(ctx); err != nil {
		t.Fatalf("reload init: %v", err)
	}
	if got := other.GetBalance().Balance; !almostEqual(got, 5000) {
		t.Fatalf("reloaded balance = %v, want 5000", got)
	}
}

func TestTradeLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sim := New("u1", "mock", s, 10000)
	if err := sim.Initialize(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	pos, err := sim.ExecuteTrade(ctx, TradeRequest{
		Symbol:   "EURUSD",
		Side:     broker.SideBuy,
		Quantity: 10,
	}, quote("EURUSD", 50))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !almostEqual(pos.EntryPrice, 50) {
		t.Fatalf("entry = %v, want 50", pos.EntryPrice)
	}

	// Opening a position never touches balance.
	state := sim.GetBalance()
	if !almostEqual(state.Balance, 10000) {
		t.Fatalf("balance after open = %v, want 10000", state.Balance)
	}
	if !almostEqual(state.Equity, 10000) {
		t.Fatalf("equity after open = %v, want 10000", state.Equity)
	}
	if !almostEqual(state.Margin, 500) {
		t.Fatalf("margin = %v, want 500", state.Margin)
	}

	// Mark to 55: unrealized +50, equity = balance + unrealized.
	if closed := sim.UpdatePositions(ctx, quote("EURUSD", 55)); len(closed) != 0 {
		t.Fatalf("unexpected closes: %v", closed)
	}
	state = sim.GetBalance()
	if !almostEqual(state.Balance, 10000) {
		t.Fatalf("balance after mark = %v, want 10000", state.Balance)
	}
	if !almostEqual(state.Equity, 10050) {
		t.Fatalf("equity after mark = %v, want 10050", state.Equity)
	}

	// Close realizes PnL into balance.
	ct, err := sim.ClosePosition(ctx, pos.TradeID, 55, store.CloseReasonManual)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !almostEqual(ct.ProfitLoss, 50) {
		t.Fatalf("pnl = %v, want 50", ct.ProfitLoss)
	}
	state = sim.GetBalance()
	if !almostEqual(state.Balance, 10050) || !almostEqual(state.Equity, 10050) {
		t.Fatalf("after close balance=%v equity=%v, want both 10050", state.Balance, state.Equity)
	}
	if hist := sim.GetHistory(); len(hist) != 1 || hist[0].CloseReason != store.CloseReasonManual {
		t.Fatalf("history = %+v, want one MANUAL close", hist)
	}

	// Persisted snapshot matches.
	acct, err := s.FindAccount(ctx, "u1", "mock")
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if !almostEqual(acct.Balance, 10050) {
		t.Fatalf("persisted balance = %v, want 10050", acct.Balance)
	}
}

func TestShortPositionPnl(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sim := New("u1", "mock", s, 10000)
	if err := sim.Initialize(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	pos, err := sim.ExecuteTrade(ctx, TradeRequest{
		Symbol:   "EURUSD",
		Side:     broker.SideSell,
		Quantity: 10,
	}, quote("EURUSD", 50))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	sim.UpdatePositions(ctx, quote("EURUSD", 45))
	if got := sim.GetBalance().Equity; !almostEqual(got, 10050) {
		t.Fatalf("short equity at 45 = %v, want 10050", got)
	}

	ct, err := sim.ClosePosition(ctx, pos.TradeID, 45, store.CloseReasonManual)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !almostEqual(ct.ProfitLoss, 50) {
		t.Fatalf("short pnl = %v, want 50", ct.ProfitLoss)
	}
}

func TestStopAndTargetCrossings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sim := New("u1", "mock", s, 10000)
	if err := sim.Initialize(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := sim.ExecuteTrade(ctx, TradeRequest{
		TradeID:    "tp-trade",
		Symbol:     "EURUSD",
		Side:       broker.SideBuy,
		Quantity:   1,
		TakeProfit: 60,
	}, quote("EURUSD", 50)); err != nil {
		t.Fatalf("execute tp: %v", err)
	}
	if _, err := sim.ExecuteTrade(ctx, TradeRequest{
		TradeID:  "sl-trade",
		Symbol:   "EURUSD",
		Side:     broker.SideBuy,
		Quantity: 1,
		StopLoss: 40,
	}, quote("EURUSD", 50)); err != nil {
		t.Fatalf("execute sl: %v", err)
	}

	closed := sim.UpdatePositions(ctx, quote("EURUSD", 61))
	if len(closed) != 1 || closed[0].TradeID != "tp-trade" {
		t.Fatalf("closed at 61 = %+v, want tp-trade only", closed)
	}
	if closed[0].CloseReason != store.CloseReasonTakeProfit {
		t.Fatalf("reason = %s, want TAKE_PROFIT", closed[0].CloseReason)
	}

	closed = sim.UpdatePositions(ctx, quote("EURUSD", 39))
	if len(closed) != 1 || closed[0].TradeID != "sl-trade" {
		t.Fatalf("closed at 39 = %+v, want sl-trade only", closed)
	}
	if closed[0].CloseReason != store.CloseReasonStopLoss {
		t.Fatalf("reason = %s, want STOP_LOSS", closed[0].CloseReason)
	}
	if n := len(sim.GetOpenPositions()); n != 0 {
		t.Fatalf("open positions = %d, want 0", n)
	}
}

func TestExecuteTradeRejectsOversizedOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sim := New("u1", "mock", s, 100)
	if err := sim.Initialize(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err := sim.ExecuteTrade(ctx, TradeRequest{
		Symbol:   "EURUSD",
		Side:     broker.SideBuy,
		Quantity: 3,
	}, quote("EURUSD", 50))
	if !errors.Is(err, ErrInsufficientEquity) {
		t.Fatalf("err = %v, want ErrInsufficientEquity", err)
	}
	if n := len(sim.GetOpenPositions()); n != 0 {
		t.Fatalf("rejected trade left a position behind")
	}
}

func TestResetRestoresStartingBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sim := New("u1", "mock", s, 10000)
	if err := sim.Initialize(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	pos, err := sim.ExecuteTrade(ctx, TradeRequest{
		Symbol: "EURUSD", Side: broker.SideBuy, Quantity: 1,
	}, quote("EURUSD", 50))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := sim.ClosePosition(ctx, pos.TradeID, 60, store.CloseReasonManual); err != nil {
		t.Fatalf("close: %v", err)
	}

	sim.Reset(ctx, 2000)
	state := sim.GetBalance()
	if !almostEqual(state.Balance, 2000) || state.OpenPositions != 0 {
		t.Fatalf("after reset balance=%v open=%d, want 2000/0", state.Balance, state.OpenPositions)
	}
	if len(sim.GetHistory()) != 0 {
		t.Fatal("reset should clear history")
	}
}
