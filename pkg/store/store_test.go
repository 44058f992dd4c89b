package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := ApplyMigrations(s); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return s
}

func sampleTrade(id string) Trade {
	return Trade{
		TradeID:        id,
		UserID:         "u1",
		Broker:         "mock",
		BotKey:         "u1|bot|mock|EURUSD",
		Symbol:         "EURUSD",
		Side:           "BUY",
		EntryPrice:     1.1,
		Quantity:       10,
		Status:         TradeStatusOpen,
		EntryTimestamp: time.Now(),
	}
}

func TestTradeSaveUpdateFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTrade(ctx, sampleTrade("t1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	open, err := s.FindTrades(ctx, TradeFilter{UserID: "u1", Status: TradeStatusOpen}, "", 0)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if len(open) != 1 || open[0].TradeID != "t1" {
		t.Fatalf("open trades = %+v", open)
	}
	if open[0].ExitPrice != nil || open[0].RealizedPnl != nil {
		t.Fatal("open trade should have nil exit fields")
	}

	exit, pnl := 1.2, 1.0
	now := time.Now()
	err = s.UpdateTrade(ctx, Trade{
		TradeID:       "t1",
		ExitPrice:     &exit,
		Status:        TradeStatusClosed,
		RealizedPnl:   &pnl,
		CloseReason:   CloseReasonTakeProfit,
		ExitTimestamp: &now,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	closed, err := s.FindTrades(ctx, TradeFilter{UserID: "u1", Status: TradeStatusClosed}, "exit_ts DESC", 10)
	if err != nil {
		t.Fatalf("find closed: %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(closed))
	}
	got := closed[0]
	if got.ExitPrice == nil || *got.ExitPrice != 1.2 {
		t.Fatalf("exit price = %v", got.ExitPrice)
	}
	if got.RealizedPnl == nil || *got.RealizedPnl != 1.0 {
		t.Fatalf("pnl = %v", got.RealizedPnl)
	}
	if got.CloseReason != CloseReasonTakeProfit {
		t.Fatalf("close reason = %s", got.CloseReason)
	}
}

func TestUpdateTradeUnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTrade(context.Background(), Trade{TradeID: "missing", Status: TradeStatusClosed})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindTradesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleTrade("a")
	b := sampleTrade("b")
	b.Symbol = "GBPUSD"
	c := sampleTrade("c")
	c.UserID = "u2"
	for _, tr := range []Trade{a, b, c} {
		if err := s.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("save %s: %v", tr.TradeID, err)
		}
	}

	bySymbol, err := s.FindTrades(ctx, TradeFilter{UserID: "u1", Symbol: "GBPUSD"}, "", 0)
	if err != nil {
		t.Fatalf("find by symbol: %v", err)
	}
	if len(bySymbol) != 1 || bySymbol[0].TradeID != "b" {
		t.Fatalf("by symbol = %+v", bySymbol)
	}

	if _, err := s.FindTrades(ctx, TradeFilter{}, "", 0); !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("missing user err = %v", err)
	}

	if _, err := s.FindTrades(ctx, TradeFilter{UserID: "u1"}, "entry_ts; DROP TABLE trades", 0); err == nil {
		t.Fatal("unsupported sort should be rejected")
	}
}

func TestAccountUpsertAndDuplicateDetection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct := Account{UserID: "u1", Broker: "mock", Balance: 1000, Equity: 1000, InitialBalance: 1000}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.CreateAccount(ctx, acct)
	if err == nil || !IsDuplicateAccount(err) {
		t.Fatalf("duplicate create err = %v, want duplicate", err)
	}

	newBalance := 1234.5
	if err := s.UpsertAccount(ctx, "u1", "mock", AccountPatch{Balance: &newBalance}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.FindAccount(ctx, "u1", "mock")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Balance != 1234.5 {
		t.Fatalf("balance = %v, want 1234.5", got.Balance)
	}
	// Untouched fields survive the patch.
	if got.InitialBalance != 1000 {
		t.Fatalf("initial balance = %v, want 1000", got.InitialBalance)
	}

	if _, err := s.FindAccount(ctx, "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing account err = %v", err)
	}
}

func TestRiskSettingsDefaultsAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetRiskSettings(ctx, "u1", "mock")
	if err != nil {
		t.Fatalf("get defaults: %v", err)
	}
	want := DefaultRiskSettings("u1", "mock")
	if got.MaxTradesPerDay != want.MaxTradesPerDay || got.RiskPerTrade != want.RiskPerTrade {
		t.Fatalf("defaults = %+v, want %+v", got, want)
	}

	want.DailyLossLimit = 250
	want.MaxConsecutiveLosses = 4
	if err := s.SaveRiskSettings(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = s.GetRiskSettings(ctx, "u1", "mock")
	if err != nil {
		t.Fatalf("get saved: %v", err)
	}
	if got.DailyLossLimit != 250 || got.MaxConsecutiveLosses != 4 {
		t.Fatalf("saved settings = %+v", got)
	}
}

func TestBotLogsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, msg := range []string{"first", "second", "third"} {
		err := s.InsertBotLog(ctx, BotLogRecord{
			BotKey:  "k",
			UserID:  "u1",
			Level:   "info",
			Message: msg,
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	logs, err := s.ListBotLogs(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len = %d, want 2", len(logs))
	}
	if logs[0].Message != "third" {
		t.Fatalf("newest = %s, want third", logs[0].Message)
	}
}

func TestUsersRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := User{ID: "id-1", Email: "a@b.c", PasswordHash: "hash"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetUserByEmail(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("by email: %v", err)
	}
	if got.ID != "id-1" || got.PasswordHash != "hash" {
		t.Fatalf("user = %+v", got)
	}
	if _, err := s.GetUserByEmail(ctx, "nobody@b.c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
}
