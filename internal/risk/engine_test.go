package risk

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"botcore/pkg/store"
)

func fp(v float64) *float64 { return &v }

func closedTrade(pnl float64) store.Trade {
	now := time.Now()
	return store.Trade{
		Status:         store.TradeStatusClosed,
		RealizedPnl:    fp(pnl),
		EntryTimestamp: now,
		ExitTimestamp:  &now,
	}
}

func TestEvaluateOrderOfChecks(t *testing.T) {
	settings := store.RiskSettings{
		MaxTradesPerDay:      5,
		DailyLossLimit:       100,
		MaxStakeSize:         500,
		RiskPerTrade:         2,
		AutoStopDrawdown:     20,
		MaxConsecutiveLosses: 3,
	}

	tests := []struct {
		name         string
		entered      []store.Trade
		closed       []store.Trade
		recent       []store.Trade
		stake        float64
		balance      float64
		sessionStart float64
		wantAllowed  bool
		wantReason   string
	}{
		{
			name:         "all clear",
			stake:        100,
			balance:      10000,
			sessionStart: 10000,
			wantAllowed:  true,
		},
		{
			name: "daily trade limit wins first",
			entered: []store.Trade{
				closedTrade(-50), closedTrade(-50), closedTrade(-50),
				closedTrade(-50), closedTrade(-50),
			},
			stake:        10000,
			balance:      100,
			sessionStart: 10000,
			wantReason:   "Daily trade limit",
		},
		{
			name:         "daily loss limit",
			closed:       []store.Trade{closedTrade(-60), closedTrade(-60)},
			stake:        100,
			balance:      10000,
			sessionStart: 10000,
			wantReason:   "Daily loss limit",
		},
		{
			name:         "max stake size",
			stake:        501,
			balance:      100000,
			sessionStart: 100000,
			wantReason:   "max stake size",
		},
		{
			name:         "risk per trade with tolerance",
			stake:        230, // 2% of 10000 is 200, tolerance allows 220
			balance:      10000,
			sessionStart: 10000,
			wantReason:   "risk per trade",
		},
		{
			name:         "risk per trade within tolerance",
			stake:        219,
			balance:      10000,
			sessionStart: 10000,
			wantAllowed:  true,
		},
		{
			name:         "drawdown stop",
			stake:        100,
			balance:      7900,
			sessionStart: 10000,
			wantReason:   "Drawdown",
		},
		{
			name:         "consecutive losses",
			recent:       []store.Trade{closedTrade(-10), closedTrade(-10), closedTrade(-10)},
			stake:        100,
			balance:      10000,
			sessionStart: 10000,
			wantReason:   "consecutive losses",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Evaluate(settings, tc.entered, tc.closed, tc.recent, tc.stake, tc.balance, tc.sessionStart)
			if res.Allowed != tc.wantAllowed {
				t.Fatalf("Allowed = %v, want %v (reason %q)", res.Allowed, tc.wantAllowed, res.Reason)
			}
			if tc.wantReason != "" && !strings.Contains(res.Reason, tc.wantReason) {
				t.Fatalf("Reason = %q, want it to mention %q", res.Reason, tc.wantReason)
			}
		})
	}
}

func TestEvaluateZeroLimitsDisabled(t *testing.T) {
	settings := store.RiskSettings{} // everything off
	today := make([]store.Trade, 200)
	for i := range today {
		today[i] = closedTrade(-1000)
	}
	res := Evaluate(settings, today, today, nil, 1e9, 1, 1e9)
	if !res.Allowed {
		t.Fatalf("zero limits should disable all checks, got denial %q", res.Reason)
	}
}

func TestCalculateStakeSize(t *testing.T) {
	tests := []struct {
		name     string
		balance  float64
		risk     float64
		entry    float64
		stop     float64
		maxStake float64
		want     float64
	}{
		{"distance to stop", 10000, 2, 100, 98, 0, 100},
		{"short side stop above entry", 10000, 2, 98, 100, 0, 100},
		{"no stop stakes risk amount", 10000, 2, 100, 0, 0, 200},
		{"cash risk clamped before sizing", 10000, 2, 100, 98, 40, 20},
		{"no stop clamped to max stake", 10000, 2, 100, 0, 50, 50},
		{"stop equal to entry falls back", 10000, 1, 50, 50, 0, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateStakeSize(tc.balance, tc.risk, tc.entry, tc.stop, tc.maxStake)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("CalculateStakeSize = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDailyLossCountsByCloseTime(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err := store.ApplyMigrations(s); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	yesterday := now.Add(-26 * time.Hour)

	overnight := store.Trade{
		TradeID:        "overnight",
		UserID:         "u1",
		Broker:         "mock",
		Symbol:         "EURUSD",
		Side:           "BUY",
		EntryPrice:     1,
		Quantity:       1,
		Status:         store.TradeStatusClosed,
		RealizedPnl:    fp(-100),
		EntryTimestamp: now.Add(-30 * time.Hour),
		ExitTimestamp:  &now,
	}
	if err := s.SaveTrade(ctx, overnight); err != nil {
		t.Fatalf("save overnight: %v", err)
	}

	stale := overnight
	stale.TradeID = "stale"
	stale.UserID = "u2"
	stale.ExitTimestamp = &yesterday
	if err := s.SaveTrade(ctx, stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}

	for _, userID := range []string{"u1", "u2"} {
		if err := s.SaveRiskSettings(ctx, store.RiskSettings{
			UserID:         userID,
			Broker:         "mock",
			DailyLossLimit: 50,
		}); err != nil {
			t.Fatalf("save settings %s: %v", userID, err)
		}
	}
	engine := NewEngine(s)

	// A position held over midnight and closed today counts toward today's
	// loss, even though its entry was yesterday.
	res, err := engine.CheckTradeAllowed(ctx, "u1", "mock", 10, 10000, 10000)
	if err != nil {
		t.Fatalf("CheckTradeAllowed u1: %v", err)
	}
	if res.Allowed {
		t.Fatal("overnight close should hit today's loss limit")
	}
	if !strings.Contains(res.Reason, "Daily loss limit") {
		t.Fatalf("Reason = %q", res.Reason)
	}
	if res.Metrics.DailyTradeCount != 0 {
		t.Fatalf("DailyTradeCount = %d, want 0 (entered yesterday)", res.Metrics.DailyTradeCount)
	}

	// A trade both entered and closed yesterday stays off today's book.
	res, err = engine.CheckTradeAllowed(ctx, "u2", "mock", 10, 10000, 10000)
	if err != nil {
		t.Fatalf("CheckTradeAllowed u2: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("yesterday's close should not count, denied: %q", res.Reason)
	}
	if res.Metrics.DailyProfitLoss != 0 {
		t.Fatalf("DailyProfitLoss = %v, want 0", res.Metrics.DailyProfitLoss)
	}
}

func TestConsecutiveLossesStopsAtWin(t *testing.T) {
	closed := []store.Trade{
		closedTrade(-5), closedTrade(-5), closedTrade(10), closedTrade(-5),
	}
	if got := consecutiveLosses(closed, 50); got != 2 {
		t.Fatalf("consecutiveLosses = %d, want 2", got)
	}
	if got := consecutiveLosses(nil, 50); got != 0 {
		t.Fatalf("consecutiveLosses(empty) = %d, want 0", got)
	}
}

func TestCheckTradeAllowedLoadsFromStore(t *testing.T) {
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err := store.ApplyMigrations(s); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	ctx := context.Background()
	if err := s.SaveRiskSettings(ctx, store.RiskSettings{
		UserID:          "u1",
		Broker:          "mock",
		MaxTradesPerDay: 2,
		RiskPerTrade:    2,
	}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	for i := 0; i < 2; i++ {
		tr := closedTrade(-1)
		tr.TradeID = "t" + string(rune('1'+i))
		tr.UserID = "u1"
		tr.Broker = "mock"
		tr.Symbol = "EURUSD"
		tr.Side = "BUY"
		tr.EntryPrice = 1
		tr.Quantity = 1
		if err := s.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("save trade: %v", err)
		}
	}

	engine := NewEngine(s)
	res, err := engine.CheckTradeAllowed(ctx, "u1", "mock", 10, 10000, 10000)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial after hitting the daily trade limit")
	}
	if !strings.Contains(res.Reason, "Daily trade limit reached: 2/2") {
		t.Fatalf("Reason = %q", res.Reason)
	}
	if res.Metrics.DailyTradeCount != 2 {
		t.Fatalf("DailyTradeCount = %d, want 2", res.Metrics.DailyTradeCount)
	}
}
