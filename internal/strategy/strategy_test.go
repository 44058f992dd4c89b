package strategy

import (
	"errors"
	"strings"
	"testing"

	"botcore/internal/broker"
)

func tick(price float64) broker.Quote {
	return broker.Quote{Symbol: "EURUSD", Bid: price, Ask: price}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name     string
		strategy string
		botID    string
		wantName string
	}{
		{"canonical name", "MACross", "whatever", "MACross_10_30"},
		{"alias lowercase", "ma-cross", "", "MACross_10_30"},
		{"bot id fallback", "", "RSI", "RSI_14"},
		{"bot id alias", "", "even-odd", "EvenOdd_3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := r.Resolve(tc.strategy, tc.botID, nil)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if s.Name() != tc.wantName {
				t.Fatalf("Name = %s, want %s", s.Name(), tc.wantName)
			}
		})
	}
}

func TestRegistryResolveUnknownListsAvailable(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("bollinger", "bot-42", nil)
	if !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("err = %v, want ErrStrategyNotFound", err)
	}
	for _, name := range []string{"EvenOdd", "MACross", "RSI"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error %q should list %s", err, name)
		}
	}
}

func TestRegistryCreateAppliesConfig(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create("MACross", Config{"fast": 5, "slow": 20})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Name() != "MACross_5_20" {
		t.Fatalf("Name = %s", s.Name())
	}

	if _, err := r.Create("MACross", Config{"fast": 30, "slow": 10}); err == nil {
		t.Fatal("inverted periods should be rejected")
	}
}

func TestMACrossGoldenCross(t *testing.T) {
	s, err := NewMACross(Config{"fast": 2, "slow": 3})
	if err != nil {
		t.Fatalf("NewMACross: %v", err)
	}

	// Flat warmup, then a breakout: fast MA crosses above slow MA.
	for _, p := range []float64{10, 10, 10} {
		if sig := s.Analyze(tick(p)); sig != nil {
			t.Fatalf("unexpected signal during warmup: %+v", sig)
		}
	}
	sig := s.Analyze(tick(12))
	if sig == nil || sig.Side != broker.SideBuy {
		t.Fatalf("signal = %+v, want BUY", sig)
	}

	// Breakdown produces the opposite cross.
	var sell *Signal
	for _, p := range []float64{8, 6, 5} {
		if got := s.Analyze(tick(p)); got != nil {
			sell = got
		}
	}
	if sell == nil || sell.Side != broker.SideSell {
		t.Fatalf("signal = %+v, want SELL after breakdown", sell)
	}
}

func TestRSIExtremes(t *testing.T) {
	s, err := NewRSI(Config{"period": 3, "oversold": 30, "overbought": 70})
	if err != nil {
		t.Fatalf("NewRSI: %v", err)
	}

	// Straight rally: RSI pegs at 100, above overbought.
	var sig *Signal
	for _, p := range []float64{10, 11, 12, 13} {
		if got := s.Analyze(tick(p)); got != nil {
			sig = got
		}
	}
	if sig == nil || sig.Side != broker.SideSell {
		t.Fatalf("signal = %+v, want SELL at overbought", sig)
	}

	// Straight selloff flips to oversold.
	sig = nil
	for _, p := range []float64{12, 11, 10, 9} {
		if got := s.Analyze(tick(p)); got != nil {
			sig = got
		}
	}
	if sig == nil || sig.Side != broker.SideBuy {
		t.Fatalf("signal = %+v, want BUY at oversold", sig)
	}
}

func TestEvenOddStreaks(t *testing.T) {
	s, err := NewEvenOdd(Config{"streak": 3})
	if err != nil {
		t.Fatalf("NewEvenOdd: %v", err)
	}

	// Last digits 2, 4, 6: all even after three ticks.
	prices := []float64{1.02, 1.04, 1.06}
	var sig *Signal
	for _, p := range prices {
		sig = s.Analyze(tick(p))
	}
	if sig == nil || sig.Side != broker.SideBuy {
		t.Fatalf("signal = %+v, want BUY on even streak", sig)
	}

	// An odd digit breaks the run and calls the exit.
	if s.ShouldExit(Position{Side: broker.SideBuy}, tick(1.06)) {
		t.Fatal("should hold while the streak is intact")
	}
	s.Analyze(tick(1.07))
	if !s.ShouldExit(Position{Side: broker.SideBuy}, tick(1.07)) {
		t.Fatal("should exit once parity breaks")
	}

	// Odd streak signals SELL.
	s2, _ := NewEvenOdd(Config{"streak": 2})
	s2.Analyze(tick(1.03))
	sig = s2.Analyze(tick(1.05))
	if sig == nil || sig.Side != broker.SideSell {
		t.Fatalf("signal = %+v, want SELL on odd streak", sig)
	}
}

func TestConfigAccessors(t *testing.T) {
	cfg := Config{"fast": 7, "ratio": 1.5, "label": "x"}
	if got := cfg.Int("fast", 10); got != 7 {
		t.Fatalf("Int = %d, want 7", got)
	}
	if got := cfg.Int("missing", 10); got != 10 {
		t.Fatalf("Int default = %d, want 10", got)
	}
	if got := cfg.Float("ratio", 0); got != 1.5 {
		t.Fatalf("Float = %v, want 1.5", got)
	}
	if got := cfg.Float("label", 2); got != 2 {
		t.Fatalf("Float on non-number = %v, want default", got)
	}
}
