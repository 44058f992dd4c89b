package strategy

import (
	"fmt"

	"botcore/internal/broker"
	"botcore/internal/indicators"
)

// RSI is a Relative Strength Index overbought/oversold strategy.
// BUY when RSI drops below the oversold threshold, SELL when it rises
// above the overbought threshold.
type RSI struct {
	period     int
	oversold   float64
	overbought float64

	prices   []float64
	rsi      float64
	prevSide broker.Side
}

// NewRSI builds an RSI strategy from config keys "period", "oversold" and
// "overbought".
func NewRSI(cfg Config) (Strategy, error) {
	period := cfg.Int("period", 14)
	oversold := cfg.Float("oversold", 30)
	overbought := cfg.Float("overbought", 70)
	if period <= 1 || oversold >= overbought {
		return nil, fmt.Errorf("rsi: invalid parameters period=%d oversold=%.1f overbought=%.1f", period, oversold, overbought)
	}
	return &RSI{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		prices:     make([]float64, 0, period+1),
	}, nil
}

func (s *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", s.period)
}

func (s *RSI) Analyze(q broker.Quote) *Signal {
	price := q.Mid()
	if price <= 0 {
		return nil
	}

	s.prices = append(s.prices, price)
	if len(s.prices) > s.period+1 {
		s.prices = s.prices[1:]
	}
	if len(s.prices) < s.period+1 {
		return nil
	}

	s.rsi = indicators.RSI(s.prices, s.period)

	var sig *Signal
	switch {
	case s.rsi < s.oversold:
		sig = &Signal{
			Side:   broker.SideBuy,
			Symbol: q.Symbol,
			Note:   fmt.Sprintf("RSI %.1f below oversold %.1f", s.rsi, s.oversold),
		}
	case s.rsi > s.overbought:
		sig = &Signal{
			Side:   broker.SideSell,
			Symbol: q.Symbol,
			Note:   fmt.Sprintf("RSI %.1f above overbought %.1f", s.rsi, s.overbought),
		}
	}

	if sig != nil && sig.Side != s.prevSide {
		s.prevSide = sig.Side
		return sig
	}
	return nil
}

// ShouldExit closes a long once RSI recovers past the midpoint, and a short
// once it falls past it.
func (s *RSI) ShouldExit(p Position, q broker.Quote) bool {
	if len(s.prices) < s.period+1 {
		return false
	}
	mid := (s.oversold + s.overbought) / 2
	if p.Side == broker.SideBuy {
		return s.rsi >= mid
	}
	return s.rsi <= mid
}
