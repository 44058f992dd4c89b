package strategy

import (
	"fmt"

	"botcore/internal/broker"
	"botcore/internal/indicators"
)

// MACross is a moving-average crossover strategy. BUY on the fast MA
// crossing above the slow MA (golden cross), SELL on the fast MA crossing
// below (death cross).
type MACross struct {
	fastPeriod int
	slowPeriod int

	prices   []float64
	fastMA   float64
	slowMA   float64
	prevSide broker.Side
}

// NewMACross builds an MA cross strategy from config keys "fast" and "slow".
func NewMACross(cfg Config) (Strategy, error) {
	fast := cfg.Int("fast", 10)
	slow := cfg.Int("slow", 30)
	if fast <= 0 || slow <= fast {
		return nil, fmt.Errorf("ma cross: need 0 < fast < slow, got fast=%d slow=%d", fast, slow)
	}
	return &MACross{
		fastPeriod: fast,
		slowPeriod: slow,
		prices:     make([]float64, 0, slow),
	}, nil
}

func (s *MACross) Name() string {
	return fmt.Sprintf("MACross_%d_%d", s.fastPeriod, s.slowPeriod)
}

func (s *MACross) Analyze(q broker.Quote) *Signal {
	price := q.Mid()
	if price <= 0 {
		return nil
	}

	s.prices = append(s.prices, price)
	if len(s.prices) > s.slowPeriod {
		s.prices = s.prices[1:]
	}
	if len(s.prices) < s.slowPeriod {
		return nil
	}

	oldFast, oldSlow := s.fastMA, s.slowMA
	s.fastMA = indicators.SMA(s.prices, s.fastPeriod)
	s.slowMA = indicators.SMA(s.prices, s.slowPeriod)

	sig := s.detectCross(q.Symbol, oldFast, oldSlow)
	if sig != nil && sig.Side != s.prevSide {
		s.prevSide = sig.Side
		return sig
	}
	return nil
}

func (s *MACross) detectCross(symbol string, oldFast, oldSlow float64) *Signal {
	if oldFast <= oldSlow && s.fastMA > s.slowMA {
		return &Signal{
			Side:   broker.SideBuy,
			Symbol: symbol,
			Note:   fmt.Sprintf("Golden cross: MA%d(%.2f) > MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA),
		}
	}
	if oldFast >= oldSlow && s.fastMA < s.slowMA {
		return &Signal{
			Side:   broker.SideSell,
			Symbol: symbol,
			Note:   fmt.Sprintf("Death cross: MA%d(%.2f) < MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA),
		}
	}
	return nil
}

// ShouldExit closes a position held against the current MA alignment.
func (s *MACross) ShouldExit(p Position, q broker.Quote) bool {
	if len(s.prices) < s.slowPeriod {
		return false
	}
	if p.Side == broker.SideBuy {
		return s.fastMA < s.slowMA
	}
	return s.fastMA > s.slowMA
}
