package strategy

import (
	"fmt"
	"math"

	"botcore/internal/broker"
)

// EvenOdd is a binary-style digit strategy: it watches the parity of the
// last digit of recent ticks and enters when one parity streaks. BUY maps
// to betting on even, SELL to betting on odd.
type EvenOdd struct {
	streak int // required run length before entering

	parities []bool // true = even
}

// NewEvenOdd builds an even-odd strategy from config key "streak".
func NewEvenOdd(cfg Config) (Strategy, error) {
	streak := cfg.Int("streak", 3)
	if streak < 1 {
		return nil, fmt.Errorf("even-odd: streak must be >= 1, got %d", streak)
	}
	return &EvenOdd{streak: streak}, nil
}

func (s *EvenOdd) Name() string {
	return fmt.Sprintf("EvenOdd_%d", s.streak)
}

func (s *EvenOdd) Analyze(q broker.Quote) *Signal {
	price := q.Mid()
	if price <= 0 {
		return nil
	}

	even := lastDigit(price)%2 == 0
	s.parities = append(s.parities, even)
	if len(s.parities) > s.streak {
		s.parities = s.parities[1:]
	}
	if len(s.parities) < s.streak {
		return nil
	}

	allEven, allOdd := true, true
	for _, p := range s.parities {
		if p {
			allOdd = false
		} else {
			allEven = false
		}
	}

	switch {
	case allEven:
		return &Signal{
			Side:   broker.SideBuy,
			Symbol: q.Symbol,
			Note:   fmt.Sprintf("%d even digits in a row", s.streak),
		}
	case allOdd:
		return &Signal{
			Side:   broker.SideSell,
			Symbol: q.Symbol,
			Note:   fmt.Sprintf("%d odd digits in a row", s.streak),
		}
	}
	return nil
}

// ShouldExit exits once the parity run that justified the entry breaks.
func (s *EvenOdd) ShouldExit(p Position, q broker.Quote) bool {
	if len(s.parities) == 0 {
		return false
	}
	latestEven := s.parities[len(s.parities)-1]
	if p.Side == broker.SideBuy {
		return !latestEven
	}
	return latestEven
}

// lastDigit extracts the final digit of the price at two decimal places.
func lastDigit(price float64) int {
	cents := int64(math.Round(price * 100))
	if cents < 0 {
		cents = -cents
	}
	return int(cents % 10)
}
