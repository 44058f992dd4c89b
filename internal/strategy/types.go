package strategy

import (
	"time"

	"botcore/internal/broker"
)

// Signal is a trade intent emitted by a strategy for the current tick.
type Signal struct {
	Side   broker.Side `json:"side"`
	Symbol string      `json:"symbol"`
	Note   string      `json:"note,omitempty"`
}

// Position is the strategy-facing view of an open position.
type Position struct {
	Symbol     string
	Side       broker.Side
	EntryPrice float64
	Quantity   float64
	OpenedAt   time.Time
}

// Strategy generates entry signals and exit decisions from market ticks.
// Implementations keep their own price history across calls; one instance
// serves exactly one bot.
type Strategy interface {
	// Name returns the canonical strategy name.
	Name() string
	// Analyze consumes the latest tick and returns a signal or nil.
	Analyze(q broker.Quote) *Signal
	// ShouldExit reports whether the open position should be closed on
	// this tick (reverse-signal exits).
	ShouldExit(p Position, q broker.Quote) bool
}

// Config carries strategy parameters from the start-bot request.
type Config map[string]any

// Float reads a numeric parameter with a default.
func (c Config) Float(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int reads an integer parameter with a default.
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
