package sim

import (
	"time"

	"botcore/internal/broker"
)

// Position is an open simulated position. Mutated only by mark-to-market on
// each tick; transitions to a ClosedTrade exactly once.
type Position struct {
	TradeID       string      `json:"trade_id"`
	Symbol        string      `json:"symbol"`
	Side          broker.Side `json:"side"`
	EntryPrice    float64     `json:"entry_price"`
	Quantity      float64     `json:"quantity"`
	StopLoss      float64     `json:"stop_loss,omitempty"`
	TakeProfit    float64     `json:"take_profit,omitempty"`
	CurrentPrice  float64     `json:"current_price"`
	UnrealizedPnl float64     `json:"unrealized_pnl"`
	OpenedAt      time.Time   `json:"opened_at"`
}

// ClosedTrade is the terminal record of a simulated position.
type ClosedTrade struct {
	TradeID     string      `json:"trade_id"`
	Symbol      string      `json:"symbol"`
	Side        broker.Side `json:"side"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	Quantity    float64     `json:"quantity"`
	ProfitLoss  float64     `json:"profit_loss"`
	CloseReason string      `json:"close_reason"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// TradeRequest asks the simulator to open a position.
type TradeRequest struct {
	TradeID    string
	Symbol     string
	Side       broker.Side
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
}

// AccountState is a snapshot of the virtual account.
type AccountState struct {
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	Margin         float64 `json:"margin"`
	InitialBalance float64 `json:"initial_balance"`
	OpenPositions  int     `json:"open_positions"`
}
