// Package broker abstracts a brokerage connection used by running bots.
package broker

import (
	"context"
	"errors"
	"time"
)

// ErrAdapter wraps a failed broker call. A cycle retries the call once and
// otherwise defers to the next cycle; the bot stays running.
var ErrAdapter = errors.New("broker adapter error")

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// AccountSummary mirrors the account snapshot a broker reports.
type AccountSummary struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
	Currency   string  `json:"currency,omitempty"`
	Leverage   int     `json:"leverage,omitempty"`
}

// Position is an open position as the broker reports it.
type Position struct {
	Ticket       string    `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Volume       float64   `json:"volume"`
	PriceOpen    float64   `json:"price_open"`
	PriceCurrent float64   `json:"price_current"`
	Profit       float64   `json:"profit"`
	StopLoss     float64   `json:"sl,omitempty"`
	TakeProfit   float64   `json:"tp,omitempty"`
	OpenedAt     time.Time `json:"opened_at"`
}

// OrderParams captures an order intent sent to a broker.
type OrderParams struct {
	Symbol     string
	Side       Side
	Volume     float64
	Price      float64 // 0 means market
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// OrderAck is the broker's acknowledgement of a placed order.
type OrderAck struct {
	OrderID   string
	FillPrice float64
	Volume    float64
}

// Quote is the latest mark for a symbol.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// Mid returns the midpoint price, or whichever side is present.
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Bid > 0:
		return q.Bid
	default:
		return q.Ask
	}
}

// Adapter is a live connection to one brokerage account.
type Adapter interface {
	Authenticate(ctx context.Context) error
	IsPaperTrading() bool
	GetBalance(ctx context.Context) (AccountSummary, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	PlaceOrder(ctx context.Context, p OrderParams) (OrderAck, error)
	ClosePosition(ctx context.Context, ticket string) error
	Disconnect(ctx context.Context) error
}
