package store

import "time"

// Trade statuses.
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Close reasons recorded on a closed trade.
const (
	CloseReasonTakeProfit    = "TAKE_PROFIT"
	CloseReasonStopLoss      = "STOP_LOSS"
	CloseReasonReverseSignal = "REVERSE_SIGNAL"
	CloseReasonManual        = "MANUAL"
	CloseReasonForceStop     = "FORCE_STOP"
)

// Trade is the durable record of a single opened (and possibly closed) trade.
// These fields round-trip exactly through the store.
type Trade struct {
	TradeID        string     `json:"trade_id"`
	UserID         string     `json:"user_id"`
	Broker         string     `json:"broker"`
	BotKey         string     `json:"bot_key,omitempty"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"` // BUY or SELL
	EntryPrice     float64    `json:"entry_price"`
	ExitPrice      *float64   `json:"exit_price,omitempty"`
	Quantity       float64    `json:"quantity"`
	StopLoss       *float64   `json:"stop_loss,omitempty"`
	TakeProfit     *float64   `json:"take_profit,omitempty"`
	Status         string     `json:"status"`
	RealizedPnl    *float64   `json:"realized_pnl,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
	EntryTimestamp time.Time  `json:"entry_timestamp"`
	ExitTimestamp  *time.Time `json:"exit_timestamp,omitempty"`
}

// TradeFilter narrows FindTrades results. Zero values mean "any".
// Since and Until bound the entry time, ClosedSince the exit time.
type TradeFilter struct {
	UserID      string
	Broker      string
	BotKey      string
	Symbol      string
	Status      string
	Since       time.Time
	Until       time.Time
	ClosedSince time.Time
}

// Account is the persisted virtual-account record for a (user, broker) pair.
type Account struct {
	UserID         string    `json:"user_id"`
	Broker         string    `json:"broker"`
	Balance        float64   `json:"balance"`
	Equity         float64   `json:"equity"`
	Margin         float64   `json:"margin"`
	InitialBalance float64   `json:"initial_balance"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AccountPatch carries the mutable fields of an account upsert.
// Nil fields are left untouched.
type AccountPatch struct {
	Balance        *float64
	Equity         *float64
	Margin         *float64
	InitialBalance *float64
}

// RiskSettings holds per-(user, broker) risk limits. A zero limit disables
// the corresponding check.
type RiskSettings struct {
	UserID               string    `json:"user_id"`
	Broker               string    `json:"broker"`
	MaxTradesPerDay      int       `json:"max_trades_per_day"`
	DailyLossLimit       float64   `json:"daily_loss_limit"`
	MaxStakeSize         float64   `json:"max_stake_size"`
	RiskPerTrade         float64   `json:"risk_per_trade"` // percent of balance
	AutoStopDrawdown     float64   `json:"auto_stop_drawdown"`
	MaxConsecutiveLosses int       `json:"max_consecutive_losses"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DefaultRiskSettings returns the limits applied to a session that has never
// been configured.
func DefaultRiskSettings(userID, broker string) RiskSettings {
	return RiskSettings{
		UserID:               userID,
		Broker:               broker,
		MaxTradesPerDay:      50,
		DailyLossLimit:       0,
		MaxStakeSize:         0,
		RiskPerTrade:         2,
		AutoStopDrawdown:     0,
		MaxConsecutiveLosses: 0,
	}
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BotLogRecord is a persisted bot activity entry.
type BotLogRecord struct {
	ID        int64     `json:"id"`
	BotKey    string    `json:"bot_key"`
	UserID    string    `json:"user_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	TradeID   string    `json:"trade_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
