package risk

// Metrics is the snapshot captured alongside every admission decision.
type Metrics struct {
	DailyTradeCount   int     `json:"daily_trade_count"`
	DailyProfitLoss   float64 `json:"daily_profit_loss"`
	DrawdownPercent   float64 `json:"drawdown_percent"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
}

// CheckResult is the outcome of one admission check. Never persisted;
// computed fresh per evaluation.
type CheckResult struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Metrics Metrics `json:"metrics"`
}
