package bot

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning is returned when a start request collides with a
	// live instance for the same (user, bot, broker, symbol) key.
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrBotNotFound is returned for operations on unknown bot keys.
	ErrBotNotFound = errors.New("bot not found")
	// ErrAdapterRequired is returned when no broker session exists for the
	// start request and none was supplied.
	ErrAdapterRequired = errors.New("no broker adapter attached for session")
)

// Status is a bot's lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Parameters tunes one bot instance. Zero values fall back to defaults at
// start time.
type Parameters struct {
	TakeProfitPct       float64       `json:"take_profit_pct" yaml:"take_profit_pct"`
	StopLossPct         float64       `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	MaxConcurrentTrades int           `json:"max_concurrent_trades" yaml:"max_concurrent_trades"`
	Martingale          bool          `json:"martingale" yaml:"martingale"`
	MartingaleFactor    float64       `json:"martingale_factor" yaml:"martingale_factor"`
	MaxMartingaleSteps  int           `json:"max_martingale_steps" yaml:"max_martingale_steps"`
	CycleInterval       time.Duration `json:"cycle_interval" yaml:"cycle_interval"`
	// Trading-session window, "HH:MM" local. Both empty means always on;
	// a window may span midnight (start > end).
	SessionStart string `json:"session_start,omitempty" yaml:"session_start,omitempty"`
	SessionEnd   string `json:"session_end,omitempty" yaml:"session_end,omitempty"`
}

func (p *Parameters) applyDefaults() {
	if p.MaxConcurrentTrades <= 0 {
		p.MaxConcurrentTrades = 1
	}
	if p.MartingaleFactor <= 0 {
		p.MartingaleFactor = 2
	}
	if p.MaxMartingaleSteps <= 0 {
		p.MaxMartingaleSteps = 5
	}
	if p.CycleInterval <= 0 {
		p.CycleInterval = 10 * time.Second
	}
}

// Key derives the stable bot key for an instance.
func Key(userID, botID, brokerName, symbol string) string {
	return fmt.Sprintf("%s|%s|%s|%s", userID, botID, brokerName, symbol)
}

// View is the read-only snapshot of a running bot exposed to callers.
type View struct {
	Key               string     `json:"key"`
	UserID            string     `json:"user_id"`
	BotID             string     `json:"bot_id"`
	Broker            string     `json:"broker"`
	Symbol            string     `json:"symbol"`
	Strategy          string     `json:"strategy"`
	Status            Status     `json:"status"`
	Paper             bool       `json:"paper"`
	StartedAt         time.Time  `json:"started_at"`
	DailyTrades       int        `json:"daily_trades"`
	DailyProfitLoss   float64    `json:"daily_profit_loss"`
	TotalProfitLoss   float64    `json:"total_profit_loss"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	OpenPositions     int        `json:"open_positions"`
	LastError         string     `json:"last_error,omitempty"`
	Parameters        Parameters `json:"parameters"`
}
