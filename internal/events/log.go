package events

import "time"

// LogLevel classifies bot activity entries shown to the owning user.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// BotLogEntry is a structured activity record emitted by a running bot.
// Raw errors never reach the end user; every denial or failure becomes
// one of these instead.
type BotLogEntry struct {
	BotKey    string    `json:"bot_key"`
	UserID    string    `json:"user_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	TradeID   string    `json:"trade_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishLog emits a bot activity entry on the TopicBotLog channel.
func (b *Bus) PublishLog(entry BotLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	b.Publish(TopicBotLog, entry)
}
