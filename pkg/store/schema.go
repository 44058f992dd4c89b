package store

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    trade_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    broker TEXT NOT NULL,
    bot_key TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL,
    quantity REAL NOT NULL,
    stop_loss REAL,
    take_profit REAL,
    status TEXT NOT NULL,
    realized_pnl REAL,
    close_reason TEXT,
    entry_ts DATETIME NOT NULL,
    exit_ts DATETIME,
    FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_trades_user_entry ON trades(user_id, entry_ts);
CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades(user_id, status);

CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT NOT NULL,
    broker TEXT NOT NULL,
    balance REAL NOT NULL,
    equity REAL NOT NULL,
    margin REAL NOT NULL DEFAULT 0,
    initial_balance REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(user_id, broker)
);

CREATE TABLE IF NOT EXISTS risk_settings (
    user_id TEXT NOT NULL,
    broker TEXT NOT NULL,
    max_trades_per_day INTEGER NOT NULL DEFAULT 0,
    daily_loss_limit REAL NOT NULL DEFAULT 0,
    max_stake_size REAL NOT NULL DEFAULT 0,
    risk_per_trade REAL NOT NULL DEFAULT 2,
    auto_stop_drawdown REAL NOT NULL DEFAULT 0,
    max_consecutive_losses INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(user_id, broker)
);

CREATE TABLE IF NOT EXISTS bot_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    bot_key TEXT,
    user_id TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    trade_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_bot_logs_user ON bot_logs(user_id, created_at);
`

// ApplyMigrations creates all tables if they do not exist yet.
func ApplyMigrations(s *Store) error {
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
