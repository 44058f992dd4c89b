package store

import (
	"context"
	"fmt"
)

// InsertBotLog appends a bot activity entry.
func (s *Store) InsertBotLog(ctx context.Context, r BotLogRecord) error {
	if r.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO bot_logs (bot_key, user_id, level, message, trade_id)
		VALUES (?, ?, ?, ?, ?)
	`, r.BotKey, r.UserID, r.Level, r.Message, r.TradeID)
	if err != nil {
		return fmt.Errorf("insert bot log: %w", err)
	}
	return nil
}

// ListBotLogs returns the newest activity entries for a user.
func (s *Store) ListBotLogs(ctx context.Context, userID string, limit int) ([]BotLogRecord, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, COALESCE(bot_key, ''), user_id, level, message, COALESCE(trade_id, ''), created_at
		FROM bot_logs
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bot logs: %w", err)
	}
	defer rows.Close()

	var records []BotLogRecord
	for rows.Next() {
		var r BotLogRecord
		if err := rows.Scan(&r.ID, &r.BotKey, &r.UserID, &r.Level, &r.Message, &r.TradeID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bot log: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
