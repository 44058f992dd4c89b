package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SaveTrade inserts a new trade row.
func (s *Store) SaveTrade(ctx context.Context, t Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO trades (
			trade_id, user_id, broker, bot_key, symbol, side,
			entry_price, exit_price, quantity, stop_loss, take_profit,
			status, realized_pnl, close_reason, entry_ts, exit_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.TradeID, t.UserID, t.Broker, t.BotKey, t.Symbol, t.Side,
		t.EntryPrice, t.ExitPrice, t.Quantity, t.StopLoss, t.TakeProfit,
		t.Status, t.RealizedPnl, t.CloseReason, t.EntryTimestamp, t.ExitTimestamp,
	)
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// UpdateTrade rewrites the mutable fields of an existing trade row,
// typically on close.
func (s *Store) UpdateTrade(ctx context.Context, t Trade) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE trades
		SET exit_price = ?, status = ?, realized_pnl = ?, close_reason = ?, exit_ts = ?
		WHERE trade_id = ?
	`, t.ExitPrice, t.Status, t.RealizedPnl, t.CloseReason, t.ExitTimestamp, t.TradeID)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// FindTrades returns trades matching the filter, newest first unless sort
// says otherwise. sort accepts "entry_ts ASC"/"entry_ts DESC"/"exit_ts DESC";
// limit <= 0 means no limit.
func (s *Store) FindTrades(ctx context.Context, f TradeFilter, sort string, limit int) ([]Trade, error) {
	if f.UserID == "" {
		return nil, ErrUserIDRequired
	}

	var (
		conds = []string{"user_id = ?"}
		args  = []any{f.UserID}
	)
	if f.Broker != "" {
		conds = append(conds, "broker = ?")
		args = append(args, f.Broker)
	}
	if f.BotKey != "" {
		conds = append(conds, "bot_key = ?")
		args = append(args, f.BotKey)
	}
	if f.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "entry_ts >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		conds = append(conds, "entry_ts < ?")
		args = append(args, f.Until)
	}
	if !f.ClosedSince.IsZero() {
		conds = append(conds, "exit_ts >= ?")
		args = append(args, f.ClosedSince)
	}

	order := "entry_ts DESC"
	switch sort {
	case "", "entry_ts DESC":
	case "entry_ts ASC", "exit_ts DESC", "exit_ts ASC":
		order = sort
	default:
		return nil, fmt.Errorf("unsupported sort %q", sort)
	}

	query := `
		SELECT trade_id, user_id, broker, COALESCE(bot_key, ''), symbol, side,
		       entry_price, exit_price, quantity, stop_loss, take_profit,
		       status, realized_pnl, COALESCE(close_reason, ''), entry_ts, exit_ts
		FROM trades
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY ` + order
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var exitPrice, stopLoss, takeProfit, realized sql.NullFloat64
		var exitTS sql.NullTime
		if err := rows.Scan(
			&t.TradeID, &t.UserID, &t.Broker, &t.BotKey, &t.Symbol, &t.Side,
			&t.EntryPrice, &exitPrice, &t.Quantity, &stopLoss, &takeProfit,
			&t.Status, &realized, &t.CloseReason, &t.EntryTimestamp, &exitTS,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ExitPrice = nullFloat(exitPrice)
		t.StopLoss = nullFloat(stopLoss)
		t.TakeProfit = nullFloat(takeProfit)
		t.RealizedPnl = nullFloat(realized)
		if exitTS.Valid {
			ts := exitTS.Time
			t.ExitTimestamp = &ts
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
