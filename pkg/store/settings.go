package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetRiskSettings loads the risk limits for a (user, broker) session,
// falling back to defaults when the session was never configured.
func (s *Store) GetRiskSettings(ctx context.Context, userID, broker string) (RiskSettings, error) {
	if userID == "" {
		return RiskSettings{}, ErrUserIDRequired
	}
	var rs RiskSettings
	err := s.DB.QueryRowContext(ctx, `
		SELECT user_id, broker, max_trades_per_day, daily_loss_limit, max_stake_size,
		       risk_per_trade, auto_stop_drawdown, max_consecutive_losses, updated_at
		FROM risk_settings WHERE user_id = ? AND broker = ?
	`, userID, broker).Scan(
		&rs.UserID, &rs.Broker, &rs.MaxTradesPerDay, &rs.DailyLossLimit, &rs.MaxStakeSize,
		&rs.RiskPerTrade, &rs.AutoStopDrawdown, &rs.MaxConsecutiveLosses, &rs.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return DefaultRiskSettings(userID, broker), nil
	}
	if err != nil {
		return RiskSettings{}, fmt.Errorf("get risk settings: %w", err)
	}
	return rs, nil
}

// SaveRiskSettings upserts the risk limits for a (user, broker) session.
// Takes effect on the owning bots' next cycle; an in-flight evaluation keeps
// the settings it started with.
func (s *Store) SaveRiskSettings(ctx context.Context, rs RiskSettings) error {
	if rs.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO risk_settings (
			user_id, broker, max_trades_per_day, daily_loss_limit, max_stake_size,
			risk_per_trade, auto_stop_drawdown, max_consecutive_losses, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, broker) DO UPDATE SET
			max_trades_per_day = excluded.max_trades_per_day,
			daily_loss_limit = excluded.daily_loss_limit,
			max_stake_size = excluded.max_stake_size,
			risk_per_trade = excluded.risk_per_trade,
			auto_stop_drawdown = excluded.auto_stop_drawdown,
			max_consecutive_losses = excluded.max_consecutive_losses,
			updated_at = CURRENT_TIMESTAMP
	`, rs.UserID, rs.Broker, rs.MaxTradesPerDay, rs.DailyLossLimit, rs.MaxStakeSize,
		rs.RiskPerTrade, rs.AutoStopDrawdown, rs.MaxConsecutiveLosses)
	if err != nil {
		return fmt.Errorf("save risk settings: %w", err)
	}
	return nil
}
