package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CreateAccount inserts a fresh account row. A duplicate (user, broker) pair
// fails with a constraint error; callers racing on first use should fall back
// to FindAccount instead of treating that as fatal.
func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	if a.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO accounts (user_id, broker, balance, equity, margin, initial_balance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, a.UserID, a.Broker, a.Balance, a.Equity, a.Margin, a.InitialBalance)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// IsDuplicateAccount reports whether err came from the accounts primary key.
func IsDuplicateAccount(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FindAccount loads the account for a (user, broker) pair.
func (s *Store) FindAccount(ctx context.Context, userID, broker string) (*Account, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var a Account
	err := s.DB.QueryRowContext(ctx, `
		SELECT user_id, broker, balance, equity, margin, initial_balance, updated_at
		FROM accounts WHERE user_id = ? AND broker = ?
	`, userID, broker).Scan(&a.UserID, &a.Broker, &a.Balance, &a.Equity, &a.Margin, &a.InitialBalance, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &a, nil
}

// UpsertAccount applies a patch to the (user, broker) account, creating the
// row from the patch if it does not exist yet.
func (s *Store) UpsertAccount(ctx context.Context, userID, broker string, patch AccountPatch) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	existing, err := s.FindAccount(ctx, userID, broker)
	if err != nil && err != ErrNotFound {
		return err
	}

	a := Account{UserID: userID, Broker: broker}
	if existing != nil {
		a = *existing
	}
	if patch.Balance != nil {
		a.Balance = *patch.Balance
	}
	if patch.Equity != nil {
		a.Equity = *patch.Equity
	}
	if patch.Margin != nil {
		a.Margin = *patch.Margin
	}
	if patch.InitialBalance != nil {
		a.InitialBalance = *patch.InitialBalance
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO accounts (user_id, broker, balance, equity, margin, initial_balance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, broker) DO UPDATE SET
			balance = excluded.balance,
			equity = excluded.equity,
			margin = excluded.margin,
			initial_balance = excluded.initial_balance,
			updated_at = CURRENT_TIMESTAMP
	`, a.UserID, a.Broker, a.Balance, a.Equity, a.Margin, a.InitialBalance)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}
