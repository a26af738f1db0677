package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tablefirst/paydesk/internal/domain"
)

// BalanceRepository is the only component that touches the four balance
// columns. Each kind maps to one table/column pair; reads take an exclusive
// row lock so the read-modify-write in ledger.Mutator is race-free.
type BalanceRepository struct {
	db *sql.DB
}

func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, key domain.AccountKey) (int64, error) {
	query, args, err := lockQuery(key)
	if err != nil {
		return 0, fmt.Errorf("GetForUpdate: %w", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("GetForUpdate: %s: %w", key.Kind, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("GetForUpdate: %w", err)
	}
	return balance, nil
}

func (r *BalanceRepository) Update(ctx context.Context, tx *sql.Tx, key domain.AccountKey, newBalance int64) error {
	query, args, err := updateQuery(key, newBalance)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %s: %w", key.Kind, domain.ErrNotFound)
	}
	return nil
}

// Get reads a balance without locking, for display and pre-checks only.
func (r *BalanceRepository) Get(ctx context.Context, key domain.AccountKey) (int64, error) {
	query, args, err := readQuery(key)
	if err != nil {
		return 0, fmt.Errorf("Get: %w", err)
	}

	var balance int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("Get: %s: %w", key.Kind, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("Get: %w", err)
	}
	return balance, nil
}

func lockQuery(key domain.AccountKey) (string, []any, error) {
	switch key.Kind {
	case domain.AccountVendorBalance:
		return `SELECT balance FROM vendors WHERE id = $1 FOR UPDATE`, []any{key.OwnerID}, nil
	case domain.AccountVendorDue:
		return `SELECT due_balance FROM vendors WHERE id = $1 FOR UPDATE`, []any{key.OwnerID}, nil
	case domain.AccountSystem:
		return `SELECT balance FROM system_balance WHERE id = 1 FOR UPDATE`, nil, nil
	case domain.AccountShareholder:
		return `SELECT balance FROM shareholders WHERE id = $1 FOR UPDATE`, []any{key.OwnerID}, nil
	}
	return "", nil, fmt.Errorf("unknown account kind %q", key.Kind)
}

func readQuery(key domain.AccountKey) (string, []any, error) {
	switch key.Kind {
	case domain.AccountVendorBalance:
		return `SELECT balance FROM vendors WHERE id = $1`, []any{key.OwnerID}, nil
	case domain.AccountVendorDue:
		return `SELECT due_balance FROM vendors WHERE id = $1`, []any{key.OwnerID}, nil
	case domain.AccountSystem:
		return `SELECT balance FROM system_balance WHERE id = 1`, nil, nil
	case domain.AccountShareholder:
		return `SELECT balance FROM shareholders WHERE id = $1`, []any{key.OwnerID}, nil
	}
	return "", nil, fmt.Errorf("unknown account kind %q", key.Kind)
}

func updateQuery(key domain.AccountKey, newBalance int64) (string, []any, error) {
	switch key.Kind {
	case domain.AccountVendorBalance:
		return `UPDATE vendors SET balance = $1 WHERE id = $2`, []any{newBalance, key.OwnerID}, nil
	case domain.AccountVendorDue:
		return `UPDATE vendors SET due_balance = $1 WHERE id = $2`, []any{newBalance, key.OwnerID}, nil
	case domain.AccountSystem:
		return `UPDATE system_balance SET balance = $1 WHERE id = 1`, []any{newBalance}, nil
	case domain.AccountShareholder:
		return `UPDATE shareholders SET balance = $1 WHERE id = $2`, []any{newBalance, key.OwnerID}, nil
	}
	return "", nil, fmt.Errorf("unknown account kind %q", key.Kind)
}
