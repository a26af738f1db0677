package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/logging"
)

type balanceRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, key domain.AccountKey) (int64, error)
	Update(ctx context.Context, tx *sql.Tx, key domain.AccountKey, newBalance int64) error
}

// Mutator applies deltas to the four balance kinds under a row lock. It is
// the only write path into those rows.
type Mutator struct {
	balances balanceRepo
}

func NewMutator(balances balanceRepo) *Mutator {
	return &Mutator{balances: balances}
}

// Apply performs a locked read-modify-write. A negative result here is a
// programming error, not a business rejection: callers declaring a floor
// must use ApplyWithFloor instead.
func (m *Mutator) Apply(ctx context.Context, tx *sql.Tx, key domain.AccountKey, delta int64) (int64, error) {
	current, err := m.balances.GetForUpdate(ctx, tx, key)
	if err != nil {
		return 0, fmt.Errorf("Apply: %w", err)
	}

	next := current + delta
	if next < 0 {
		logging.FromContext(ctx).Error("balance would go negative outside a floor check",
			"account_kind", key.Kind,
			"owner_id", key.OwnerID,
			"current", current,
			"delta", delta,
		)
		return 0, fmt.Errorf("Apply: %s: %w", key.Kind, domain.ErrLedgerCorruption)
	}

	if err := m.balances.Update(ctx, tx, key, next); err != nil {
		return 0, fmt.Errorf("Apply: %w", err)
	}
	return next, nil
}

// ApplyWithFloor rejects the mutation with ErrInsufficientFunds when the
// current balance cannot cover the decrement. Delta must be negative.
func (m *Mutator) ApplyWithFloor(ctx context.Context, tx *sql.Tx, key domain.AccountKey, delta int64) (int64, error) {
	current, err := m.balances.GetForUpdate(ctx, tx, key)
	if err != nil {
		return 0, fmt.Errorf("ApplyWithFloor: %w", err)
	}

	if current+delta < 0 {
		return 0, fmt.Errorf("ApplyWithFloor: %s: %w", key.Kind, domain.ErrInsufficientFunds)
	}

	next := current + delta
	if err := m.balances.Update(ctx, tx, key, next); err != nil {
		return 0, fmt.Errorf("ApplyWithFloor: %w", err)
	}
	return next, nil
}
