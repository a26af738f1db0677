package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
)

type ShareholderRepository struct {
	db *sql.DB
}

func NewShareholderRepository(db *sql.DB) *ShareholderRepository {
	return &ShareholderRepository{db: db}
}

func (r *ShareholderRepository) Create(ctx context.Context, sh *domain.Shareholder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO shareholders (id, name, share_percentage, balance, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sh.ID, sh.Name, sh.SharePercentage, sh.Balance, sh.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ShareholderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Shareholder, error) {
	var sh domain.Shareholder
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, share_percentage, balance, created_at
		FROM shareholders WHERE id = $1`, id,
	).Scan(&sh.ID, &sh.Name, &sh.SharePercentage, &sh.Balance, &sh.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrShareholderNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &sh, nil
}

// ListByShareDesc returns all shareholders ordered by descending share
// percentage, the order the distribution job walks them in.
func (r *ShareholderRepository) ListByShareDesc(ctx context.Context) ([]domain.Shareholder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, share_percentage, balance, created_at
		FROM shareholders ORDER BY share_percentage DESC, created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByShareDesc: %w", err)
	}
	defer rows.Close()

	var shareholders []domain.Shareholder
	for rows.Next() {
		var sh domain.Shareholder
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.SharePercentage, &sh.Balance, &sh.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListByShareDesc: scan: %w", err)
		}
		shareholders = append(shareholders, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByShareDesc: rows: %w", err)
	}
	return shareholders, nil
}
