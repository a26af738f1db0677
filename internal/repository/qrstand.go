package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
)

type QRStandOrderRepository struct {
	db *sql.DB
}

func NewQRStandOrderRepository(db *sql.DB) *QRStandOrderRepository {
	return &QRStandOrderRepository{db: db}
}

func (r *QRStandOrderRepository) Create(ctx context.Context, o *domain.QRStandOrder) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO qr_stand_orders (id, vendor_id, quantity, amount, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.VendorID, o.Quantity, o.Amount, o.PaymentStatus, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *QRStandOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.QRStandOrder, error) {
	var o domain.QRStandOrder
	err := r.db.QueryRowContext(ctx,
		`SELECT id, vendor_id, quantity, amount, payment_status, created_at
		FROM qr_stand_orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.VendorID, &o.Quantity, &o.Amount, &o.PaymentStatus, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return &o, nil
}

func (r *QRStandOrderRepository) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE qr_stand_orders SET payment_status = $1 WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdatePaymentStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdatePaymentStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdatePaymentStatus: %w", domain.ErrNotFound)
	}
	return nil
}
