package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
)

const orderColumns = `id, vendor_id, customer_name, customer_phone, table_number,
	fcm_token, total_amount, payment_status, created_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts an order and its line items in the caller's transaction;
// used by the reconciler when materializing a deferred payload.
func (r *OrderRepository) Create(ctx context.Context, tx *sql.Tx, order *domain.Order, items []domain.OrderItem) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (
			id, vendor_id, customer_name, customer_phone, table_number,
			fcm_token, total_amount, payment_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.VendorID, order.CustomerName, order.CustomerPhone, order.TableNumber,
		order.FCMToken, order.TotalAmount, order.PaymentStatus, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	for _, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, menu_item_id, name, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, order.ID, it.MenuItemID, it.Name, it.Price, it.Quantity,
		)
		if err != nil {
			return fmt.Errorf("Create: item: %w", err)
		}
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, menu_item_id, name, price, quantity
		FROM order_items WHERE order_id = $1`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetItems: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return nil, fmt.Errorf("GetItems: scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetItems: rows: %w", err)
	}
	return items, nil
}

func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1 WHERE id = $2`,
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

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	err := s.Scan(
		&o.ID, &o.VendorID, &o.CustomerName, &o.CustomerPhone, &o.TableNumber,
		&o.FCMToken, &o.TotalAmount, &o.PaymentStatus, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
