package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
)

const vendorColumns = `id, name, phone, balance, due_balance,
	subscription_start, subscription_end, created_at`

type VendorRepository struct {
	db *sql.DB
}

func NewVendorRepository(db *sql.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

func (r *VendorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+vendorColumns+` FROM vendors WHERE id = $1`, id,
	)
	v, err := scanVendor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrVendorNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return v, nil
}

func (r *VendorRepository) Create(ctx context.Context, v *domain.Vendor) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vendors (id, name, phone, balance, due_balance,
			subscription_start, subscription_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Name, v.Phone, v.Balance, v.DueBalance,
		v.SubscriptionStart, v.SubscriptionEnd, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ExtendSubscription advances the vendor's subscription window. An expired
// or absent subscription restarts from now; an active one extends from its
// current end.
func (r *VendorRepository) ExtendSubscription(ctx context.Context, tx *sql.Tx, id uuid.UUID, months int, now time.Time) error {
	row := tx.QueryRowContext(ctx,
		`SELECT subscription_start, subscription_end FROM vendors WHERE id = $1 FOR UPDATE`, id,
	)
	var start, end sql.NullTime
	if err := row.Scan(&start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("ExtendSubscription: %w", domain.ErrVendorNotFound)
		}
		return fmt.Errorf("ExtendSubscription: %w", err)
	}

	newStart := now
	base := now
	if end.Valid && end.Time.After(now) {
		newStart = start.Time
		base = end.Time
	}
	newEnd := base.AddDate(0, months, 0)

	_, err := tx.ExecContext(ctx,
		`UPDATE vendors SET subscription_start = $1, subscription_end = $2 WHERE id = $3`,
		newStart, newEnd, id,
	)
	if err != nil {
		return fmt.Errorf("ExtendSubscription: %w", err)
	}
	return nil
}

func scanVendor(s scanner) (*domain.Vendor, error) {
	var v domain.Vendor
	var start, end sql.NullTime
	err := s.Scan(
		&v.ID, &v.Name, &v.Phone, &v.Balance, &v.DueBalance,
		&start, &end, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		v.SubscriptionStart = &start.Time
	}
	if end.Valid {
		v.SubscriptionEnd = &end.Time
	}
	return &v, nil
}
