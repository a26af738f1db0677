package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tablefirst/paydesk/internal/domain"
)

const ledgerColumns = `id, owner_type, owner_id, amount, direction, category,
	is_system, status, client_txn_id, gateway_order_id, gateway_status, remark,
	utr, payer_vpa, payer_name, payment_url, order_id, qr_stand_order_id,
	deferred_payload, created_at, updated_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, owner_type, owner_id, amount, direction, category,
			is_system, status, client_txn_id, gateway_order_id, gateway_status, remark,
			utr, payer_vpa, payer_name, payment_url, order_id, qr_stand_order_id,
			deferred_payload, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		e.ID, e.OwnerType, e.OwnerID, e.Amount, e.Direction, e.Category,
		e.IsSystem, e.Status, e.ClientTxnID, e.GatewayOrderID, e.GatewayStatus, e.Remark,
		e.UTR, e.PayerVPA, e.PayerName, e.PaymentURL, e.OrderID, e.QRStandOrderID,
		nullableJSON(e.DeferredPayload), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateEntry)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

// GetByClientTxnID returns the owner-side entry for a correlation id.
func (r *LedgerRepository) GetByClientTxnID(ctx context.Context, clientTxnID string) (*domain.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE client_txn_id = $1 AND is_system = FALSE
		ORDER BY created_at LIMIT 1`,
		clientTxnID,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByClientTxnID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByClientTxnID: %w", err)
	}
	return e, nil
}

// GetForUpdateByClientTxnID locks the owner-side entry row. Concurrent
// callback and poll triggers for the same transaction serialize here.
func (r *LedgerRepository) GetForUpdateByClientTxnID(ctx context.Context, tx *sql.Tx, clientTxnID string) (*domain.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE client_txn_id = $1 AND is_system = FALSE
		ORDER BY created_at LIMIT 1 FOR UPDATE`,
		clientTxnID,
	)
	e, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdateByClientTxnID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdateByClientTxnID: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) ListByOwner(ctx context.Context, owner domain.OwnerRef, category *domain.Category, from, to *time.Time) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE owner_type = $1 AND owner_id = $2 AND is_system = FALSE`
	args := []any{owner.Type, owner.ID}

	if category != nil {
		args = append(args, *category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByOwner: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOwner: rows: %w", err)
	}
	return entries, nil
}

// MarkSuccess transitions a pending entry to success, storing the gateway's
// confirmation fields. The status guard makes the transition idempotent:
// a second caller sees zero rows and gets ErrIntentTerminal.
func (r *LedgerRepository) MarkSuccess(ctx context.Context, tx *sql.Tx, id uuid.UUID, gatewayStatus, utr, payerVPA, payerName, remark string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries
		SET status = $1, gateway_status = $2, utr = $3, payer_vpa = $4,
			payer_name = $5, remark = $6, updated_at = now()
		WHERE id = $7 AND status = $8`,
		domain.EntryStatusSuccess, gatewayStatus, utr, payerVPA,
		payerName, remark, id, domain.EntryStatusPending,
	)
	if err != nil {
		return fmt.Errorf("MarkSuccess: %w", err)
	}
	return checkTransitioned(res, "MarkSuccess")
}

func (r *LedgerRepository) MarkFailed(ctx context.Context, tx *sql.Tx, id uuid.UUID, gatewayStatus, remark string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries
		SET status = $1, gateway_status = $2, remark = $3, updated_at = now()
		WHERE id = $4 AND status = $5`,
		domain.EntryStatusFailed, gatewayStatus, remark, id, domain.EntryStatusPending,
	)
	if err != nil {
		return fmt.Errorf("MarkFailed: %w", err)
	}
	return checkTransitioned(res, "MarkFailed")
}

// SetGatewayOrder stores the gateway's order id and payment URL on a freshly
// created pending entry.
func (r *LedgerRepository) SetGatewayOrder(ctx context.Context, id uuid.UUID, gatewayOrderID, paymentURL string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ledger_entries
		SET gateway_order_id = $1, payment_url = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		gatewayOrderID, paymentURL, id, domain.EntryStatusPending,
	)
	if err != nil {
		return fmt.Errorf("SetGatewayOrder: %w", err)
	}
	return checkTransitioned(res, "SetGatewayOrder")
}

// SetCategory rewrites a pending intent's category. The completion path
// calls this when the gateway's echoed category overrides the stored one,
// so both rows of the pair end up under the same category.
func (r *LedgerRepository) SetCategory(ctx context.Context, tx *sql.Tx, id uuid.UUID, category domain.Category) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET category = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		category, id, domain.EntryStatusPending,
	)
	if err != nil {
		return fmt.Errorf("SetCategory: %w", err)
	}
	return checkTransitioned(res, "SetCategory")
}

// SetOrderRef links a materialized order to its intent entry.
func (r *LedgerRepository) SetOrderRef(ctx context.Context, tx *sql.Tx, id, orderID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ledger_entries SET order_id = $1, updated_at = now() WHERE id = $2`,
		orderID, id,
	)
	if err != nil {
		return fmt.Errorf("SetOrderRef: %w", err)
	}
	return nil
}

// DeletePending removes a pending entry after the gateway rejected its
// creation. Terminal entries are immutable and never deleted.
func (r *LedgerRepository) DeletePending(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE id = $1 AND status = $2`,
		id, domain.EntryStatusPending,
	)
	if err != nil {
		return fmt.Errorf("DeletePending: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeletePending: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("DeletePending: %w", domain.ErrNotFound)
	}
	return nil
}

// HasDistributionRunOn reports whether any successful system-side
// share_distribution entry exists on the given day.
func (r *LedgerRepository) HasDistributionRunOn(ctx context.Context, day time.Time) (bool, error) {
	return hasDistributionRunOn(ctx, r.db, day)
}

// HasDistributionRunOnTx is the transactional variant, used to re-check the
// guard after the system balance lock is held.
func (r *LedgerRepository) HasDistributionRunOnTx(ctx context.Context, tx *sql.Tx, day time.Time) (bool, error) {
	return hasDistributionRunOn(ctx, tx, day)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func hasDistributionRunOn(ctx context.Context, q rowQueryer, day time.Time) (bool, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE category = $1 AND is_system = TRUE AND status = $2
				AND created_at >= $3 AND created_at < $4
		)`,
		domain.CategoryShareDistribution, domain.EntryStatusSuccess,
		dayStart, dayStart.AddDate(0, 0, 1),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasDistributionRunOn: %w", err)
	}
	return exists, nil
}

func checkTransitioned(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrIntentTerminal)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var orderID, qrStandOrderID uuid.NullUUID
	var payload []byte

	err := s.Scan(
		&e.ID, &e.OwnerType, &e.OwnerID, &e.Amount, &e.Direction, &e.Category,
		&e.IsSystem, &e.Status, &e.ClientTxnID, &e.GatewayOrderID, &e.GatewayStatus, &e.Remark,
		&e.UTR, &e.PayerVPA, &e.PayerName, &e.PaymentURL, &orderID, &qrStandOrderID,
		&payload, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if orderID.Valid {
		e.OrderID = &orderID.UUID
	}
	if qrStandOrderID.Valid {
		e.QRStandOrderID = &qrStandOrderID.UUID
	}
	e.DeferredPayload = payload
	return &e, nil
}
