package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/ledger"
	"github.com/tablefirst/paydesk/internal/logging"
)

type singleWriter interface {
	WriteSingle(ctx context.Context, tx *sql.Tx, p ledger.SingleParams) (*domain.LedgerEntry, error)
}

type chargeShareholderRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Shareholder, error)
}

// ChargeService covers the single-sided ledger operations: usage charges
// accruing to a vendor's due balance and shareholder withdrawals.
type ChargeService struct {
	db           *sql.DB
	writer       singleWriter
	vendors      intentVendorRepo
	shareholders chargeShareholderRepo
}

func NewChargeService(db *sql.DB, writer singleWriter, vendors intentVendorRepo, shareholders chargeShareholderRepo) *ChargeService {
	return &ChargeService{
		db:           db,
		writer:       writer,
		vendors:      vendors,
		shareholders: shareholders,
	}
}

// RecordWhatsAppUsage books a messaging cost against the vendor's due
// balance. Delivery itself happens elsewhere; only the charge lands here.
func (s *ChargeService) RecordWhatsAppUsage(ctx context.Context, vendorID uuid.UUID, cost int64, remark string) (*domain.LedgerEntry, error) {
	if cost <= 0 {
		return nil, fmt.Errorf("RecordWhatsAppUsage: %w", domain.ErrInvalidAmount)
	}
	if _, err := s.vendors.GetByID(ctx, vendorID); err != nil {
		return nil, fmt.Errorf("RecordWhatsAppUsage: %w", err)
	}

	entry, err := s.writeSingle(ctx, ledger.SingleParams{
		Owner:     domain.OwnerRef{Type: domain.OwnerTypeVendor, ID: vendorID},
		Amount:    cost,
		Category:  domain.CategoryWhatsAppUsage,
		Direction: domain.DirectionOut,
		Remark:    remark,
	})
	if err != nil {
		return nil, fmt.Errorf("RecordWhatsAppUsage: %w", err)
	}

	logging.FromContext(ctx).Info("whatsapp usage recorded",
		"vendor_id", vendorID,
		"cost", cost,
	)
	return entry, nil
}

// WithdrawShare deducts from a shareholder's accrued balance. Money leaves
// the platform entirely, so no system-side row exists.
func (s *ChargeService) WithdrawShare(ctx context.Context, shareholderID uuid.UUID, amount int64) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("WithdrawShare: %w", domain.ErrInvalidAmount)
	}
	if _, err := s.shareholders.GetByID(ctx, shareholderID); err != nil {
		return nil, fmt.Errorf("WithdrawShare: %w", err)
	}

	entry, err := s.writeSingle(ctx, ledger.SingleParams{
		Owner:     domain.OwnerRef{Type: domain.OwnerTypeShareholder, ID: shareholderID},
		Amount:    amount,
		Category:  domain.CategoryShareWithdrawal,
		Direction: domain.DirectionOut,
	})
	if err != nil {
		return nil, fmt.Errorf("WithdrawShare: %w", err)
	}

	logging.FromContext(ctx).Info("share withdrawal recorded",
		"shareholder_id", shareholderID,
		"amount", amount,
	)
	return entry, nil
}

func (s *ChargeService) writeSingle(ctx context.Context, p ledger.SingleParams) (*domain.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("writeSingle: begin tx: %w", err)
	}
	defer tx.Rollback()

	entry, err := s.writer.WriteSingle(ctx, tx, p)
	if err != nil {
		return nil, fmt.Errorf("writeSingle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("writeSingle: commit: %w", err)
	}
	return entry, nil
}
