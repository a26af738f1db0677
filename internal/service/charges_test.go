package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/ledger"
	"github.com/tablefirst/paydesk/internal/repository"
	"github.com/tablefirst/paydesk/internal/testutil"
)

func setupCharges(t *testing.T, db *sql.DB) *ChargeService {
	t.Helper()
	w := ledger.NewWriter(
		repository.NewLedgerRepository(db),
		ledger.NewMutator(repository.NewBalanceRepository(db)),
	)
	return NewChargeService(db, w, repository.NewVendorRepository(db), repository.NewShareholderRepository(db))
}

func TestRecordWhatsAppUsage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCharges(t, db)
	ctx := context.Background()

	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 1000)

	entry, err := svc.RecordWhatsAppUsage(ctx, vendor.ID, 250, "order notification batch")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryWhatsAppUsage, entry.Category)
	assert.Equal(t, domain.EntryStatusSuccess, entry.Status)
	require.NotNil(t, entry.Remark)
	assert.Equal(t, "order notification batch", *entry.Remark)

	_, due := testutil.GetVendorBalances(t, db, vendor.ID)
	assert.Equal(t, int64(1250), due)

	_, err = svc.RecordWhatsAppUsage(ctx, vendor.ID, 0, "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.RecordWhatsAppUsage(ctx, uuid.New(), 100, "")
	require.ErrorIs(t, err, domain.ErrVendorNotFound)
}

func TestWithdrawShare(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := setupCharges(t, db)
	ctx := context.Background()

	sh := testutil.SeedShareholder(t, db, "Priya", "40.00", 8000)

	entry, err := svc.WithdrawShare(ctx, sh.ID, 5000)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryShareWithdrawal, entry.Category)
	assert.Equal(t, int64(3000), testutil.GetShareholderBalance(t, db, sh.ID))

	_, err = svc.WithdrawShare(ctx, sh.ID, 5000)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(3000), testutil.GetShareholderBalance(t, db, sh.ID), "failed withdrawal leaves balance intact")

	_, err = svc.WithdrawShare(ctx, uuid.New(), 100)
	require.ErrorIs(t, err, domain.ErrShareholderNotFound)

	_, err = svc.WithdrawShare(ctx, sh.ID, -10)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}
