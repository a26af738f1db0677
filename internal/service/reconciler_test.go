package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/gateway"
	"github.com/tablefirst/paydesk/internal/ledger"
	"github.com/tablefirst/paydesk/internal/repository"
	"github.com/tablefirst/paydesk/internal/testutil"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	res   *gateway.StatusResult
	err   error
}

func (f *fakeGateway) CheckStatusWithRetry(ctx context.Context, clientTxnID string, txnDate time.Time, policy gateway.RetryPolicy) (*gateway.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// faultWriter injects a failure into the completion step so the test can
// observe that nothing materialized in the same transaction survives.
type faultWriter struct {
	*ledger.Writer
	failComplete bool
}

func (f *faultWriter) CompleteDual(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry, g ledger.GatewayMeta) (*domain.LedgerEntry, error) {
	if f.failComplete {
		return nil, errors.New("injected completion failure")
	}
	return f.Writer.CompleteDual(ctx, tx, intent, g)
}

const testFeeBps = 200

func setupReconciler(t *testing.T, db *sql.DB, gw *fakeGateway) *Reconciler {
	t.Helper()
	w := ledger.NewWriter(
		repository.NewLedgerRepository(db),
		ledger.NewMutator(repository.NewBalanceRepository(db)),
	)
	return NewReconciler(
		db,
		repository.NewLedgerRepository(db),
		w,
		repository.NewOrderRepository(db),
		repository.NewQRStandOrderRepository(db),
		repository.NewVendorRepository(db),
		gw,
		gateway.RetryPolicy{Attempts: 1, Delay: time.Millisecond},
		testFeeBps,
	)
}

func successStatus(amount int64, category domain.Category) *gateway.StatusResult {
	return &gateway.StatusResult{
		Status:    gateway.TxnStatusSuccess,
		UTR:       "UTR555001",
		PayerVPA:  "payer@upi",
		PayerName: "Asha",
		Amount:    amount,
		Remark:    "Transaction Successful",
		UDF2:      string(category),
	}
}

func seedOrderIntent(t *testing.T, db *sql.DB, vendorID uuid.UUID, clientTxnID string) *domain.LedgerEntry {
	t.Helper()
	payload, err := json.Marshal(domain.DeferredOrderPayload{
		VendorID:      vendorID,
		CustomerName:  "Asha",
		CustomerPhone: "9800000001",
		TableNumber:   "4",
		Items: []domain.DeferredOrderItem{
			{MenuItemID: uuid.New(), Name: "Masala Dosa", Price: 9000, Quantity: 1},
			{MenuItemID: uuid.New(), Name: "Filter Coffee", Price: 3000, Quantity: 2},
		},
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	intent := &domain.LedgerEntry{
		ID:              uuid.New(),
		OwnerType:       domain.OwnerTypeVendor,
		OwnerID:         vendorID,
		Amount:          15000,
		Direction:       domain.DirectionIn,
		Category:        domain.CategoryOrder,
		Status:          domain.EntryStatusPending,
		ClientTxnID:     &clientTxnID,
		DeferredPayload: payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	testutil.InsertPendingIntent(t, db, intent)
	return intent
}

func TestResolve_OrderSuccessMaterializesDeferred(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 0)
	seedOrderIntent(t, db, vendor.ID, "ORD-recon-1")

	gw := &fakeGateway{res: successStatus(15000, domain.CategoryOrder)}
	r := setupReconciler(t, db, gw)

	out, err := r.Resolve(context.Background(), "ORD-recon-1")
	require.NoError(t, err)
	assert.Equal(t, ResolveSuccess, out.Status)
	require.NotNil(t, out.Entry.OrderID)

	// The order now exists, already paid, with its items.
	var total int64
	var status string
	err = db.QueryRow(`SELECT total_amount, payment_status FROM orders WHERE id = $1`, *out.Entry.OrderID).
		Scan(&total, &status)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), total)
	assert.Equal(t, "paid", status)

	var itemCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM order_items WHERE order_id = $1`, *out.Entry.OrderID).Scan(&itemCount))
	assert.Equal(t, 2, itemCount)

	// Order pair plus fee pair, each balanced.
	assert.Equal(t, 2, testutil.CountLedgerEntries(t, db, "ORD-recon-1"))
	assert.Equal(t, int64(0), testutil.SumLedgerPair(t, db, "ORD-recon-1"))

	// 2% platform fee accrues to the vendor's due balance.
	_, due := testutil.GetVendorBalances(t, db, vendor.ID)
	assert.Equal(t, int64(300), due)

	assert.Equal(t, 1, gw.callCount())
}

func TestResolve_SecondCallReturnsCachedOutcome(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 0)
	seedOrderIntent(t, db, vendor.ID, "ORD-recon-2")

	gw := &fakeGateway{res: successStatus(15000, domain.CategoryOrder)}
	r := setupReconciler(t, db, gw)

	first, err := r.Resolve(context.Background(), "ORD-recon-2")
	require.NoError(t, err)
	require.Equal(t, ResolveSuccess, first.Status)

	second, err := r.Resolve(context.Background(), "ORD-recon-2")
	require.NoError(t, err)
	assert.Equal(t, ResolveSuccess, second.Status)

	assert.Equal(t, 1, gw.callCount(), "terminal intent must not hit the gateway again")
	_, due := testutil.GetVendorBalances(t, db, vendor.ID)
	assert.Equal(t, int64(300), due, "fee applied exactly once")

	var orderCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE vendor_id = $1`, vendor.ID).Scan(&orderCount))
	assert.Equal(t, 1, orderCount)
}

func TestResolve_ConcurrentCallbackAndPoll(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 0)
	seedOrderIntent(t, db, vendor.ID, "ORD-recon-3")

	gw := &fakeGateway{res: successStatus(15000, domain.CategoryOrder)}
	r := setupReconciler(t, db, gw)

	type result struct {
		out *Outcome
		err error
	}

	var wg sync.WaitGroup
	results := make(chan result, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Resolve(context.Background(), "ORD-recon-3")
			results <- result{out, err}
		}()
	}
	wg.Wait()
	close(results)

	for res := range results {
		require.NoError(t, res.err)
		assert.Equal(t, ResolveSuccess, res.out.Status)
	}

	// The row lock serialized the two; all effects landed once.
	var orderCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE vendor_id = $1`, vendor.ID).Scan(&orderCount))
	assert.Equal(t, 1, orderCount)
	assert.Equal(t, 2, testutil.CountLedgerEntries(t, db, "ORD-recon-3"))
	_, due := testutil.GetVendorBalances(t, db, vendor.ID)
	assert.Equal(t, int64(300), due)
}

func TestResolve_FailureMarksIntentAndDownstream(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 0)

	qrRepo := repository.NewQRStandOrderRepository(db)
	qrOrder := &domain.QRStandOrder{
		ID:            uuid.New(),
		VendorID:      vendor.ID,
		Quantity:      2,
		Amount:        40000,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, qrRepo.Create(context.Background(), qrOrder))

	clientTxnID := "QRS-recon-1"
	now := time.Now().UTC()
	testutil.InsertPendingIntent(t, db, &domain.LedgerEntry{
		ID:             uuid.New(),
		OwnerType:      domain.OwnerTypeVendor,
		OwnerID:        vendor.ID,
		Amount:         40000,
		Direction:      domain.DirectionOut,
		Category:       domain.CategoryQRStandOrder,
		Status:         domain.EntryStatusPending,
		ClientTxnID:    &clientTxnID,
		QRStandOrderID: &qrOrder.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})

	gw := &fakeGateway{res: &gateway.StatusResult{
		Status: gateway.TxnStatusFailure,
		Remark: "Payment declined by bank",
		UDF2:   string(domain.CategoryQRStandOrder),
	}}
	r := setupReconciler(t, db, gw)

	out, err := r.Resolve(context.Background(), clientTxnID)
	require.NoError(t, err)
	assert.Equal(t, ResolveFailed, out.Status)

	got, err := qrRepo.GetByID(context.Background(), qrOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)

	// No system twin for a failed payment, and no balance movement.
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, db, clientTxnID))
	assert.Equal(t, int64(0), testutil.GetSystemBalance(t, db))
}

func TestResolve_GatewayUnresolvedKeepsIntentPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 0)
	seedOrderIntent(t, db, vendor.ID, "ORD-recon-4")

	gw := &fakeGateway{err: &gateway.GatewayError{Kind: gateway.ErrKindTimeout, Reason: "deadline exceeded"}}
	r := setupReconciler(t, db, gw)

	out, err := r.Resolve(context.Background(), "ORD-recon-4")
	require.NoError(t, err)
	assert.Equal(t, ResolveUnknown, out.Status)
	assert.Equal(t, "payment status pending, please wait", out.Message)

	repo := repository.NewLedgerRepository(db)
	entry, err := repo.GetByClientTxnID(context.Background(), "ORD-recon-4")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPending, entry.Status)
}

func TestResolve_UnknownTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := setupReconciler(t, db, &fakeGateway{})

	_, err := r.Resolve(context.Background(), "ORD-does-not-exist")
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestResolve_CompletionFailureRollsBackMaterialization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 0)
	seedOrderIntent(t, db, vendor.ID, "ORD-recon-5")

	gw := &fakeGateway{res: successStatus(15000, domain.CategoryOrder)}
	w := ledger.NewWriter(
		repository.NewLedgerRepository(db),
		ledger.NewMutator(repository.NewBalanceRepository(db)),
	)
	r := NewReconciler(
		db,
		repository.NewLedgerRepository(db),
		&faultWriter{Writer: w, failComplete: true},
		repository.NewOrderRepository(db),
		repository.NewQRStandOrderRepository(db),
		repository.NewVendorRepository(db),
		gw,
		gateway.RetryPolicy{Attempts: 1, Delay: time.Millisecond},
		testFeeBps,
	)

	_, err := r.Resolve(context.Background(), "ORD-recon-5")
	require.Error(t, err)

	// The order creation shared the failed transaction, so nothing exists.
	var orderCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders WHERE vendor_id = $1`, vendor.ID).Scan(&orderCount))
	assert.Equal(t, 0, orderCount)

	repo := repository.NewLedgerRepository(db)
	entry, err := repo.GetByClientTxnID(context.Background(), "ORD-recon-5")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusPending, entry.Status)
	assert.Nil(t, entry.OrderID)
}

func TestResolve_SubscriptionExtendsVendor(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 0)
	testutil.SetSystemBalance(t, db, 0)

	payload, err := json.Marshal(domain.DeferredSubscriptionPayload{VendorID: vendor.ID, Months: 3})
	require.NoError(t, err)

	clientTxnID := "SUB-recon-1"
	now := time.Now().UTC()
	testutil.InsertPendingIntent(t, db, &domain.LedgerEntry{
		ID:              uuid.New(),
		OwnerType:       domain.OwnerTypeVendor,
		OwnerID:         vendor.ID,
		Amount:          29900,
		Direction:       domain.DirectionOut,
		Category:        domain.CategorySubscriptionFee,
		Status:          domain.EntryStatusPending,
		ClientTxnID:     &clientTxnID,
		DeferredPayload: payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	})

	gw := &fakeGateway{res: successStatus(29900, domain.CategorySubscriptionFee)}
	r := setupReconciler(t, db, gw)

	out, err := r.Resolve(context.Background(), clientTxnID)
	require.NoError(t, err)
	assert.Equal(t, ResolveSuccess, out.Status)

	got, err := repository.NewVendorRepository(db).GetByID(context.Background(), vendor.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SubscriptionEnd)
	expectedEnd := now.AddDate(0, 3, 0)
	assert.WithinDuration(t, expectedEnd, *got.SubscriptionEnd, time.Minute)

	assert.Equal(t, int64(29900), testutil.GetSystemBalance(t, db))
	assert.Equal(t, int64(0), testutil.SumLedgerPair(t, db, clientTxnID))
}

func TestResolve_EchoedCategoryDrivesMutationAndMaterialization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	vendor := testutil.SeedVendor(t, db, "Chai Point", 0, 5000)
	testutil.SetSystemBalance(t, db, 0)

	// Stored as a QR stand purchase, but the gateway echoes due_paid. The
	// echoed category must drive the whole success: due decremented, no QR
	// order flipped, both pair rows rewritten to due_paid.
	qrRepo := repository.NewQRStandOrderRepository(db)
	qrOrder := &domain.QRStandOrder{
		ID:            uuid.New(),
		VendorID:      vendor.ID,
		Quantity:      1,
		Amount:        3000,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, qrRepo.Create(context.Background(), qrOrder))

	clientTxnID := "QRS-recon-mismatch"
	now := time.Now().UTC()
	testutil.InsertPendingIntent(t, db, &domain.LedgerEntry{
		ID:             uuid.New(),
		OwnerType:      domain.OwnerTypeVendor,
		OwnerID:        vendor.ID,
		Amount:         3000,
		Direction:      domain.DirectionOut,
		Category:       domain.CategoryQRStandOrder,
		Status:         domain.EntryStatusPending,
		ClientTxnID:    &clientTxnID,
		QRStandOrderID: &qrOrder.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})

	gw := &fakeGateway{res: successStatus(3000, domain.CategoryDuePaid)}
	r := setupReconciler(t, db, gw)

	out, err := r.Resolve(context.Background(), clientTxnID)
	require.NoError(t, err)
	assert.Equal(t, ResolveSuccess, out.Status)

	_, due := testutil.GetVendorBalances(t, db, vendor.ID)
	assert.Equal(t, int64(2000), due, "due_paid rule applied, not the stored category's")
	assert.Equal(t, int64(3000), testutil.GetSystemBalance(t, db))

	got, err := qrRepo.GetByID(context.Background(), qrOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, got.PaymentStatus,
		"due_paid has no downstream record to flip")

	var duePaid, qrCat int
	require.NoError(t, db.QueryRow(
		`SELECT
			COUNT(*) FILTER (WHERE category = 'due_paid'),
			COUNT(*) FILTER (WHERE category = 'qr_stand_order')
		FROM ledger_entries WHERE client_txn_id = $1`, clientTxnID,
	).Scan(&duePaid, &qrCat))
	assert.Equal(t, 2, duePaid, "both pair rows carry the resolved category")
	assert.Equal(t, 0, qrCat)
	assert.Equal(t, int64(0), testutil.SumLedgerPair(t, db, clientTxnID))
}

func TestResolveCategory_GatewayEchoPreferred(t *testing.T) {
	r := &Reconciler{}
	txnID := "X-1"
	intent := &domain.LedgerEntry{Category: domain.CategoryOrder, ClientTxnID: &txnID}

	// A valid echoed category wins even when it disagrees.
	st := &gateway.StatusResult{UDF2: string(domain.CategoryQRStandOrder)}
	assert.Equal(t, domain.CategoryQRStandOrder, r.resolveCategory(context.Background(), intent, st))

	// Garbage or missing echo falls back to the stored category.
	st = &gateway.StatusResult{UDF2: "banana"}
	assert.Equal(t, domain.CategoryOrder, r.resolveCategory(context.Background(), intent, st))

	st = &gateway.StatusResult{}
	assert.Equal(t, domain.CategoryOrder, r.resolveCategory(context.Background(), intent, st))
}
