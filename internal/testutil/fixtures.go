package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tablefirst/paydesk/internal/domain"
)

func SeedVendor(t *testing.T, db *sql.DB, name string, balance, dueBalance int64) *domain.Vendor {
	t.Helper()

	v := &domain.Vendor{
		ID:         uuid.New(),
		Name:       name,
		Phone:      "9800000000",
		Balance:    balance,
		DueBalance: dueBalance,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO vendors (id, name, phone, balance, due_balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.Name, v.Phone, v.Balance, v.DueBalance, v.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed vendor %s: %v", name, err)
	}
	return v
}

func SeedShareholder(t *testing.T, db *sql.DB, name string, sharePct string, balance int64) *domain.Shareholder {
	t.Helper()

	pct, err := decimal.NewFromString(sharePct)
	if err != nil {
		t.Fatalf("parse share percentage %q: %v", sharePct, err)
	}
	sh := &domain.Shareholder{
		ID:              uuid.New(),
		Name:            name,
		SharePercentage: pct,
		Balance:         balance,
		CreatedAt:       time.Now().UTC(),
	}

	_, err = db.Exec(
		`INSERT INTO shareholders (id, name, share_percentage, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sh.ID, sh.Name, sh.SharePercentage, sh.Balance, sh.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed shareholder %s: %v", name, err)
	}
	return sh
}

func SetSystemBalance(t *testing.T, db *sql.DB, balance int64) {
	t.Helper()

	if _, err := db.Exec(`UPDATE system_balance SET balance = $1 WHERE id = 1`, balance); err != nil {
		t.Fatalf("set system balance: %v", err)
	}
}

func GetSystemBalance(t *testing.T, db *sql.DB) int64 {
	t.Helper()

	var balance int64
	if err := db.QueryRow(`SELECT balance FROM system_balance WHERE id = 1`).Scan(&balance); err != nil {
		t.Fatalf("get system balance: %v", err)
	}
	return balance
}

func GetVendorBalances(t *testing.T, db *sql.DB, vendorID uuid.UUID) (balance, due int64) {
	t.Helper()

	err := db.QueryRow(`SELECT balance, due_balance FROM vendors WHERE id = $1`, vendorID).
		Scan(&balance, &due)
	if err != nil {
		t.Fatalf("get vendor balances %s: %v", vendorID, err)
	}
	return balance, due
}

func GetShareholderBalance(t *testing.T, db *sql.DB, shareholderID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT balance FROM shareholders WHERE id = $1`, shareholderID).Scan(&balance)
	if err != nil {
		t.Fatalf("get shareholder balance %s: %v", shareholderID, err)
	}
	return balance
}

func CountLedgerEntries(t *testing.T, db *sql.DB, clientTxnID string) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE client_txn_id = $1`, clientTxnID).
		Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for %s: %v", clientTxnID, err)
	}
	return count
}

// SumLedgerPair returns the signed sum of a paired write, counting inflows
// positive and outflows negative per side. A balanced pair sums to zero.
func SumLedgerPair(t *testing.T, db *sql.DB, clientTxnID string) int64 {
	t.Helper()

	var sum int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN direction = 'in' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries WHERE client_txn_id = $1 AND status = 'success'`,
		clientTxnID,
	).Scan(&sum)
	if err != nil {
		t.Fatalf("sum ledger pair for %s: %v", clientTxnID, err)
	}
	return sum
}

func InsertPendingIntent(t *testing.T, db *sql.DB, e *domain.LedgerEntry) {
	t.Helper()

	payload := []byte(nil)
	if e.DeferredPayload != nil {
		payload = e.DeferredPayload
	}
	_, err := db.Exec(
		`INSERT INTO ledger_entries (
			id, owner_type, owner_id, amount, direction, category,
			is_system, status, client_txn_id, gateway_order_id, gateway_status,
			remark, utr, payer_vpa, payer_name, payment_url, order_id,
			qr_stand_order_id, deferred_payload, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		e.ID, e.OwnerType, e.OwnerID, e.Amount, e.Direction, e.Category,
		e.IsSystem, e.Status, e.ClientTxnID, e.GatewayOrderID, e.GatewayStatus,
		e.Remark, e.UTR, e.PayerVPA, e.PayerName, e.PaymentURL, e.OrderID,
		e.QRStandOrderID, payload, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("insert pending intent %v: %v", e.ClientTxnID, err)
	}
}
