package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/gateway"
	"github.com/tablefirst/paydesk/internal/ledger"
	"github.com/tablefirst/paydesk/internal/logging"
)

type reconcilerLedgerRepo interface {
	GetForUpdateByClientTxnID(ctx context.Context, tx *sql.Tx, clientTxnID string) (*domain.LedgerEntry, error)
	MarkFailed(ctx context.Context, tx *sql.Tx, id uuid.UUID, gatewayStatus, remark string) error
	SetCategory(ctx context.Context, tx *sql.Tx, id uuid.UUID, category domain.Category) error
	SetOrderRef(ctx context.Context, tx *sql.Tx, id, orderID uuid.UUID) error
}

type dualWriter interface {
	CompleteDual(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry, g ledger.GatewayMeta) (*domain.LedgerEntry, error)
	WriteDual(ctx context.Context, tx *sql.Tx, p ledger.DualParams) (*domain.LedgerEntry, *domain.LedgerEntry, error)
}

type reconcilerOrderRepo interface {
	Create(ctx context.Context, tx *sql.Tx, order *domain.Order, items []domain.OrderItem) error
	UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus) error
}

type reconcilerQRStandRepo interface {
	UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus) error
}

type reconcilerVendorRepo interface {
	ExtendSubscription(ctx context.Context, tx *sql.Tx, id uuid.UUID, months int, now time.Time) error
}

type statusChecker interface {
	CheckStatusWithRetry(ctx context.Context, clientTxnID string, txnDate time.Time, policy gateway.RetryPolicy) (*gateway.StatusResult, error)
}

type ResolveStatus string

const (
	ResolveSuccess ResolveStatus = "success"
	ResolveFailed  ResolveStatus = "failed"
	ResolvePending ResolveStatus = "pending"
	ResolveUnknown ResolveStatus = "unknown"
)

type Outcome struct {
	Status  ResolveStatus
	Entry   *domain.LedgerEntry
	Message string
}

// Reconciler drives a pending payment intent to its terminal state. Both
// the gateway's browser callback and the client's poll funnel into Resolve;
// the intent row lock serializes them, and whichever arrives second observes
// the terminal state without re-running any effect.
type Reconciler struct {
	db       *sql.DB
	ledger   reconcilerLedgerRepo
	writer   dualWriter
	orders   reconcilerOrderRepo
	qrOrders reconcilerQRStandRepo
	vendors  reconcilerVendorRepo
	gateway  statusChecker
	policy   gateway.RetryPolicy
	feeBps   int64
}

func NewReconciler(
	db *sql.DB,
	ledgerRepo reconcilerLedgerRepo,
	writer dualWriter,
	orders reconcilerOrderRepo,
	qrOrders reconcilerQRStandRepo,
	vendors reconcilerVendorRepo,
	gw statusChecker,
	policy gateway.RetryPolicy,
	feeBps int64,
) *Reconciler {
	return &Reconciler{
		db:       db,
		ledger:   ledgerRepo,
		writer:   writer,
		orders:   orders,
		qrOrders: qrOrders,
		vendors:  vendors,
		gateway:  gw,
		policy:   policy,
		feeBps:   feeBps,
	}
}

// Resolve looks up the intent, consults the gateway, and applies the
// outcome exactly once. Success effects (materialization, ledger pair,
// balance mutations, status flip) share one database transaction: a failure
// anywhere leaves the intent pending for a later retry, never half-applied.
func (r *Reconciler) Resolve(ctx context.Context, clientTxnID string) (*Outcome, error) {
	log := logging.FromContext(ctx)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Resolve: begin tx: %w", err)
	}
	defer tx.Rollback()

	intent, err := r.ledger.GetForUpdateByClientTxnID(ctx, tx, clientTxnID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Resolve: %w", domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	if intent.Status.IsTerminal() {
		log.Info("intent already terminal, returning cached outcome",
			"client_txn_id", clientTxnID,
			"status", intent.Status,
		)
		return outcomeFromEntry(intent), nil
	}

	st, err := r.gateway.CheckStatusWithRetry(ctx, clientTxnID, intent.CreatedAt, r.policy)
	if err != nil {
		log.Warn("gateway unresolved after retries",
			"client_txn_id", clientTxnID,
			"error", err,
		)
		return &Outcome{
			Status:  ResolveUnknown,
			Entry:   intent,
			Message: "payment status pending, please wait",
		}, nil
	}

	category := r.resolveCategory(ctx, intent, st)

	switch st.Status {
	case gateway.TxnStatusSuccess:
		if err := r.applySuccess(ctx, tx, intent, category, st); err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("Resolve: commit: %w", err)
		}
		log.Info("payment reconciled",
			"client_txn_id", clientTxnID,
			"category", category,
			"amount", intent.Amount,
			"utr", st.UTR,
		)
		return outcomeFromEntry(intent), nil

	case gateway.TxnStatusFailure:
		if err := r.applyFailure(ctx, tx, intent, st); err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("Resolve: commit: %w", err)
		}
		log.Info("payment failed at gateway",
			"client_txn_id", clientTxnID,
			"remark", st.Remark,
		)
		return outcomeFromEntry(intent), nil

	default:
		return &Outcome{
			Status:  ResolvePending,
			Entry:   intent,
			Message: "payment status pending, please wait",
		}, nil
	}
}

// resolveCategory prefers the gateway's echoed field over the stored one:
// the gateway is the record of what was actually requested.
func (r *Reconciler) resolveCategory(ctx context.Context, intent *domain.LedgerEntry, st *gateway.StatusResult) domain.Category {
	echoed := domain.Category(st.UDF2)
	if !echoed.IsValid() {
		return intent.Category
	}
	if echoed != intent.Category {
		logging.FromContext(ctx).Warn("gateway category disagrees with stored intent",
			"client_txn_id", derefStr(intent.ClientTxnID),
			"stored", intent.Category,
			"gateway", echoed,
		)
	}
	return echoed
}

func (r *Reconciler) applySuccess(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry, category domain.Category, st *gateway.StatusResult) error {
	// The resolved category drives everything below: materialization, fee
	// booking, and the balance rule the writer applies. Rewrite the stored
	// row first so the pair never splits across two categories.
	if category != intent.Category {
		if err := r.ledger.SetCategory(ctx, tx, intent.ID, category); err != nil {
			return fmt.Errorf("applySuccess: %w", err)
		}
		intent.Category = category
	}

	if err := r.materialize(ctx, tx, intent, category); err != nil {
		return fmt.Errorf("applySuccess: %w", err)
	}

	meta := ledger.GatewayMeta{
		Status:    string(st.Status),
		UTR:       st.UTR,
		PayerVPA:  st.PayerVPA,
		PayerName: st.PayerName,
		Remark:    st.Remark,
	}
	if _, err := r.writer.CompleteDual(ctx, tx, intent, meta); err != nil {
		return fmt.Errorf("applySuccess: %w", err)
	}

	if category == domain.CategoryOrder {
		if err := r.writeOrderFee(ctx, tx, intent, meta); err != nil {
			return fmt.Errorf("applySuccess: %w", err)
		}
	}
	return nil
}

// writeOrderFee books the platform's cut of an order as a separate dual
// pair accruing to the vendor's due balance.
func (r *Reconciler) writeOrderFee(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry, meta ledger.GatewayMeta) error {
	fee := intent.Amount * r.feeBps / 10000
	if fee <= 0 {
		return nil
	}

	_, _, err := r.writer.WriteDual(ctx, tx, ledger.DualParams{
		Owner:           intent.Owner(),
		Amount:          fee,
		Category:        domain.CategoryTransactionFee,
		SystemDirection: domain.DirectionIn,
		ClientTxnID:     derefStr(intent.ClientTxnID),
		OrderID:         intent.OrderID,
		Gateway:         &meta,
	})
	if err != nil {
		return fmt.Errorf("writeOrderFee: %w", err)
	}
	return nil
}

func (r *Reconciler) materialize(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry, category domain.Category) error {
	switch category {
	case domain.CategoryOrder:
		return r.materializeOrder(ctx, tx, intent)

	case domain.CategorySubscriptionFee:
		var payload domain.DeferredSubscriptionPayload
		if err := json.Unmarshal(intent.DeferredPayload, &payload); err != nil {
			return fmt.Errorf("materialize: subscription payload: %w", err)
		}
		if err := r.vendors.ExtendSubscription(ctx, tx, payload.VendorID, payload.Months, time.Now().UTC()); err != nil {
			return fmt.Errorf("materialize: %w", err)
		}
		return nil

	case domain.CategoryQRStandOrder:
		if intent.QRStandOrderID == nil {
			return fmt.Errorf("materialize: intent has no qr stand order: %w", domain.ErrInvalidRequest)
		}
		if err := r.qrOrders.UpdatePaymentStatus(ctx, tx, *intent.QRStandOrderID, domain.PaymentStatusPaid); err != nil {
			return fmt.Errorf("materialize: %w", err)
		}
		return nil

	case domain.CategoryDuePaid:
		// Nothing downstream; the balance mutation is the whole effect.
		return nil
	}

	return fmt.Errorf("materialize: %q: %w", category, domain.ErrInvalidCategory)
}

func (r *Reconciler) materializeOrder(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry) error {
	// Legacy flow: the order predates payment and only needs flipping.
	if intent.OrderID != nil {
		if err := r.orders.UpdatePaymentStatus(ctx, tx, *intent.OrderID, domain.PaymentStatusPaid); err != nil {
			return fmt.Errorf("materializeOrder: %w", err)
		}
		return nil
	}

	if len(intent.DeferredPayload) == 0 {
		return fmt.Errorf("materializeOrder: no deferred payload: %w", domain.ErrInvalidRequest)
	}

	var payload domain.DeferredOrderPayload
	if err := json.Unmarshal(intent.DeferredPayload, &payload); err != nil {
		return fmt.Errorf("materializeOrder: payload: %w", err)
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.New(),
		VendorID:      payload.VendorID,
		CustomerName:  payload.CustomerName,
		CustomerPhone: payload.CustomerPhone,
		TableNumber:   payload.TableNumber,
		FCMToken:      payload.FCMToken,
		TotalAmount:   payload.Total(),
		PaymentStatus: domain.PaymentStatusPaid,
		CreatedAt:     now,
	}

	items := make([]domain.OrderItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		items = append(items, domain.OrderItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Price:      it.Price,
			Quantity:   it.Quantity,
		})
	}

	if err := r.orders.Create(ctx, tx, order, items); err != nil {
		return fmt.Errorf("materializeOrder: %w", err)
	}
	if err := r.ledger.SetOrderRef(ctx, tx, intent.ID, order.ID); err != nil {
		return fmt.Errorf("materializeOrder: %w", err)
	}
	intent.OrderID = &order.ID
	return nil
}

func (r *Reconciler) applyFailure(ctx context.Context, tx *sql.Tx, intent *domain.LedgerEntry, st *gateway.StatusResult) error {
	if err := r.ledger.MarkFailed(ctx, tx, intent.ID, string(st.Status), st.Remark); err != nil {
		return fmt.Errorf("applyFailure: %w", err)
	}
	intent.Status = domain.EntryStatusFailed

	if intent.OrderID != nil {
		if err := r.orders.UpdatePaymentStatus(ctx, tx, *intent.OrderID, domain.PaymentStatusFailed); err != nil {
			return fmt.Errorf("applyFailure: %w", err)
		}
	}
	if intent.QRStandOrderID != nil {
		if err := r.qrOrders.UpdatePaymentStatus(ctx, tx, *intent.QRStandOrderID, domain.PaymentStatusFailed); err != nil {
			return fmt.Errorf("applyFailure: %w", err)
		}
	}
	return nil
}

func outcomeFromEntry(e *domain.LedgerEntry) *Outcome {
	switch e.Status {
	case domain.EntryStatusSuccess:
		return &Outcome{Status: ResolveSuccess, Entry: e}
	case domain.EntryStatusFailed:
		return &Outcome{Status: ResolveFailed, Entry: e}
	default:
		return &Outcome{Status: ResolvePending, Entry: e, Message: "payment status pending, please wait"}
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
