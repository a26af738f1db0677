package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/gateway"
	"github.com/tablefirst/paydesk/internal/logging"
)

type intentLedgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error
	SetGatewayOrder(ctx context.Context, id uuid.UUID, gatewayOrderID, paymentURL string) error
	DeletePending(ctx context.Context, id uuid.UUID) error
}

type intentVendorRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Vendor, error)
}

type intentQRStandRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.QRStandOrder, error)
}

type gatewayCreator interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error)
}

// IntentManager creates exactly one pending ledger entry per payment before
// handing the payer to the gateway. For menu orders the order itself does
// not exist yet; its creation payload rides on the entry instead.
type IntentManager struct {
	db          *sql.DB
	ledger      intentLedgerRepo
	vendors     intentVendorRepo
	qrOrders    intentQRStandRepo
	gateway     gatewayCreator
	callbackURL string
}

func NewIntentManager(
	db *sql.DB,
	ledger intentLedgerRepo,
	vendors intentVendorRepo,
	qrOrders intentQRStandRepo,
	gw gatewayCreator,
	callbackURL string,
) *IntentManager {
	return &IntentManager{
		db:          db,
		ledger:      ledger,
		vendors:     vendors,
		qrOrders:    qrOrders,
		gateway:     gw,
		callbackURL: callbackURL,
	}
}

type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

type InitiateRequest struct {
	Category       domain.Category
	VendorID       uuid.UUID
	Amount         int64
	Customer       CustomerInfo
	Order          *domain.DeferredOrderPayload
	QRStandOrderID *uuid.UUID
	Months         int
	ProductInfo    string
}

type InitiateResult struct {
	ClientTxnID string
	PaymentURL  string
	EntryID     uuid.UUID
}

var txnPrefixes = map[domain.Category]string{
	domain.CategoryOrder:           "ORD",
	domain.CategoryDuePaid:         "DUE",
	domain.CategorySubscriptionFee: "SUB",
	domain.CategoryQRStandOrder:    "QRS",
}

// newClientTxnID builds a namespaced, time-unique correlation token.
func newClientTxnID(category domain.Category, ref uuid.UUID) string {
	prefix := txnPrefixes[category]
	return fmt.Sprintf("%s-%s-%d", prefix, ref.String()[:8], time.Now().UnixNano())
}

func ownerDirectionFor(category domain.Category) domain.Direction {
	// The vendor receives order revenue; every other initiable category is
	// the vendor paying the platform.
	if category == domain.CategoryOrder {
		return domain.DirectionIn
	}
	return domain.DirectionOut
}

func (m *IntentManager) InitiatePayment(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	log := logging.FromContext(ctx)

	entry, err := m.buildPendingEntry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("InitiatePayment: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("InitiatePayment: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := m.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("InitiatePayment: create intent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("InitiatePayment: commit: %w", err)
	}

	clientTxnID := *entry.ClientTxnID
	created, err := m.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		ClientTxnID:   clientTxnID,
		Amount:        entry.Amount,
		ProductInfo:   req.ProductInfo,
		CustomerName:  req.Customer.Name,
		CustomerEmail: req.Customer.Email,
		CustomerPhone: req.Customer.Phone,
		RedirectURL:   m.redirectURL(clientTxnID),
		UDF1:          req.VendorID.String(),
		UDF2:          string(req.Category),
		UDF3:          refForUDF3(entry),
	})
	if err != nil {
		// The gateway never saw a usable order; the pending entry is noise
		// and must not linger as an unresolvable intent.
		if delErr := m.ledger.DeletePending(ctx, entry.ID); delErr != nil {
			log.Error("failed to compensate rejected intent",
				"client_txn_id", clientTxnID,
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("InitiatePayment: %w", err)
	}

	if err := m.ledger.SetGatewayOrder(ctx, entry.ID, created.OrderID, created.PaymentURL); err != nil {
		return nil, fmt.Errorf("InitiatePayment: %w", err)
	}

	log.Info("payment intent created",
		"client_txn_id", clientTxnID,
		"category", req.Category,
		"vendor_id", req.VendorID,
		"amount", entry.Amount,
	)

	return &InitiateResult{
		ClientTxnID: clientTxnID,
		PaymentURL:  created.PaymentURL,
		EntryID:     entry.ID,
	}, nil
}

func (m *IntentManager) buildPendingEntry(ctx context.Context, req InitiateRequest) (*domain.LedgerEntry, error) {
	if _, ok := txnPrefixes[req.Category]; !ok {
		return nil, fmt.Errorf("buildPendingEntry: %q: %w", req.Category, domain.ErrInvalidCategory)
	}

	vendor, err := m.vendors.GetByID(ctx, req.VendorID)
	if err != nil {
		return nil, fmt.Errorf("buildPendingEntry: %w", err)
	}

	now := time.Now().UTC()
	clientTxnID := newClientTxnID(req.Category, req.VendorID)
	entry := &domain.LedgerEntry{
		ID:          uuid.New(),
		OwnerType:   domain.OwnerTypeVendor,
		OwnerID:     req.VendorID,
		Direction:   ownerDirectionFor(req.Category),
		Category:    req.Category,
		Status:      domain.EntryStatusPending,
		ClientTxnID: &clientTxnID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch req.Category {
	case domain.CategoryOrder:
		if req.Order == nil || len(req.Order.Items) == 0 {
			return nil, fmt.Errorf("buildPendingEntry: order payload required: %w", domain.ErrInvalidRequest)
		}
		req.Order.VendorID = req.VendorID
		total := req.Order.Total()
		if total <= 0 {
			return nil, fmt.Errorf("buildPendingEntry: %w", domain.ErrInvalidAmount)
		}
		payload, err := json.Marshal(req.Order)
		if err != nil {
			return nil, fmt.Errorf("buildPendingEntry: marshal payload: %w", err)
		}
		entry.Amount = total
		entry.DeferredPayload = payload

	case domain.CategoryDuePaid:
		if req.Amount <= 0 {
			return nil, fmt.Errorf("buildPendingEntry: %w", domain.ErrInvalidAmount)
		}
		// Pre-check the floor here so the payer is rejected before the
		// gateway redirect; the locked check at apply time still governs.
		if req.Amount > vendor.DueBalance {
			return nil, fmt.Errorf("buildPendingEntry: due balance %d: %w", vendor.DueBalance, domain.ErrInsufficientFunds)
		}
		entry.Amount = req.Amount

	case domain.CategorySubscriptionFee:
		if req.Amount <= 0 {
			return nil, fmt.Errorf("buildPendingEntry: %w", domain.ErrInvalidAmount)
		}
		if req.Months <= 0 {
			return nil, fmt.Errorf("buildPendingEntry: months required: %w", domain.ErrInvalidRequest)
		}
		payload, err := json.Marshal(domain.DeferredSubscriptionPayload{
			VendorID: req.VendorID,
			Months:   req.Months,
		})
		if err != nil {
			return nil, fmt.Errorf("buildPendingEntry: marshal payload: %w", err)
		}
		entry.Amount = req.Amount
		entry.DeferredPayload = payload

	case domain.CategoryQRStandOrder:
		if req.QRStandOrderID == nil {
			return nil, fmt.Errorf("buildPendingEntry: qr stand order required: %w", domain.ErrInvalidRequest)
		}
		qrOrder, err := m.qrOrders.GetByID(ctx, *req.QRStandOrderID)
		if err != nil {
			return nil, fmt.Errorf("buildPendingEntry: %w", err)
		}
		entry.Amount = qrOrder.Amount
		entry.QRStandOrderID = &qrOrder.ID
	}

	return entry, nil
}

func (m *IntentManager) redirectURL(clientTxnID string) string {
	return m.callbackURL + "?client_txn_id=" + url.QueryEscape(clientTxnID)
}

func refForUDF3(e *domain.LedgerEntry) string {
	if e.QRStandOrderID != nil {
		return e.QRStandOrderID.String()
	}
	return ""
}

// GatewayMessage extracts the gateway's verbatim rejection text from an
// initiation failure so callers can show it unchanged.
func GatewayMessage(err error) (string, bool) {
	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Reason, true
	}
	return "", false
}
