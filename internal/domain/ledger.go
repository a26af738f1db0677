package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Opposite returns the complementary direction of a dual pair.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

type Category string

const (
	CategoryOrder             Category = "order"
	CategoryTransactionFee    Category = "transaction_fee"
	CategorySubscriptionFee   Category = "subscription_fee"
	CategoryQRStandOrder      Category = "qr_stand_order"
	CategoryDuePaid           Category = "due_paid"
	CategoryShareDistribution Category = "share_distribution"
	CategoryShareWithdrawal   Category = "share_withdrawal"
	CategoryWhatsAppUsage     Category = "whatsapp_usage"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryOrder, CategoryTransactionFee, CategorySubscriptionFee,
		CategoryQRStandOrder, CategoryDuePaid, CategoryShareDistribution,
		CategoryShareWithdrawal, CategoryWhatsAppUsage:
		return true
	}
	return false
}

type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusSuccess EntryStatus = "success"
	EntryStatusFailed  EntryStatus = "failed"
)

func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusSuccess || s == EntryStatusFailed
}

type OwnerType string

const (
	OwnerTypeVendor      OwnerType = "vendor"
	OwnerTypeShareholder OwnerType = "shareholder"
)

// OwnerRef identifies the non-system party of a ledger entry.
type OwnerRef struct {
	Type OwnerType
	ID   uuid.UUID
}

// LedgerEntry is immutable once its status is terminal. A pending entry
// carrying gateway correlation fields doubles as the payment intent record;
// for deferred flows DeferredPayload holds the data needed to create the
// downstream entity on success.
type LedgerEntry struct {
	ID              uuid.UUID
	OwnerType       OwnerType
	OwnerID         uuid.UUID
	Amount          int64
	Direction       Direction
	Category        Category
	IsSystem        bool
	Status          EntryStatus
	ClientTxnID     *string
	GatewayOrderID  *string
	GatewayStatus   *string
	Remark          *string
	UTR             *string
	PayerVPA        *string
	PayerName       *string
	PaymentURL      *string
	OrderID         *uuid.UUID
	QRStandOrderID  *uuid.UUID
	DeferredPayload json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e *LedgerEntry) Owner() OwnerRef {
	return OwnerRef{Type: e.OwnerType, ID: e.OwnerID}
}

// DeferredOrderPayload is serialized into a pending entry when a menu order
// is placed before payment; the order itself is only created on success.
type DeferredOrderPayload struct {
	VendorID      uuid.UUID           `json:"vendor_id"`
	CustomerName  string              `json:"customer_name"`
	CustomerPhone string              `json:"customer_phone"`
	TableNumber   string              `json:"table_number"`
	FCMToken      string              `json:"fcm_token,omitempty"`
	Items         []DeferredOrderItem `json:"items"`
}

type DeferredOrderItem struct {
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	Quantity   int       `json:"quantity"`
}

func (p DeferredOrderPayload) Total() int64 {
	var total int64
	for _, it := range p.Items {
		total += it.Price * int64(it.Quantity)
	}
	return total
}

// DeferredSubscriptionPayload extends a vendor's subscription on success.
type DeferredSubscriptionPayload struct {
	VendorID uuid.UUID `json:"vendor_id"`
	Months   int       `json:"months"`
}
