package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type Order struct {
	ID            uuid.UUID
	VendorID      uuid.UUID
	CustomerName  string
	CustomerPhone string
	TableNumber   string
	FCMToken      string
	TotalAmount   int64
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

type OrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	MenuItemID uuid.UUID
	Name       string
	Price      int64
	Quantity   int
}

// QRStandOrder exists before payment (non-deferred flow); the reconciler
// flips its payment status on resolution.
type QRStandOrder struct {
	ID            uuid.UUID
	VendorID      uuid.UUID
	Quantity      int
	Amount        int64
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}
