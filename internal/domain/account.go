package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopspring/decimal"
)

// AccountKind names one of the four independently mutated balance kinds.
type AccountKind string

const (
	AccountVendorBalance AccountKind = "vendor_balance"
	AccountVendorDue     AccountKind = "vendor_due"
	AccountSystem        AccountKind = "system"
	AccountShareholder   AccountKind = "shareholder"
)

// AccountKey addresses a single balance row. OwnerID is ignored for the
// system balance singleton.
type AccountKey struct {
	Kind    AccountKind
	OwnerID uuid.UUID
}

func VendorBalanceKey(vendorID uuid.UUID) AccountKey {
	return AccountKey{Kind: AccountVendorBalance, OwnerID: vendorID}
}

func VendorDueKey(vendorID uuid.UUID) AccountKey {
	return AccountKey{Kind: AccountVendorDue, OwnerID: vendorID}
}

func SystemBalanceKey() AccountKey {
	return AccountKey{Kind: AccountSystem}
}

func ShareholderKey(shareholderID uuid.UUID) AccountKey {
	return AccountKey{Kind: AccountShareholder, OwnerID: shareholderID}
}

type Vendor struct {
	ID                uuid.UUID
	Name              string
	Phone             string
	Balance           int64
	DueBalance        int64
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	CreatedAt         time.Time
}

type Shareholder struct {
	ID              uuid.UUID
	Name            string
	SharePercentage decimal.Decimal
	Balance         int64
	CreatedAt       time.Time
}
