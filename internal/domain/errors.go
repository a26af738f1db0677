package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidCategory     = errors.New("invalid category")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrIntentTerminal      = errors.New("payment intent already in terminal state")
	ErrDuplicateEntry      = errors.New("duplicate ledger entry")
	ErrVendorNotFound      = errors.New("vendor not found")
	ErrShareholderNotFound = errors.New("shareholder not found")

	// ErrLedgerCorruption marks an invariant violation: a balance would go
	// negative outside a declared floor check, or a dual pair would be left
	// half written. Never repaired silently.
	ErrLedgerCorruption = errors.New("ledger corruption detected")
)
