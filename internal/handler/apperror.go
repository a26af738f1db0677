package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrTransactionNotFound = &AppError{http.StatusNotFound, "TRANSACTION_NOT_FOUND", "No transaction exists for this id"}
	ErrInsufficientFunds   = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrInvalidAmount       = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidCategory     = &AppError{http.StatusBadRequest, "INVALID_CATEGORY", "Unknown payment category"}
	ErrVendorNotFound      = &AppError{http.StatusUnprocessableEntity, "VENDOR_NOT_FOUND", "Vendor not found"}
	ErrShareholderNotFound = &AppError{http.StatusUnprocessableEntity, "SHAREHOLDER_NOT_FOUND", "Shareholder not found"}
	ErrGatewayRejected     = &AppError{http.StatusBadGateway, "GATEWAY_REJECTED", "Payment gateway rejected the request"}
	ErrLedgerCorruption    = &AppError{http.StatusInternalServerError, "LEDGER_CORRUPTION", "Ledger invariant violation"}
)
