package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/logging"
)

type chargeService interface {
	RecordWhatsAppUsage(ctx context.Context, vendorID uuid.UUID, cost int64, remark string) (*domain.LedgerEntry, error)
	WithdrawShare(ctx context.Context, shareholderID uuid.UUID, amount int64) (*domain.LedgerEntry, error)
}

type distributionRunner interface {
	Run(ctx context.Context, force bool) error
}

type ledgerLister interface {
	ListByOwner(ctx context.Context, owner domain.OwnerRef, category *domain.Category, from, to *time.Time) ([]domain.LedgerEntry, error)
}

type AdminHandler struct {
	charges      chargeService
	distribution distributionRunner
	ledger       ledgerLister
}

func NewAdminHandler(charges chargeService, distribution distributionRunner, ledger ledgerLister) *AdminHandler {
	return &AdminHandler{charges: charges, distribution: distribution, ledger: ledger}
}

type usageRequest struct {
	Cost   int64  `json:"cost"`
	Remark string `json:"remark"`
}

func (h *AdminHandler) RecordWhatsAppUsage(w http.ResponseWriter, r *http.Request) {
	vendorID, err := uuid.Parse(r.PathValue("vendorID"))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	entry, err := h.charges.RecordWhatsAppUsage(r.Context(), vendorID, req.Cost, req.Remark)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, map[string]any{
		"entry_id": entry.ID,
		"amount":   entry.Amount,
	})
}

type withdrawalRequest struct {
	Amount int64 `json:"amount"`
}

func (h *AdminHandler) WithdrawShare(w http.ResponseWriter, r *http.Request) {
	shareholderID, err := uuid.Parse(r.PathValue("shareholderID"))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	entry, err := h.charges.WithdrawShare(r.Context(), shareholderID, req.Amount)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, map[string]any{
		"entry_id": entry.ID,
		"amount":   entry.Amount,
	})
}

// VendorLedger returns a vendor's entry history, optionally filtered by
// category and a created_at window (RFC 3339 `from`/`to` query params).
func (h *AdminHandler) VendorLedger(w http.ResponseWriter, r *http.Request) {
	vendorID, err := uuid.Parse(r.PathValue("vendorID"))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var category *domain.Category
	if c := r.URL.Query().Get("category"); c != "" {
		cat := domain.Category(c)
		if !cat.IsValid() {
			RespondAppError(w, ErrInvalidCategory, nil)
			return
		}
		category = &cat
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	owner := domain.OwnerRef{Type: domain.OwnerTypeVendor, ID: vendorID}
	entries, err := h.ledger.ListByOwner(r.Context(), owner, category, from, to)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for i := range entries {
		out = append(out, entrySummary(&entries[i]))
	}
	RespondSuccess(w, http.StatusOK, map[string]any{"entries": out})
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func entrySummary(e *domain.LedgerEntry) map[string]any {
	s := map[string]any{
		"id":         e.ID,
		"category":   e.Category,
		"amount":     e.Amount,
		"direction":  e.Direction,
		"status":     e.Status,
		"created_at": e.CreatedAt,
	}
	if e.ClientTxnID != nil {
		s["client_txn_id"] = *e.ClientTxnID
	}
	if e.UTR != nil {
		s["utr"] = *e.UTR
	}
	if e.OrderID != nil {
		s["order_id"] = e.OrderID.String()
	}
	return s
}

func (h *AdminHandler) RunDistribution(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if err := h.distribution.Run(r.Context(), true); err != nil {
		log.Error("forced distribution failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "completed"})
}
