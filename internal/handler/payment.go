package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/logging"
	"github.com/tablefirst/paydesk/internal/service"
)

type intentManager interface {
	InitiatePayment(ctx context.Context, req service.InitiateRequest) (*service.InitiateResult, error)
}

type reconciler interface {
	Resolve(ctx context.Context, clientTxnID string) (*service.Outcome, error)
}

type PaymentHandler struct {
	intents         intentManager
	reconciler      reconciler
	validate        *validator.Validate
	frontendBaseURL string
}

func NewPaymentHandler(intents intentManager, rec reconciler, frontendBaseURL string) *PaymentHandler {
	return &PaymentHandler{
		intents:         intents,
		reconciler:      rec,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		frontendBaseURL: frontendBaseURL,
	}
}

type initiatePaymentRequest struct {
	Category       string            `json:"category" validate:"required"`
	VendorID       string            `json:"vendor_id" validate:"required,uuid4"`
	Amount         int64             `json:"amount" validate:"gte=0"`
	CustomerName   string            `json:"customer_name" validate:"required"`
	CustomerEmail  string            `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone  string            `json:"customer_phone" validate:"required"`
	Months         int               `json:"months" validate:"gte=0"`
	QRStandOrderID string            `json:"qr_stand_order_id" validate:"omitempty,uuid4"`
	ProductInfo    string            `json:"product_info"`
	Order          *orderPayloadBody `json:"order"`
}

type orderPayloadBody struct {
	TableNumber string          `json:"table_number"`
	FCMToken    string          `json:"fcm_token"`
	Items       []orderItemBody `json:"items" validate:"omitempty,min=1,dive"`
}

type orderItemBody struct {
	MenuItemID string `json:"menu_item_id" validate:"required,uuid4"`
	Name       string `json:"name" validate:"required"`
	Price      int64  `json:"price" validate:"gt=0"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
}

func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := h.validateRequest(req); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	svcReq, err := toServiceRequest(req)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	result, err := h.intents.InitiatePayment(r.Context(), *svcReq)
	if err != nil {
		// The gateway's own rejection text is shown verbatim.
		if msg, ok := service.GatewayMessage(err); ok {
			log.Warn("gateway rejected initiation", "message", msg)
			RespondAppError(w, ErrGatewayRejected, map[string]string{"gateway_message": msg})
			return
		}
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, map[string]string{
		"client_txn_id": result.ClientTxnID,
		"payment_url":   result.PaymentURL,
	})
}

// PollStatus is the client-initiated trigger of the reconciliation state
// machine; it shares the exactly-once transition with the callback.
func (h *PaymentHandler) PollStatus(w http.ResponseWriter, r *http.Request) {
	clientTxnID := r.PathValue("clientTxnID")
	if clientTxnID == "" {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	outcome, err := h.reconciler.Resolve(r.Context(), clientTxnID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, outcomeBody(outcome))
}

// GatewayCallback handles the unauthenticated, at-least-once browser
// redirect from the gateway and forwards the payer to the storefront.
func (h *PaymentHandler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	clientTxnID := r.URL.Query().Get("client_txn_id")
	if clientTxnID == "" {
		http.Redirect(w, r, h.frontendBaseURL+"/payment/unknown", http.StatusSeeOther)
		return
	}

	outcome, err := h.reconciler.Resolve(r.Context(), clientTxnID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			http.Redirect(w, r, h.frontendBaseURL+"/payment/unknown", http.StatusSeeOther)
			return
		}
		log.Error("callback resolution failed", "client_txn_id", clientTxnID, "error", err)
		http.Redirect(w, r, h.frontendBaseURL+"/payment/pending", http.StatusSeeOther)
		return
	}

	target := fmt.Sprintf("%s/payment/%s?client_txn_id=%s", h.frontendBaseURL, outcome.Status, clientTxnID)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *PaymentHandler) validateRequest(req initiatePaymentRequest) []FieldError {
	var fields []FieldError

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, ve := range verrs {
				fields = append(fields, FieldError{Field: ve.Field(), Message: ve.Tag()})
			}
		} else {
			fields = append(fields, FieldError{Field: "body", Message: "invalid"})
		}
	}

	if !domain.Category(req.Category).IsValid() {
		fields = append(fields, FieldError{Field: "category", Message: "unknown category"})
	}
	return fields
}

func toServiceRequest(req initiatePaymentRequest) (*service.InitiateRequest, error) {
	vendorID, err := uuid.Parse(req.VendorID)
	if err != nil {
		return nil, fmt.Errorf("toServiceRequest: %w", domain.ErrInvalidRequest)
	}

	out := &service.InitiateRequest{
		Category: domain.Category(req.Category),
		VendorID: vendorID,
		Amount:   req.Amount,
		Customer: service.CustomerInfo{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		Months:      req.Months,
		ProductInfo: req.ProductInfo,
	}

	if req.QRStandOrderID != "" {
		id, err := uuid.Parse(req.QRStandOrderID)
		if err != nil {
			return nil, fmt.Errorf("toServiceRequest: %w", domain.ErrInvalidRequest)
		}
		out.QRStandOrderID = &id
	}

	if req.Order != nil {
		payload := &domain.DeferredOrderPayload{
			VendorID:      vendorID,
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			TableNumber:   req.Order.TableNumber,
			FCMToken:      req.Order.FCMToken,
		}
		for _, it := range req.Order.Items {
			menuItemID, err := uuid.Parse(it.MenuItemID)
			if err != nil {
				return nil, fmt.Errorf("toServiceRequest: %w", domain.ErrInvalidRequest)
			}
			payload.Items = append(payload.Items, domain.DeferredOrderItem{
				MenuItemID: menuItemID,
				Name:       it.Name,
				Price:      it.Price,
				Quantity:   it.Quantity,
			})
		}
		out.Order = payload
	}

	return out, nil
}

func outcomeBody(o *service.Outcome) map[string]any {
	body := map[string]any{
		"status": string(o.Status),
	}
	if o.Message != "" {
		body["message"] = o.Message
	}
	if o.Entry != nil {
		summary := map[string]any{
			"category": o.Entry.Category,
			"amount":   o.Entry.Amount,
			"status":   o.Entry.Status,
		}
		if o.Entry.UTR != nil {
			summary["utr"] = *o.Entry.UTR
		}
		if o.Entry.OrderID != nil {
			summary["order_id"] = o.Entry.OrderID.String()
		}
		body["ledger_summary"] = summary
	}
	return body
}
