package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/gateway"
	"github.com/tablefirst/paydesk/internal/service"
)

type mockIntentManager struct {
	res     *service.InitiateResult
	err     error
	lastReq service.InitiateRequest
}

func (m *mockIntentManager) InitiatePayment(_ context.Context, req service.InitiateRequest) (*service.InitiateResult, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

type mockReconciler struct {
	out   *service.Outcome
	err   error
	calls []string
}

func (m *mockReconciler) Resolve(_ context.Context, clientTxnID string) (*service.Outcome, error) {
	m.calls = append(m.calls, clientTxnID)
	if m.err != nil {
		return nil, m.err
	}
	return m.out, nil
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func validInitiateBody(vendorID uuid.UUID) string {
	return fmt.Sprintf(`{
		"category": "order",
		"vendor_id": %q,
		"customer_name": "Asha",
		"customer_phone": "9800000001",
		"order": {
			"table_number": "4",
			"items": [
				{"menu_item_id": %q, "name": "Masala Dosa", "price": 9000, "quantity": 1}
			]
		}
	}`, vendorID, uuid.New())
}

func TestInitiatePayment_Success(t *testing.T) {
	intents := &mockIntentManager{res: &service.InitiateResult{
		ClientTxnID: "ORD-abc12345-1",
		PaymentURL:  "https://pay.example.com/xyz",
	}}
	h := NewPaymentHandler(intents, &mockReconciler{}, "http://frontend")

	vendorID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(validInitiateBody(vendorID)))
	rec := httptest.NewRecorder()
	h.InitiatePayment(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "ORD-abc12345-1", data["client_txn_id"])
	assert.Equal(t, "https://pay.example.com/xyz", data["payment_url"])

	assert.Equal(t, domain.CategoryOrder, intents.lastReq.Category)
	assert.Equal(t, vendorID, intents.lastReq.VendorID)
	require.NotNil(t, intents.lastReq.Order)
	assert.Len(t, intents.lastReq.Order.Items, 1)
}

func TestInitiatePayment_ValidationFailure(t *testing.T) {
	h := NewPaymentHandler(&mockIntentManager{}, &mockReconciler{}, "http://frontend")

	body := `{"category": "order", "customer_name": "Asha"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.InitiatePayment(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
}

func TestInitiatePayment_UnknownCategory(t *testing.T) {
	h := NewPaymentHandler(&mockIntentManager{}, &mockReconciler{}, "http://frontend")

	body := fmt.Sprintf(`{
		"category": "refund",
		"vendor_id": %q,
		"customer_name": "Asha",
		"customer_phone": "9800000001"
	}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.InitiatePayment(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
}

func TestInitiatePayment_GatewayRejectionVerbatim(t *testing.T) {
	intents := &mockIntentManager{err: fmt.Errorf("InitiatePayment: %w", gateway.Rejected("Invalid key or merchant inactive"))}
	h := NewPaymentHandler(intents, &mockReconciler{}, "http://frontend")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(validInitiateBody(uuid.New())))
	rec := httptest.NewRecorder()
	h.InitiatePayment(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "GATEWAY_REJECTED", resp.Error.Code)

	details := resp.Error.Details.(map[string]any)
	assert.Equal(t, "Invalid key or merchant inactive", details["gateway_message"])
}

func TestInitiatePayment_InsufficientDue(t *testing.T) {
	intents := &mockIntentManager{err: fmt.Errorf("InitiatePayment: %w", domain.ErrInsufficientFunds)}
	h := NewPaymentHandler(intents, &mockReconciler{}, "http://frontend")

	body := fmt.Sprintf(`{
		"category": "due_paid",
		"vendor_id": %q,
		"amount": 5000,
		"customer_name": "Asha",
		"customer_phone": "9800000001"
	}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.InitiatePayment(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "INSUFFICIENT_FUNDS", resp.Error.Code)
}

func TestPollStatus(t *testing.T) {
	utr := "UTR9981"
	rc := &mockReconciler{out: &service.Outcome{
		Status: service.ResolveSuccess,
		Entry: &domain.LedgerEntry{
			Category: domain.CategoryOrder,
			Amount:   15000,
			Status:   domain.EntryStatusSuccess,
			UTR:      &utr,
		},
	}}
	h := NewPaymentHandler(&mockIntentManager{}, rc, "http://frontend")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/ORD-abc-1/status", nil)
	req.SetPathValue("clientTxnID", "ORD-abc-1")
	rec := httptest.NewRecorder()
	h.PollStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "success", data["status"])

	summary := data["ledger_summary"].(map[string]any)
	assert.Equal(t, "UTR9981", summary["utr"])
	assert.Equal(t, float64(15000), summary["amount"])

	assert.Equal(t, []string{"ORD-abc-1"}, rc.calls)
}

func TestPollStatus_NotFound(t *testing.T) {
	rc := &mockReconciler{err: fmt.Errorf("Resolve: %w", domain.ErrTransactionNotFound)}
	h := NewPaymentHandler(&mockIntentManager{}, rc, "http://frontend")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/NOPE/status", nil)
	req.SetPathValue("clientTxnID", "NOPE")
	rec := httptest.NewRecorder()
	h.PollStatus(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "TRANSACTION_NOT_FOUND", resp.Error.Code)
}

func TestGatewayCallback_RedirectsByOutcome(t *testing.T) {
	rc := &mockReconciler{out: &service.Outcome{Status: service.ResolveSuccess}}
	h := NewPaymentHandler(&mockIntentManager{}, rc, "http://frontend")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback?client_txn_id=ORD-abc-1", nil)
	rec := httptest.NewRecorder()
	h.GatewayCallback(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "http://frontend/payment/success?client_txn_id=ORD-abc-1", rec.Header().Get("Location"))
}

func TestGatewayCallback_MissingTxnID(t *testing.T) {
	rc := &mockReconciler{}
	h := NewPaymentHandler(&mockIntentManager{}, rc, "http://frontend")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback", nil)
	rec := httptest.NewRecorder()
	h.GatewayCallback(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "http://frontend/payment/unknown", rec.Header().Get("Location"))
	assert.Empty(t, rc.calls, "no resolution attempted without an id")
}

func TestGatewayCallback_UnresolvableStaysPending(t *testing.T) {
	rc := &mockReconciler{err: fmt.Errorf("Resolve: %w", domain.ErrLedgerCorruption)}
	h := NewPaymentHandler(&mockIntentManager{}, rc, "http://frontend")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback?client_txn_id=ORD-abc-1", nil)
	rec := httptest.NewRecorder()
	h.GatewayCallback(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "http://frontend/payment/pending", rec.Header().Get("Location"))
}
