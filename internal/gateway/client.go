package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablefirst/paydesk/internal/logging"
)

// TxnStatus is the gateway's own view of a transaction.
type TxnStatus string

const (
	TxnStatusSuccess  TxnStatus = "success"
	TxnStatusFailure  TxnStatus = "failure"
	TxnStatusPending  TxnStatus = "pending"
	TxnStatusScanning TxnStatus = "scanning"
)

// IsDefinitive reports whether the status ends the retry loop early.
func (s TxnStatus) IsDefinitive() bool {
	return s == TxnStatusSuccess || s == TxnStatusFailure
}

// Client is a stateless adapter to the external payment API. Every call is
// side-effect-free on the caller's own state; callers persist results.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

func NewClient(baseURL, key string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		key:     key,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type CreateOrderRequest struct {
	ClientTxnID   string
	Amount        int64
	ProductInfo   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	RedirectURL   string
	UDF1          string
	UDF2          string
	UDF3          string
}

type CreateOrderResult struct {
	OrderID    string
	PaymentURL string
}

type StatusResult struct {
	Status    TxnStatus
	UTR       string
	PayerVPA  string
	PayerName string
	Amount    int64
	Remark    string
	UDF1      string
	UDF2      string
	UDF3      string
}

type createOrderPayload struct {
	Key            string `json:"key"`
	ClientTxnID    string `json:"client_txn_id"`
	Amount         string `json:"amount"`
	PInfo          string `json:"p_info"`
	CustomerName   string `json:"customer_name"`
	CustomerEmail  string `json:"customer_email"`
	CustomerMobile string `json:"customer_mobile"`
	RedirectURL    string `json:"redirect_url"`
	UDF1           string `json:"udf1,omitempty"`
	UDF2           string `json:"udf2,omitempty"`
	UDF3           string `json:"udf3,omitempty"`
}

type createOrderResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		OrderID    json.Number `json:"order_id"`
		PaymentURL string      `json:"payment_url"`
	} `json:"data"`
}

type checkStatusPayload struct {
	Key         string `json:"key"`
	ClientTxnID string `json:"client_txn_id"`
	TxnDate     string `json:"txn_date"`
}

type checkStatusResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		Status       string `json:"status"`
		UPITxnID     string `json:"upi_txn_id"`
		CustomerVPA  string `json:"customer_vpa"`
		CustomerName string `json:"customer_name"`
		Amount       string `json:"amount"`
		Remark       string `json:"remark"`
		UDF1         string `json:"udf1"`
		UDF2         string `json:"udf2"`
		UDF3         string `json:"udf3"`
	} `json:"data"`
}

// rupees renders minor units as a plain decimal amount for the wire.
func rupees(minor int64) string {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func minorUnits(rupeeStr string) int64 {
	d, err := decimal.NewFromString(rupeeStr)
	if err != nil {
		return 0
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	log := logging.FromContext(ctx)

	payload := createOrderPayload{
		Key:            c.key,
		ClientTxnID:    req.ClientTxnID,
		Amount:         rupees(req.Amount),
		PInfo:          req.ProductInfo,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerMobile: req.CustomerPhone,
		RedirectURL:    req.RedirectURL,
		UDF1:           req.UDF1,
		UDF2:           req.UDF2,
		UDF3:           req.UDF3,
	}

	var resp createOrderResponse
	if err := c.post(ctx, "/api/create_order", payload, &resp); err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}

	if !resp.Status {
		log.Warn("gateway rejected create_order", "client_txn_id", req.ClientTxnID, "msg", resp.Msg)
		return nil, fmt.Errorf("CreateOrder: %w", Rejected(resp.Msg))
	}

	return &CreateOrderResult{
		OrderID:    resp.Data.OrderID.String(),
		PaymentURL: resp.Data.PaymentURL,
	}, nil
}

func (c *Client) CheckStatus(ctx context.Context, clientTxnID string, txnDate time.Time) (*StatusResult, error) {
	payload := checkStatusPayload{
		Key:         c.key,
		ClientTxnID: clientTxnID,
		TxnDate:     txnDate.Format("02-01-2006"),
	}

	var resp checkStatusResponse
	if err := c.post(ctx, "/api/check_order_status", payload, &resp); err != nil {
		return nil, fmt.Errorf("CheckStatus: %w", err)
	}

	if !resp.Status {
		return nil, fmt.Errorf("CheckStatus: %w", Rejected(resp.Msg))
	}

	return &StatusResult{
		Status:    TxnStatus(resp.Data.Status),
		UTR:       resp.Data.UPITxnID,
		PayerVPA:  resp.Data.CustomerVPA,
		PayerName: resp.Data.CustomerName,
		Amount:    minorUnits(resp.Data.Amount),
		Remark:    resp.Data.Remark,
		UDF1:      resp.Data.UDF1,
		UDF2:      resp.Data.UDF2,
		UDF3:      resp.Data.UDF3,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	logging.FromContext(ctx).Debug("gateway response received",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Rejected(fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Rejected(fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GatewayError{Kind: ErrKindTimeout, Reason: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: ErrKindTimeout, Reason: err.Error()}
	}
	return &GatewayError{Kind: ErrKindUnreachable, Reason: err.Error()}
}
