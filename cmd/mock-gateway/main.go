// Command mock-gateway is a stand-in for the external UPI payment API,
// used for local development and manual testing. Transactions start out
// pending; the simulate endpoint flips them to success or failure so the
// reconciliation paths can be exercised end to end.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tablefirst/paydesk/internal/logging"
)

type txnRecord struct {
	OrderID     int64
	ClientTxnID string
	Amount      string
	Status      string
	UDF1        string
	UDF2        string
	UDF3        string
	UTR         string
	Remark      string
}

type store struct {
	mu     sync.Mutex
	txns   map[string]*txnRecord
	nextID int64
}

func newStore() *store {
	return &store{txns: make(map[string]*txnRecord), nextID: 1000}
}

type createOrderRequest struct {
	Key         string `json:"key"`
	ClientTxnID string `json:"client_txn_id"`
	Amount      string `json:"amount"`
	UDF1        string `json:"udf1"`
	UDF2        string `json:"udf2"`
	UDF3        string `json:"udf3"`
}

type checkStatusRequest struct {
	Key         string `json:"key"`
	ClientTxnID string `json:"client_txn_id"`
	TxnDate     string `json:"txn_date"`
}

type envelope struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
	Data   any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (s *store) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, envelope{Status: false, Msg: "invalid request body"})
		return
	}
	if req.Key == "" || req.ClientTxnID == "" || req.Amount == "" {
		writeJSON(w, http.StatusOK, envelope{Status: false, Msg: "missing required fields"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txns[req.ClientTxnID]; ok {
		writeJSON(w, http.StatusOK, envelope{Status: false, Msg: "duplicate client_txn_id"})
		return
	}

	s.nextID++
	rec := &txnRecord{
		OrderID:     s.nextID,
		ClientTxnID: req.ClientTxnID,
		Amount:      req.Amount,
		Status:      "pending",
		UDF1:        req.UDF1,
		UDF2:        req.UDF2,
		UDF3:        req.UDF3,
	}
	s.txns[req.ClientTxnID] = rec

	slog.Info("order created", "client_txn_id", req.ClientTxnID, "order_id", rec.OrderID)
	writeJSON(w, http.StatusOK, envelope{
		Status: true,
		Msg:    "Order Created Successfully",
		Data: map[string]any{
			"order_id":    rec.OrderID,
			"payment_url": fmt.Sprintf("http://localhost:8081/pay/%s", req.ClientTxnID),
		},
	})
}

func (s *store) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	var req checkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, envelope{Status: false, Msg: "invalid request body"})
		return
	}

	s.mu.Lock()
	rec, ok := s.txns[req.ClientTxnID]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, envelope{Status: false, Msg: "Transaction Not Found"})
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Status: true,
		Msg:    "Transaction Found",
		Data: map[string]any{
			"status":        rec.Status,
			"upi_txn_id":    rec.UTR,
			"customer_vpa":  "payer@mockbank",
			"customer_name": "Mock Payer",
			"amount":        rec.Amount,
			"remark":        rec.Remark,
			"udf1":          rec.UDF1,
			"udf2":          rec.UDF2,
			"udf3":          rec.UDF3,
		},
	})
}

// handleSimulate flips a transaction to a terminal status. Not part of the
// real gateway surface; exists only so tests and demos can drive outcomes.
func (s *store) handleSimulate(w http.ResponseWriter, r *http.Request) {
	clientTxnID := r.PathValue("clientTxnID")
	status := r.URL.Query().Get("status")
	if status != "success" && status != "failure" {
		writeJSON(w, http.StatusBadRequest, envelope{Status: false, Msg: "status must be success or failure"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.txns[clientTxnID]
	if !ok {
		writeJSON(w, http.StatusNotFound, envelope{Status: false, Msg: "Transaction Not Found"})
		return
	}

	rec.Status = status
	if status == "success" {
		rec.UTR = fmt.Sprintf("UTR%d%d", rec.OrderID, time.Now().Unix())
		rec.Remark = "Transaction Successful"
	} else {
		rec.Remark = "Transaction Failed"
	}

	slog.Info("transaction simulated", "client_txn_id", clientTxnID, "status", status)
	writeJSON(w, http.StatusOK, envelope{Status: true, Msg: "updated"})
}

func main() {
	logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	s := newStore()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Status: true, Msg: "ok"})
	})
	mux.HandleFunc("POST /api/create_order", s.handleCreateOrder)
	mux.HandleFunc("POST /api/check_order_status", s.handleCheckStatus)
	mux.HandleFunc("POST /simulate/{clientTxnID}", s.handleSimulate)

	addr := ":8081"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}

	slog.Info("mock gateway started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
