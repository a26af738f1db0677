package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/tablefirst/paydesk/internal/config"
	"github.com/tablefirst/paydesk/internal/gateway"
	"github.com/tablefirst/paydesk/internal/handler"
	"github.com/tablefirst/paydesk/internal/ledger"
	"github.com/tablefirst/paydesk/internal/logging"
	"github.com/tablefirst/paydesk/internal/middleware"
	"github.com/tablefirst/paydesk/internal/repository"
	"github.com/tablefirst/paydesk/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("paydesk-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ledgerRepo := repository.NewLedgerRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	vendorRepo := repository.NewVendorRepository(db)
	shareholderRepo := repository.NewShareholderRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	qrStandRepo := repository.NewQRStandOrderRepository(db)

	mutator := ledger.NewMutator(balanceRepo)
	writer := ledger.NewWriter(ledgerRepo, mutator)

	gwClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayKey, cfg.GatewayTimeout())
	retryPolicy := gateway.RetryPolicy{
		Attempts: cfg.GatewayStatusRetries,
		Delay:    cfg.GatewayRetryDelay(),
	}

	intents := service.NewIntentManager(db, ledgerRepo, vendorRepo, qrStandRepo, gwClient, cfg.CallbackBaseURL)
	reconciler := service.NewReconciler(
		db, ledgerRepo, writer, orderRepo, qrStandRepo, vendorRepo,
		gwClient, retryPolicy, int64(cfg.OrderFeeBps),
	)
	charges := service.NewChargeService(db, writer, vendorRepo, shareholderRepo)
	distribution := service.NewDistributionJob(
		db, ledgerRepo, shareholderRepo, writer, balanceRepo, mutator,
		cfg.DistributionDayOfMonth, cfg.DistributionInterval(),
	)

	jobCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	go distribution.Start(jobCtx)

	paymentHandler := handler.NewPaymentHandler(intents, reconciler, cfg.FrontendBaseURL)
	adminHandler := handler.NewAdminHandler(charges, distribution, ledgerRepo)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /api/v1/payments/initiate", paymentHandler.InitiatePayment)
	mux.HandleFunc("GET /api/v1/payments/{clientTxnID}/status", paymentHandler.PollStatus)
	mux.HandleFunc("GET /api/v1/payments/callback", paymentHandler.GatewayCallback)
	mux.HandleFunc("GET /api/v1/vendors/{vendorID}/ledger", adminHandler.VendorLedger)
	mux.HandleFunc("POST /api/v1/vendors/{vendorID}/whatsapp-usage", adminHandler.RecordWhatsAppUsage)
	mux.HandleFunc("POST /api/v1/shareholders/{shareholderID}/withdrawals", adminHandler.WithdrawShare)
	mux.HandleFunc("POST /api/v1/admin/distribution/run", adminHandler.RunDistribution)

	var root http.Handler = mux
	root = middleware.Recovery(root)
	root = middleware.Logging(root)
	root = middleware.Tracing(root)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	stopJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeS) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTimeS) * time.Second)

	for i := range 30 {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", err)
}
