package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablefirst/paydesk/internal/domain"
	"github.com/tablefirst/paydesk/internal/ledger"
	"github.com/tablefirst/paydesk/internal/logging"
)

type distributionLedgerRepo interface {
	HasDistributionRunOn(ctx context.Context, day time.Time) (bool, error)
	HasDistributionRunOnTx(ctx context.Context, tx *sql.Tx, day time.Time) (bool, error)
}

type distributionShareholderRepo interface {
	ListByShareDesc(ctx context.Context) ([]domain.Shareholder, error)
}

type batchWriter interface {
	WriteDual(ctx context.Context, tx *sql.Tx, p ledger.DualParams) (*domain.LedgerEntry, *domain.LedgerEntry, error)
}

type distributionBalanceRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, key domain.AccountKey) (int64, error)
}

// DistributionJob fans the system balance out to shareholders on a
// configured day of month. Each shareholder gets the floor of their
// percentage share; the rounding remainder stays in the system balance and
// carries forward to the next run.
type DistributionJob struct {
	db           *sql.DB
	ledger       distributionLedgerRepo
	shareholders distributionShareholderRepo
	writer       batchWriter
	balances     distributionBalanceRepo
	mutator      *ledger.Mutator
	dayOfMonth   int
	interval     time.Duration
}

func NewDistributionJob(
	db *sql.DB,
	ledgerRepo distributionLedgerRepo,
	shareholders distributionShareholderRepo,
	writer batchWriter,
	balances distributionBalanceRepo,
	mutator *ledger.Mutator,
	dayOfMonth int,
	interval time.Duration,
) *DistributionJob {
	return &DistributionJob{
		db:           db,
		ledger:       ledgerRepo,
		shareholders: shareholders,
		writer:       writer,
		balances:     balances,
		mutator:      mutator,
		dayOfMonth:   dayOfMonth,
		interval:     interval,
	}
}

func (j *DistributionJob) Start(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("distribution job started", "day_of_month", j.dayOfMonth, "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("distribution job stopped")
			return
		case <-ticker.C:
			if err := j.Run(ctx, false); err != nil {
				log.Error("distribution run failed", "error", err)
			}
		}
	}
}

// Run distributes the system balance. force bypasses the day-of-month
// check; the has-not-run-today guard always applies.
func (j *DistributionJob) Run(ctx context.Context, force bool) error {
	log := logging.FromContext(ctx)
	now := time.Now().UTC()

	if !force && now.Day() != j.dayOfMonth {
		return nil
	}

	ran, err := j.ledger.HasDistributionRunOn(ctx, now)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	if ran {
		log.Info("distribution already ran today, skipping")
		return nil
	}

	shareholders, err := j.shareholders.ListByShareDesc(ctx)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	if len(shareholders) == 0 {
		log.Info("no shareholders, skipping distribution")
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Run: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Lock held for the whole batch; the reconciler contends on the same
	// row when crediting the system balance.
	systemBalance, err := j.balances.GetForUpdate(ctx, tx, domain.SystemBalanceKey())
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	// Re-check under the lock. A concurrent run that committed while we
	// waited on the balance row would otherwise be double-paid.
	ran, err = j.ledger.HasDistributionRunOnTx(ctx, tx, now)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}
	if ran {
		log.Info("distribution already ran today, skipping")
		return nil
	}

	if systemBalance <= 0 {
		log.Info("system balance empty, skipping distribution", "balance", systemBalance)
		return nil
	}

	var distributed int64
	for _, sh := range shareholders {
		share := floorShare(systemBalance, sh.SharePercentage)
		if share <= 0 {
			continue
		}

		_, _, err := j.writer.WriteDual(ctx, tx, ledger.DualParams{
			Owner:           domain.OwnerRef{Type: domain.OwnerTypeShareholder, ID: sh.ID},
			Amount:          share,
			Category:        domain.CategoryShareDistribution,
			SystemDirection: domain.DirectionOut,
			ClientTxnID:     fmt.Sprintf("SHR-%s-%d", sh.ID.String()[:8], now.UnixNano()),
		})
		if err != nil {
			return fmt.Errorf("Run: shareholder %s: %w", sh.ID, err)
		}
		distributed += share
	}

	if distributed > 0 {
		// Decrement by the sum actually distributed; the floor remainder
		// stays behind.
		if _, err := j.mutator.ApplyWithFloor(ctx, tx, domain.SystemBalanceKey(), -distributed); err != nil {
			return fmt.Errorf("Run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Run: commit: %w", err)
	}

	log.Info("distribution complete",
		"pre_run_balance", systemBalance,
		"distributed", distributed,
		"remainder", systemBalance-distributed,
		"shareholders", len(shareholders),
	)
	return nil
}

func floorShare(balance int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(balance).
		Mul(pct).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}
