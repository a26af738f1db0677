package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablefirst/paydesk/internal/ledger"
	"github.com/tablefirst/paydesk/internal/repository"
	"github.com/tablefirst/paydesk/internal/testutil"
)

func setupDistribution(t *testing.T, db *sql.DB, dayOfMonth int) *DistributionJob {
	t.Helper()
	balances := repository.NewBalanceRepository(db)
	mutator := ledger.NewMutator(balances)
	return NewDistributionJob(
		db,
		repository.NewLedgerRepository(db),
		repository.NewShareholderRepository(db),
		ledger.NewWriter(repository.NewLedgerRepository(db), mutator),
		balances,
		mutator,
		dayOfMonth,
		time.Hour,
	)
}

func TestDistribution_FloorSharesRemainderRetained(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	a := testutil.SeedShareholder(t, db, "Priya", "50.00", 0)
	b := testutil.SeedShareholder(t, db, "Dev", "30.00", 0)
	c := testutil.SeedShareholder(t, db, "Meera", "20.00", 0)
	testutil.SetSystemBalance(t, db, 999)

	j := setupDistribution(t, db, 1)
	require.NoError(t, j.Run(ctx, true))

	// 999 * 50% = 499.5 -> 499, 30% -> 299.7 -> 299, 20% -> 199.8 -> 199.
	assert.Equal(t, int64(499), testutil.GetShareholderBalance(t, db, a.ID))
	assert.Equal(t, int64(299), testutil.GetShareholderBalance(t, db, b.ID))
	assert.Equal(t, int64(199), testutil.GetShareholderBalance(t, db, c.ID))

	// 999 - 997 distributed; 2 stays for the next run.
	assert.Equal(t, int64(2), testutil.GetSystemBalance(t, db))

	var pairCount int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE category = 'share_distribution'`,
	).Scan(&pairCount))
	assert.Equal(t, 6, pairCount, "one balanced pair per shareholder")
}

func TestDistribution_RunsAtMostOncePerDay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	sh := testutil.SeedShareholder(t, db, "Priya", "100.00", 0)
	testutil.SetSystemBalance(t, db, 5000)

	j := setupDistribution(t, db, 1)
	require.NoError(t, j.Run(ctx, true))
	assert.Equal(t, int64(5000), testutil.GetShareholderBalance(t, db, sh.ID))

	// A second forced run the same day is a no-op even with fresh funds.
	testutil.SetSystemBalance(t, db, 7777)
	require.NoError(t, j.Run(ctx, true))
	assert.Equal(t, int64(5000), testutil.GetShareholderBalance(t, db, sh.ID))
	assert.Equal(t, int64(7777), testutil.GetSystemBalance(t, db))
}

func TestDistribution_ConcurrentRunsPayOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	sh := testutil.SeedShareholder(t, db, "Priya", "100.00", 0)
	testutil.SetSystemBalance(t, db, 5000)

	// Two forced runs racing: the ticker colliding with the admin endpoint,
	// or two instances firing together. The loser of the balance-row lock
	// must see the winner's entries and skip.
	j := setupDistribution(t, db, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- j.Run(ctx, true)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(5000), testutil.GetShareholderBalance(t, db, sh.ID))
	assert.Equal(t, int64(0), testutil.GetSystemBalance(t, db))

	var pairCount int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE category = 'share_distribution'`,
	).Scan(&pairCount))
	assert.Equal(t, 2, pairCount, "exactly one pair despite two racing runs")
}

func TestDistribution_SkipsOffSchedule(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	sh := testutil.SeedShareholder(t, db, "Priya", "100.00", 0)
	testutil.SetSystemBalance(t, db, 5000)

	notToday := time.Now().UTC().Day()%28 + 1
	j := setupDistribution(t, db, notToday)

	require.NoError(t, j.Run(ctx, false))
	assert.Equal(t, int64(0), testutil.GetShareholderBalance(t, db, sh.ID))
	assert.Equal(t, int64(5000), testutil.GetSystemBalance(t, db))
}

func TestDistribution_EmptyBalanceSkips(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	testutil.SeedShareholder(t, db, "Priya", "100.00", 0)
	testutil.SetSystemBalance(t, db, 0)

	j := setupDistribution(t, db, 1)
	require.NoError(t, j.Run(ctx, true))

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM ledger_entries WHERE category = 'share_distribution'`,
	).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestDistribution_NoShareholdersSkips(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.SetSystemBalance(t, db, 5000)

	j := setupDistribution(t, db, 1)
	require.NoError(t, j.Run(context.Background(), true))
	assert.Equal(t, int64(5000), testutil.GetSystemBalance(t, db))
}
