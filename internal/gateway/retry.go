package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tablefirst/paydesk/internal/logging"
)

// RetryPolicy bounds the status-check loop: Attempts calls at most, a fixed
// Delay apart, cancellable through the caller's context.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second}
}

// errStillPending signals the retry loop that the gateway has not produced a
// definitive answer yet.
type errStillPending struct {
	result *StatusResult
}

func (e *errStillPending) Error() string { return "gateway status not definitive" }

// CheckStatusWithRetry polls the gateway until it reports a definitive
// success or failure, or the policy is exhausted. A pending/scanning result
// after the final attempt is returned as-is with a nil error; transport
// errors after the final attempt are returned for the caller to map to an
// unknown outcome.
func (c *Client) CheckStatusWithRetry(ctx context.Context, clientTxnID string, txnDate time.Time, policy RetryPolicy) (*StatusResult, error) {
	log := logging.FromContext(ctx)

	var last *StatusResult
	attempt := 0

	operation := func() error {
		attempt++
		res, err := c.CheckStatus(ctx, clientTxnID, txnDate)
		if err != nil {
			if IsRetryable(err) {
				log.Warn("gateway status check failed, will retry",
					"client_txn_id", clientTxnID,
					"attempt", attempt,
					"error", err,
				)
				return err
			}
			return backoff.Permanent(err)
		}

		last = res
		if res.Status.IsDefinitive() {
			return nil
		}
		return &errStillPending{result: res}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Delay), uint64(policy.Attempts-1)),
		ctx,
	)

	err := backoff.Retry(operation, b)
	if err != nil {
		if sp, ok := err.(*errStillPending); ok {
			return sp.result, nil
		}
		if last != nil && !last.Status.IsDefinitive() {
			return last, nil
		}
		return nil, fmt.Errorf("CheckStatusWithRetry: %w", err)
	}

	return last, nil
}
