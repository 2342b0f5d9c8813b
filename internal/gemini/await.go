package gemini

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/fsmirror/internal/common"
)

// Await polls op until the remote store reports it done, checking every
// interval up to maxAttempts times in total. The returned operation has Done
// set; callers inspect its Error field for remote failure. When the attempt
// budget runs out first, Await returns common.ErrOperationTimedOut alongside
// the last handle seen.
func Await(ctx context.Context, c Client, op *Operation, interval time.Duration, maxAttempts int) (*Operation, error) {
	if op.Done {
		return op, nil
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	current := op
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewConstant(interval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		refreshed, err := c.GetOperation(ctx, current.Name)
		if err != nil {
			return err
		}
		current = refreshed
		if !current.Done {
			return retry.RetryableError(common.ErrOperationPending)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrOperationPending) {
			return current, common.ErrOperationTimedOut
		}
		return current, err
	}
	return current, nil
}
