package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// ErrConfirmationTimeout is returned by AwaitConfirmation when the budget
// runs out while the transaction is still pending. The transaction may still
// land later; callers must re-check balances before treating funds as absent.
var ErrConfirmationTimeout = errors.New("ledger: confirmation timed out")

// ErrTransactionFailed is returned when the ledger committed the transaction
// but its execution failed. No value moved.
var ErrTransactionFailed = errors.New("ledger: transaction failed on chain")

const (
	pollInitial = 500 * time.Millisecond
	pollMax     = 4 * time.Second
	// pollMaxReadErrors bounds consecutive transient status-read failures
	// before the poll gives up.
	pollMaxReadErrors = 5
)

// AwaitConfirmation polls the ledger until sig confirms, fails, or budget
// elapses, backing off between polls. The poll interval starts at 500ms and
// grows by half up to 4s. Transient status-read errors are tolerated up to a
// small consecutive bound.
func AwaitConfirmation(ctx context.Context, c Client, sig solana.Signature, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	interval := pollInitial
	readErrors := 0

	for {
		status, err := c.Confirmation(ctx, sig)
		if err != nil {
			readErrors++
			if readErrors >= pollMaxReadErrors {
				return err
			}
			zap.L().Debug("confirmation read failed, retrying",
				zap.String("signature", sig.String()),
				zap.Int("attempt", readErrors),
				zap.Error(err))
		} else {
			readErrors = 0
			switch status {
			case StatusConfirmed:
				return nil
			case StatusFailed:
				return ErrTransactionFailed
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrConfirmationTimeout
			}
			return ctx.Err()
		case <-time.After(interval):
		}

		interval += interval / 2
		if interval > pollMax {
			interval = pollMax
		}
	}
}
