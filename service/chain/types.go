package chain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transaction is a transfer observed on a chain, normalized across adapters.
// Amounts are in the currency's base units (satoshis, lamports, nanotons...).
// Immutable once fetched.
type Transaction struct {
	ID            string     `json:"id"`
	FromAddress   string     `json:"from_address"`
	ToAddress     string     `json:"to_address"`
	Amount        int64      `json:"amount"`
	Memo          *string    `json:"memo,omitempty"`
	Confirmations int64      `json:"confirmations"`
	BlockTime     time.Time  `json:"block_time"`
}

// Balance is a wallet balance in base units.
type Balance struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// Adapter fetches chain state for one currency. Implementations own the
// chain-specific address rules; the engine treats addresses as opaque.
//
// GetTransactions returns a finite snapshot of recent transactions, newest
// first. Both calls must respect ctx cancellation and deadlines.
type Adapter interface {
	Currency() string
	GetBalance(ctx context.Context, address string) (Balance, error)
	GetTransactions(ctx context.Context, address string) ([]Transaction, error)
}

// ErrUnsupportedCurrency is returned by the registry for currencies with no
// configured adapter.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// TransientError marks a failure that should be retried on the next poll
// (network errors, timeouts, rate limits). Sessions absorb these silently.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient chain error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that will not resolve by retrying (invalid
// address format, unsupported operation). Sessions fail immediately on these.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal chain error: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as a FatalError. Returns nil for nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError. Anything else,
// including unclassified errors, is treated as transient by callers.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
