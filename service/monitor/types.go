package monitor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/coinwatch/service/chain"
)

// Sentinel errors surfaced synchronously at request time.
var (
	// ErrSessionAlreadyActive is returned when a pending session already
	// exists for the same (user, currency, address) key.
	ErrSessionAlreadyActive = errors.New("session already active")

	// ErrSessionNotFound is returned for status/cancel lookups on a key the
	// registry has never seen or has already evicted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRegistryClosed is returned when starting sessions on a registry
	// that has been shut down.
	ErrRegistryClosed = errors.New("monitor registry closed")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid monitor request")
)

// Status is the lifecycle state of a monitor session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMatched   Status = "matched"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final. Terminal sessions never
// transition again and never resume polling.
func (s Status) Terminal() bool {
	return s == StatusMatched || s == StatusTimedOut || s == StatusCancelled || s == StatusFailed
}

// Target describes the payment a session is watching for.
type Target struct {
	Currency string `json:"currency"`
	Address  string `json:"address"`

	// ExpectedAmount is the minimum acceptable amount in base units.
	// nil means any amount qualifies. Overpayment is accepted.
	ExpectedAmount *int64 `json:"expected_amount,omitempty"`

	// Memo, when set, must match the transaction memo exactly
	// (case-sensitive, no normalization).
	Memo *string `json:"memo,omitempty"`

	// MinConfirmations a transaction needs before it can match. Zero means
	// unset and takes the registry default; the effective floor is 1, so
	// zero-confirmation matching is not expressible.
	MinConfirmations int64 `json:"min_confirmations"`
}

// Request is one monitoring request. Immutable once submitted.
type Request struct {
	UserID       string        `json:"user_id"`
	Target       Target        `json:"target"`
	PollInterval time.Duration `json:"poll_interval"`
	Timeout      time.Duration `json:"timeout"`
}

// Key identifies the at-most-one-active-session slot for a request.
// The triple is the uniqueness key: a second request for the same triple
// while the first is pending is rejected, not queued.
type Key struct {
	UserID   string
	Currency string
	Address  string
}

// Key returns the registry key for the request, with the currency normalized.
func (r Request) Key() Key {
	return Key{
		UserID:   r.UserID,
		Currency: strings.ToLower(r.Target.Currency),
		Address:  r.Target.Address,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.Currency, k.Address)
}

// Outcome is the terminal result of a session. Exactly one Outcome is
// produced per request.
type Outcome struct {
	Status Status `json:"status"`

	// Transaction is set only for StatusMatched.
	Transaction *chain.Transaction `json:"transaction,omitempty"`

	// FiatValue is the matched amount in USD. nil when the price source was
	// unavailable at match time; a nil FiatValue never blocks a match.
	FiatValue *float64 `json:"fiat_value,omitempty"`

	// Reason holds a human-readable failure cause for StatusFailed.
	Reason string `json:"reason,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}
