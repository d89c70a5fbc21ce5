package nats

import (
	"time"

	"github.com/brojonat/coinwatch/service/monitor"
)

// OutcomeEvent represents a terminal monitor outcome published to NATS.
// This is published to the subject "monitors.{user_id}" in JetStream.
type OutcomeEvent struct {
	// Monitor identity
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Address  string `json:"address"`

	// Outcome
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`

	// Matched transaction details, present only for matched outcomes.
	TxID            string     `json:"tx_id,omitempty"`
	TxFromAddress   string     `json:"tx_from_address,omitempty"`
	TxAmount        *int64     `json:"tx_amount,omitempty"`
	TxMemo          *string    `json:"tx_memo,omitempty"`
	TxConfirmations *int64     `json:"tx_confirmations,omitempty"`
	TxBlockTime     *time.Time `json:"tx_block_time,omitempty"`
	FiatValue       *float64   `json:"fiat_value,omitempty"`

	// Metadata
	CompletedAt time.Time `json:"completed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromOutcome converts a terminal monitor outcome to an OutcomeEvent for
// publishing.
func FromOutcome(req monitor.Request, outcome *monitor.Outcome) *OutcomeEvent {
	event := &OutcomeEvent{
		UserID:      req.UserID,
		Currency:    req.Target.Currency,
		Address:     req.Target.Address,
		Status:      string(outcome.Status),
		Reason:      outcome.Reason,
		FiatValue:   outcome.FiatValue,
		CompletedAt: outcome.CompletedAt,
		PublishedAt: time.Now().UTC(),
	}

	if txn := outcome.Transaction; txn != nil {
		event.TxID = txn.ID
		event.TxFromAddress = txn.FromAddress
		amount := txn.Amount
		event.TxAmount = &amount
		event.TxMemo = txn.Memo
		confirmations := txn.Confirmations
		event.TxConfirmations = &confirmations
		blockTime := txn.BlockTime
		event.TxBlockTime = &blockTime
	}

	return event
}
