package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() monitor.Request {
	return monitor.Request{
		UserID: "user-1",
		Target: monitor.Target{
			Currency: "sol",
			Address:  "wallet-addr",
		},
	}
}

func TestFromOutcome_Matched(t *testing.T) {
	memo := "invoice-42"
	fiat := 12.34
	blockTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	outcome := &monitor.Outcome{
		Status: monitor.StatusMatched,
		Transaction: &chain.Transaction{
			ID:            "sig123",
			FromAddress:   "sender-addr",
			ToAddress:     "wallet-addr",
			Amount:        1000000,
			Memo:          &memo,
			Confirmations: 2,
			BlockTime:     blockTime,
		},
		FiatValue:   &fiat,
		CompletedAt: time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
	}

	event := FromOutcome(testRequest(), outcome)

	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, "sol", event.Currency)
	assert.Equal(t, "wallet-addr", event.Address)
	assert.Equal(t, "matched", event.Status)
	assert.Equal(t, "sig123", event.TxID)
	assert.Equal(t, "sender-addr", event.TxFromAddress)
	require.NotNil(t, event.TxAmount)
	assert.Equal(t, int64(1000000), *event.TxAmount)
	require.NotNil(t, event.TxMemo)
	assert.Equal(t, "invoice-42", *event.TxMemo)
	require.NotNil(t, event.TxConfirmations)
	assert.Equal(t, int64(2), *event.TxConfirmations)
	require.NotNil(t, event.TxBlockTime)
	assert.Equal(t, blockTime, *event.TxBlockTime)
	require.NotNil(t, event.FiatValue)
	assert.Equal(t, 12.34, *event.FiatValue)
	assert.Equal(t, outcome.CompletedAt, event.CompletedAt)
	assert.False(t, event.PublishedAt.IsZero())
}

func TestFromOutcome_TimedOutHasNoTransactionFields(t *testing.T) {
	outcome := &monitor.Outcome{
		Status:      monitor.StatusTimedOut,
		CompletedAt: time.Now().UTC(),
	}

	event := FromOutcome(testRequest(), outcome)

	assert.Equal(t, "timed_out", event.Status)
	assert.Empty(t, event.TxID)
	assert.Nil(t, event.TxAmount)
	assert.Nil(t, event.TxMemo)
	assert.Nil(t, event.TxConfirmations)
	assert.Nil(t, event.TxBlockTime)
	assert.Nil(t, event.FiatValue)
}

func TestFromOutcome_FailedCarriesReason(t *testing.T) {
	outcome := &monitor.Outcome{
		Status:      monitor.StatusFailed,
		Reason:      "invalid address",
		CompletedAt: time.Now().UTC(),
	}

	event := FromOutcome(testRequest(), outcome)

	assert.Equal(t, "failed", event.Status)
	assert.Equal(t, "invalid address", event.Reason)
}

func TestMockPublisher_RecordsEvents(t *testing.T) {
	pub := NewMockPublisher()

	err := pub.PublishOutcome(context.Background(), &OutcomeEvent{UserID: "user-1", Status: "matched"})
	require.NoError(t, err)
	err = pub.PublishOutcome(context.Background(), &OutcomeEvent{UserID: "user-2", Status: "timed_out"})
	require.NoError(t, err)

	assert.Len(t, pub.GetPublishedEvents(), 2)
	assert.Len(t, pub.GetPublishedEventsForUser("user-1"), 1)
	assert.Empty(t, pub.GetPublishedEventsForUser("user-3"))
}

func TestMockPublisher_PublishError(t *testing.T) {
	pub := NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))

	err := pub.PublishOutcome(context.Background(), &OutcomeEvent{UserID: "user-1"})
	require.Error(t, err)
	assert.Empty(t, pub.GetPublishedEvents())
}

func TestMockPublisher_Close(t *testing.T) {
	pub := NewMockPublisher()
	require.False(t, pub.IsClosed())
	require.NoError(t, pub.Close())
	assert.True(t, pub.IsClosed())
}
