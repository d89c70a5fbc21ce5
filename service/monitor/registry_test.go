package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/convert"
)

func TestRegistry_DuplicateActiveSessionRejected(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	req := Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
	}

	_, err := reg.Start(req)
	require.NoError(t, err)

	_, err = reg.Start(req)
	require.ErrorIs(t, err, ErrSessionAlreadyActive)

	// A different key is an independent slot.
	other := req
	other.Target.Address = "B"
	_, err = reg.Start(other)
	require.NoError(t, err)
}

func TestRegistry_RestartAllowedAfterTerminal(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	req := Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      20 * time.Millisecond,
	}

	s, err := reg.Start(req)
	require.NoError(t, err)
	waitOutcome(t, s)

	// The retained terminal session does not block a fresh request.
	s2, err := reg.Start(req)
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
}

func TestRegistry_StartValidation(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "missing user id",
			req:     Request{Target: Target{Currency: "ton", Address: "A"}},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing address",
			req:     Request{UserID: "u", Target: Target{Currency: "ton"}},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown currency",
			req:     Request{UserID: "u", Target: Target{Currency: "xyz", Address: "A"}},
			wantErr: convert.ErrUnknownCurrency,
		},
		{
			name:    "no adapter for known currency",
			req:     Request{UserID: "u", Target: Target{Currency: "doge", Address: "A"}},
			wantErr: chain.ErrUnsupportedCurrency,
		},
		{
			name: "negative expected amount",
			req: Request{
				UserID: "u",
				Target: Target{Currency: "ton", Address: "A", ExpectedAmount: i64Ptr(-1)},
			},
			wantErr: convert.ErrInvalidAmount,
		},
		{
			name: "negative min confirmations",
			req: Request{
				UserID: "u",
				Target: Target{Currency: "ton", Address: "A", MinConfirmations: -1},
			},
			wantErr: ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Start(tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_DefaultsApplied(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	s, err := reg.Start(Request{
		UserID: "user123",
		Target: Target{Currency: "ton", Address: "A"},
	})
	require.NoError(t, err)

	req := s.Request()
	assert.Equal(t, testConfig().DefaultPollInterval, req.PollInterval)
	assert.Equal(t, testConfig().DefaultTimeout, req.Timeout)
	assert.Equal(t, testConfig().DefaultMinConfirmations, req.Target.MinConfirmations)
}

func TestRegistry_MinPollIntervalClamped(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.MinPollInterval = 50 * time.Millisecond
	reg := NewRegistry(chain.NewRegistry(adapter), nil, cfg, logger, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reg.Close(ctx)
	})

	s, err := reg.Start(Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: time.Millisecond,
		Timeout:      time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, s.Request().PollInterval)
}

func TestRegistry_ZeroMinConfirmationsTakesDefault(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	// An explicit zero is treated as unset and floored at the default.
	s, err := reg.Start(Request{
		UserID:  "user123",
		Target:  Target{Currency: "ton", Address: "A", MinConfirmations: 0},
		Timeout: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Request().Target.MinConfirmations)
}

func TestRegistry_StatusAndNotFound(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	_, _, err := reg.Status(Key{UserID: "nobody", Currency: "ton", Address: "A"})
	require.ErrorIs(t, err, ErrSessionNotFound)

	s, err := reg.Start(Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
	})
	require.NoError(t, err)

	status, outcome, err := reg.Status(s.Request().Key())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Nil(t, outcome)
}

func TestRegistry_CancelPendingSession(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	s, err := reg.Start(Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, reg.Cancel(s.Request().Key()))
	outcome := waitOutcome(t, s)
	assert.Equal(t, StatusCancelled, outcome.Status)
}

func TestRegistry_CancelTerminalIsNoop(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	s, err := reg.Start(Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      20 * time.Millisecond,
	})
	require.NoError(t, err)
	outcome := waitOutcome(t, s)
	require.Equal(t, StatusTimedOut, outcome.Status)

	require.NoError(t, reg.Cancel(s.Request().Key()))
	assert.Equal(t, StatusTimedOut, s.Status())
}

func TestRegistry_EvictionAfterRetention(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	reg := newTestRegistry(t, adapter, nil)

	s, err := reg.Start(Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      20 * time.Millisecond,
	})
	require.NoError(t, err)
	waitOutcome(t, s)
	require.Equal(t, 1, reg.Len())

	// Before the retention window elapses the outcome stays queryable.
	reg.evictExpired(time.Now())
	assert.Equal(t, 1, reg.Len())

	// After the window the session is gone.
	reg.evictExpired(time.Now().Add(testConfig().Retention + time.Second))
	assert.Equal(t, 0, reg.Len())

	_, _, err = reg.Status(s.Request().Key())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_CloseCancelsPendingSessions(t *testing.T) {
	adapter := &fakeAdapter{currency: "ton"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := NewRegistry(chain.NewRegistry(adapter), nil, testConfig(), logger, nil)

	s, err := reg.Start(Request{
		UserID:       "user123",
		Target:       Target{Currency: "ton", Address: "A"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Close(ctx))

	assert.Equal(t, StatusCancelled, s.Status())

	_, err = reg.Start(Request{
		UserID: "user456",
		Target: Target{Currency: "ton", Address: "B"},
	})
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_OutcomeHandlerInvoked(t *testing.T) {
	now := time.Now()
	adapter := &fakeAdapter{
		currency: "ton",
		fn: func(call int) ([]chain.Transaction, error) {
			return []chain.Transaction{makeTxn("tx1", "A", 100, nil, 2, now)}, nil
		},
	}

	got := make(chan *Outcome, 1)
	reg := newTestRegistry(t, adapter, &fakeOracle{price: 2.0}, func(ctx context.Context, req Request, outcome *Outcome) {
		got <- outcome
	})

	s, err := reg.Start(Request{
		UserID: "user123",
		Target: Target{Currency: "ton", Address: "A"},
	})
	require.NoError(t, err)
	waitOutcome(t, s)

	select {
	case outcome := <-got:
		assert.Equal(t, StatusMatched, outcome.Status)
		require.NotNil(t, outcome.Transaction)
	case <-time.After(time.Second):
		t.Fatal("outcome handler was not invoked")
	}
}
