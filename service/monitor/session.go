package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/convert"
	"github.com/brojonat/coinwatch/service/metrics"
	"github.com/brojonat/coinwatch/service/price"
)

// Session is one monitoring request in flight. It owns its polling loop and
// its seen-transaction set; no other goroutine touches them. Sessions are
// created and driven by the Registry.
type Session struct {
	request Request
	adapter chain.Adapter
	oracle  price.Oracle
	logger  *slog.Logger
	metrics *metrics.Metrics

	callTimeout time.Duration
	onTerminal  func(ctx context.Context, s *Session, outcome *Outcome)

	mu        sync.Mutex
	status    Status
	outcome   *Outcome
	seen      map[string]struct{}
	startedAt time.Time
	endedAt   time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

func newSession(req Request, adapter chain.Adapter, oracle price.Oracle, callTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Session {
	return &Session{
		request:     req,
		adapter:     adapter,
		oracle:      oracle,
		logger:      logger,
		metrics:     m,
		callTimeout: callTimeout,
		status:      StatusPending,
		seen:        make(map[string]struct{}),
		cancelCh:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Request returns the immutable request this session was created for.
func (s *Session) Request() Request { return s.request }

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Outcome returns the terminal outcome, or nil while the session is pending.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// StartedAt returns when the polling loop began.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Done returns a channel closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session is terminal or ctx is done.
func (s *Session) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-s.done:
		return s.Outcome(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation. The session observes it at the next safe
// point, never mid-poll. Cancelling a terminal session is a no-op.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// run drives the polling loop until a terminal state is reached. It is the
// only goroutine that mutates session state, which is what makes the
// exactly-one-outcome guarantee hold.
func (s *Session) run(ctx context.Context) {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	timeout := time.NewTimer(s.request.Timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(s.request.PollInterval)
	defer ticker.Stop()

	// Poll immediately: a payment sent before monitoring started should be
	// detected on the first pass, not after one full interval.
	if s.poll(ctx) {
		return
	}

	for {
		select {
		case <-s.cancelCh:
			s.finalize(ctx, &Outcome{Status: StatusCancelled})
			return
		case <-ctx.Done():
			// Registry shutdown. Same terminal semantics as a caller cancel.
			s.finalize(ctx, &Outcome{Status: StatusCancelled})
			return
		case <-timeout.C:
			s.finalize(ctx, &Outcome{Status: StatusTimedOut})
			return
		case <-ticker.C:
			// The ticker can fire after the deadline has passed if select
			// picks it first; a session at its deadline must end TimedOut,
			// not start another poll.
			if time.Since(s.StartedAt()) >= s.request.Timeout {
				s.finalize(ctx, &Outcome{Status: StatusTimedOut})
				return
			}
			if s.poll(ctx) {
				return
			}
		}
	}
}

// poll runs one fetch-and-match pass. It returns true when the session
// reached a terminal state.
func (s *Session) poll(ctx context.Context) bool {
	target := s.request.Target
	currency := strings.ToLower(target.Currency)

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	start := time.Now()
	txns, err := s.adapter.GetTransactions(callCtx, target.Address)
	cancel()
	duration := time.Since(start).Seconds()

	if err != nil {
		s.metrics.RecordChainCall(currency, "get_transactions", "error", duration)
		if chain.IsFatal(err) {
			s.metrics.RecordPoll(currency, "fatal_error")
			s.logger.ErrorContext(ctx, "chain fetch failed fatally, ending session",
				"currency", currency,
				"address", target.Address,
				"error", err,
			)
			s.finalize(ctx, &Outcome{Status: StatusFailed, Reason: err.Error()})
			return true
		}
		// Transient failure: absorb and retry on the next scheduled tick.
		s.metrics.RecordPoll(currency, "transient_error")
		s.logger.WarnContext(ctx, "chain fetch failed, retrying on next tick",
			"currency", currency,
			"address", target.Address,
			"error", err,
		)
		return false
	}

	s.metrics.RecordChainCall(currency, "get_transactions", "success", duration)
	s.metrics.RecordTransactionsInspected(currency, len(txns))

	s.mu.Lock()
	match := Match(txns, target, s.seen)
	if match == nil {
		// Remember everything we saw so later polls cannot double count a
		// transfer that already failed to qualify.
		for i := range txns {
			s.seen[txns[i].ID] = struct{}{}
		}
		s.mu.Unlock()
		s.metrics.RecordPoll(currency, "no_match")
		return false
	}
	s.seen[match.ID] = struct{}{}
	s.mu.Unlock()

	s.metrics.RecordPoll(currency, "match")
	s.logger.InfoContext(ctx, "payment matched",
		"currency", currency,
		"address", target.Address,
		"txn_id", match.ID,
		"amount", match.Amount,
		"confirmations", match.Confirmations,
	)

	fiat := s.fiatValue(ctx, currency, match)
	s.finalize(ctx, &Outcome{Status: StatusMatched, Transaction: match, FiatValue: fiat})
	return true
}

// fiatValue enriches a match with its USD value. Any failure here degrades
// to a nil value: pricing unavailability must never block payment detection.
func (s *Session) fiatValue(ctx context.Context, currency string, tx *chain.Transaction) *float64 {
	if s.oracle == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	unitPrice, err := s.oracle.GetPrice(callCtx, currency)
	if err != nil {
		s.metrics.RecordPriceLookup(currency, "error")
		s.logger.WarnContext(ctx, "price lookup failed, reporting match without fiat value",
			"currency", currency,
			"error", err,
		)
		return nil
	}
	s.metrics.RecordPriceLookup(currency, "success")

	human, err := convert.ToHumanUnits(currency, tx.Amount)
	if err != nil {
		return nil
	}
	value, err := convert.ToFiatValue(currency, human, unitPrice)
	if err != nil {
		return nil
	}
	return &value
}

// finalize records the terminal outcome exactly once. Later calls are no-ops,
// so a cancel racing a timeout cannot produce two outcomes.
func (s *Session) finalize(ctx context.Context, outcome *Outcome) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	outcome.CompletedAt = time.Now()
	s.status = outcome.Status
	s.outcome = outcome
	s.endedAt = outcome.CompletedAt
	started := s.startedAt
	s.mu.Unlock()

	currency := strings.ToLower(s.request.Target.Currency)
	s.metrics.RecordSessionOutcome(currency, string(outcome.Status), outcome.CompletedAt.Sub(started).Seconds())
	s.logger.InfoContext(ctx, "monitor session finished",
		"user_id", s.request.UserID,
		"currency", currency,
		"address", s.request.Target.Address,
		"status", outcome.Status,
	)

	if s.onTerminal != nil {
		// Outcome delivery must survive the shutdown that may have ended
		// this session, so detach from ctx cancellation but stay bounded.
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.onTerminal(deliverCtx, s, outcome)
	}

	close(s.done)
}

// terminalFor reports whether the session has been terminal for at least the
// given duration. Used by the registry's eviction sweep.
func (s *Session) terminalFor(retention time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Terminal() && now.Sub(s.endedAt) >= retention
}
