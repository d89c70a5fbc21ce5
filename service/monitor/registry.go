package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/coinwatch/service/chain"
	"github.com/brojonat/coinwatch/service/convert"
	"github.com/brojonat/coinwatch/service/metrics"
	"github.com/brojonat/coinwatch/service/price"
)

// OutcomeHandler is invoked once per session when it reaches a terminal
// state. Handlers run on the session's goroutine with a bounded context;
// slow sinks delay eviction, not detection.
type OutcomeHandler func(ctx context.Context, req Request, outcome *Outcome)

// Config tunes registry behavior. Zero values fall back to defaults.
type Config struct {
	// Retention is how long terminal sessions stay queryable before the
	// janitor evicts them.
	Retention time.Duration

	// CallTimeout bounds each external call (chain fetch, price lookup) so a
	// hanging upstream cannot delay the session's termination checks.
	CallTimeout time.Duration

	// SweepInterval is how often the janitor scans for evictable sessions.
	SweepInterval time.Duration

	// DefaultPollInterval and DefaultTimeout apply when a request leaves
	// them unset.
	DefaultPollInterval time.Duration
	DefaultTimeout      time.Duration

	// MinPollInterval, when set, is the floor for requested poll intervals.
	// Requests below it are clamped, not rejected.
	MinPollInterval time.Duration

	// DefaultMinConfirmations applies when a target leaves it unset.
	DefaultMinConfirmations int64
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = 10 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.DefaultPollInterval <= 0 {
		c.DefaultPollInterval = 5 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = time.Hour
	}
	if c.DefaultMinConfirmations <= 0 {
		c.DefaultMinConfirmations = 1
	}
	return c
}

// Registry tracks monitor sessions keyed by (user, currency, address) and
// enforces at most one pending session per key. It is the single shared
// mutable resource of the engine; all map access is serialized by its mutex.
type Registry struct {
	chains   *chain.Registry
	oracle   price.Oracle
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	handlers []OutcomeHandler

	mu       sync.Mutex
	sessions map[Key]*Session
	closed   bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewRegistry creates a registry and starts its eviction janitor. Callers
// must Close it at shutdown. The oracle may be nil (matches are then never
// fiat-enriched); handlers are optional outcome sinks.
func NewRegistry(chains *chain.Registry, oracle price.Oracle, cfg Config, logger *slog.Logger, m *metrics.Metrics, handlers ...OutcomeHandler) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		chains:     chains,
		oracle:     oracle,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		metrics:    m,
		handlers:   handlers,
		sessions:   make(map[Key]*Session),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
	r.wg.Add(1)
	go r.janitor()
	return r
}

// Start validates the request and launches its session. Validation failures
// and duplicate-key rejections are synchronous; the caller never gets a
// session that silently hangs.
func (r *Registry) Start(req Request) (*Session, error) {
	req, adapter, err := r.prepare(req)
	if err != nil {
		return nil, err
	}
	key := req.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if existing, ok := r.sessions[key]; ok && !existing.Status().Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyActive, key)
	}

	s := newSession(req, adapter, r.oracle, r.cfg.CallTimeout, r.logger, r.metrics)
	s.onTerminal = func(ctx context.Context, sess *Session, outcome *Outcome) {
		for _, h := range r.handlers {
			h(ctx, sess.Request(), outcome)
		}
	}
	// A terminal session under the same key is replaced; its outcome was
	// retained only as a courtesy and the caller has asked to watch again.
	r.sessions[key] = s

	r.metrics.RecordSessionStarted(key.Currency)
	r.logger.Info("monitor session started",
		"user_id", req.UserID,
		"currency", key.Currency,
		"address", key.Address,
		"poll_interval", req.PollInterval,
		"timeout", req.Timeout,
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run(r.rootCtx)
	}()
	return s, nil
}

// prepare applies defaults and validates the request, resolving its adapter.
func (r *Registry) prepare(req Request) (Request, chain.Adapter, error) {
	if req.UserID == "" {
		return req, nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.Target.Address == "" {
		return req, nil, fmt.Errorf("%w: address is required", ErrInvalidRequest)
	}
	if !convert.Supported(req.Target.Currency) {
		return req, nil, fmt.Errorf("%w: %w %q", ErrInvalidRequest, convert.ErrUnknownCurrency, req.Target.Currency)
	}
	adapter, err := r.chains.Get(req.Target.Currency)
	if err != nil {
		return req, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Target.ExpectedAmount != nil && *req.Target.ExpectedAmount < 0 {
		return req, nil, fmt.Errorf("%w: %w: expected amount %d", ErrInvalidRequest, convert.ErrInvalidAmount, *req.Target.ExpectedAmount)
	}
	if req.Target.MinConfirmations < 0 {
		return req, nil, fmt.Errorf("%w: negative min confirmations", ErrInvalidRequest)
	}
	// Zero means unset; matching below one confirmation is not supported.
	if req.Target.MinConfirmations == 0 {
		req.Target.MinConfirmations = r.cfg.DefaultMinConfirmations
	}
	if req.PollInterval <= 0 {
		req.PollInterval = r.cfg.DefaultPollInterval
	}
	if req.PollInterval < r.cfg.MinPollInterval {
		req.PollInterval = r.cfg.MinPollInterval
	}
	if req.Timeout <= 0 {
		req.Timeout = r.cfg.DefaultTimeout
	}
	return req, adapter, nil
}

// Get returns the session for a key, pending or terminal.
func (r *Registry) Get(key Key) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return s, nil
}

// Status returns the status for a key and, when terminal, its outcome.
func (r *Registry) Status(key Key) (Status, *Outcome, error) {
	s, err := r.Get(key)
	if err != nil {
		return "", nil, err
	}
	return s.Status(), s.Outcome(), nil
}

// Cancel requests cancellation of the session for a key. Cancelling a
// session that is already terminal succeeds without altering its outcome.
func (r *Registry) Cancel(key Key) error {
	s, err := r.Get(key)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

// Len returns how many sessions (pending and retained terminal) are tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// janitor periodically evicts sessions that have been terminal for longer
// than the retention window, bounding registry memory.
func (r *Registry) janitor() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.rootCtx.Done():
			return
		case <-ticker.C:
			r.evictExpired(time.Now())
		}
	}
}

func (r *Registry) evictExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.sessions {
		if s.terminalFor(r.cfg.Retention, now) {
			delete(r.sessions, key)
			r.logger.Debug("evicted terminal session", "key", key.String())
		}
	}
}

// Close cancels all pending sessions and waits for their loops (and the
// janitor) to exit, or until ctx is done. The registry accepts no new
// sessions afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.rootCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
