package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/connection"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/emperorhan/wallet-runtime/internal/metrics"
	"github.com/emperorhan/wallet-runtime/internal/tracing"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPollingInterval   = 10 * time.Second
	IntensivePollingInterval = 2 * time.Second
	DefaultNextBlockTimeout  = 60 * time.Second
	DefaultLatestBlockRetry  = time.Second

	tracerName = "subscription"
)

// ErrClosed is returned by every operation after Stop.
var ErrClosed = &apperror.Error{Kind: apperror.KindResourceUnavailable, Message: "contract subscription is closed"}

// Config tunes the polling loop.
type Config struct {
	PollingInterval   time.Duration
	IntensiveInterval time.Duration
	NextBlockTimeout  time.Duration
	LatestBlockRetry  time.Duration
	// Owner labels metrics ("account" or "tab").
	Owner string
}

func (c Config) withDefaults() Config {
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	if c.IntensiveInterval <= 0 {
		c.IntensiveInterval = IntensivePollingInterval
	}
	if c.NextBlockTimeout <= 0 {
		c.NextBlockTimeout = DefaultNextBlockTimeout
	}
	if c.LatestBlockRetry <= 0 {
		c.LatestBlockRetry = DefaultLatestBlockRetry
	}
	if c.Owner == "" {
		c.Owner = "unknown"
	}
	return c
}

// ConnectionProvider hands out connection leases.
type ConnectionProvider interface {
	Acquire() (*connection.Lease, error)
}

// Subscription keeps one contract handle fresh. The handle decides after
// every update whether the next pass polls manually or walks blocks; the
// subscription only drives the indicated loop and never touches the
// handle outside its lock.
type Subscription struct {
	address  model.Address
	cfg      Config
	listener Listener
	logger   *slog.Logger

	lease     *connection.Lease
	transport ledger.Transport
	handle    ledger.ContractHandle
	queue     *eventQueue

	// lock serializes every access to handle.
	lock *semaphore.Weighted
	// skip wakes a pending manual wait.
	skip chan struct{}

	mu               sync.Mutex
	pollingInterval  time.Duration
	currentMethod    model.PollingMethod
	isRunning        bool
	released         bool
	currentBlockID   model.BlockID
	suggestedBlockID model.BlockID
	loopCancel       context.CancelFunc
	loopDone         chan struct{}
}

// Subscribe acquires a connection lease and creates a contract handle for
// addr on it. The subscription is returned stopped; call Start to poll.
func Subscribe(
	ctx context.Context,
	conns ConnectionProvider,
	addr model.Address,
	listener Listener,
	cfg Config,
	logger *slog.Logger,
) (*Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if listener == nil {
		listener = NopListener{}
	}
	cfg = cfg.withDefaults()

	lease, err := conns.Acquire()
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		address:         addr,
		cfg:             cfg,
		listener:        listener,
		logger:          logger.With("component", "subscription", "address", addr),
		lease:           lease,
		transport:       lease.Connection(),
		queue:           &eventQueue{},
		lock:            semaphore.NewWeighted(1),
		skip:            make(chan struct{}, 1),
		pollingInterval: cfg.PollingInterval,
	}

	handle, err := lease.Connection().Subscribe(ctx, addr, s.queue)
	if err != nil {
		lease.Release()
		return nil, apperror.ResourceUnavailable("failed to subscribe to "+addr.String(), err)
	}
	s.handle = handle
	s.currentMethod = handle.PollingMethod()
	// Events emitted while the handle was created are delivered now.
	s.dispatch()

	metrics.SubscriptionsActive.WithLabelValues(cfg.Owner).Inc()
	s.logger.Debug("contract subscribed", "polling_method", s.currentMethod)
	return s, nil
}

// Address returns the subscribed contract address.
func (s *Subscription) Address() model.Address {
	return s.address
}

// PollingMethod returns the method reported by the handle after its last update.
func (s *Subscription) PollingMethod() model.PollingMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentMethod
}

// IsRunning reports whether the polling loop is active.
func (s *Subscription) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SetPollingInterval changes the manual polling interval from the next wait on.
func (s *Subscription) SetPollingInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.pollingInterval = d
	s.mu.Unlock()
}

// Start launches the polling loop. If a previous loop is still stopping it
// waits for that loop to exit first, so two loops never share the handle.
func (s *Subscription) Start() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	previous := s.loopDone
	s.mu.Unlock()

	if previous != nil {
		<-previous
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrClosed
	}
	if s.isRunning {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.isRunning = true
	s.loopCancel = cancel
	s.loopDone = done
	go s.run(ctx, done)
	return nil
}

// Pause stops the loop and waits for it to exit. The handle stays alive so
// the subscription can be started again.
func (s *Subscription) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrClosed
	}
	wasRunning := s.isRunning
	s.isRunning = false
	cancel, done := s.loopCancel, s.loopDone
	s.mu.Unlock()

	if !wasRunning && done == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return apperror.ResourceUnavailable("timed out waiting for polling loop", ctx.Err())
		}
	}

	s.mu.Lock()
	if s.loopDone == done {
		s.loopDone = nil
		s.loopCancel = nil
	}
	s.mu.Unlock()

	// The loop may have been interrupted mid-iteration, so the method it
	// last stored can be stale.
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for contract lock", err)
	}
	s.mu.Lock()
	if !s.released {
		s.setMethodLocked(s.handle.PollingMethod())
	}
	s.currentBlockID = ""
	s.suggestedBlockID = ""
	s.mu.Unlock()
	s.lock.Release(1)
	return nil
}

// Stop pauses the loop and releases the handle and the connection lease.
// The subscription is unusable afterwards.
func (s *Subscription) Stop(ctx context.Context) error {
	if err := s.Pause(ctx); err != nil {
		return err
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for contract lock", err)
	}
	defer s.lock.Release(1)

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrClosed
	}
	s.released = true
	s.mu.Unlock()

	s.handle.Release()
	s.lease.Release()
	metrics.SubscriptionsActive.WithLabelValues(s.cfg.Owner).Dec()
	s.logger.Debug("contract subscription stopped")
	return nil
}

// SkipRefreshTimer wakes a pending manual wait so the next refresh happens now.
func (s *Subscription) SkipRefreshTimer() {
	select {
	case s.skip <- struct{}{}:
	default:
	}
}

// PrepareReliablePolling remembers the latest block as the anchor for the
// next transition into reliable polling. Call it right before sending a
// message so the block confirming it is not missed.
func (s *Subscription) PrepareReliablePolling(ctx context.Context) error {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return ErrClosed
	}

	block, err := s.transport.GetLatestBlock(ctx, s.address)
	if err != nil {
		return apperror.ResourceUnavailable("failed to get latest block", err)
	}

	s.mu.Lock()
	s.suggestedBlockID = block
	s.mu.Unlock()
	return nil
}

// Use runs fn with exclusive access to the contract handle. fn must not call
// Use on the same subscription. Events emitted by the handle during fn are
// delivered before the lock is released.
func (s *Subscription) Use(ctx context.Context, fn func(ctx context.Context, handle ledger.ContractHandle) error) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for contract lock", err)
	}
	defer s.lock.Release(1)

	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return ErrClosed
	}

	err := fn(ctx, s.handle)
	s.dispatch()

	s.mu.Lock()
	s.setMethodLocked(s.handle.PollingMethod())
	s.mu.Unlock()
	return err
}

// UseValue is Use for functions producing a value.
func UseValue[T any](ctx context.Context, s *Subscription, fn func(ctx context.Context, handle ledger.ContractHandle) (T, error)) (T, error) {
	var out T
	err := s.Use(ctx, func(ctx context.Context, handle ledger.ContractHandle) error {
		v, err := fn(ctx, handle)
		out = v
		return err
	})
	return out, err
}

func (s *Subscription) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.logger.Debug("polling loop started")
	defer s.logger.Debug("polling loop stopped")

	// Anchors are cleared on pause, so a loop starting in reliable mode
	// counts as a transition and may adopt a suggested anchor.
	previous := model.PollingMethodManual
	for ctx.Err() == nil {
		method := s.PollingMethod()
		changed := method != previous
		previous = method

		if method == model.PollingMethodReliable && s.transport.SupportsBlockWait() {
			s.reliablePass(ctx, changed)
		} else {
			s.manualPass(ctx, method)
		}
	}
}

func (s *Subscription) manualPass(ctx context.Context, method model.PollingMethod) {
	s.mu.Lock()
	s.currentBlockID = ""
	interval := s.pollingInterval
	s.mu.Unlock()
	if method == model.PollingMethodReliable {
		// The handle wants block precision but the transport cannot wait
		// for blocks.
		interval = s.cfg.IntensiveInterval
	}

	if !s.wait(ctx, interval) {
		return
	}

	err := s.lockedUpdate(ctx, "subscription.refresh", func(ctx context.Context) error {
		return s.handle.Refresh(ctx)
	})
	if err != nil {
		s.recover(ctx, "refresh", err)
		return
	}
	metrics.PollingPassesTotal.WithLabelValues(string(method)).Inc()
}

func (s *Subscription) reliablePass(ctx context.Context, changed bool) {
	// A skip request is meaningless while walking blocks.
	select {
	case <-s.skip:
	default:
	}

	s.mu.Lock()
	if changed && s.suggestedBlockID != "" {
		s.currentBlockID = s.suggestedBlockID
	}
	s.suggestedBlockID = ""
	anchor := s.currentBlockID
	s.mu.Unlock()

	if anchor == "" {
		s.logger.Warn("starting reliable polling with unknown block")
		latest, err := s.transport.GetLatestBlock(ctx, s.address)
		if err != nil {
			s.recover(ctx, "latest_block", err)
			s.wait(ctx, s.cfg.LatestBlockRetry)
			return
		}
		s.setCurrentBlock(latest)
		anchor = latest
	}

	started := time.Now()
	next, err := s.transport.WaitForNextBlock(ctx, anchor, s.address, s.cfg.NextBlockTimeout)
	metrics.BlockWaitDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		s.recover(ctx, "block_wait", err)
		return
	}

	err = s.lockedUpdate(ctx, "subscription.handle_block", func(ctx context.Context) error {
		if err := s.handle.HandleBlock(ctx, next); err != nil {
			return err
		}
		s.setCurrentBlock(next)
		return nil
	})
	if err != nil {
		s.recover(ctx, "handle_block", err)
		return
	}
	metrics.PollingPassesTotal.WithLabelValues(string(model.PollingMethodReliable)).Inc()
}

// lockedUpdate runs update under the contract lock, delivers queued events
// and stores the polling method the handle reports afterwards.
func (s *Subscription) lockedUpdate(ctx context.Context, spanName string, update func(ctx context.Context) error) (err error) {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	ctx, span := tracing.StartAddressSpan(ctx, tracerName, spanName, s.address.String())
	defer func() { tracing.EndSpan(span, err) }()

	err = update(ctx)
	s.dispatch()

	s.mu.Lock()
	s.setMethodLocked(s.handle.PollingMethod())
	s.mu.Unlock()
	return err
}

// wait sleeps for d, returning early with true when SkipRefreshTimer is
// called and with false when ctx is cancelled.
func (s *Subscription) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-s.skip:
		return true
	}
}

func (s *Subscription) recover(ctx context.Context, stage string, err error) {
	if ctx.Err() != nil {
		return
	}
	metrics.PollingErrorsTotal.WithLabelValues(stage).Inc()
	if errors.Is(err, ledger.ErrBlockWaitTimeout) {
		s.logger.Debug("no new block before timeout", "stage", stage)
		return
	}
	s.logger.Warn("polling pass failed", "stage", stage, "error", err,
		"class", apperror.Classify(err).Class)
}

func (s *Subscription) dispatch() {
	for _, ev := range s.queue.take() {
		ev(s.listener, s.address)
	}
}

func (s *Subscription) setCurrentBlock(block model.BlockID) {
	s.mu.Lock()
	s.currentBlockID = block
	s.mu.Unlock()
}

// setMethodLocked must be called with mu held.
func (s *Subscription) setMethodLocked(method model.PollingMethod) {
	if method == "" {
		method = model.PollingMethodManual
	}
	if method != s.currentMethod {
		metrics.PollingMethodTransitions.WithLabelValues(string(s.currentMethod), string(method)).Inc()
		s.logger.Debug("polling method changed", "from", s.currentMethod, "to", method)
		s.currentMethod = method
	}
}
