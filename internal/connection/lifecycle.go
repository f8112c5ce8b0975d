package connection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/emperorhan/wallet-runtime/internal/metrics"
	"github.com/emperorhan/wallet-runtime/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// Lifecycle owns the single active network connection. Subscriptions borrow
// it through leases; SwitchNetwork replaces it and disposes of the previous
// one once its last lease is released.
type Lifecycle struct {
	connector ledger.Connector
	logger    *slog.Logger

	// switchLock allows one SwitchNetwork at a time. It is independent of
	// any per-contract lock.
	switchLock *semaphore.Weighted

	mu          sync.Mutex
	active      *tracked
	closed      bool
	listenerSeq int
	listeners   map[int]func(model.NetworkParams)
}

type tracked struct {
	conn     ledger.Connection
	params   model.NetworkParams
	leases   int
	retired  bool
	disposed bool
}

// Lease is a counted reference to the connection that was active when it
// was acquired. It stays valid across network switches until Release.
type Lease struct {
	owner   *Lifecycle
	tracked *tracked
	once    sync.Once
}

// Connection returns the leased connection snapshot.
func (l *Lease) Connection() ledger.Connection {
	return l.tracked.conn
}

// Params returns the network parameters of the leased connection.
func (l *Lease) Params() model.NetworkParams {
	return l.tracked.params
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.owner.release(l.tracked)
	})
}

// New connects to params and returns a lifecycle holding that connection.
func New(ctx context.Context, connector ledger.Connector, params model.NetworkParams, logger *slog.Logger) (*Lifecycle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := connector.Connect(ctx, params)
	if err != nil {
		return nil, apperror.Internal("failed to connect to "+params.Key(), err)
	}
	lc := &Lifecycle{
		connector:  connector,
		logger:     logger.With("component", "connection"),
		switchLock: semaphore.NewWeighted(1),
		active:     &tracked{conn: conn, params: params},
		listeners:  make(map[int]func(model.NetworkParams)),
	}
	lc.logger.Info("connection established", "network", params.Key())
	return lc, nil
}

// Acquire leases the currently active connection.
func (lc *Lifecycle) Acquire() (*Lease, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return nil, apperror.ResourceUnavailable("connection is closed", nil)
	}
	lc.active.leases++
	metrics.ConnectionLeasesActive.Inc()
	return &Lease{owner: lc, tracked: lc.active}, nil
}

// Params returns the parameters of the active connection.
func (lc *Lifecycle) Params() model.NetworkParams {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.active.params
}

// OnSwitch registers fn to be called after every successful switch.
// Leases taken before the switch keep the old connection; listeners
// re-acquire to observe the new one.
func (lc *Lifecycle) OnSwitch(fn func(model.NetworkParams)) (cancel func()) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.listenerSeq++
	id := lc.listenerSeq
	lc.listeners[id] = fn
	return func() {
		lc.mu.Lock()
		delete(lc.listeners, id)
		lc.mu.Unlock()
	}
}

// SwitchNetwork builds a connection for params and makes it active. The
// previous connection is disposed only after the new one is established and
// its last lease is released. On failure the previous connection stays active.
func (lc *Lifecycle) SwitchNetwork(ctx context.Context, params model.NetworkParams) (err error) {
	ctx, span := tracing.Tracer("connection").Start(ctx, "connection.SwitchNetwork")
	span.SetAttributes(attribute.String("wallet.network", params.Key()))
	defer func() { tracing.EndSpan(span, err) }()

	if err := lc.switchLock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("network switch in progress", err)
	}
	defer lc.switchLock.Release(1)

	lc.mu.Lock()
	closed := lc.closed
	from := lc.active.params
	lc.mu.Unlock()
	if closed {
		return apperror.ResourceUnavailable("connection is closed", nil)
	}

	lc.logger.Info("switching network", "from", from.Key(), "to", params.Key())
	conn, err := lc.connector.Connect(ctx, params)
	if err != nil {
		metrics.ConnectionSwitchesTotal.WithLabelValues("failed").Inc()
		lc.logger.Warn("network switch failed, keeping previous connection",
			"from", from.Key(), "to", params.Key(), "error", err)
		return apperror.Internal("failed to switch network to "+params.Key(), err)
	}

	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			lc.logger.Warn("failed to close unused connection", "network", params.Key(), "error", cerr)
		}
		return apperror.ResourceUnavailable("connection is closed", nil)
	}
	previous := lc.active
	lc.active = &tracked{conn: conn, params: params}
	disposeNow := lc.retireLocked(previous)
	listeners := make([]func(model.NetworkParams), 0, len(lc.listeners))
	for _, fn := range lc.listeners {
		listeners = append(listeners, fn)
	}
	lc.mu.Unlock()

	if disposeNow {
		lc.dispose(previous)
	}
	metrics.ConnectionSwitchesTotal.WithLabelValues("ok").Inc()
	lc.logger.Info("network switched", "network", params.Key())

	for _, fn := range listeners {
		fn(params)
	}
	return nil
}

// Close retires the active connection. Outstanding leases keep it open
// until they are released.
func (lc *Lifecycle) Close() error {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return nil
	}
	lc.closed = true
	current := lc.active
	disposeNow := lc.retireLocked(current)
	lc.mu.Unlock()

	if disposeNow {
		lc.dispose(current)
	}
	return nil
}

// retireLocked marks t retired and reports whether it can be disposed now.
// Must be called with mu held.
func (lc *Lifecycle) retireLocked(t *tracked) bool {
	t.retired = true
	if t.leases > 0 {
		metrics.ConnectionsRetiring.Inc()
		return false
	}
	return lc.markDisposedLocked(t)
}

func (lc *Lifecycle) markDisposedLocked(t *tracked) bool {
	if t.disposed {
		return false
	}
	t.disposed = true
	return true
}

func (lc *Lifecycle) release(t *tracked) {
	lc.mu.Lock()
	t.leases--
	metrics.ConnectionLeasesActive.Dec()
	disposeNow := false
	if t.retired && t.leases == 0 {
		disposeNow = lc.markDisposedLocked(t)
		if disposeNow {
			metrics.ConnectionsRetiring.Dec()
		}
	}
	lc.mu.Unlock()

	if disposeNow {
		lc.dispose(t)
	}
}

func (lc *Lifecycle) dispose(t *tracked) {
	if err := t.conn.Close(); err != nil {
		lc.logger.Warn("failed to close connection", "network", t.params.Key(), "error", err)
		return
	}
	lc.logger.Info("connection disposed", "network", t.params.Key())
}
