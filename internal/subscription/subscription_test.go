package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/connection"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/emperorhan/wallet-runtime/internal/ledger/ledgertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wallet  = model.Address("0:1111111111111111111111111111111111111111111111111111111111111111")
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var mainnet = model.NetworkParams{Name: "mainnet", Group: "ton"}

type recordingListener struct {
	mu      sync.Mutex
	states  []model.ContractState
	txs     []model.Transaction
	sent    []model.PendingTransaction
	expired []model.PendingTransaction
}

func (l *recordingListener) OnStateChanged(_ model.Address, state model.ContractState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *recordingListener) OnTransactionsFound(_ model.Address, txs []model.Transaction, _ model.TransactionsBatchInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, txs...)
}

func (l *recordingListener) OnMessageSent(_ model.Address, pending model.PendingTransaction, _ *model.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, pending)
}

func (l *recordingListener) OnMessageExpired(_ model.Address, pending model.PendingTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expired = append(l.expired, pending)
}

func (l *recordingListener) balances() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, s.Balance)
	}
	return out
}

type fixture struct {
	lc       *connection.Lifecycle
	conn     *ledgertest.Connection
	listener *recordingListener
	sub      *Subscription
	handle   *ledgertest.Handle
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	connector := ledgertest.NewConnector()
	lc, err := connection.New(context.Background(), connector, mainnet, slog.Default())
	require.NoError(t, err)

	listener := &recordingListener{}
	sub, err := Subscribe(context.Background(), lc, wallet, listener, cfg, slog.Default())
	require.NoError(t, err)

	conn := connector.Conn(mainnet)
	f := &fixture{lc: lc, conn: conn, listener: listener, sub: sub, handle: conn.Handle(wallet)}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = f.sub.Stop(ctx)
		_ = f.lc.Close()
	})
	return f
}

func TestSubscribe_DeliversInitialState(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, []string{"0"}, f.listener.balances())
	assert.Equal(t, wallet, f.sub.Address())
	assert.Equal(t, model.PollingMethodManual, f.sub.PollingMethod())
	assert.False(t, f.sub.IsRunning())
}

func TestSubscribe_FailureReleasesLease(t *testing.T) {
	connector := ledgertest.NewConnector()
	lc, err := connection.New(context.Background(), connector, mainnet, slog.Default())
	require.NoError(t, err)
	conn := connector.Conn(mainnet)
	conn.SetSubscribeError(errors.New("account not found"))

	_, err = Subscribe(context.Background(), lc, wallet, nil, Config{}, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrResourceUnavailable)

	require.NoError(t, lc.Close())
	assert.Equal(t, 1, conn.Closed(), "a failed subscribe must not hold the connection")
}

func TestManualPolling_RefreshesAndDeliversEvents(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: 10 * time.Millisecond})
	f.handle.QueueBalance("42")

	require.NoError(t, f.sub.Start())
	assert.True(t, f.sub.IsRunning())

	require.Eventually(t, func() bool {
		b := f.listener.balances()
		return len(b) == 2 && b[1] == "42"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return f.handle.Refreshes() >= 3 }, waitFor, tick)
}

func TestManualPolling_RefreshErrorKeepsLoop(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: 5 * time.Millisecond})
	f.handle.SetRefreshError(errors.New("lite server error: timeout"))
	f.handle.QueueBalance("42")

	require.NoError(t, f.sub.Start())
	require.Eventually(t, func() bool { return f.handle.Refreshes() >= 3 }, waitFor, tick)
	assert.True(t, f.sub.IsRunning())
	assert.Equal(t, []string{"0"}, f.listener.balances(), "a failed refresh delivers nothing")

	f.handle.SetRefreshError(nil)
	require.Eventually(t, func() bool {
		b := f.listener.balances()
		return len(b) == 2 && b[1] == "42"
	}, waitFor, tick)
	assert.True(t, f.sub.IsRunning())
}

func TestSkipRefreshTimer_WakesManualWait(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})
	require.NoError(t, f.sub.Start())

	// Let the loop reach its wait.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.handle.Refreshes())

	f.sub.SkipRefreshTimer()
	require.Eventually(t, func() bool { return f.handle.Refreshes() == 1 }, waitFor, tick)
}

func TestSetPollingInterval(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})
	f.sub.SetPollingInterval(5 * time.Millisecond)
	f.sub.SetPollingInterval(0)

	require.NoError(t, f.sub.Start())
	require.Eventually(t, func() bool { return f.handle.Refreshes() >= 2 }, waitFor, tick)
}

func TestReliablePolling_WalksBlocks(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})
	f.handle.SetPollingMethod(model.PollingMethodReliable)

	require.NoError(t, f.sub.Start())

	// No anchor yet: bootstrap from latest block b:1 and wait after it.
	require.Eventually(t, func() bool { return len(f.conn.Waits()) == 1 }, waitFor, tick)
	assert.Equal(t, ledgertest.BlockID(1), f.conn.Waits()[0])

	f.conn.Advance()
	f.conn.Advance()
	require.Eventually(t, func() bool { return len(f.handle.Blocks()) == 2 }, waitFor, tick)
	assert.Equal(t, []model.BlockID{ledgertest.BlockID(2), ledgertest.BlockID(3)}, f.handle.Blocks())

	require.Eventually(t, func() bool {
		current, _ := f.sub.anchors()
		return current == ledgertest.BlockID(3)
	}, waitFor, tick)
	assert.Zero(t, f.handle.Refreshes())
}

func TestReliablePolling_FallsBackToIntensiveRefresh(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour, IntensiveInterval: 5 * time.Millisecond})
	f.conn.SetBlockWait(false)
	f.handle.SetPollingMethod(model.PollingMethodReliable)

	require.NoError(t, f.sub.Start())
	require.Eventually(t, func() bool { return f.handle.Refreshes() >= 3 }, waitFor, tick)
	assert.Empty(t, f.conn.Waits())
}

func TestReliablePolling_LatestBlockFailureRetries(t *testing.T) {
	f := newFixture(t, Config{LatestBlockRetry: 5 * time.Millisecond})
	f.conn.SetLatestError(errors.New("lite server error: timeout"))
	f.handle.SetPollingMethod(model.PollingMethodReliable)

	require.NoError(t, f.sub.Start())
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, f.conn.Waits())

	f.conn.SetLatestError(nil)
	require.Eventually(t, func() bool { return len(f.conn.Waits()) > 0 }, waitFor, tick)
}

func TestReliablePolling_BlockWaitTimeoutKeepsAnchor(t *testing.T) {
	f := newFixture(t, Config{NextBlockTimeout: 5 * time.Millisecond})
	f.handle.SetPollingMethod(model.PollingMethodReliable)

	require.NoError(t, f.sub.Start())
	require.Eventually(t, func() bool { return len(f.conn.Waits()) >= 3 }, waitFor, tick)
	for _, anchor := range f.conn.Waits() {
		assert.Equal(t, ledgertest.BlockID(1), anchor)
	}
	assert.Empty(t, f.handle.Blocks())
}

func TestSuggestedAnchor_AdoptedOnTransitionIntoReliable(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})
	require.NoError(t, f.sub.Start())

	f.conn.Advance()
	f.conn.Advance()
	require.NoError(t, f.sub.PrepareReliablePolling(context.Background()))
	_, suggested := f.sub.anchors()
	require.Equal(t, ledgertest.BlockID(3), suggested)

	f.conn.Advance()
	_, err := UseValue(context.Background(), f.sub, func(ctx context.Context, h ledger.ContractHandle) (model.PendingTransaction, error) {
		return h.SendMessage(ctx, model.SignedMessage{Hash: "msg-1"})
	})
	require.NoError(t, err)
	assert.Equal(t, model.PollingMethodReliable, f.sub.PollingMethod())

	f.sub.SkipRefreshTimer()

	// The chain is at b:4 but the wait starts from the suggested b:3 so the
	// block carrying the message is not skipped.
	require.Eventually(t, func() bool { return len(f.handle.Blocks()) >= 1 }, waitFor, tick)
	assert.Equal(t, ledgertest.BlockID(3), f.conn.Waits()[0])
	assert.Equal(t, ledgertest.BlockID(4), f.handle.Blocks()[0])

	_, suggested = f.sub.anchors()
	assert.Empty(t, suggested)
}

func TestSuggestedAnchor_NotReusedAcrossReliablePasses(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})
	f.handle.SetPollingMethod(model.PollingMethodReliable)
	require.NoError(t, f.sub.Start())

	require.Eventually(t, func() bool { return len(f.conn.Waits()) == 1 }, waitFor, tick)

	// A stale suggestion arriving mid-reliable must not rewind the anchor.
	f.sub.mu.Lock()
	f.sub.suggestedBlockID = model.BlockID("b:0")
	f.sub.mu.Unlock()

	f.conn.Advance()
	f.conn.Advance()
	require.Eventually(t, func() bool { return len(f.handle.Blocks()) == 2 }, waitFor, tick)

	for _, anchor := range f.conn.Waits() {
		assert.NotEqual(t, model.BlockID("b:0"), anchor)
	}
	_, suggested := f.sub.anchors()
	assert.Empty(t, suggested)
}

func TestUse_NeverOverlapsWithPolling(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Millisecond})
	f.handle.SetRefreshHook(func() { time.Sleep(time.Millisecond) })
	require.NoError(t, f.sub.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := UseValue(context.Background(), f.sub, func(ctx context.Context, h ledger.ContractHandle) (string, error) {
					return h.EstimateFees(ctx, model.SignedMessage{BOC: []byte{1, 2}})
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, f.handle.Overlaps())
	assert.Greater(t, f.handle.Refreshes(), 0)
}

func TestUse_DeliversEventsBeforeReturning(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})
	f.handle.QueueTransaction("tx-1")

	err := f.sub.Use(context.Background(), func(ctx context.Context, h ledger.ContractHandle) error {
		return h.Refresh(ctx)
	})
	require.NoError(t, err)

	f.listener.mu.Lock()
	defer f.listener.mu.Unlock()
	require.Len(t, f.listener.txs, 1)
	assert.Equal(t, "tx-1", f.listener.txs[0].Hash)
}

func TestPause_StopsLoopAndClearsAnchors(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour, NextBlockTimeout: time.Hour})
	f.handle.SetPollingMethod(model.PollingMethodReliable)
	require.NoError(t, f.sub.Start())
	require.Eventually(t, func() bool { return len(f.conn.Waits()) == 1 }, waitFor, tick)

	// The loop is blocked in a one-hour block wait; pause must wake it.
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.sub.Pause(ctx))
	assert.False(t, f.sub.IsRunning())

	current, suggested := f.sub.anchors()
	assert.Empty(t, current)
	assert.Empty(t, suggested)

	// Pausing twice is harmless.
	require.NoError(t, f.sub.Pause(ctx))
}

func TestPause_RereadsPollingMethod(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})
	require.NoError(t, f.sub.Start())

	f.handle.SetPollingMethod(model.PollingMethodReliable)
	require.NoError(t, f.sub.Pause(context.Background()))
	assert.Equal(t, model.PollingMethodReliable, f.sub.PollingMethod())
}

func TestStartAfterPause_Resumes(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: 5 * time.Millisecond})
	require.NoError(t, f.sub.Start())
	require.NoError(t, f.sub.Start())
	require.Eventually(t, func() bool { return f.handle.Refreshes() >= 1 }, waitFor, tick)

	require.NoError(t, f.sub.Pause(context.Background()))
	paused := f.handle.Refreshes()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, paused, f.handle.Refreshes())

	require.NoError(t, f.sub.Start())
	require.Eventually(t, func() bool { return f.handle.Refreshes() > paused }, waitFor, tick)
}

func TestStop_ReleasesOnceAndRejectsFurtherUse(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: 5 * time.Millisecond})
	require.NoError(t, f.sub.Start())

	ctx := context.Background()
	require.NoError(t, f.sub.Stop(ctx))
	assert.Equal(t, 1, f.handle.Released())

	assert.ErrorIs(t, f.sub.Stop(ctx), ErrClosed)
	assert.ErrorIs(t, f.sub.Start(), ErrClosed)
	assert.ErrorIs(t, f.sub.PrepareReliablePolling(ctx), ErrClosed)
	err := f.sub.Use(ctx, func(context.Context, ledger.ContractHandle) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, apperror.ErrResourceUnavailable)
	assert.Equal(t, 1, f.handle.Released())

	// The lease went back with the handle.
	require.NoError(t, f.lc.Close())
	assert.Equal(t, 1, f.conn.Closed())
}

func TestUse_LockTimeout(t *testing.T) {
	f := newFixture(t, Config{PollingInterval: time.Hour})

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = f.sub.Use(context.Background(), func(context.Context, ledger.ContractHandle) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := f.sub.Use(ctx, func(context.Context, ledger.ContractHandle) error { return nil })
	assert.ErrorIs(t, err, apperror.ErrResourceUnavailable)
	close(hold)
}
