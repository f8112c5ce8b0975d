package tabs

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/connection"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger/ledgertest"
	"github.com/emperorhan/wallet-runtime/internal/pending"
	"github.com/emperorhan/wallet-runtime/internal/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrX   = model.Address("0:1010101010101010101010101010101010101010101010101010101010101010")
	addrY   = model.Address("0:2020202020202020202020202020202020202020202020202020202020202020")
	tabA    = model.TabID(1)
	tabB    = model.TabID(2)
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var mainnet = model.NetworkParams{Name: "mainnet", Group: "ton"}

type event struct {
	tab     model.TabID
	addr    model.Address
	channel string
	balance string
	txs     int
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *recordingNotifier) NotifyState(tab model.TabID, addr model.Address, state model.ContractState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{tab: tab, addr: addr, channel: channelState, balance: state.Balance})
}

func (n *recordingNotifier) NotifyTransactions(tab model.TabID, addr model.Address, txs []model.Transaction, _ model.TransactionsBatchInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{tab: tab, addr: addr, channel: channelTransactions, txs: len(txs)})
}

func (n *recordingNotifier) forTab(tab model.TabID) []event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event
	for _, e := range n.events {
		if e.tab == tab {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	ctrl     *Controller
	conn     *ledgertest.Connection
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	connector := ledgertest.NewConnector()
	lc, err := connection.New(context.Background(), connector, mainnet, slog.Default())
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	ctrl := New(lc, subscription.Config{PollingInterval: time.Hour, NextBlockTimeout: time.Hour}, notifier, slog.Default())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = ctrl.StopSubscriptions(ctx)
		_ = lc.Close()
	})
	return &fixture{ctrl: ctrl, conn: connector.Conn(mainnet), notifier: notifier}
}

func ptr(v bool) *bool { return &v }

// poke wakes the polling loop of addr so queued handle events are delivered.
func (f *fixture) poke(t *testing.T, addr model.Address) {
	t.Helper()
	f.ctrl.mu.RLock()
	sub, ok := f.ctrl.subs[addr]
	f.ctrl.mu.RUnlock()
	require.True(t, ok)
	sub.SkipRefreshTimer()
}

func TestScenario_RoutesPerChannelAndEvictsOnLastTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flags, err := f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{State: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelFlags{State: true}, flags)

	flags, err = f.ctrl.Subscribe(ctx, tabB, addrX, model.ChannelUpdate{Transactions: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelFlags{Transactions: true}, flags)

	handle := f.conn.Handle(addrX)
	require.NotNil(t, handle)
	handle.QueueBalance("500")
	handle.QueueTransaction("tx-1")
	f.poke(t, addrX)

	require.Eventually(t, func() bool { return len(f.notifier.forTab(tabB)) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(f.notifier.forTab(tabA)) == 2 }, waitFor, tick)

	for _, e := range f.notifier.forTab(tabA) {
		assert.Equal(t, channelState, e.channel)
	}
	assert.Equal(t, "500", f.notifier.forTab(tabA)[1].balance)
	assert.Equal(t, channelTransactions, f.notifier.forTab(tabB)[0].channel)

	require.NoError(t, f.ctrl.Unsubscribe(ctx, tabA, addrX))
	assert.True(t, f.ctrl.HasSubscription(addrX))
	assert.Zero(t, handle.Released())

	require.NoError(t, f.ctrl.Unsubscribe(ctx, tabB, addrX))
	assert.False(t, f.ctrl.HasSubscription(addrX))
	assert.Equal(t, 1, handle.Released())
}

func TestSubscribe_MergesPartialUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flags, err := f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{State: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelFlags{State: true}, flags)

	flags, err = f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{Transactions: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelFlags{State: true, Transactions: true}, flags)

	flags, err = f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{State: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelFlags{Transactions: true}, flags)
	assert.True(t, f.ctrl.HasSubscription(addrX))

	flags, err = f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{Transactions: ptr(false)})
	require.NoError(t, err)
	assert.False(t, flags.Any())
	assert.False(t, f.ctrl.HasSubscription(addrX))
	assert.Empty(t, f.ctrl.Subscriptions(tabA))
}

func TestSubscribe_SecondTabGetsCurrentState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{Transactions: ptr(true)})
	require.NoError(t, err)
	assert.Empty(t, f.notifier.forTab(tabA))

	_, err = f.ctrl.Subscribe(ctx, tabB, addrX, model.ChannelUpdate{State: ptr(true)})
	require.NoError(t, err)
	events := f.notifier.forTab(tabB)
	require.Len(t, events, 1)
	assert.Equal(t, "0", events[0].balance)
}

func TestSubscribe_FailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.conn.SetSubscribeError(errors.New("lite server error: not ready"))

	_, err := f.ctrl.Subscribe(context.Background(), tabA, addrX, model.ChannelUpdate{State: ptr(true)})
	require.Error(t, err)
	assert.False(t, f.ctrl.HasSubscription(addrX))
	assert.Empty(t, f.ctrl.Subscriptions(tabA))
}

func TestUnsubscribeFromAllContracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	all := model.ChannelUpdate{State: ptr(true), Transactions: ptr(true)}

	_, err := f.ctrl.Subscribe(ctx, tabA, addrX, all)
	require.NoError(t, err)
	_, err = f.ctrl.Subscribe(ctx, tabA, addrY, all)
	require.NoError(t, err)
	_, err = f.ctrl.Subscribe(ctx, tabB, addrY, model.ChannelUpdate{State: ptr(true)})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.UnsubscribeFromAllContracts(ctx, tabA))
	assert.Empty(t, f.ctrl.Subscriptions(tabA))
	assert.False(t, f.ctrl.HasSubscription(addrX))
	assert.True(t, f.ctrl.HasSubscription(addrY))
	assert.Equal(t, []model.Address{addrY}, f.ctrl.Addresses())
}

func TestRefcountEviction_RandomInterleavings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addrs := []model.Address{addrX, addrY}

	var wg sync.WaitGroup
	for tab := model.TabID(1); tab <= 6; tab++ {
		wg.Add(1)
		go func(tab model.TabID) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(tab)))
			for i := 0; i < 25; i++ {
				addr := addrs[rng.Intn(len(addrs))]
				update := model.ChannelUpdate{State: ptr(rng.Intn(2) == 0), Transactions: ptr(rng.Intn(3) == 0)}
				_, err := f.ctrl.Subscribe(ctx, tab, addr, update)
				assert.NoError(t, err)
			}
		}(tab)
	}
	wg.Wait()

	for _, addr := range addrs {
		wanted := false
		for tab := model.TabID(1); tab <= 6; tab++ {
			if f.ctrl.Subscriptions(tab)[addr].Any() {
				wanted = true
			}
		}
		assert.Equal(t, wanted, f.ctrl.HasSubscription(addr), "address %s", addr)
		assert.Equal(t, wanted, f.conn.Handle(addr) != nil, "address %s", addr)
	}
}

func TestPendingMessageKeepsSubscriptionAlive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{State: ptr(true)})
	require.NoError(t, err)
	handle := f.conn.Handle(addrX)

	future, err := f.ctrl.SendMessage(ctx, addrX, model.SignedMessage{Hash: "msg-1", BOC: []byte{1}})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Unsubscribe(ctx, tabA, addrX))
	assert.True(t, f.ctrl.HasSubscription(addrX), "pending message keeps the subscription")

	handle.QueueSettle("msg-1", false)
	f.conn.Advance()

	waitCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	tx, err := future.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", tx.InMessageHash)

	require.Eventually(t, func() bool { return !f.ctrl.HasSubscription(addrX) }, waitFor, tick)
	require.Eventually(t, func() bool { return handle.Released() == 1 }, waitFor, tick)
}

func TestSendMessage_RequiresSubscription(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.SendMessage(context.Background(), addrX, model.SignedMessage{Hash: "msg-1"})
	assert.ErrorIs(t, err, apperror.ErrResourceUnavailable)
}

func TestStopSubscriptions_RejectsAndClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.Subscribe(ctx, tabA, addrX, model.ChannelUpdate{State: ptr(true)})
	require.NoError(t, err)
	handle := f.conn.Handle(addrX)
	future, err := f.ctrl.SendMessage(ctx, addrX, model.SignedMessage{Hash: "msg-1", BOC: []byte{1}})
	require.NoError(t, err)

	require.NoError(t, f.ctrl.StopSubscriptions(ctx))

	_, err = future.Wait(ctx)
	assert.ErrorIs(t, err, pending.ErrTeardown)
	assert.False(t, f.ctrl.HasSubscription(addrX))
	assert.Empty(t, f.ctrl.Subscriptions(tabA))
	assert.Equal(t, 1, handle.Released())
}
