package tabs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/emperorhan/wallet-runtime/internal/metrics"
	"github.com/emperorhan/wallet-runtime/internal/pending"
	"github.com/emperorhan/wallet-runtime/internal/subscription"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	owner = "tab"

	channelState        = "state"
	channelTransactions = "transactions"

	evictTimeout = 30 * time.Second
)

// Notifier receives events routed to one tab.
type Notifier interface {
	NotifyState(tab model.TabID, addr model.Address, state model.ContractState)
	NotifyTransactions(tab model.TabID, addr model.Address, txs []model.Transaction, info model.TransactionsBatchInfo)
}

// Controller shares contract subscriptions between tabs. A subscription for
// an address lives while at least one tab wants one of its channels or a
// message sent through it is still pending.
type Controller struct {
	conns    subscription.ConnectionProvider
	subCfg   subscription.Config
	logger   *slog.Logger
	notifier Notifier
	registry *pending.Registry

	// lock serializes subscribe, unsubscribe and eviction.
	lock *semaphore.Weighted

	// mu guards the maps below for readers that must not wait on lock,
	// such as event routing from inside a subscription.
	mu       sync.RWMutex
	subs     map[model.Address]*subscription.Subscription
	tabs     map[model.TabID]map[model.Address]model.ChannelFlags
	addrTabs map[model.Address]map[model.TabID]struct{}
}

// New creates a controller routing events to notifier.
func New(conns subscription.ConnectionProvider, subCfg subscription.Config, notifier Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	subCfg.Owner = owner
	c := &Controller{
		conns:    conns,
		subCfg:   subCfg,
		logger:   logger.With("component", "tabs"),
		notifier: notifier,
		registry: pending.NewRegistry(owner, logger),
		lock:     semaphore.NewWeighted(1),
		subs:     make(map[model.Address]*subscription.Subscription),
		tabs:     make(map[model.TabID]map[model.Address]model.ChannelFlags),
		addrTabs: make(map[model.Address]map[model.TabID]struct{}),
	}
	c.registry.OnSettled(c.scheduleEviction)
	return c
}

type tabListener struct {
	address    model.Address
	controller *Controller
}

func (l *tabListener) OnStateChanged(addr model.Address, state model.ContractState) {
	l.controller.route(addr, func(f model.ChannelFlags) bool { return f.State }, channelState, func(tab model.TabID) {
		l.controller.notifier.NotifyState(tab, addr, state)
	})
}

func (l *tabListener) OnTransactionsFound(addr model.Address, txs []model.Transaction, info model.TransactionsBatchInfo) {
	l.controller.route(addr, func(f model.ChannelFlags) bool { return f.Transactions }, channelTransactions, func(tab model.TabID) {
		l.controller.notifier.NotifyTransactions(tab, addr, txs, info)
	})
}

func (l *tabListener) OnMessageSent(addr model.Address, p model.PendingTransaction, tx *model.Transaction) {
	l.controller.registry.Resolve(addr, p.MessageHash, tx)
}

func (l *tabListener) OnMessageExpired(addr model.Address, p model.PendingTransaction) {
	l.controller.registry.Reject(addr, p.MessageHash, pending.ErrExpired)
}

// Subscribe merges update into the tab's channels for addr and returns the
// resulting flags. Clearing both channels unsubscribes the tab.
func (c *Controller) Subscribe(ctx context.Context, tab model.TabID, addr model.Address, update model.ChannelUpdate) (model.ChannelFlags, error) {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return model.ChannelFlags{}, apperror.ResourceUnavailable("timed out waiting for tabs lock", err)
	}
	defer c.lock.Release(1)

	c.mu.RLock()
	current := c.tabs[tab][addr]
	_, subscribed := c.subs[addr]
	c.mu.RUnlock()

	flags := update.Apply(current)
	if !flags.Any() {
		return flags, c.unsubscribeLocked(ctx, tab, addr)
	}

	// The tab is registered first so it receives the initial state
	// emitted while the subscription is created.
	c.mu.Lock()
	if c.tabs[tab] == nil {
		c.tabs[tab] = make(map[model.Address]model.ChannelFlags)
	}
	c.tabs[tab][addr] = flags
	if c.addrTabs[addr] == nil {
		c.addrTabs[addr] = make(map[model.TabID]struct{})
	}
	c.addrTabs[addr][tab] = struct{}{}
	c.updateGaugeLocked()
	c.mu.Unlock()

	if subscribed {
		if flags.State && !current.State {
			c.pushState(ctx, tab, addr)
		}
		return flags, nil
	}

	sub, err := subscription.Subscribe(ctx, c.conns, addr, &tabListener{address: addr, controller: c}, c.subCfg, c.logger)
	if err == nil {
		if err = sub.Start(); err != nil {
			_ = sub.Stop(ctx)
		}
	}
	if err != nil {
		c.mu.Lock()
		c.removeTabLocked(tab, addr)
		c.mu.Unlock()
		return current, err
	}

	c.mu.Lock()
	c.subs[addr] = sub
	c.mu.Unlock()
	c.logger.Debug("contract subscription created", "address", addr, "tab", tab)
	return flags, nil
}

// Unsubscribe removes the tab's interest in addr.
func (c *Controller) Unsubscribe(ctx context.Context, tab model.TabID, addr model.Address) error {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for tabs lock", err)
	}
	defer c.lock.Release(1)
	return c.unsubscribeLocked(ctx, tab, addr)
}

// UnsubscribeFromAllContracts removes every subscription of tab.
func (c *Controller) UnsubscribeFromAllContracts(ctx context.Context, tab model.TabID) error {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for tabs lock", err)
	}
	defer c.lock.Release(1)

	c.mu.RLock()
	addrs := make([]model.Address, 0, len(c.tabs[tab]))
	for addr := range c.tabs[tab] {
		addrs = append(addrs, addr)
	}
	c.mu.RUnlock()

	var errs []error
	for _, addr := range addrs {
		if err := c.unsubscribeLocked(ctx, tab, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendMessage sends msg through the tab subscription of addr. The address
// must already be subscribed by some tab.
func (c *Controller) SendMessage(ctx context.Context, addr model.Address, msg model.SignedMessage) (*pending.Future, error) {
	c.mu.RLock()
	sub, ok := c.subs[addr]
	c.mu.RUnlock()
	if !ok {
		return nil, apperror.ResourceUnavailable("no subscription for address "+addr.String(), nil)
	}

	future, err := c.registry.Register(addr, msg.Hash)
	if err != nil {
		return nil, err
	}
	if err := sub.PrepareReliablePolling(ctx); err != nil {
		c.logger.Warn("failed to prepare reliable polling", "address", addr, "error", err)
	}
	err = sub.Use(ctx, func(ctx context.Context, h ledger.ContractHandle) error {
		_, err := h.SendMessage(ctx, msg)
		return err
	})
	if err != nil {
		sendErr := apperror.ResourceUnavailable("failed to send message", err)
		c.registry.Reject(addr, msg.Hash, sendErr)
		return nil, sendErr
	}
	sub.SkipRefreshTimer()
	return future, nil
}

// StopSubscriptions rejects outstanding messages, stops every subscription
// and forgets all tab preferences.
func (c *Controller) StopSubscriptions(ctx context.Context) error {
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for tabs lock", err)
	}
	c.registry.RejectAll(pending.ErrTeardown)

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[model.Address]*subscription.Subscription)
	c.tabs = make(map[model.TabID]map[model.Address]model.ChannelFlags)
	c.addrTabs = make(map[model.Address]map[model.TabID]struct{})
	c.updateGaugeLocked()
	c.mu.Unlock()

	var errMu sync.Mutex
	var errs []error
	var g errgroup.Group
	for addr, sub := range subs {
		addr, sub := addr, sub
		g.Go(func() error {
			if err := sub.Stop(ctx); err != nil && !errors.Is(err, subscription.ErrClosed) {
				c.logger.Warn("failed to stop tab subscription", "address", addr, "error", err)
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	c.lock.Release(1)
	return errors.Join(errs...)
}

// Subscriptions returns the channels tab subscribed to, per address.
func (c *Controller) Subscriptions(tab model.TabID) map[model.Address]model.ChannelFlags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[model.Address]model.ChannelFlags, len(c.tabs[tab]))
	for addr, flags := range c.tabs[tab] {
		out[addr] = flags
	}
	return out
}

// HasSubscription reports whether a contract subscription exists for addr.
func (c *Controller) HasSubscription(addr model.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[addr]
	return ok
}

// Addresses returns every address with a live subscription, sorted.
func (c *Controller) Addresses() []model.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Address, 0, len(c.subs))
	for addr := range c.subs {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// unsubscribeLocked must be called with lock held.
func (c *Controller) unsubscribeLocked(ctx context.Context, tab model.TabID, addr model.Address) error {
	c.mu.Lock()
	c.removeTabLocked(tab, addr)
	c.mu.Unlock()

	return c.evictLocked(ctx, addr)
}

// removeTabLocked must be called with mu held.
func (c *Controller) removeTabLocked(tab model.TabID, addr model.Address) {
	if entries, ok := c.tabs[tab]; ok {
		delete(entries, addr)
		if len(entries) == 0 {
			delete(c.tabs, tab)
		}
	}
	if tabs, ok := c.addrTabs[addr]; ok {
		delete(tabs, tab)
		if len(tabs) == 0 {
			delete(c.addrTabs, addr)
		}
	}
	c.updateGaugeLocked()
}

// evictLocked stops the subscription of addr when no tab wants it and no
// message sent through it is pending. It must be called with lock held.
func (c *Controller) evictLocked(ctx context.Context, addr model.Address) error {
	c.mu.Lock()
	sub, ok := c.subs[addr]
	interested := len(c.addrTabs[addr]) > 0
	if !ok || interested || c.registry.HasPending(addr) {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, addr)
	c.mu.Unlock()

	c.logger.Debug("evicting contract subscription", "address", addr)
	err := sub.Stop(ctx)
	// A send racing the eviction may have registered after the check above.
	c.registry.RejectAddress(addr, pending.ErrTeardown)
	if err != nil && !errors.Is(err, subscription.ErrClosed) {
		return err
	}
	return nil
}

// scheduleEviction runs after a message settles. Settlement usually happens
// inside the subscription's own update, so the eviction cannot stop the
// subscription synchronously.
func (c *Controller) scheduleEviction(addr model.Address) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
		defer cancel()
		if err := c.lock.Acquire(ctx, 1); err != nil {
			c.logger.Warn("skipped eviction after settlement", "address", addr, "error", err)
			return
		}
		defer c.lock.Release(1)
		if err := c.evictLocked(ctx, addr); err != nil {
			c.logger.Warn("failed to evict contract subscription", "address", addr, "error", err)
		}
	}()
}

// pushState sends the current contract state to a tab that just enabled
// the state channel.
func (c *Controller) pushState(ctx context.Context, tab model.TabID, addr model.Address) {
	c.mu.RLock()
	sub, ok := c.subs[addr]
	c.mu.RUnlock()
	if !ok || c.notifier == nil {
		return
	}
	state, err := subscription.UseValue(ctx, sub, func(_ context.Context, h ledger.ContractHandle) (model.ContractState, error) {
		return h.State(), nil
	})
	if err != nil {
		c.logger.Warn("failed to read contract state", "address", addr, "error", err)
		return
	}
	c.notifier.NotifyState(tab, addr, state)
	metrics.TabNotificationsTotal.WithLabelValues(channelState).Inc()
}

func (c *Controller) route(addr model.Address, wants func(model.ChannelFlags) bool, channel string, deliver func(model.TabID)) {
	if c.notifier == nil {
		return
	}
	c.mu.RLock()
	targets := make([]model.TabID, 0, len(c.addrTabs[addr]))
	for tab := range c.addrTabs[addr] {
		if wants(c.tabs[tab][addr]) {
			targets = append(targets, tab)
		}
	}
	c.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	for _, tab := range targets {
		deliver(tab)
		metrics.TabNotificationsTotal.WithLabelValues(channel).Inc()
	}
}

// updateGaugeLocked must be called with mu held.
func (c *Controller) updateGaugeLocked() {
	n := 0
	for _, entries := range c.tabs {
		n += len(entries)
	}
	metrics.TabSubscriptions.Set(float64(n))
}
