package controller

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/account"
	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/connection"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/emperorhan/wallet-runtime/internal/metrics"
	"github.com/emperorhan/wallet-runtime/internal/pending"
	"github.com/emperorhan/wallet-runtime/internal/store"
	"github.com/emperorhan/wallet-runtime/internal/subscription"
	"github.com/emperorhan/wallet-runtime/internal/tabs"
	"github.com/emperorhan/wallet-runtime/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

const (
	tracerName = "wallet-runtime/controller"

	resumeTimeout = 30 * time.Second

	DefaultBroadcastDebounce = 200 * time.Millisecond
)

// Config holds the defaults used when nothing is persisted yet.
type Config struct {
	Network           model.NetworkParams
	Accounts          []model.Address
	Subscription      subscription.Config
	BroadcastDebounce time.Duration
}

// Port is one connected UI. A port belongs to exactly one tab; several
// ports may share a tab. Send methods must not block.
type Port interface {
	Tab() model.TabID
	SendState(State)
	SendNotification(Notification)
}

// State is the snapshot broadcast to every connected port.
type State struct {
	Network  model.NetworkParams `json:"network"`
	Accounts []account.Snapshot  `json:"accounts"`
	Watched  []model.Address     `json:"watched"`
	Ports    int                 `json:"ports"`
}

const (
	NotificationState        = "state"
	NotificationTransactions = "transactions"
)

// Notification is a per-tab contract event.
type Notification struct {
	Kind         string                       `json:"kind"`
	Address      model.Address                `json:"address"`
	State        *model.ContractState         `json:"state,omitempty"`
	Transactions []model.Transaction          `json:"transactions,omitempty"`
	BatchInfo    *model.TransactionsBatchInfo `json:"batch_info,omitempty"`
}

// Controller composes the connection lifecycle, the account and tab
// controllers, and the connected UI ports.
type Controller struct {
	cfg      Config
	kv       store.KV
	lc       *connection.Lifecycle
	accounts *account.Controller
	tabs     *tabs.Controller
	logger   *slog.Logger

	// switchLock serializes network switches against log-out.
	switchLock *semaphore.Weighted
	changed    chan struct{}

	mu    sync.RWMutex
	ports map[uuid.UUID]Port
}

// New restores the persisted network selection and connects to it.
func New(ctx context.Context, cfg Config, connector ledger.Connector, kv store.KV, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BroadcastDebounce <= 0 {
		cfg.BroadcastDebounce = DefaultBroadcastDebounce
	}
	logger = logger.With("component", "controller")

	params := cfg.Network
	saved, ok, err := store.GetJSON[model.NetworkParams](ctx, kv, store.KeySelectedNetwork)
	switch {
	case err != nil:
		logger.Warn("failed to load selected network, using default", "error", err)
	case ok:
		params = saved
	}

	lc, err := connection.New(ctx, connector, params, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", params.Key(), err)
	}

	c := &Controller{
		cfg:        cfg,
		kv:         kv,
		lc:         lc,
		logger:     logger,
		switchLock: semaphore.NewWeighted(1),
		changed:    make(chan struct{}, 1),
		ports:      make(map[uuid.UUID]Port),
	}
	c.accounts = account.New(lc, cfg.Subscription, logger, c.markChanged)
	c.tabs = tabs.New(lc, cfg.Subscription, c, logger)
	lc.OnSwitch(func(model.NetworkParams) { c.markChanged() })
	return c, nil
}

// Start subscribes the persisted accounts, or the configured ones when
// nothing is persisted. A failing account is logged and retried lazily on
// its next use.
func (c *Controller) Start(ctx context.Context) error {
	addrs := c.cfg.Accounts
	saved, ok, err := store.GetJSON[[]model.Address](ctx, c.kv, store.KeyAccounts)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if ok {
		addrs = saved
	}
	if err := c.accounts.StartSubscriptions(ctx, addrs); err != nil {
		c.logger.Warn("some account subscriptions failed to start", "error", err)
	}
	c.logger.Info("controller started", "network", c.lc.Params().Key(), "accounts", len(addrs))
	c.markChanged()
	return nil
}

// Run broadcasts debounced state snapshots until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.BroadcastDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	armed := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.changed:
			if !armed {
				timer.Reset(c.cfg.BroadcastDebounce)
				armed = true
			}
		case <-timer.C:
			armed = false
			c.broadcast()
		}
	}
}

// Close stops every subscription and the active connection.
func (c *Controller) Close(ctx context.Context) error {
	accErr := c.accounts.StopSubscriptions(ctx)
	tabErr := c.tabs.StopSubscriptions(ctx)
	lcErr := c.lc.Close()
	for _, err := range []error{accErr, tabErr, lcErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// ConnectPort registers a UI port and sends it the current state.
func (c *Controller) ConnectPort(port Port) uuid.UUID {
	id := uuid.New()
	c.mu.Lock()
	c.ports[id] = port
	n := len(c.ports)
	c.mu.Unlock()

	metrics.PortsConnected.Set(float64(n))
	c.logger.Debug("port connected", "port", id, "tab", port.Tab())
	port.SendState(c.Snapshot())
	return id
}

// DisconnectPort forgets a port. When it was the last port of its tab, the
// tab's contract subscriptions are dropped.
func (c *Controller) DisconnectPort(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	port, ok := c.ports[id]
	delete(c.ports, id)
	n := len(c.ports)
	lastOfTab := ok
	if ok {
		for _, p := range c.ports {
			if p.Tab() == port.Tab() {
				lastOfTab = false
				break
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.PortsConnected.Set(float64(n))
	c.logger.Debug("port disconnected", "port", id, "tab", port.Tab())
	if !lastOfTab {
		return nil
	}
	return c.tabs.UnsubscribeFromAllContracts(ctx, port.Tab())
}

// Subscribe changes the channels the port's tab watches on addr.
func (c *Controller) Subscribe(ctx context.Context, id uuid.UUID, addr model.Address, update model.ChannelUpdate) (model.ChannelFlags, error) {
	tab, err := c.tabOf(id)
	if err != nil {
		return model.ChannelFlags{}, err
	}
	flags, err := c.tabs.Subscribe(ctx, tab, addr, update)
	if err == nil {
		c.markChanged()
	}
	return flags, err
}

func (c *Controller) Unsubscribe(ctx context.Context, id uuid.UUID, addr model.Address) error {
	tab, err := c.tabOf(id)
	if err != nil {
		return err
	}
	err = c.tabs.Unsubscribe(ctx, tab, addr)
	c.markChanged()
	return err
}

// SendMessage sends from a managed account when addr is one, otherwise
// through the tab subscription watching addr.
func (c *Controller) SendMessage(ctx context.Context, addr model.Address, msg model.SignedMessage) (*pending.Future, error) {
	ctx, span := tracing.StartAddressSpan(ctx, tracerName, "controller.SendMessage", addr.String())
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	var future *pending.Future
	if slices.Contains(c.accounts.Accounts(), addr) {
		future, err = c.accounts.SendMessage(ctx, addr, msg)
	} else {
		future, err = c.tabs.SendMessage(ctx, addr, msg)
	}
	if err == nil {
		c.markChanged()
	}
	return future, err
}

func (c *Controller) EstimateFees(ctx context.Context, addr model.Address, msg model.SignedMessage) (string, error) {
	return c.accounts.EstimateFees(ctx, addr, msg)
}

func (c *Controller) PrepareMessage(ctx context.Context, addr model.Address, req model.MessageRequest) (model.UnsignedMessage, error) {
	return c.accounts.PrepareMessage(ctx, addr, req)
}

// AddAccount starts managing addr and persists the account list.
func (c *Controller) AddAccount(ctx context.Context, addr model.Address) error {
	if err := c.accounts.AddAccount(ctx, addr); err != nil {
		return err
	}
	return c.saveAccounts(ctx)
}

// RemoveAccount stops managing addr and persists the account list.
func (c *Controller) RemoveAccount(ctx context.Context, addr model.Address) error {
	if err := c.accounts.RemoveAccount(ctx, addr); err != nil {
		return err
	}
	return c.saveAccounts(ctx)
}

// SwitchNetwork tears down every subscription, switches the connection and
// resumes the managed accounts on the new network. Outstanding messages are
// rejected. On failure the accounts are resumed on the previous network.
func (c *Controller) SwitchNetwork(ctx context.Context, params model.NetworkParams) (err error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "controller.SwitchNetwork")
	span.SetAttributes(attribute.String("wallet.network", params.Key()))
	defer func() { tracing.EndSpan(span, err) }()

	if err := c.switchLock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("network switch already in progress", err)
	}
	defer c.switchLock.Release(1)
	defer c.markChanged()

	from := c.lc.Params()
	if from == params {
		return nil
	}

	addrs := c.accounts.Accounts()
	if err := c.accounts.StopSubscriptions(ctx); err != nil {
		c.resumeAccounts(ctx, from, addrs)
		return fmt.Errorf("stop account subscriptions: %w", err)
	}
	if err := c.tabs.StopSubscriptions(ctx); err != nil {
		c.resumeAccounts(ctx, from, addrs)
		return fmt.Errorf("stop tab subscriptions: %w", err)
	}

	if err := c.lc.SwitchNetwork(ctx, params); err != nil {
		c.resumeAccounts(ctx, from, addrs)
		return err
	}

	if err := store.SetJSON(ctx, c.kv, store.KeySelectedNetwork, params); err != nil {
		c.logger.Warn("failed to persist selected network", "network", params.Key(), "error", err)
	}
	if err := c.accounts.StartSubscriptions(ctx, addrs); err != nil {
		c.logger.Warn("some account subscriptions failed to start", "network", params.Key(), "error", err)
	}
	c.logger.Info("network switched", "from", from.Key(), "to", params.Key())
	return nil
}

// resumeAccounts restarts account subscriptions on the still active network
// after an aborted switch. ctx may already be done after a timeout.
func (c *Controller) resumeAccounts(ctx context.Context, network model.NetworkParams, addrs []model.Address) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resumeTimeout)
	defer cancel()
	if err := c.accounts.StartSubscriptions(ctx, addrs); err != nil {
		c.logger.Warn("failed to resume accounts on previous network", "network", network.Key(), "error", err)
	}
}

// LogOut rejects every outstanding message, drops all subscriptions and
// forgets the accounts.
func (c *Controller) LogOut(ctx context.Context) error {
	if err := c.switchLock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("network switch in progress", err)
	}
	defer c.switchLock.Release(1)
	defer c.markChanged()

	accErr := c.accounts.LogOut(ctx)
	tabErr := c.tabs.StopSubscriptions(ctx)
	if err := c.kv.Delete(ctx, store.KeyAccounts); err != nil {
		return fmt.Errorf("forget accounts: %w", err)
	}
	if accErr != nil {
		return accErr
	}
	return tabErr
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	ports := len(c.ports)
	c.mu.RUnlock()
	return State{
		Network:  c.lc.Params(),
		Accounts: c.accounts.Snapshot(),
		Watched:  c.tabs.Addresses(),
		Ports:    ports,
	}
}

// NotifyState implements tabs.Notifier.
func (c *Controller) NotifyState(tab model.TabID, addr model.Address, state model.ContractState) {
	c.notify(tab, Notification{Kind: NotificationState, Address: addr, State: &state})
}

// NotifyTransactions implements tabs.Notifier.
func (c *Controller) NotifyTransactions(tab model.TabID, addr model.Address, txs []model.Transaction, info model.TransactionsBatchInfo) {
	c.notify(tab, Notification{Kind: NotificationTransactions, Address: addr, Transactions: txs, BatchInfo: &info})
}

func (c *Controller) notify(tab model.TabID, n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.ports {
		if p.Tab() == tab {
			p.SendNotification(n)
		}
	}
}

func (c *Controller) broadcast() {
	state := c.Snapshot()
	c.mu.RLock()
	ports := make([]Port, 0, len(c.ports))
	for _, p := range c.ports {
		ports = append(ports, p)
	}
	c.mu.RUnlock()

	for _, p := range ports {
		p.SendState(state)
	}
	metrics.StateBroadcastsTotal.Inc()
}

func (c *Controller) markChanged() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Controller) tabOf(id uuid.UUID) (model.TabID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	port, ok := c.ports[id]
	if !ok {
		return 0, apperror.InvalidRequest("unknown port "+id.String(), nil)
	}
	return port.Tab(), nil
}

func (c *Controller) saveAccounts(ctx context.Context) error {
	if err := store.SetJSON(ctx, c.kv, store.KeyAccounts, c.accounts.Accounts()); err != nil {
		return fmt.Errorf("persist accounts: %w", err)
	}
	c.markChanged()
	return nil
}
