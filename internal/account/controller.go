package account

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/emperorhan/wallet-runtime/internal/pending"
	"github.com/emperorhan/wallet-runtime/internal/subscription"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	owner = "account"

	// MaxRecentTransactions bounds the per-account transaction list kept for snapshots.
	MaxRecentTransactions = 50

	startConcurrency = 8
)

// Snapshot is the UI-facing view of one account.
type Snapshot struct {
	Address       model.Address       `json:"address"`
	State         model.ContractState `json:"state"`
	Transactions  []model.Transaction `json:"transactions"`
	Pending       []string            `json:"pending"`
	PollingMethod model.PollingMethod `json:"polling_method"`
	Subscribed    bool                `json:"subscribed"`
}

type accountData struct {
	state model.ContractState
	txs   []model.Transaction
}

// Controller keeps the wallet's own accounts subscribed and sends their
// messages.
type Controller struct {
	conns    subscription.ConnectionProvider
	subCfg   subscription.Config
	logger   *slog.Logger
	registry *pending.Registry
	onChange func()

	// subsLock serializes subscription creation and teardown.
	subsLock *semaphore.Weighted

	// beforeStop runs between the first reject and the subscription stop.
	beforeStop func()

	mu      sync.Mutex
	managed map[model.Address]struct{}
	subs    map[model.Address]*subscription.Subscription
	data    map[model.Address]*accountData
}

// New creates a controller. onChange, if set, is called after any account
// state, transaction list or pending set changes; it must not block.
func New(conns subscription.ConnectionProvider, subCfg subscription.Config, logger *slog.Logger, onChange func()) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if onChange == nil {
		onChange = func() {}
	}
	subCfg.Owner = owner
	c := &Controller{
		conns:    conns,
		subCfg:   subCfg,
		logger:   logger.With("component", "account"),
		registry: pending.NewRegistry(owner, logger),
		onChange: onChange,
		subsLock: semaphore.NewWeighted(1),
		managed:  make(map[model.Address]struct{}),
		subs:     make(map[model.Address]*subscription.Subscription),
		data:     make(map[model.Address]*accountData),
	}
	c.registry.OnSettled(func(model.Address) { c.onChange() })
	return c
}

// accountListener routes subscription events of one address back to the controller.
type accountListener struct {
	address    model.Address
	controller *Controller
}

func (l *accountListener) OnStateChanged(addr model.Address, state model.ContractState) {
	l.controller.setState(addr, state)
}

func (l *accountListener) OnTransactionsFound(addr model.Address, txs []model.Transaction, _ model.TransactionsBatchInfo) {
	l.controller.addTransactions(addr, txs)
}

func (l *accountListener) OnMessageSent(addr model.Address, p model.PendingTransaction, tx *model.Transaction) {
	l.controller.registry.Resolve(addr, p.MessageHash, tx)
}

func (l *accountListener) OnMessageExpired(addr model.Address, p model.PendingTransaction) {
	l.controller.registry.Reject(addr, p.MessageHash, pending.ErrExpired)
}

// Accounts returns the managed addresses, sorted.
func (c *Controller) Accounts() []model.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Address, 0, len(c.managed))
	for addr := range c.managed {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StartSubscriptions marks addrs as managed and makes sure each one has a
// running subscription. Failures for one address do not stop the others;
// the first error is returned.
func (c *Controller) StartSubscriptions(ctx context.Context, addrs []model.Address) error {
	c.mu.Lock()
	for _, addr := range addrs {
		c.managed[addr] = struct{}{}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(startConcurrency)
	var errMu sync.Mutex
	var errs []error
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			if _, err := c.ensureSubscription(gctx, addr); err != nil {
				c.logger.Warn("failed to start account subscription", "address", addr, "error", err)
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	c.logger.Info("account subscriptions started", "count", len(addrs))
	return nil
}

// StopSubscriptions rejects every outstanding message and stops all account
// subscriptions. Managed addresses are kept so StartSubscriptions can resume
// them, e.g. after a network switch.
func (c *Controller) StopSubscriptions(ctx context.Context) error {
	if err := c.subsLock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for subscriptions lock", err)
	}
	defer c.subsLock.Release(1)

	c.registry.RejectAll(pending.ErrTeardown)

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[model.Address]*subscription.Subscription)
	c.data = make(map[model.Address]*accountData)
	c.mu.Unlock()

	if c.beforeStop != nil {
		c.beforeStop()
	}
	err := stopAll(ctx, subs)
	// A send that passed subscriptionFor before the swap may have
	// registered after the first reject.
	c.registry.RejectAll(pending.ErrTeardown)
	c.onChange()
	return err
}

// AddAccount starts managing addr.
func (c *Controller) AddAccount(ctx context.Context, addr model.Address) error {
	c.mu.Lock()
	c.managed[addr] = struct{}{}
	c.mu.Unlock()
	_, err := c.ensureSubscription(ctx, addr)
	return err
}

// RemoveAccount stops managing addr, rejecting its outstanding messages.
func (c *Controller) RemoveAccount(ctx context.Context, addr model.Address) error {
	if err := c.subsLock.Acquire(ctx, 1); err != nil {
		return apperror.ResourceUnavailable("timed out waiting for subscriptions lock", err)
	}
	defer c.subsLock.Release(1)

	c.registry.RejectAddress(addr, pending.ErrTeardown)

	c.mu.Lock()
	delete(c.managed, addr)
	sub := c.subs[addr]
	delete(c.subs, addr)
	delete(c.data, addr)
	c.mu.Unlock()

	if c.beforeStop != nil {
		c.beforeStop()
	}
	var err error
	if sub != nil {
		err = sub.Stop(ctx)
	}
	c.registry.RejectAddress(addr, pending.ErrTeardown)
	c.onChange()
	return err
}

// LogOut stops every subscription and forgets all accounts.
func (c *Controller) LogOut(ctx context.Context) error {
	err := c.StopSubscriptions(ctx)
	c.mu.Lock()
	c.managed = make(map[model.Address]struct{})
	c.mu.Unlock()
	c.logger.Info("logged out")
	return err
}

// SendMessage submits msg from addr and returns a future settling with the
// confirming transaction. A submission failure settles the message at once
// and is returned directly.
func (c *Controller) SendMessage(ctx context.Context, addr model.Address, msg model.SignedMessage) (*pending.Future, error) {
	sub, err := c.subscriptionFor(ctx, addr)
	if err != nil {
		return nil, err
	}

	future, err := c.registry.Register(addr, msg.Hash)
	if err != nil {
		return nil, err
	}
	c.onChange()

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
	c.logger.Info("message sent", "address", addr, "hash", msg.Hash, "expire_at", msg.ExpireAt)
	return future, nil
}

// EstimateFees asks the contract for the fees of msg.
func (c *Controller) EstimateFees(ctx context.Context, addr model.Address, msg model.SignedMessage) (string, error) {
	sub, err := c.subscriptionFor(ctx, addr)
	if err != nil {
		return "", err
	}
	return subscription.UseValue(ctx, sub, func(ctx context.Context, h ledger.ContractHandle) (string, error) {
		return h.EstimateFees(ctx, msg)
	})
}

// PrepareMessage builds an unsigned message from addr.
func (c *Controller) PrepareMessage(ctx context.Context, addr model.Address, req model.MessageRequest) (model.UnsignedMessage, error) {
	sub, err := c.subscriptionFor(ctx, addr)
	if err != nil {
		return model.UnsignedMessage{}, err
	}
	return subscription.UseValue(ctx, sub, func(ctx context.Context, h ledger.ContractHandle) (model.UnsignedMessage, error) {
		return h.PrepareMessage(ctx, req)
	})
}

// HasPending reports whether addr has unsettled messages.
func (c *Controller) HasPending(addr model.Address) bool {
	return c.registry.HasPending(addr)
}

// Snapshot returns every managed account, sorted by address.
func (c *Controller) Snapshot() []Snapshot {
	c.mu.Lock()
	out := make([]Snapshot, 0, len(c.managed))
	for addr := range c.managed {
		s := Snapshot{Address: addr, PollingMethod: model.PollingMethodManual}
		if d, ok := c.data[addr]; ok {
			s.State = d.state
			s.Transactions = append([]model.Transaction(nil), d.txs...)
		}
		if sub, ok := c.subs[addr]; ok {
			s.Subscribed = true
			s.PollingMethod = sub.PollingMethod()
		}
		out = append(out, s)
	}
	c.mu.Unlock()

	for i := range out {
		out[i].Pending = c.registry.Pending(out[i].Address)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// subscriptionFor returns the running subscription of addr, creating it for
// managed addresses.
func (c *Controller) subscriptionFor(ctx context.Context, addr model.Address) (*subscription.Subscription, error) {
	c.mu.Lock()
	sub, ok := c.subs[addr]
	_, managed := c.managed[addr]
	c.mu.Unlock()
	if ok {
		return sub, nil
	}
	if !managed {
		return nil, apperror.ResourceUnavailable("no subscription for address "+addr.String(), nil)
	}
	return c.ensureSubscription(ctx, addr)
}

func (c *Controller) ensureSubscription(ctx context.Context, addr model.Address) (*subscription.Subscription, error) {
	if err := c.subsLock.Acquire(ctx, 1); err != nil {
		return nil, apperror.ResourceUnavailable("timed out waiting for subscriptions lock", err)
	}
	defer c.subsLock.Release(1)

	c.mu.Lock()
	sub, ok := c.subs[addr]
	_, managed := c.managed[addr]
	c.mu.Unlock()
	if !managed {
		return nil, apperror.ResourceUnavailable("no subscription for address "+addr.String(), nil)
	}
	if ok {
		return sub, sub.Start()
	}

	sub, err := subscription.Subscribe(ctx, c.conns, addr, &accountListener{address: addr, controller: c}, c.subCfg, c.logger)
	if err != nil {
		return nil, err
	}
	if err := sub.Start(); err != nil {
		_ = sub.Stop(ctx)
		return nil, err
	}

	c.mu.Lock()
	c.subs[addr] = sub
	c.mu.Unlock()
	c.onChange()
	return sub, nil
}

func (c *Controller) setState(addr model.Address, state model.ContractState) {
	c.mu.Lock()
	c.entry(addr).state = state
	c.mu.Unlock()
	c.onChange()
}

func (c *Controller) addTransactions(addr model.Address, txs []model.Transaction) {
	if len(txs) == 0 {
		return
	}
	c.mu.Lock()
	d := c.entry(addr)
	d.txs = mergeTransactions(d.txs, txs, MaxRecentTransactions)
	c.mu.Unlock()
	c.onChange()
}

// entry must be called with mu held.
func (c *Controller) entry(addr model.Address) *accountData {
	d, ok := c.data[addr]
	if !ok {
		d = &accountData{}
		c.data[addr] = d
	}
	return d
}

// mergeTransactions returns the newest limit transactions of both lists,
// newest first, without duplicates.
func mergeTransactions(known, found []model.Transaction, limit int) []model.Transaction {
	seen := make(map[string]struct{}, len(known)+len(found))
	merged := make([]model.Transaction, 0, len(known)+len(found))
	for _, list := range [][]model.Transaction{found, known} {
		for _, tx := range list {
			if _, dup := seen[tx.Hash]; dup {
				continue
			}
			seen[tx.Hash] = struct{}{}
			merged = append(merged, tx)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].LT > merged[j].LT })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func stopAll(ctx context.Context, subs map[model.Address]*subscription.Subscription) error {
	var errMu sync.Mutex
	var errs []error
	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			if err := sub.Stop(ctx); err != nil && !errors.Is(err, subscription.ErrClosed) {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
