// Package ledgertest provides an in-memory ledger for tests of the
// subscription and controller layers.
package ledgertest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
)

// Connector hands out fake connections, one per network key.
type Connector struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	failures map[string]error
	connects int
}

func NewConnector() *Connector {
	return &Connector{
		conns:    make(map[string]*Connection),
		failures: make(map[string]error),
	}
}

// Fail makes the next Connect for params return err.
func (c *Connector) Fail(params model.NetworkParams, err error) {
	c.mu.Lock()
	c.failures[params.Key()] = err
	c.mu.Unlock()
}

func (c *Connector) Connect(_ context.Context, params model.NetworkParams) (ledger.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if err, ok := c.failures[params.Key()]; ok {
		delete(c.failures, params.Key())
		return nil, err
	}
	conn := NewConnection(params)
	c.conns[params.Key()] = conn
	return conn, nil
}

// Conn returns the last connection built for params.
func (c *Connector) Conn(params model.NetworkParams) *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[params.Key()]
}

// Connects returns how many times Connect was called.
func (c *Connector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Connection is a fake ledger.Connection with a manually advanced chain.
type Connection struct {
	params model.NetworkParams

	mu           sync.Mutex
	height       int
	advanced     chan struct{}
	blockWait    bool
	latestErr    error
	subscribeErr error
	handles      map[model.Address]*Handle
	waits        []model.BlockID
	closed       int
	onSubscribe  func(h *Handle)
}

func NewConnection(params model.NetworkParams) *Connection {
	return &Connection{
		params:    params,
		height:    1,
		advanced:  make(chan struct{}),
		blockWait: true,
		handles:   make(map[model.Address]*Handle),
	}
}

// BlockID formats the fake block at height.
func BlockID(height int) model.BlockID {
	return model.BlockID("b:" + strconv.Itoa(height))
}

func heightOf(id model.BlockID) (int, error) {
	raw, ok := strings.CutPrefix(string(id), "b:")
	if !ok {
		return 0, fmt.Errorf("invalid block id %q", id)
	}
	return strconv.Atoi(raw)
}

func (c *Connection) Params() model.NetworkParams {
	return c.params
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

// Closed returns how many times Close was called.
func (c *Connection) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetBlockWait toggles SupportsBlockWait.
func (c *Connection) SetBlockWait(enabled bool) {
	c.mu.Lock()
	c.blockWait = enabled
	c.mu.Unlock()
}

// SetLatestError makes GetLatestBlock fail with err until reset with nil.
func (c *Connection) SetLatestError(err error) {
	c.mu.Lock()
	c.latestErr = err
	c.mu.Unlock()
}

// SetSubscribeError makes Subscribe fail with err until reset with nil.
func (c *Connection) SetSubscribeError(err error) {
	c.mu.Lock()
	c.subscribeErr = err
	c.mu.Unlock()
}

// OnSubscribe runs fn for every handle created from now on.
func (c *Connection) OnSubscribe(fn func(h *Handle)) {
	c.mu.Lock()
	c.onSubscribe = fn
	c.mu.Unlock()
}

// Advance appends a block and wakes block waiters.
func (c *Connection) Advance() model.BlockID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height++
	close(c.advanced)
	c.advanced = make(chan struct{})
	return BlockID(c.height)
}

// Height returns the latest block height.
func (c *Connection) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Waits returns the anchors WaitForNextBlock was called with.
func (c *Connection) Waits() []model.BlockID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.BlockID(nil), c.waits...)
}

// Handle returns the live handle for addr, if any.
func (c *Connection) Handle(addr model.Address) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[addr]
}

func (c *Connection) GetLatestBlock(ctx context.Context, _ model.Address) (model.BlockID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latestErr != nil {
		return "", c.latestErr
	}
	return BlockID(c.height), nil
}

func (c *Connection) WaitForNextBlock(ctx context.Context, current model.BlockID, _ model.Address, timeout time.Duration) (model.BlockID, error) {
	h, err := heightOf(current)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.waits = append(c.waits, current)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if c.height > h {
			c.mu.Unlock()
			return BlockID(h + 1), nil
		}
		advanced := c.advanced
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", ledger.ErrBlockWaitTimeout
		case <-advanced:
		}
	}
}

func (c *Connection) SupportsBlockWait() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockWait
}

func (c *Connection) Subscribe(ctx context.Context, addr model.Address, handler ledger.Handler) (ledger.ContractHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.subscribeErr != nil {
		err := c.subscribeErr
		c.mu.Unlock()
		return nil, err
	}
	h := &Handle{
		address: addr,
		handler: handler,
		conn:    c,
		method:  model.PollingMethodManual,
		state:   model.ContractState{Balance: "0"},
	}
	c.handles[addr] = h
	hook := c.onSubscribe
	c.mu.Unlock()

	if hook != nil {
		hook(h)
	}
	handler.OnStateChanged(h.state)
	return h, nil
}

// Handle is a fake contract. It switches to reliable polling while it has
// pending messages and settles them when told to.
type Handle struct {
	address model.Address
	handler ledger.Handler
	conn    *Connection

	inside   atomic.Int32
	overlaps atomic.Int32

	mu          sync.Mutex
	method      model.PollingMethod
	state       model.ContractState
	pending     map[string]model.PendingTransaction
	queued      []func()
	refreshes   int
	blocks      []model.BlockID
	released    int
	sendErr     error
	refreshErr  error
	refreshHook func()
	sendHook    func()
	nextLT      uint64
}

func (h *Handle) enter() func() {
	if h.inside.Add(1) > 1 {
		h.overlaps.Add(1)
	}
	return func() { h.inside.Add(-1) }
}

// Overlaps returns how many times the handle was entered concurrently.
func (h *Handle) Overlaps() int {
	return int(h.overlaps.Load())
}

func (h *Handle) Address() model.Address {
	return h.address
}

func (h *Handle) Refresh(context.Context) error {
	defer h.enter()()
	h.mu.Lock()
	h.refreshes++
	err := h.refreshErr
	hook := h.refreshHook
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	h.flush()
	return nil
}

func (h *Handle) HandleBlock(_ context.Context, block model.BlockID) error {
	defer h.enter()()
	h.mu.Lock()
	h.blocks = append(h.blocks, block)
	h.mu.Unlock()
	h.flush()
	return nil
}

func (h *Handle) PollingMethod() model.PollingMethod {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.method
}

// SetPollingMethod overrides the reported polling method.
func (h *Handle) SetPollingMethod(m model.PollingMethod) {
	h.mu.Lock()
	h.method = m
	h.mu.Unlock()
}

func (h *Handle) State() model.ContractState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) SendMessage(_ context.Context, msg model.SignedMessage) (model.PendingTransaction, error) {
	defer h.enter()()
	h.mu.Lock()
	hook := h.sendHook
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return model.PendingTransaction{}, h.sendErr
	}
	p := model.PendingTransaction{MessageHash: msg.Hash, Src: h.address, ExpireAt: msg.ExpireAt}
	if h.pending == nil {
		h.pending = make(map[string]model.PendingTransaction)
	}
	h.pending[msg.Hash] = p
	h.method = model.PollingMethodReliable
	return p, nil
}

func (h *Handle) EstimateFees(_ context.Context, msg model.SignedMessage) (string, error) {
	defer h.enter()()
	return strconv.Itoa(len(msg.BOC) * 1000), nil
}

func (h *Handle) PrepareMessage(_ context.Context, req model.MessageRequest) (model.UnsignedMessage, error) {
	defer h.enter()()
	return model.UnsignedMessage{
		Hash:     "prepared:" + req.Recipient.String() + ":" + req.Amount,
		ExpireAt: uint32(time.Now().Add(time.Duration(req.Timeout) * time.Second).Unix()),
		Payload:  req.Payload,
	}, nil
}

func (h *Handle) Release() {
	h.mu.Lock()
	h.released++
	h.mu.Unlock()
	h.conn.mu.Lock()
	if h.conn.handles[h.address] == h {
		delete(h.conn.handles, h.address)
	}
	h.conn.mu.Unlock()
}

// Released returns how many times Release was called.
func (h *Handle) Released() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Refreshes returns how many times Refresh was called.
func (h *Handle) Refreshes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshes
}

// Blocks returns the blocks passed to HandleBlock.
func (h *Handle) Blocks() []model.BlockID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.BlockID(nil), h.blocks...)
}

// SetSendError makes SendMessage fail with err until reset with nil.
func (h *Handle) SetSendError(err error) {
	h.mu.Lock()
	h.sendErr = err
	h.mu.Unlock()
}

// SetRefreshError makes Refresh fail with err until reset with nil.
func (h *Handle) SetRefreshError(err error) {
	h.mu.Lock()
	h.refreshErr = err
	h.mu.Unlock()
}

// SetRefreshHook runs fn inside every Refresh.
func (h *Handle) SetRefreshHook(fn func()) {
	h.mu.Lock()
	h.refreshHook = fn
	h.mu.Unlock()
}

// SetSendHook runs fn inside every SendMessage call, before the message
// is recorded.
func (h *Handle) SetSendHook(fn func()) {
	h.mu.Lock()
	h.sendHook = fn
	h.mu.Unlock()
}

// QueueBalance emits a state change with balance on the next update.
func (h *Handle) QueueBalance(balance string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued = append(h.queued, func() {
		h.mu.Lock()
		h.state.Balance = balance
		state := h.state
		h.mu.Unlock()
		h.handler.OnStateChanged(state)
	})
}

// QueueTransaction emits one new transaction on the next update.
func (h *Handle) QueueTransaction(hash string) model.Transaction {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextLT++
	tx := model.Transaction{Hash: hash, LT: h.nextLT, CreatedAt: uint32(time.Now().Unix())}
	h.queued = append(h.queued, func() {
		h.handler.OnTransactionsFound([]model.Transaction{tx}, model.TransactionsBatchInfo{
			MinLT: tx.LT, MaxLT: tx.LT, BatchType: model.BatchTypeNew,
		})
	})
	return tx
}

// QueueSettle confirms the pending message on the next update. With
// expired set it reports expiry instead.
func (h *Handle) QueueSettle(messageHash string, expired bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued = append(h.queued, func() {
		h.mu.Lock()
		p, ok := h.pending[messageHash]
		delete(h.pending, messageHash)
		if len(h.pending) == 0 {
			h.method = model.PollingMethodManual
		}
		h.nextLT++
		lt := h.nextLT
		h.mu.Unlock()
		if !ok {
			return
		}
		if expired {
			h.handler.OnMessageExpired(p)
			return
		}
		tx := model.Transaction{Hash: "tx:" + messageHash, LT: lt, InMessageHash: messageHash, CreatedAt: uint32(time.Now().Unix())}
		h.handler.OnMessageSent(p, &tx)
	})
}

// EmitNow runs the queued events immediately on the calling goroutine,
// bypassing any subscription lock.
func (h *Handle) EmitNow() {
	h.flush()
}

func (h *Handle) flush() {
	h.mu.Lock()
	queued := h.queued
	h.queued = nil
	h.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}
