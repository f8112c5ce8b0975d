package subscription

import (
	"sync"

	"github.com/emperorhan/wallet-runtime/internal/domain/model"
)

// Listener receives contract events of one subscription. Calls are made
// from the polling loop or from Use while the contract lock is held, so a
// Listener must not call back into the same Subscription synchronously.
type Listener interface {
	OnStateChanged(addr model.Address, state model.ContractState)
	OnTransactionsFound(addr model.Address, txs []model.Transaction, info model.TransactionsBatchInfo)
	OnMessageSent(addr model.Address, pending model.PendingTransaction, tx *model.Transaction)
	OnMessageExpired(addr model.Address, pending model.PendingTransaction)
}

// eventQueue is the ledger.Handler handed to the contract handle. Handles
// push into it during Refresh/HandleBlock/SendMessage; the subscription
// drains it before releasing the contract lock.
type eventQueue struct {
	mu     sync.Mutex
	events []func(Listener, model.Address)
}

func (q *eventQueue) push(ev func(Listener, model.Address)) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

func (q *eventQueue) take() []func(Listener, model.Address) {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

func (q *eventQueue) OnStateChanged(state model.ContractState) {
	q.push(func(l Listener, addr model.Address) { l.OnStateChanged(addr, state) })
}

func (q *eventQueue) OnTransactionsFound(txs []model.Transaction, info model.TransactionsBatchInfo) {
	q.push(func(l Listener, addr model.Address) { l.OnTransactionsFound(addr, txs, info) })
}

func (q *eventQueue) OnMessageSent(pending model.PendingTransaction, tx *model.Transaction) {
	q.push(func(l Listener, addr model.Address) { l.OnMessageSent(addr, pending, tx) })
}

func (q *eventQueue) OnMessageExpired(pending model.PendingTransaction) {
	q.push(func(l Listener, addr model.Address) { l.OnMessageExpired(addr, pending) })
}

// NopListener drops every event.
type NopListener struct{}

func (NopListener) OnStateChanged(model.Address, model.ContractState) {}

func (NopListener) OnTransactionsFound(model.Address, []model.Transaction, model.TransactionsBatchInfo) {}

func (NopListener) OnMessageSent(model.Address, model.PendingTransaction, *model.Transaction) {}

func (NopListener) OnMessageExpired(model.Address, model.PendingTransaction) {}
