package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/domain/model"
)

//go:generate mockgen -destination=mocks/mock_ledger.go -package=mocks . Transport,ContractHandle,HandleFactory,Connection,Connector

// ErrBlockWaitTimeout is returned by WaitForNextBlock when no block arrived in time.
var ErrBlockWaitTimeout = errors.New("timed out waiting for next block")

// Transport is the block-level view of the remote ledger.
type Transport interface {
	// GetLatestBlock returns the newest block that may contain the address' transactions.
	GetLatestBlock(ctx context.Context, addr model.Address) (model.BlockID, error)

	// WaitForNextBlock blocks until the block following current is available,
	// or returns ErrBlockWaitTimeout after timeout.
	WaitForNextBlock(ctx context.Context, current model.BlockID, addr model.Address, timeout time.Duration) (model.BlockID, error)

	// SupportsBlockWait reports whether WaitForNextBlock can be used at all.
	// Transports without it are polled intensively instead.
	SupportsBlockWait() bool
}

// Handler receives contract events. Handles invoke it synchronously from
// inside Refresh, HandleBlock and SendMessage.
type Handler interface {
	OnStateChanged(state model.ContractState)
	OnTransactionsFound(txs []model.Transaction, info model.TransactionsBatchInfo)
	OnMessageSent(pending model.PendingTransaction, tx *model.Transaction)
	OnMessageExpired(pending model.PendingTransaction)
}

// ContractHandle is a stateful proxy of one remote contract. It is not safe
// for concurrent use; callers serialize access.
type ContractHandle interface {
	Address() model.Address
	Refresh(ctx context.Context) error
	HandleBlock(ctx context.Context, block model.BlockID) error
	PollingMethod() model.PollingMethod
	State() model.ContractState
	SendMessage(ctx context.Context, msg model.SignedMessage) (model.PendingTransaction, error)
	EstimateFees(ctx context.Context, msg model.SignedMessage) (string, error)
	PrepareMessage(ctx context.Context, req model.MessageRequest) (model.UnsignedMessage, error)
	Release()
}

// HandleFactory creates contract handles bound to one connection.
type HandleFactory interface {
	Subscribe(ctx context.Context, addr model.Address, handler Handler) (ContractHandle, error)
}

// Connection is one live network connection.
type Connection interface {
	Transport
	HandleFactory
	Params() model.NetworkParams
	Close() error
}

// Connector builds connections for network parameters.
type Connector interface {
	Connect(ctx context.Context, params model.NetworkParams) (Connection, error)
}
