package ton

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"time"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/emperorhan/wallet-runtime/internal/ledger"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	transactionsPageSize = 16
	maxTransactionPages  = 8
)

// Subscribe loads the current account state and returns a handle that
// reports further changes to handler.
func (c *Connection) Subscribe(ctx context.Context, addr model.Address, handler ledger.Handler) (ledger.ContractHandle, error) {
	parsed, err := parseAddress(string(addr))
	if err != nil {
		return nil, apperror.InvalidRequest("invalid address "+string(addr), err)
	}
	h := &Handle{
		conn:    c,
		addr:    addr,
		parsed:  parsed,
		handler: handler,
		pending: make(map[string]model.PendingTransaction),
	}
	block, err := c.latestMaster(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := h.account(ctx, block)
	if err != nil {
		return nil, err
	}
	h.state = accountState(acc, uint32(c.nowFn().Unix()))
	h.knownLT = h.state.LastTransactionLT
	handler.OnStateChanged(h.state)
	return h, nil
}

// Handle tracks one account on a lite-server connection. Pending messages
// are keyed by the hex hash of their body cell, which is what shows up as
// the inbound message of the resulting transaction.
type Handle struct {
	conn    *Connection
	addr    model.Address
	parsed  *address.Address
	handler ledger.Handler

	state    model.ContractState
	knownLT  uint64
	pending  map[string]model.PendingTransaction
	released bool
}

func (h *Handle) Address() model.Address {
	return h.addr
}

func (h *Handle) State() model.ContractState {
	return h.state
}

func (h *Handle) PollingMethod() model.PollingMethod {
	if len(h.pending) > 0 {
		return model.PollingMethodReliable
	}
	return model.PollingMethodManual
}

func (h *Handle) Refresh(ctx context.Context) error {
	block, err := h.conn.latestMaster(ctx)
	if err != nil {
		return err
	}
	return h.update(ctx, block)
}

func (h *Handle) HandleBlock(ctx context.Context, id model.BlockID) error {
	block, err := decodeBlockID(id)
	if err != nil {
		return apperror.InvalidRequest("cannot handle block", err)
	}
	return h.update(ctx, block)
}

func (h *Handle) update(ctx context.Context, block *ton.BlockIDExt) error {
	if h.released {
		return apperror.ResourceUnavailable("contract handle released", nil)
	}
	acc, err := h.account(ctx, block)
	if err != nil {
		return err
	}
	next := accountState(acc, uint32(h.conn.nowFn().Unix()))

	if next.LastTransactionLT > h.knownLT && acc.LastTxHash != nil {
		txs, err := h.transactionsSince(ctx, next.LastTransactionLT, acc.LastTxHash, h.knownLT)
		if err != nil {
			return err
		}
		if len(txs) > 0 {
			h.handler.OnTransactionsFound(txs, model.TransactionsBatchInfo{
				MinLT:     txs[len(txs)-1].LT,
				MaxLT:     txs[0].LT,
				BatchType: model.BatchTypeNew,
			})
			h.settle(txs)
		}
		h.knownLT = next.LastTransactionLT
	}

	if !sameState(h.state, next) {
		h.state = next
		h.handler.OnStateChanged(next)
	}
	h.expire(h.conn.nowFn())
	return nil
}

func (h *Handle) account(ctx context.Context, block *ton.BlockIDExt) (*tlb.Account, error) {
	var acc *tlb.Account
	err := h.conn.call(ctx, "get_account", func() error {
		var err error
		acc, err = h.conn.api.GetAccount(ctx, block, h.parsed)
		return err
	})
	return acc, err
}

// transactionsSince pages back from (lt, hash) until it reaches knownLT and
// returns the newer transactions sorted newest first.
func (h *Handle) transactionsSince(ctx context.Context, lt uint64, hash []byte, knownLT uint64) ([]model.Transaction, error) {
	var out []model.Transaction
	for page := 0; page < maxTransactionPages && lt > knownLT; page++ {
		var batch []*tlb.Transaction
		err := h.conn.call(ctx, "list_transactions", func() error {
			var err error
			batch, err = h.conn.api.ListTransactions(ctx, h.parsed, transactionsPageSize, lt, hash)
			if errors.Is(err, ton.ErrNoTransactionsWereFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		oldest := batch[0]
		for _, tx := range batch {
			if tx.LT < oldest.LT {
				oldest = tx
			}
			if tx.LT > knownLT {
				out = append(out, convertTransaction(tx))
			}
		}
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LT > out[j].LT })
	return out, nil
}

func (h *Handle) settle(txs []model.Transaction) {
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if tx.InMessageHash == "" {
			continue
		}
		p, ok := h.pending[tx.InMessageHash]
		if !ok {
			continue
		}
		delete(h.pending, tx.InMessageHash)
		h.handler.OnMessageSent(p, &tx)
	}
}

func (h *Handle) expire(now time.Time) {
	for key, p := range h.pending {
		if p.Expired(now) {
			delete(h.pending, key)
			h.handler.OnMessageExpired(p)
		}
	}
}

// SendMessage broadcasts a serialized external message. msg.Hash is the
// caller's id and is required.
func (h *Handle) SendMessage(ctx context.Context, msg model.SignedMessage) (model.PendingTransaction, error) {
	if h.released {
		return model.PendingTransaction{}, apperror.ResourceUnavailable("contract handle released", nil)
	}
	if msg.Hash == "" {
		return model.PendingTransaction{}, apperror.InvalidRequest("message hash is required", nil)
	}
	ext, bodyHash, err := parseExternal(msg.BOC)
	if err != nil {
		return model.PendingTransaction{}, err
	}
	if ext.DstAddr != nil && rawAddress(ext.DstAddr) != rawAddress(h.parsed) {
		return model.PendingTransaction{}, apperror.InvalidRequest("message destination does not match "+string(h.addr), nil)
	}
	if _, ok := h.pending[bodyHash]; ok {
		return model.PendingTransaction{}, apperror.InvalidRequest("message "+bodyHash+" is already pending", nil)
	}

	err = h.conn.call(ctx, "send_external_message", func() error {
		return h.conn.api.SendExternalMessage(ctx, ext)
	})
	if err != nil {
		return model.PendingTransaction{}, err
	}

	p := model.PendingTransaction{MessageHash: msg.Hash, Src: h.addr, ExpireAt: msg.ExpireAt}
	h.pending[bodyHash] = p
	return p, nil
}

// EstimateFees needs contract code execution, which a plain lite-server
// client does not offer.
func (h *Handle) EstimateFees(context.Context, model.SignedMessage) (string, error) {
	return "", apperror.InvalidRequest("fee estimation is not supported for "+string(h.addr), nil)
}

func (h *Handle) PrepareMessage(context.Context, model.MessageRequest) (model.UnsignedMessage, error) {
	return model.UnsignedMessage{}, apperror.InvalidRequest("message preparation is not supported for "+string(h.addr), nil)
}

func (h *Handle) Release() {
	h.released = true
	h.pending = make(map[string]model.PendingTransaction)
}

func parseExternal(boc []byte) (*tlb.ExternalMessage, string, error) {
	root, err := cell.FromBOC(boc)
	if err != nil {
		return nil, "", apperror.InvalidRequest("invalid message boc", err)
	}
	var ext tlb.ExternalMessage
	if err := tlb.LoadFromCell(&ext, root.BeginParse()); err != nil {
		return nil, "", apperror.InvalidRequest("boc is not an external message", err)
	}
	if ext.Body == nil {
		return nil, "", apperror.InvalidRequest("external message has no body", nil)
	}
	return &ext, hex.EncodeToString(ext.Body.Hash()), nil
}

func accountState(acc *tlb.Account, genUtime uint32) model.ContractState {
	state := model.ContractState{Balance: "0", GenUtime: genUtime}
	if acc == nil {
		return state
	}
	if acc.IsActive && acc.State != nil {
		state.Balance = acc.State.Balance.Nano().String()
		state.IsDeployed = acc.State.Status == tlb.AccountStatusActive
	}
	state.LastTransactionLT = acc.LastTxLT
	if len(acc.LastTxHash) > 0 {
		state.LastTransactionHash = hex.EncodeToString(acc.LastTxHash)
	}
	return state
}

func sameState(a, b model.ContractState) bool {
	return a.Balance == b.Balance &&
		a.IsDeployed == b.IsDeployed &&
		a.LastTransactionLT == b.LastTransactionLT &&
		a.LastTransactionHash == b.LastTransactionHash
}

func convertTransaction(tx *tlb.Transaction) model.Transaction {
	out := model.Transaction{
		Hash:      hex.EncodeToString(tx.Hash),
		LT:        tx.LT,
		PrevLT:    tx.PrevTxLT,
		CreatedAt: tx.Now,
		TotalFees: tx.TotalFees.Coins.Nano().String(),
	}
	if in := tx.IO.In; in != nil && in.MsgType == tlb.MsgTypeExternalIn {
		if ext := in.AsExternalIn(); ext != nil && ext.Body != nil {
			out.InMessageHash = hex.EncodeToString(ext.Body.Hash())
		}
	}
	return out
}
