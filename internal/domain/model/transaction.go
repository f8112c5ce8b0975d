package model

import "time"

// ContractState is the latest known account state of a contract.
type ContractState struct {
	Balance             string `json:"balance"`
	IsDeployed          bool   `json:"is_deployed"`
	LastTransactionLT   uint64 `json:"last_transaction_lt"`
	LastTransactionHash string `json:"last_transaction_hash,omitempty"`
	GenUtime            uint32 `json:"gen_utime"`
}

// Transaction is a confirmed on-chain transaction of a watched account.
type Transaction struct {
	Hash          string `json:"hash"`
	LT            uint64 `json:"lt"`
	PrevLT        uint64 `json:"prev_lt"`
	CreatedAt     uint32 `json:"created_at"`
	Aborted       bool   `json:"aborted"`
	InMessageHash string `json:"in_message_hash,omitempty"`
	TotalFees     string `json:"total_fees"`
	Raw           []byte `json:"-"`
}

// BatchType tells whether a transactions batch extends history forward or backward.
type BatchType string

const (
	BatchTypeOld BatchType = "old"
	BatchTypeNew BatchType = "new"
)

// TransactionsBatchInfo describes a batch delivered by OnTransactionsFound.
type TransactionsBatchInfo struct {
	MinLT     uint64    `json:"min_lt"`
	MaxLT     uint64    `json:"max_lt"`
	BatchType BatchType `json:"batch_type"`
}

// PendingTransaction is a sent external message awaiting inclusion.
type PendingTransaction struct {
	MessageHash string  `json:"message_hash"`
	Src         Address `json:"src,omitempty"`
	ExpireAt    uint32  `json:"expire_at"`
}

// Expired reports whether the message can no longer be included at now.
func (p PendingTransaction) Expired(now time.Time) bool {
	return p.ExpireAt != 0 && int64(p.ExpireAt) < now.Unix()
}

// SignedMessage is an external message ready to be broadcast. Hash is the
// body hash and correlates the message with its eventual transaction.
type SignedMessage struct {
	Hash     string `json:"hash"`
	ExpireAt uint32 `json:"expire_at"`
	BOC      []byte `json:"boc"`
}

// MessageRequest describes an unsigned message to be prepared by a contract.
type MessageRequest struct {
	Recipient Address `json:"recipient"`
	Amount    string  `json:"amount"`
	Payload   []byte  `json:"payload,omitempty"`
	Bounce    bool    `json:"bounce"`
	Timeout   uint32  `json:"timeout"`
}

// UnsignedMessage is a prepared message awaiting a signature.
type UnsignedMessage struct {
	Hash     string `json:"hash"`
	ExpireAt uint32 `json:"expire_at"`
	Payload  []byte `json:"payload"`
}
