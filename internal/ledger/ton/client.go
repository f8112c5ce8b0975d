package ton

import (
	"context"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
)

const (
	masterchainID    int32 = -1
	masterchainShard int64 = -0x8000000000000000
)

// liteAPI is the subset of the lite-server API the adapter uses.
type liteAPI interface {
	CurrentMasterchainInfo(ctx context.Context) (*ton.BlockIDExt, error)
	// WaitMasterBlock blocks until the masterchain block seqno exists.
	WaitMasterBlock(ctx context.Context, seqno uint32) (*ton.BlockIDExt, error)
	GetAccount(ctx context.Context, block *ton.BlockIDExt, addr *address.Address) (*tlb.Account, error)
	ListTransactions(ctx context.Context, addr *address.Address, num uint32, lt uint64, txHash []byte) ([]*tlb.Transaction, error)
	SendExternalMessage(ctx context.Context, msg *tlb.ExternalMessage) error
	Close()
}

type poolClient struct {
	*ton.APIClient
	pool *liteclient.ConnectionPool
}

func (c *poolClient) WaitMasterBlock(ctx context.Context, seqno uint32) (*ton.BlockIDExt, error) {
	return c.APIClient.WaitForBlock(seqno).LookupBlock(ctx, masterchainID, masterchainShard, seqno)
}

func (c *poolClient) Close() {
	c.pool.Stop()
}
