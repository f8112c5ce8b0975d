package ton

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/emperorhan/wallet-runtime/internal/apperror"
	"github.com/emperorhan/wallet-runtime/internal/domain/model"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/ton"
)

// NormalizeAddress accepts raw ("0:HEX") or user-friendly addresses and
// returns the raw lower-case form used as map key everywhere.
func NormalizeAddress(s string) (model.Address, error) {
	addr, err := parseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", apperror.InvalidRequest("invalid address "+s, err)
	}
	return rawAddress(addr), nil
}

func parseAddress(s string) (*address.Address, error) {
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}

func rawAddress(addr *address.Address) model.Address {
	return model.Address(fmt.Sprintf("%d:%s", addr.Workchain(), hex.EncodeToString(addr.Data())))
}

// encodeBlockID renders a block as "wc:shard:seqno:roothash:filehash".
func encodeBlockID(b *ton.BlockIDExt) model.BlockID {
	return model.BlockID(fmt.Sprintf("%d:%016x:%d:%s:%s",
		b.Workchain, uint64(b.Shard), b.SeqNo, hex.EncodeToString(b.RootHash), hex.EncodeToString(b.FileHash)))
}

func decodeBlockID(id model.BlockID) (*ton.BlockIDExt, error) {
	parts := strings.Split(string(id), ":")
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid block id %q", id)
	}
	wc, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid workchain in block id %q: %w", id, err)
	}
	shard, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid shard in block id %q: %w", id, err)
	}
	seqno, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid seqno in block id %q: %w", id, err)
	}
	root, err := hex.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("invalid root hash in block id %q: %w", id, err)
	}
	file, err := hex.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("invalid file hash in block id %q: %w", id, err)
	}
	return &ton.BlockIDExt{
		Workchain: int32(wc),
		Shard:     int64(shard),
		SeqNo:     uint32(seqno),
		RootHash:  root,
		FileHash:  file,
	}, nil
}
