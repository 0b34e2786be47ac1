// Package bitcoin implements Bitcoin-specific chain access.
package bitcoin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
	"github.com/goodnatureofminers/ordscan-backend/pkg/safe"
)

type (
	// RPCClient is the subset of node RPC the source needs.
	RPCClient interface {
		GetBlockCount() (int64, error)
		GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
		GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error)
	}
)

// Source implements chain.BlockSource against a Bitcoin node.
type Source struct {
	rpc RPCClient
}

// NewSource creates a Source backed by the given RPC client.
func NewSource(rpc RPCClient) *Source {
	return &Source{rpc: rpc}
}

// LatestHeight returns the latest block height from the node.
func (s *Source) LatestHeight(_ context.Context) (uint64, error) {
	count, err := s.rpc.GetBlockCount()
	if err != nil {
		return 0, err
	}
	height, err := safe.Uint64(count)
	if err != nil {
		return 0, fmt.Errorf("block count overflow: %w", err)
	}
	return height, nil
}

// FetchBlock retrieves the full block at the given height. A height above the
// node tip maps to chain.ErrNotYetMined so callers can poll.
func (s *Source) FetchBlock(ctx context.Context, height uint64) (*chain.Block, error) {
	rpcHeight, err := safe.Int64(height)
	if err != nil {
		return nil, fmt.Errorf("block height %d exceeds rpc limit: %w", height, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := s.rpc.GetBlockHash(rpcHeight)
	if err != nil {
		if isOutOfRange(err) {
			return nil, chain.ErrNotYetMined
		}
		return nil, fmt.Errorf("get block hash at height %d: %w", height, err)
	}
	block, err := s.rpc.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", hash, err)
	}

	return &chain.Block{
		Height: height,
		Hash:   hash.String(),
		Block:  block,
	}, nil
}

// isOutOfRange detects the node's "block height out of range" rejection,
// which has no typed representation in the rpc client.
func isOutOfRange(err error) bool {
	if errors.Is(err, chain.ErrNotYetMined) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "out of range")
}
