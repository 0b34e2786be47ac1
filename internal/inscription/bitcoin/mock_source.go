package bitcoin

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/chain"
)

// MockSource serves deterministic synthetic blocks without a node. Every
// block carries one transaction with a text inscription envelope, so the
// whole pipeline can be exercised end to end. The same height always yields
// byte-identical blocks, which is what makes resume tests meaningful.
type MockSource struct {
	tip uint64
}

// NewMockSource creates a source whose chain tip is fixed at tip.
func NewMockSource(tip uint64) *MockSource {
	return &MockSource{tip: tip}
}

// LatestHeight returns the fixed tip.
func (s *MockSource) LatestHeight(_ context.Context) (uint64, error) {
	return s.tip, nil
}

// FetchBlock returns the synthetic block for height, or chain.ErrNotYetMined
// above the tip.
func (s *MockSource) FetchBlock(ctx context.Context, height uint64) (*chain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if height > s.tip {
		return nil, chain.ErrNotYetMined
	}

	block, err := buildMockBlock(height)
	if err != nil {
		return nil, fmt.Errorf("build mock block %d: %w", height, err)
	}
	return &chain.Block{
		Height: height,
		Hash:   block.Header.BlockHash().String(),
		Block:  block,
	}, nil
}

func buildMockBlock(height uint64) (*wire.MsgBlock, error) {
	envelope, err := mockEnvelopeScript(height)
	if err != nil {
		return nil, err
	}

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  mockCoinbaseScript(height),
	})
	coinbase.AddTxOut(wire.NewTxOut(0, nil))

	reveal := wire.NewMsgTx(wire.TxVersion)
	reveal.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: mockHash(height), Index: 0},
	})
	reveal.AddTxOut(wire.NewTxOut(0, envelope))

	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			PrevBlock: mockHash(height - 1),
			Timestamp: time.Unix(1231006505+int64(height)*600, 0),
			Bits:      0x1d00ffff,
			Nonce:     uint32(height),
		},
	}
	block.AddTransaction(coinbase)
	block.AddTransaction(reveal)
	return block, nil
}

// mockCoinbaseScript mimics the miner convention of a height push, an
// extranonce push, and a free-form text push.
func mockCoinbaseScript(height uint64) []byte {
	var h [8]byte
	binary.LittleEndian.PutUint64(h[:], height)

	script, _ := txscript.NewScriptBuilder().
		AddData(h[:4]).
		AddData(h[4:]).
		AddData(fmt.Appendf(nil, "mined by ordscan at %d", height)).
		Script()
	return script
}

func mockEnvelopeScript(height uint64) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_FALSE).
		AddOp(txscript.OP_IF).
		AddData([]byte("text/plain;charset=utf-8")).
		AddOp(txscript.OP_0).
		AddData(fmt.Appendf(nil, "Hello from block %d!", height)).
		AddOp(txscript.OP_ENDIF).
		Script()
}

func mockHash(height uint64) chainhash.Hash {
	var h chainhash.Hash
	binary.BigEndian.PutUint64(h[:8], height)
	return h
}
