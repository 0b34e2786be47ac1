// Package chain defines the contracts between the scanner and the block
// supply side, keeping the scanning pipeline independent of how blocks are
// obtained.
package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

// ErrNotYetMined is returned by FetchBlock when the requested height is above
// the current chain tip. The scanner treats it as a signal to poll, not a
// failure.
var ErrNotYetMined = errors.New("block not yet mined")

// ErrRejected marks a sink write that was refused for content reasons. The
// scanner logs it and keeps going.
var ErrRejected = errors.New("inscription rejected by sink")

// Block is one fetched block with the metadata the pipeline needs.
type Block struct {
	Height uint64
	Hash   string
	Block  *wire.MsgBlock
}

// BlockSource supplies raw blocks by height.
type BlockSource interface {
	// LatestHeight returns the current chain tip height.
	LatestHeight(ctx context.Context) (uint64, error)

	// FetchBlock returns the full block at height, or ErrNotYetMined when
	// height is above the tip.
	FetchBlock(ctx context.Context, height uint64) (*Block, error)
}

// Sink receives extracted inscriptions. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, ins model.Inscription) error
}
