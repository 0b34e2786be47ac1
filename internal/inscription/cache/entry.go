package cache

import (
	"fmt"

	"github.com/ugorji/go/codec"
)

var cborHandle = &codec.CborHandle{}

// Entry records that a transaction was fully processed: the block it belongs
// to and the ids of the inscriptions it produced, if any. A transaction with
// no inscriptions still gets an entry so it is never parsed twice.
type Entry struct {
	Height       uint64   `codec:"h"`
	Inscriptions []string `codec:"i,omitempty"`
}

func (e Entry) encode() ([]byte, error) {
	var data []byte
	if err := codec.NewEncoderBytes(&data, cborHandle).Encode(e); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := codec.NewDecoderBytes(data, cborHandle).Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, nil
}
