// Package script decodes transaction scripts and extracts inscription
// envelopes from them. Decoding is purely syntactic: opcodes are never
// validated for legality in context, and malformed scripts terminate the
// stream instead of failing.
package script

import (
	"github.com/btcsuite/btcd/txscript"
)

// Instruction is a single decoded script instruction: an opcode, carrying
// push data when the opcode is a data push. Data is an owned copy of the
// pushed bytes; it never aliases the source script.
type Instruction struct {
	Opcode byte
	Data   []byte
}

// IsDataPush reports whether the instruction pushes literal data, including
// the empty push (OP_0 / zero-length PUSHDATA).
func (in Instruction) IsDataPush() bool {
	switch {
	case in.Opcode == txscript.OP_0:
		return true
	case in.Opcode >= txscript.OP_DATA_1 && in.Opcode <= txscript.OP_DATA_75:
		return true
	case in.Opcode == txscript.OP_PUSHDATA1,
		in.Opcode == txscript.OP_PUSHDATA2,
		in.Opcode == txscript.OP_PUSHDATA4:
		return true
	default:
		return false
	}
}

// Instructions lazily decodes raw script bytes into a finite, non-restartable
// sequence of instructions.
type Instructions struct {
	tok       txscript.ScriptTokenizer
	truncated bool
}

// NewInstructions returns a reader over the raw script bytes.
func NewInstructions(raw []byte) *Instructions {
	return &Instructions{tok: txscript.MakeScriptTokenizer(0, raw)}
}

// Next returns the next instruction, or false when the stream is exhausted.
// A push length overrunning the remaining bytes ends the stream early and
// marks it truncated; malformed scripts are common on-chain and must not
// abort a scan.
func (s *Instructions) Next() (Instruction, bool) {
	if s.truncated {
		return Instruction{}, false
	}
	if !s.tok.Next() {
		if s.tok.Err() != nil {
			s.truncated = true
		}
		return Instruction{}, false
	}

	in := Instruction{Opcode: s.tok.Opcode()}
	if data := s.tok.Data(); len(data) > 0 {
		in.Data = append([]byte(nil), data...)
	}
	return in, true
}

// Truncated reports whether the stream ended early on a malformed push.
func (s *Instructions) Truncated() bool {
	return s.truncated
}
