package script

import (
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

// coinbaseContentType is assigned to text recovered from coinbase signature
// scripts, which carry no envelope and therefore no declared type.
var coinbaseContentType = []byte("text/plain;charset=utf-8")

// FromTransaction extracts every inscription carried by a transaction:
// envelopes in output locking scripts, envelopes in taproot leaf scripts of
// the inputs, and free-form text hidden in a coinbase signature script.
// Inscription indices are assigned sequentially across the whole transaction
// in that order, so the ids are stable and deterministic.
func FromTransaction(tx *btcutil.Tx, height uint64, txIndex uint32, maxPayload int) ([]model.Inscription, []Rejection) {
	txid := tx.Hash().String()
	msg := tx.MsgTx()

	var inscriptions []model.Inscription
	var rejections []Rejection

	appendPayloads := func(payloads []Payload) {
		for _, p := range payloads {
			inscriptions = append(inscriptions, model.Inscription{
				ID:          model.InscriptionID{TxID: txid, Index: uint32(len(inscriptions))},
				ContentType: p.ContentType,
				Payload:     p.Body,
				BlockHeight: height,
				TxIndex:     txIndex,
			})
		}
	}

	if isCoinbase(msg) {
		if text, ok := coinbaseText(msg.TxIn[0].SignatureScript); ok {
			appendPayloads([]Payload{{ContentType: coinbaseContentType, Body: text}})
		}
	}

	for _, out := range msg.TxOut {
		payloads, rejected := ParseScript(out.PkScript, maxPayload)
		appendPayloads(payloads)
		rejections = append(rejections, rejected...)
	}

	for _, in := range msg.TxIn {
		leaf, ok := taprootLeafScript(in.Witness)
		if !ok {
			continue
		}
		payloads, rejected := ParseScript(leaf, maxPayload)
		appendPayloads(payloads)
		rejections = append(rejections, rejected...)
	}

	return inscriptions, rejections
}

func isCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) == 0 {
		return false
	}
	prev := tx.TxIn[0].PreviousOutPoint
	return prev.Index == wire.MaxPrevOutIndex && prev.Hash == zeroHash
}

var zeroHash chainhash.Hash

// coinbaseText recovers the message miners conventionally place in the third
// push of a coinbase signature script, when it decodes as non-empty UTF-8.
func coinbaseText(sigScript []byte) ([]byte, bool) {
	ins := NewInstructions(sigScript)
	pushes := 0
	for {
		in, ok := ins.Next()
		if !ok {
			return nil, false
		}
		if !in.IsDataPush() {
			continue
		}
		pushes++
		if pushes == 3 {
			if len(in.Data) > 0 && utf8.Valid(in.Data) {
				return in.Data, true
			}
			return nil, false
		}
	}
}

// taprootLeafScript returns the tapscript leaf from a witness stack, skipping
// an annex when present.
func taprootLeafScript(witness wire.TxWitness) ([]byte, bool) {
	l := len(witness)
	if l < 2 {
		return nil, false
	}

	posFromLast := 2
	last := witness[l-1]
	if len(last) > 0 && last[0] == txscript.TaprootAnnexTag {
		posFromLast = 3
	}
	if l < posFromLast {
		return nil, false
	}
	return witness[l-posFromLast], true
}
