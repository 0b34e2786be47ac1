package script

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

func outputTx(t *testing.T, pkScripts ...[]byte) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, s := range pkScripts {
		tx.AddTxOut(wire.NewTxOut(0, s))
	}
	return tx
}

func TestFromTransaction_OutputEnvelope(t *testing.T) {
	t.Parallel()

	tx := outputTx(t, envelopeScript(t, "text/plain", "hello"))

	inscriptions, rejections := FromTransaction(btcutil.NewTx(tx), 10, 3, testMaxPayload)
	require.Empty(t, rejections)
	require.Len(t, inscriptions, 1)

	got := inscriptions[0]
	require.Equal(t, tx.TxHash().String(), got.ID.TxID)
	require.Equal(t, uint32(0), got.ID.Index)
	require.Equal(t, []byte("text/plain"), got.ContentType)
	require.Equal(t, []byte("hello"), got.Payload)
	require.Equal(t, uint64(10), got.BlockHeight)
	require.Equal(t, uint32(3), got.TxIndex)
	require.Equal(t, model.KindText, got.Kind())
}

func TestFromTransaction_ChainedEnvelopesGetSequentialIndices(t *testing.T) {
	t.Parallel()

	raw := append(envelopeScript(t, "text/plain", "first"), envelopeScript(t, "text/plain", "second")...)
	tx := outputTx(t, raw)

	inscriptions, _ := FromTransaction(btcutil.NewTx(tx), 1, 0, testMaxPayload)
	require.Len(t, inscriptions, 2)
	require.Equal(t, uint32(0), inscriptions[0].ID.Index)
	require.Equal(t, uint32(1), inscriptions[1].ID.Index)
	require.Equal(t, inscriptions[0].ID.TxID, inscriptions[1].ID.TxID)
}

func TestFromTransaction_CoinbaseText(t *testing.T) {
	t.Parallel()

	message := []byte("The Times 03/Jan/2009 Chancellor on brink of second bailout for banks")
	sigScript, err := txscript.NewScriptBuilder().
		AddData([]byte{0x04}).
		AddData([]byte{0x01, 0x02}).
		AddData(message).
		Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: wire.MaxPrevOutIndex},
		SignatureScript:  sigScript,
	})

	inscriptions, rejections := FromTransaction(btcutil.NewTx(tx), 0, 0, testMaxPayload)
	require.Empty(t, rejections)
	require.Len(t, inscriptions, 1)
	require.Equal(t, message, inscriptions[0].Payload)
	require.Equal(t, coinbaseContentType, inscriptions[0].ContentType)
	require.Equal(t, model.KindText, inscriptions[0].Kind())
}

func TestFromTransaction_TaprootLeafEnvelope(t *testing.T) {
	t.Parallel()

	leaf := envelopeScript(t, "image/png", "fakepng")
	controlBlock := []byte{0xc0}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
		Witness:          wire.TxWitness{leaf, controlBlock},
	})

	inscriptions, rejections := FromTransaction(btcutil.NewTx(tx), 5, 1, testMaxPayload)
	require.Empty(t, rejections)
	require.Len(t, inscriptions, 1)
	require.Equal(t, []byte("image/png"), inscriptions[0].ContentType)
	require.Equal(t, model.KindImage, inscriptions[0].Kind())
}

func TestFromTransaction_TaprootAnnexSkipped(t *testing.T) {
	t.Parallel()

	leaf := envelopeScript(t, "text/plain", "with annex")
	controlBlock := []byte{0xc0}
	annex := []byte{txscript.TaprootAnnexTag, 0x01}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0},
		Witness:          wire.TxWitness{leaf, controlBlock, annex},
	})

	inscriptions, _ := FromTransaction(btcutil.NewTx(tx), 5, 0, testMaxPayload)
	require.Len(t, inscriptions, 1)
	require.Equal(t, []byte("with annex"), inscriptions[0].Payload)
}

func TestFromTransaction_NoEnvelopes(t *testing.T) {
	t.Parallel()

	p2pk, err := txscript.NewScriptBuilder().
		AddData(make([]byte, 33)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	inscriptions, rejections := FromTransaction(btcutil.NewTx(outputTx(t, p2pk)), 2, 0, testMaxPayload)
	require.Empty(t, inscriptions)
	require.Empty(t, rejections)
}
