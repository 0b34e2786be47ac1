// Package model defines domain models for inscription scanning.
package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type Network string

var (
	Testnet Network = "testnet"
	Mainnet Network = "mainnet"
	Regtest Network = "regtest"
)

// ContentKind is a coarse classification of inscription content derived from
// the declared content type. It only drives output routing; the payload bytes
// are stored untouched either way.
type ContentKind string

var (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindOther ContentKind = "other"
)

// InscriptionID identifies an inscription by the transaction that carries it
// and its position among the inscriptions of that transaction.
type InscriptionID struct {
	TxID  string
	Index uint32
}

// String renders the id in the conventional <txid>i<index> form.
func (id InscriptionID) String() string {
	return fmt.Sprintf("%si%d", id.TxID, id.Index)
}

// Inscription is the durable output unit of a scan. For a given ID the content
// type and payload never change; re-scanning the same block reproduces them
// byte for byte.
type Inscription struct {
	ID          InscriptionID
	ContentType []byte
	Payload     []byte
	BlockHeight uint64
	TxIndex     uint32
}

// Kind classifies the inscription by its declared content type.
func (i Inscription) Kind() ContentKind {
	ct := string(i.ContentType)
	switch {
	case strings.HasPrefix(ct, "text/plain") && utf8.Valid(i.Payload):
		return KindText
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	default:
		return KindOther
	}
}
