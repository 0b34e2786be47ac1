package script

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
)

// RejectReason explains why an otherwise recognized envelope was dropped.
type RejectReason string

const (
	// RejectPayloadTooLarge marks an envelope whose accumulated fields
	// exceeded the configured payload cap. Only that envelope is dropped;
	// scanning continues after its closing OP_ENDIF.
	RejectPayloadTooLarge RejectReason = "payload_too_large"
)

// Rejection records a dropped envelope.
type Rejection struct {
	Reason RejectReason
}

// Payload is one resolved envelope: the declared content type and the body
// bytes, both possibly empty. An envelope with no body pushes still resolves;
// presence on chain is meaningful by itself.
type Payload struct {
	ContentType []byte
	Body        []byte
}

// Field tags recognized inside an envelope. Both the short wire form used by
// ordinal-style inscriptions and the readable form are accepted.
var (
	tagContentTypeShort = []byte{0x01}
	tagContentTypeName  = []byte("content-type")
	tagBodyShort        = []byte{0x00}
	tagBodyName         = []byte("body")
)

type field int

const (
	fieldNone field = iota
	fieldContentType
	fieldBody
	// fieldOther holds values of tags this version does not surface. They
	// still count against the payload cap but are dropped on resolve.
	fieldOther
)

// tagOf maps a push to the field it opens. The empty push doubles as the
// body delimiter: legacy envelopes separate content type from body with a
// bare OP_0. Any other single-byte push is a tag too; unrecognized ones open
// an unsurfaced field so future tag values never leak into known fields.
func tagOf(data []byte) (field, bool) {
	switch {
	case len(data) == 0:
		return fieldBody, true
	case bytes.Equal(data, tagBodyShort), bytes.Equal(data, tagBodyName):
		return fieldBody, true
	case bytes.Equal(data, tagContentTypeShort), bytes.Equal(data, tagContentTypeName):
		return fieldContentType, true
	case len(data) == 1:
		return fieldOther, true
	default:
		return fieldNone, false
	}
}

// ParseScript scans raw script bytes for inscription envelopes and resolves
// each independently. An envelope is the sequence
//
//	<false-push> OP_IF <tagged fields> OP_ENDIF
//
// where the false-push is any empty data push. Instructions outside envelopes
// are skipped, and several chained envelopes in one script each resolve on
// their own. Unterminated or truncated envelopes are discarded silently; they
// are indistinguishable from scripts that merely resemble the pattern.
func ParseScript(raw []byte, maxPayload int) ([]Payload, []Rejection) {
	ins := NewInstructions(raw)

	var payloads []Payload
	var rejections []Rejection

	cur, ok := ins.Next()
	for ok {
		next, nok := ins.Next()
		if !nok {
			break
		}
		if isFalsePush(cur) && next.Opcode == txscript.OP_IF {
			payload, rejection := parseEnvelope(ins, maxPayload)
			if rejection != nil {
				rejections = append(rejections, *rejection)
			} else if payload != nil {
				payloads = append(payloads, *payload)
			}
			cur, ok = ins.Next()
			continue
		}
		cur = next
	}

	return payloads, rejections
}

// isFalsePush reports whether the instruction is the envelope marker: an
// empty data push (OP_0 / OP_FALSE or a zero-length explicit push).
func isFalsePush(in Instruction) bool {
	return in.IsDataPush() && len(in.Data) == 0
}

// parseEnvelope consumes instructions after an opening OP_IF up to and
// including OP_ENDIF. It returns the resolved payload, or a rejection when
// the size cap was exceeded, or (nil, nil) when the envelope never closed.
func parseEnvelope(ins *Instructions, maxPayload int) (*Payload, *Rejection) {
	var contentType, body []byte
	total := 0
	cur := fieldNone

	for {
		in, ok := ins.Next()
		if !ok {
			// Stream ended (or truncated) before OP_ENDIF.
			return nil, nil
		}

		switch {
		case in.Opcode == txscript.OP_ENDIF:
			return &Payload{ContentType: contentType, Body: body}, nil

		case in.IsDataPush():
			// Once the body field opens, every remaining push is body data:
			// the body is always the final field, so tag detection stops.
			if cur != fieldBody {
				if tag, isTag := tagOf(in.Data); isTag {
					cur = tag
					continue
				}
				// A value push. The first push of an envelope that is not
				// a tag starts the content-type value directly; that is the
				// legacy layout, where the body is introduced by a bare OP_0.
				if cur == fieldNone {
					cur = fieldContentType
				}
			}

			if total+len(in.Data) > maxPayload {
				discardEnvelope(ins)
				return nil, &Rejection{Reason: RejectPayloadTooLarge}
			}
			total += len(in.Data)

			switch cur {
			case fieldContentType:
				contentType = append(contentType, in.Data...)
			case fieldBody:
				body = append(body, in.Data...)
			}

		default:
			// Non-push opcodes inside an envelope carry no fields; skip.
		}
	}
}

// discardEnvelope consumes the remainder of a rejected envelope through its
// OP_ENDIF so later envelopes in the same script still resolve.
func discardEnvelope(ins *Instructions) {
	for {
		in, ok := ins.Next()
		if !ok || in.Opcode == txscript.OP_ENDIF {
			return
		}
	}
}
