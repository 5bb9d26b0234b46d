// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements the envelope format exchanged between two Accounts.
//
// An encoded envelope, a frame, is laid out in big endian as follows:
//
//	[version:2][opcode:2][correlation id:8][payload length:4][payload][tag:4]
//
// The trailing integrity tag is a CRC-32C over header and payload. Sender and
// receiver are not part of a frame; they are established once per connection
// by the handshake.
package wire

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/acctwire/acctwire-go/pkg/account"
)

const (
	// Version of the wire format produced by this package.
	Version uint16 = 1

	// HeaderLen is the length of a frame's fixed header.
	HeaderLen = 16

	// TagLen is the length of the trailing integrity tag.
	TagLen = 4

	// MinFrameLen is the length of a frame without any payload.
	MinFrameLen = HeaderLen + TagLen

	// MaxPayload is the largest payload length representable on the wire.
	MaxPayload = math.MaxUint32
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Envelope is the unit of exchange. Sender and Receiver are filled in from the
// connection's context on reception and are not serialized.
type Envelope struct {
	Version       uint16
	Opcode        Opcode
	CorrelationID uint64
	Sender        account.Account
	Receiver      account.Account
	Payload       []byte

	// Tag is the integrity tag of a decoded envelope. It is ignored on
	// encoding, where it is always computed.
	Tag uint32
}

// NewEnvelope for the current Version.
func NewEnvelope(opcode Opcode, correlationID uint64, payload []byte) Envelope {
	return Envelope{
		Version:       Version,
		Opcode:        opcode,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// EncodedLen returns the length of this Envelope's frame.
func (env Envelope) EncodedLen() int {
	return MinFrameLen + len(env.Payload)
}

// Encode an Envelope into a newly allocated frame.
func Encode(env Envelope) ([]byte, error) {
	return AppendEncode(make([]byte, 0, env.EncodedLen()), env)
}

// AppendEncode appends the Envelope's frame to dst. The payload is copied
// exactly once, into the frame.
func AppendEncode(dst []byte, env Envelope) ([]byte, error) {
	if uint64(len(env.Payload)) > MaxPayload {
		return dst, &EncodingError{PayloadLen: uint64(len(env.Payload)), Limit: MaxPayload}
	}

	version := env.Version
	if version == 0 {
		version = Version
	}

	start := len(dst)
	dst = binary.BigEndian.AppendUint16(dst, version)
	dst = binary.BigEndian.AppendUint16(dst, uint16(env.Opcode))
	dst = binary.BigEndian.AppendUint64(dst, env.CorrelationID)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(env.Payload)))
	dst = append(dst, env.Payload...)

	tag := crc32.Checksum(dst[start:], crcTable)
	dst = binary.BigEndian.AppendUint32(dst, tag)
	return dst, nil
}

// PeekHeader reads the opcode and correlation id of a frame without any
// validation. It returns false for frames shorter than a header.
func PeekHeader(frame []byte) (op Opcode, correlationID uint64, ok bool) {
	if len(frame) < HeaderLen {
		return
	}

	op = Opcode(binary.BigEndian.Uint16(frame[2:4]))
	correlationID = binary.BigEndian.Uint64(frame[4:12])
	ok = true
	return
}
