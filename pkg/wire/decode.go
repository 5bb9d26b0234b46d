// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// View is a decoded, borrowed envelope. It references the frame's bytes and
// copies nothing. A View bound to a Buffer becomes invalid as soon as the
// Buffer is released or detached; all its accessors return zero values
// afterwards.
type View struct {
	frame []byte
	buf   *Buffer
	gen   uint64
}

// Decode validates a frame and returns a View onto it. The checks are applied
// in order: minimum length, known version, declared against available payload
// length, and the integrity tag. On failure, a *DecodingError is returned and
// no partial envelope.
func Decode(frame []byte) (View, error) {
	if len(frame) < MinFrameLen {
		return View{}, &DecodingError{Reason: ReasonTooShort, Detail: fmt.Sprintf("%d bytes", len(frame))}
	}

	if version := binary.BigEndian.Uint16(frame[0:2]); version != Version {
		return View{}, &DecodingError{Reason: ReasonVersion, Detail: fmt.Sprintf("version %d", version)}
	}

	declared := uint64(binary.BigEndian.Uint32(frame[12:16]))
	if available := uint64(len(frame) - MinFrameLen); declared != available {
		return View{}, &DecodingError{
			Reason: ReasonLength,
			Detail: fmt.Sprintf("declared %d, available %d", declared, available),
		}
	}

	body := frame[:len(frame)-TagLen]
	tag := binary.BigEndian.Uint32(frame[len(frame)-TagLen:])
	if computed := crc32.Checksum(body, crcTable); computed != tag {
		return View{}, &DecodingError{
			Reason: ReasonTag,
			Detail: fmt.Sprintf("expected %08x, computed %08x", tag, computed),
		}
	}

	return View{frame: frame}, nil
}

// DecodeBuffer decodes a Buffer's frame. The returned View is bound to the
// Buffer's current generation.
func DecodeBuffer(buf *Buffer) (View, error) {
	v, err := Decode(buf.Bytes())
	if err != nil {
		return View{}, err
	}

	v.buf = buf
	v.gen = buf.generation()
	return v, nil
}

// Valid reports whether the View still references live bytes.
func (v View) Valid() bool {
	if v.frame == nil {
		return false
	}
	return v.buf == nil || v.buf.generation() == v.gen
}

// Version of the decoded envelope.
func (v View) Version() uint16 {
	if !v.Valid() {
		return 0
	}
	return binary.BigEndian.Uint16(v.frame[0:2])
}

// Opcode of the decoded envelope.
func (v View) Opcode() Opcode {
	if !v.Valid() {
		return 0
	}
	return Opcode(binary.BigEndian.Uint16(v.frame[2:4]))
}

// CorrelationID of the decoded envelope.
func (v View) CorrelationID() uint64 {
	if !v.Valid() {
		return 0
	}
	return binary.BigEndian.Uint64(v.frame[4:12])
}

// Tag is the verified integrity tag.
func (v View) Tag() uint32 {
	if !v.Valid() {
		return 0
	}
	return binary.BigEndian.Uint32(v.frame[len(v.frame)-TagLen:])
}

// Payload returns the borrowed payload bytes, or nil if the View became
// invalid. The slice must not be retained after the Buffer's release.
func (v View) Payload() []byte {
	if !v.Valid() {
		return nil
	}
	return v.frame[HeaderLen : len(v.frame)-TagLen]
}

// Envelope materializes an owned Envelope, copying the payload.
func (v View) Envelope(sender, receiver account.Account) Envelope {
	var payload []byte
	if p := v.Payload(); p != nil {
		payload = append(make([]byte, 0, len(p)), p...)
	}

	return Envelope{
		Version:       v.Version(),
		Opcode:        v.Opcode(),
		CorrelationID: v.CorrelationID(),
		Sender:        sender,
		Receiver:      receiver,
		Payload:       payload,
		Tag:           v.Tag(),
	}
}

func (v View) String() string {
	if !v.Valid() {
		return "View{}"
	}
	return fmt.Sprintf("View{op: %v, id: %d, len: %d}", v.Opcode(), v.CorrelationID(), len(v.frame)-MinFrameLen)
}
