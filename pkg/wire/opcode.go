// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import "fmt"

// Opcode selects the operation an envelope requests. A response carries its
// request's Opcode; an error response additionally has the ErrorFlag set.
type Opcode uint16

const (
	// OpMinApplication is the first Opcode available for applications.
	OpMinApplication Opcode = 0x0001

	// OpMaxApplication is the last Opcode available for applications.
	OpMaxApplication Opcode = 0x7EFF

	// OpMinSystem starts the reserved range of system Opcodes.
	OpMinSystem Opcode = 0x7F00

	// ErrorFlag marks an error response, carrying a RemoteError payload.
	ErrorFlag Opcode = 0x8000
)

// System Opcodes.
const (
	// OpHello introduces a peer during the handshake.
	OpHello Opcode = 0x7F01

	// OpGoAway announces a graceful shutdown on a control channel.
	OpGoAway Opcode = 0x7F03

	// OpBookResolve asks for an Account's Address.
	OpBookResolve Opcode = 0x7F10

	// OpBookPrimary asks for the primary Account of a transport kind.
	OpBookPrimary Opcode = 0x7F11

	// OpBookUpdate pushes an Address record.
	OpBookUpdate Opcode = 0x7F12
)

// Base returns the Opcode without the ErrorFlag.
func (op Opcode) Base() Opcode {
	return op &^ ErrorFlag
}

// IsError reports whether the ErrorFlag is set.
func (op Opcode) IsError() bool {
	return op&ErrorFlag != 0
}

// IsApplication reports whether this Opcode is within the application range.
func (op Opcode) IsApplication() bool {
	return op >= OpMinApplication && op <= OpMaxApplication
}

// IsSystem reports whether this Opcode is within the reserved system range.
func (op Opcode) IsSystem() bool {
	return op.Base() >= OpMinSystem
}

func (op Opcode) String() string {
	var name string
	switch op.Base() {
	case OpHello:
		name = "hello"
	case OpGoAway:
		name = "go-away"
	case OpBookResolve:
		name = "book-resolve"
	case OpBookPrimary:
		name = "book-primary"
	case OpBookUpdate:
		name = "book-update"
	default:
		name = fmt.Sprintf("0x%04x", uint16(op.Base()))
	}

	if op.IsError() {
		return name + "!"
	}
	return name
}
