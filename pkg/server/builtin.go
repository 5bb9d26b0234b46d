// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"context"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// Well-known application opcodes, answered by AttachBuiltins.
const (
	// OpEcho answers with the request's payload.
	OpEcho wire.Opcode = 0x0001

	// OpSink discards the request's payload and answers with an empty one.
	OpSink wire.Opcode = 0x0002
)

// AttachBuiltins registers handlers for OpEcho and OpSink.
func (s *Server) AttachBuiltins() {
	s.handle(OpEcho, func(_ context.Context, _ account.Account, payload []byte) ([]byte, error) {
		return payload, nil
	})
	s.handle(OpSink, func(context.Context, account.Account, []byte) ([]byte, error) {
		return nil, nil
	})
}
