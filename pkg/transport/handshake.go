// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// DefaultHandshakeTimeout bounds the Hello exchange.
const DefaultHandshakeTimeout = 2 * time.Second

// I/O errors during the handshake are returned as they are, as they might be
// overcome by another attempt. Disagreements are returned as *HandshakeError.

// FrameConn is the minimal frame exchange a handshake needs. Backends wrap
// their stream or control channel into it.
type FrameConn interface {
	WriteFrame(frame []byte) error
	ReadFrame() (*wire.Buffer, error)
}

// DialHandshake performs the dialer's part: sending our Hello, receiving the
// listener's Hello and checking it against the expected remote Account. A
// zero expected Account accepts any peer.
func DialHandshake(fc FrameConn, local *account.Identity, expected account.Account, kind account.Kind) (account.Account, error) {
	if err := sendHello(fc, local, kind); err != nil {
		return account.Zero, err
	}

	hello, err := receiveHello(fc)
	if err != nil {
		return account.Zero, err
	}

	if !expected.IsZero() && hello.Account != expected {
		return account.Zero, NewHandshakeError(
			fmt.Sprintf("peer presented account %v instead of %v", hello.Account, expected), nil)
	}

	log.WithFields(log.Fields{
		"peer":  hello.Account.Short(),
		"kind":  kind,
		"agent": hello.Agent,
	}).Debug("Dialer finished handshake")

	return hello.Account, nil
}

// AcceptHandshake performs the listener's part: receiving the dialer's Hello,
// consulting the Authorizer and answering with our Hello or, on refusal, with
// an error response.
func AcceptHandshake(fc FrameConn, local *account.Identity, kind account.Kind, auth Authorizer) (account.Account, error) {
	hello, err := receiveHello(fc)
	if err != nil {
		return account.Zero, err
	}

	if hello.Kind != kind {
		return account.Zero, NewHandshakeError(
			fmt.Sprintf("peer speaks %q on a %q transport", hello.Kind, kind), nil)
	}

	if auth != nil {
		if authErr := auth(hello.Account); authErr != nil {
			refusal := wire.ErrorResponse(wire.OpHello, 0, &wire.RemoteError{
				Code:    wire.CodeUnauthorized,
				Message: authErr.Error(),
			})
			if frame, encErr := wire.Encode(refusal); encErr == nil {
				_ = fc.WriteFrame(frame)
			}
			return account.Zero, NewHandshakeError("peer was refused", authErr)
		}
	}

	if err := sendHello(fc, local, kind); err != nil {
		return account.Zero, err
	}

	log.WithFields(log.Fields{
		"peer":  hello.Account.Short(),
		"kind":  kind,
		"agent": hello.Agent,
	}).Debug("Listener finished handshake")

	return hello.Account, nil
}

func sendHello(fc FrameConn, local *account.Identity, kind account.Kind) error {
	env, err := wire.HelloEnvelope(wire.Hello{
		Account: local.Account(),
		Kind:    kind,
		Agent:   wire.Agent,
	})
	if err != nil {
		return NewHandshakeError("error marshaling hello", err)
	}

	frame, err := wire.Encode(env)
	if err != nil {
		return NewHandshakeError("error encoding hello", err)
	}

	if err := fc.WriteFrame(frame); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	return nil
}

func receiveHello(fc FrameConn) (hello wire.Hello, err error) {
	buf, readErr := fc.ReadFrame()
	if readErr != nil {
		err = fmt.Errorf("receiving hello: %w", readErr)
		return
	}
	defer buf.Release()

	v, decErr := wire.DecodeBuffer(buf)
	if decErr != nil {
		err = NewHandshakeError("error decoding hello", decErr)
		return
	}

	hello, err = wire.ParseHello(v)
	if err != nil {
		var remoteErr *wire.RemoteError
		if errors.As(err, &remoteErr) {
			err = NewHandshakeError("peer refused us", remoteErr)
		} else {
			err = NewHandshakeError("error parsing hello", err)
		}
	}
	return
}
