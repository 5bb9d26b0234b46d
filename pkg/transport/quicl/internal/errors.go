// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import (
	"errors"

	"github.com/lucas-clemente/quic-go"

	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

const (
	// ConnectionError designates errors in data transmission.
	ConnectionError quic.ApplicationErrorCode = 3
	// HandshakeFailure is sent if the Hello exchange failed.
	HandshakeFailure quic.ApplicationErrorCode = 4
	// ApplicationShutdown is sent when a session is closed on purpose.
	ApplicationShutdown quic.ApplicationErrorCode = 5
	// ProtocolViolation is sent after receiving malformed frames.
	ProtocolViolation quic.ApplicationErrorCode = 6

	StreamTransmissionError quic.StreamErrorCode = 1
	StreamProtocolError     quic.StreamErrorCode = 2
	StreamAborted           quic.StreamErrorCode = 3
)

// CloseCode picks the application error code to close a connection with,
// based on the error that ended its session.
func CloseCode(err error) quic.ApplicationErrorCode {
	var (
		handshakeErr *transport.HandshakeError
		frameSizeErr *transport.FrameSizeError
		decodingErr  *wire.DecodingError
	)

	switch {
	case err == nil, errors.Is(err, transport.ErrSessionClosed), errors.Is(err, transport.ErrGoAway):
		return ApplicationShutdown
	case errors.As(err, &handshakeErr):
		return HandshakeFailure
	case errors.As(err, &frameSizeErr), errors.As(err, &decodingErr):
		return ProtocolViolation
	default:
		return ConnectionError
	}
}

// ClassifyRemote translates a QUIC connection error into the transport's
// error vocabulary. A peer closing its side on purpose is going away, while a
// peer failing the handshake refused us for good.
func ClassifyRemote(err error) error {
	var appErr *quic.ApplicationError
	if !errors.As(err, &appErr) || !appErr.Remote {
		return err
	}

	switch appErr.ErrorCode {
	case ApplicationShutdown:
		return transport.ErrGoAway
	case HandshakeFailure:
		return transport.NewHandshakeError("peer closed the connection during handshake", err)
	default:
		return err
	}
}
