// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"

	"github.com/acctwire/acctwire-go/pkg/wire"
)

var (
	// ErrSessionClosed is reported after a local Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrGoAway is reported if the peer announced its shutdown.
	ErrGoAway = errors.New("peer is going away")
)

// HandshakeError is returned if two peers cannot agree on a Session. It is
// never recoverable by reconnecting.
type HandshakeError struct {
	Msg   string
	Cause error
}

// NewHandshakeError creates a HandshakeError with an optional cause.
func NewHandshakeError(msg string, cause error) *HandshakeError {
	return &HandshakeError{Msg: msg, Cause: cause}
}

func (err *HandshakeError) Error() string {
	if err.Cause == nil {
		return "handshake failed: " + err.Msg
	}
	return fmt.Sprintf("handshake failed: %s: %v", err.Msg, err.Cause)
}

func (err *HandshakeError) Unwrap() error {
	return err.Cause
}

// FrameSizeError is a protocol violation by a peer announcing a frame larger
// than allowed.
type FrameSizeError struct {
	Size  uint64
	Limit uint64
}

func (err *FrameSizeError) Error() string {
	return fmt.Sprintf("frame of %d bytes exceeds the limit of %d bytes", err.Size, err.Limit)
}

// IsRecoverable reports whether a Session's failure might be overcome by
// establishing a new Session. Plain I/O errors are, while handshake and
// protocol violations or a local close are not.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	var (
		handshakeErr *HandshakeError
		frameSizeErr *FrameSizeError
		decodingErr  *wire.DecodingError
		kindErr      *UnknownKindError
	)

	switch {
	case errors.Is(err, ErrSessionClosed):
		return false
	case errors.As(err, &handshakeErr), errors.As(err, &frameSizeErr),
		errors.As(err, &decodingErr), errors.As(err, &kindErr):
		return false
	default:
		return true
	}
}
