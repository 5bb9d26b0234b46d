// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport defines the capabilities a network backend must offer to
// carry frames between two Accounts.
//
// A Transport dials Sessions to remote Accounts or listens for incoming ones.
// Both sides of a Session first perform the Hello handshake, after which the
// remote Account is known. Frames are exchanged over Channels: a stream
// backend has exactly one Channel per Session, shared by all requests and
// matched up by correlation ids, while a multiplexed backend opens a new
// Channel for each request.
//
// Received frames are passed to a FrameHandler, called from the backend's
// reader goroutines. A FrameHandler owns the passed Buffer and must not block
// for long, otherwise it would delay all following frames of a stream Session.
package transport

import (
	"context"
	"net"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// FrameHandler receives complete inbound frames. The Channel is the one the
// frame arrived on and should be used for an answer.
type FrameHandler func(sess Session, ch Channel, buf *wire.Buffer)

// Authorizer decides whether a remote Account is allowed to connect. A nil
// Authorizer allows everyone.
type Authorizer func(remote account.Account) error

// Transport is implemented by each backend.
type Transport interface {
	// Kind of this backend.
	Kind() account.Kind

	// Dial a Session to the remote Account, reachable at the Address. The
	// handshake fails with a *HandshakeError if the peer presents another
	// Account.
	Dial(ctx context.Context, addr account.Address, local *account.Identity, remote account.Account, handler FrameHandler) (Session, error)

	// Listen on a "host:port" address for incoming Sessions.
	Listen(address string, local *account.Identity, handler FrameHandler, auth Authorizer) (Acceptor, error)
}

// Acceptor hands out incoming, handshaked Sessions.
type Acceptor interface {
	// Accept blocks until the next Session is established. After Close,
	// ErrSessionClosed is returned.
	Accept(ctx context.Context) (Session, error)

	// Addr is the bound listen address.
	Addr() net.Addr

	Close() error
}

// Session is an established connection to one remote Account.
type Session interface {
	// Peer is the remote Account, as verified by the handshake.
	Peer() account.Account

	// Kind of the backend serving this Session.
	Kind() account.Kind

	// RemoteAddr of the peer.
	RemoteAddr() net.Addr

	// Open a Channel for a request. Stream backends return their single,
	// shared Channel.
	Open(ctx context.Context) (Channel, error)

	// Done is closed when the Session ends, either by Close or by an error.
	Done() <-chan struct{}

	// Err describes why the Session ended. It is nil while the Session is up
	// and ErrSessionClosed after a local Close.
	Err() error

	Close() error
}

// Channel carries frames in both directions.
type Channel interface {
	// Send a frame. Concurrent Sends on a shared Channel are serialized.
	Send(frame []byte) error

	// Finish signals that no more frames will be sent on this Channel. This
	// is a no-op for shared Channels.
	Finish() error

	// Abort gives up on this Channel, e.g., after a timeout. This is a no-op
	// for shared Channels.
	Abort()
}
