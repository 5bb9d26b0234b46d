// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stcp provides the stream transport backend: all frames of a Session
// are written back to back onto one TCP connection. Each frame is prefixed by
// its length as a CBOR byte string header; empty headers serve as keepalive
// probes. Requests are pipelined and their responses are matched up by their
// correlation ids, which might arrive in any order.
package stcp

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// Config of the stream backend.
type Config struct {
	// DialTimeout bounds establishing the TCP connection.
	DialTimeout time.Duration

	// HandshakeTimeout bounds the Hello exchange.
	HandshakeTimeout time.Duration

	// KeepaliveInterval between two keepalive probes.
	KeepaliveInterval time.Duration

	// MaxFrameSize limits inbound frames.
	MaxFrameSize uint64
}

// DefaultConfig of the stream backend.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       5 * time.Second,
		HandshakeTimeout:  transport.DefaultHandshakeTimeout,
		KeepaliveInterval: 5 * time.Second,
		MaxFrameSize:      transport.DefaultMaxFrameSize,
	}
}

// Transport is the stream backend.
type Transport struct {
	config Config
	pool   *wire.BufferPool
}

// New stream backend.
func New(config Config) *Transport {
	return &Transport{
		config: config,
		pool:   wire.NewBufferPool(0),
	}
}

// Kind is account.KindTCP.
func (t *Transport) Kind() account.Kind {
	return account.KindTCP
}

// Dial a TCP connection and perform the handshake.
func (t *Transport) Dial(ctx context.Context, addr account.Address, local *account.Identity, remote account.Account, handler transport.FrameHandler) (transport.Session, error) {
	conn, err := dial(ctx, addr.HostPort(), t.config.DialTimeout)
	if err != nil {
		return nil, err
	}

	sess := newSession(conn, t, handler)
	if err := sess.handshake(func(fc transport.FrameConn) (account.Account, error) {
		return transport.DialHandshake(fc, local, remote, account.KindTCP)
	}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"session": sess,
	}).Debug("Dialed stream session")

	sess.start()
	return sess, nil
}

// Listen for incoming TCP connections.
func (t *Transport) Listen(address string, local *account.Identity, handler transport.FrameHandler, auth transport.Authorizer) (transport.Acceptor, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	a := &acceptor{
		listener:  ln,
		transport: t,
		local:     local,
		handler:   handler,
		auth:      auth,
		sessions:  make(chan transport.Session),
		lc:        transport.NewLifecycle(),
	}

	log.WithField("address", ln.Addr()).Info("Listening for stream sessions")

	go a.handle()
	return a, nil
}

func (t *Transport) String() string {
	return fmt.Sprintf("stcp(max frame: %d)", t.config.MaxFrameSize)
}
