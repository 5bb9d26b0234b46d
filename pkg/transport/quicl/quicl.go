// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quicl provides the multiplexed transport backend on top of QUIC.
//
// The dialer opens the first stream of a connection as its control stream,
// used for the Hello handshake and a graceful GoAway; it never carries
// requests. Afterwards, each request gets a fresh stream: the requesting side
// writes exactly one frame and closes its sending direction, the answering
// side writes one response frame and closes as well. Thus, a slow request
// never blocks others.
//
// Both peers present self-signed certificates for their Account's ed25519
// key. The Account announced in the Hello must match the certificate.
package quicl

import (
	"context"
	"fmt"
	"time"

	"github.com/lucas-clemente/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/transport/quicl/internal"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// Config of the multiplexed backend.
type Config struct {
	// HandshakeTimeout bounds both QUIC's and our own handshake.
	HandshakeTimeout time.Duration

	// KeepAlivePeriod of QUIC's keepalive.
	KeepAlivePeriod time.Duration

	// MaxIdleTimeout after which a silent connection is considered dead.
	MaxIdleTimeout time.Duration

	// MaxIncomingStreams limits concurrent requests per connection.
	MaxIncomingStreams int64

	// MaxFrameSize limits inbound frames.
	MaxFrameSize uint64
}

// DefaultConfig of the multiplexed backend.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:   transport.DefaultHandshakeTimeout,
		KeepAlivePeriod:    2 * time.Second,
		MaxIdleTimeout:     10 * time.Second,
		MaxIncomingStreams: 2048,
		MaxFrameSize:       transport.DefaultMaxFrameSize,
	}
}

// Transport is the multiplexed backend.
type Transport struct {
	config Config
	pool   *wire.BufferPool
}

// New multiplexed backend.
func New(config Config) *Transport {
	return &Transport{
		config: config,
		pool:   wire.NewBufferPool(0),
	}
}

// Kind is account.KindQUIC.
func (t *Transport) Kind() account.Kind {
	return account.KindQUIC
}

func (t *Transport) quicConfig() *quic.Config {
	return internal.QUICConfig(t.config.KeepAlivePeriod, t.config.MaxIdleTimeout,
		t.config.HandshakeTimeout, t.config.MaxIncomingStreams)
}

// Dial a QUIC connection, open its control stream and perform the handshake.
func (t *Transport) Dial(ctx context.Context, addr account.Address, local *account.Identity, remote account.Account, handler transport.FrameHandler) (transport.Session, error) {
	tlsConf, err := internal.DialerTLSConfig(local, remote)
	if err != nil {
		return nil, err
	}

	conn, err := quic.DialAddrContext(ctx, addr.HostPort(), tlsConf, t.quicConfig())
	if err != nil {
		return nil, err
	}

	sess := newSession(conn, t, handler)
	if err := sess.dialHandshake(ctx, local, remote); err != nil {
		log.WithFields(log.Fields{
			"address": addr,
			"error":   err,
		}).Debug("Multiplexed handshake failed")

		_ = conn.CloseWithError(internal.CloseCode(err), "handshake failed")
		return nil, err
	}

	log.WithField("session", sess).Debug("Dialed multiplexed session")

	sess.start()
	return sess, nil
}

// Listen for incoming QUIC connections.
func (t *Transport) Listen(address string, local *account.Identity, handler transport.FrameHandler, auth transport.Authorizer) (transport.Acceptor, error) {
	tlsConf, err := internal.ListenerTLSConfig(local)
	if err != nil {
		return nil, err
	}

	ln, err := quic.ListenAddr(address, tlsConf, t.quicConfig())
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

	log.WithField("address", ln.Addr()).Info("Listening for multiplexed sessions")

	go a.handle()
	return a, nil
}

func (t *Transport) String() string {
	return fmt.Sprintf("quicl(max frame: %d)", t.config.MaxFrameSize)
}
