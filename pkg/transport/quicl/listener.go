// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"net"

	"github.com/lucas-clemente/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/transport/quicl/internal"
)

type acceptor struct {
	listener  quic.Listener
	transport *Transport

	local   *account.Identity
	handler transport.FrameHandler
	auth    transport.Authorizer

	sessions chan transport.Session
	lc       *transport.Lifecycle
}

func (a *acceptor) handle() {
	for {
		conn, err := a.listener.Accept(context.Background())
		if err != nil {
			if a.lc.Terminated() {
				log.WithField("address", a.listener.Addr()).Debug("Multiplexed listener stopped")
				return
			}

			log.WithFields(log.Fields{
				"address": a.listener.Addr(),
				"error":   err,
			}).Error("Multiplexed listener failed to accept a connection")

			_ = a.Close()
			return
		}

		log.WithFields(log.Fields{
			"address": a.listener.Addr(),
			"peer":    conn.RemoteAddr(),
		}).Debug("Multiplexed listener accepted new connection")

		go a.handshake(conn)
	}
}

func (a *acceptor) handshake(conn quic.Connection) {
	sess := newSession(conn, a.transport, a.handler)
	if err := sess.acceptHandshake(a.local, a.auth); err != nil {
		log.WithFields(log.Fields{
			"address": a.listener.Addr(),
			"peer":    conn.RemoteAddr(),
			"error":   err,
		}).Warn("Multiplexed listener's handshake failed")

		_ = conn.CloseWithError(internal.CloseCode(err), "handshake failed")
		return
	}

	sess.start()

	select {
	case a.sessions <- sess:
	case <-a.lc.Done():
		_ = sess.Close()
	}
}

func (a *acceptor) Accept(ctx context.Context) (transport.Session, error) {
	select {
	case sess := <-a.sessions:
		return sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.lc.Done():
		return nil, transport.ErrSessionClosed
	}
}

func (a *acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

func (a *acceptor) Close() error {
	if a.lc.Terminate(transport.ErrSessionClosed) {
		log.WithField("address", a.listener.Addr()).Info("Closing multiplexed listener")
		return a.listener.Close()
	}
	return nil
}
