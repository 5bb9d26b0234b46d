// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stcp

import (
	"context"
	"errors"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
)

// acceptor accepts TCP connections and performs their handshakes
// concurrently, so a slow peer does not hold up others.
type acceptor struct {
	listener  net.Listener
	transport *Transport

	local   *account.Identity
	handler transport.FrameHandler
	auth    transport.Authorizer

	sessions chan transport.Session
	lc       *transport.Lifecycle
}

func (a *acceptor) handle() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.lc.Terminated() || errors.Is(err, net.ErrClosed) {
				log.WithField("address", a.listener.Addr()).Debug("Stream listener stopped")
				return
			}

			log.WithFields(log.Fields{
				"address": a.listener.Addr(),
				"error":   err,
			}).Warn("Stream listener failed to accept a connection")
			continue
		}

		go a.handshake(conn)
	}
}

func (a *acceptor) handshake(conn net.Conn) {
	sess := newSession(conn, a.transport, a.handler)
	if err := sess.handshake(func(fc transport.FrameConn) (account.Account, error) {
		return transport.AcceptHandshake(fc, a.local, account.KindTCP, a.auth)
	}); err != nil {
		log.WithFields(log.Fields{
			"address": a.listener.Addr(),
			"peer":    conn.RemoteAddr(),
			"error":   err,
		}).Warn("Stream listener's handshake failed")

		_ = conn.Close()
		return
	}

	sess.start()

	select {
	case a.sessions <- sess:
		log.WithFields(log.Fields{
			"address": a.listener.Addr(),
			"session": sess,
		}).Debug("Stream listener accepted a session")

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
		log.WithField("address", a.listener.Addr()).Info("Closing stream listener")
		return a.listener.Close()
	}
	return nil
}
