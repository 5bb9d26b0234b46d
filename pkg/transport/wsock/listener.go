// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsock

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
)

type acceptor struct {
	listener  net.Listener
	server    *http.Server
	transport *Transport

	local    *account.Identity
	handler  transport.FrameHandler
	auth     transport.Authorizer
	upgrader websocket.Upgrader

	sessions chan transport.Session
	lc       *transport.Lifecycle
}

// ServeHTTP upgrades the request and performs the listener's handshake. Each
// request is already served on its own goroutine.
func (a *acceptor) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	sess := newSession(conn, a.transport.config, a.handler)
	if err := sess.handshake(func(fc transport.FrameConn) (account.Account, error) {
		return transport.AcceptHandshake(fc, a.local, account.KindWebSocket, a.auth)
	}); err != nil {
		log.WithFields(log.Fields{
			"address": a.listener.Addr(),
			"peer":    conn.RemoteAddr(),
			"error":   err,
		}).Warn("WebSocket listener's handshake failed")

		_ = conn.Close()
		return
	}

	sess.start()

	select {
	case a.sessions <- sess:
		log.WithFields(log.Fields{
			"address": a.listener.Addr(),
			"session": sess,
		}).Debug("WebSocket listener accepted a session")

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

// Close stops the HTTP server. Hijacked WebSocket connections are not
// affected and have to be closed by their owners.
func (a *acceptor) Close() error {
	if a.lc.Terminate(transport.ErrSessionClosed) {
		log.WithField("address", a.listener.Addr()).Info("Closing WebSocket listener")
		return a.server.Close()
	}
	return nil
}
