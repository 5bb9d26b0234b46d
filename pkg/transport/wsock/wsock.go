// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wsock provides a stream transport backend on top of WebSockets, for
// runtimes which are restricted to HTTP. Each frame is sent as one binary
// WebSocket message, so no additional length prefix is necessary. Otherwise,
// a wsock Session behaves like a stcp Session: one shared Channel, pipelined
// requests and responses matched up by their correlation ids.
package wsock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
)

// Path of the HTTP endpoint to be upgraded.
const Path = "/acctwire"

// Config of the WebSocket backend.
type Config struct {
	// DialTimeout bounds the HTTP upgrade.
	DialTimeout time.Duration

	// HandshakeTimeout bounds the Hello exchange.
	HandshakeTimeout time.Duration

	// PingInterval between two WebSocket pings.
	PingInterval time.Duration

	// MaxFrameSize limits inbound messages.
	MaxFrameSize uint64
}

// DefaultConfig of the WebSocket backend.
func DefaultConfig() Config {
	return Config{
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: transport.DefaultHandshakeTimeout,
		PingInterval:     5 * time.Second,
		MaxFrameSize:     transport.DefaultMaxFrameSize,
	}
}

// Transport is the WebSocket backend.
type Transport struct {
	config Config
}

// New WebSocket backend.
func New(config Config) *Transport {
	return &Transport{config: config}
}

// Kind is account.KindWebSocket.
func (t *Transport) Kind() account.Kind {
	return account.KindWebSocket
}

// Dial upgrades a HTTP connection and performs the handshake.
func (t *Transport) Dial(ctx context.Context, addr account.Address, local *account.Identity, remote account.Account, handler transport.FrameHandler) (transport.Session, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.config.DialTimeout,
	}

	u := url.URL{Scheme: "ws", Host: addr.HostPort(), Path: Path}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	sess := newSession(conn, t.config, handler)
	if err := sess.handshake(func(fc transport.FrameConn) (account.Account, error) {
		return transport.DialHandshake(fc, local, remote, account.KindWebSocket)
	}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.WithField("session", sess).Debug("Dialed WebSocket session")

	sess.start()
	return sess, nil
}

// Listen serves the upgrade endpoint on a new HTTP server.
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
		upgrader: websocket.Upgrader{
			HandshakeTimeout: t.config.DialTimeout,
		},
		sessions: make(chan transport.Session),
		lc:       transport.NewLifecycle(),
	}

	router := mux.NewRouter()
	router.Handle(Path, a).Methods(http.MethodGet)
	a.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: t.config.DialTimeout,
	}

	log.WithField("address", ln.Addr()).Info("Listening for WebSocket sessions")

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(log.Fields{
				"address": ln.Addr(),
				"error":   err,
			}).Error("WebSocket listener's HTTP server failed")

			_ = a.Close()
		}
	}()

	return a, nil
}

func (t *Transport) String() string {
	return fmt.Sprintf("wsock(max frame: %d)", t.config.MaxFrameSize)
}
