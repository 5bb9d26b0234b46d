// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsock

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// session is both a transport.Session and its single, shared Channel.
type session struct {
	*transport.Lifecycle

	conn   *websocket.Conn
	peer   account.Account
	config Config

	handler transport.FrameHandler

	// writeMutex serializes messages, as a websocket.Conn allows only one
	// concurrent writer.
	writeMutex sync.Mutex
}

func newSession(conn *websocket.Conn, config Config, handler transport.FrameHandler) *session {
	conn.SetReadLimit(int64(config.MaxFrameSize))

	return &session{
		Lifecycle: transport.NewLifecycle(),
		conn:      conn,
		config:    config,
		handler:   handler,
	}
}

func (sess *session) handshake(f func(transport.FrameConn) (account.Account, error)) error {
	deadline := time.Now().Add(sess.config.HandshakeTimeout)
	if err := sess.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	if err := sess.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	peer, err := f(sess)
	if err != nil {
		return err
	}
	sess.peer = peer

	if err := sess.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	return sess.conn.SetWriteDeadline(time.Time{})
}

func (sess *session) start() {
	go sess.readLoop()
	go sess.pingLoop()
}

func (sess *session) readLoop() {
	for {
		buf, err := sess.ReadFrame()
		if err != nil {
			sess.fail(err)
			return
		}

		sess.handler(sess, sess, buf)
	}
}

func (sess *session) pingLoop() {
	if sess.config.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(sess.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return

		case <-ticker.C:
			deadline := time.Now().Add(sess.config.PingInterval)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.WithFields(log.Fields{
					"session": sess,
					"error":   err,
				}).Warn("WebSocket session's ping errored")

				sess.fail(err)
				return
			}
		}
	}
}

func (sess *session) fail(err error) {
	if sess.Terminate(err) {
		log.WithFields(log.Fields{
			"session": sess,
			"error":   err,
		}).Debug("WebSocket session failed")

		_ = sess.conn.Close()
	}
}

// WriteFrame as one binary message.
func (sess *session) WriteFrame(frame []byte) error {
	sess.writeMutex.Lock()
	defer sess.writeMutex.Unlock()

	return sess.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// ReadFrame reads the next binary message. Other message types are a protocol
// violation.
func (sess *session) ReadFrame() (*wire.Buffer, error) {
	messageType, data, err := sess.conn.ReadMessage()
	if err != nil {
		return nil, err
	} else if messageType != websocket.BinaryMessage {
		return nil, &wire.DecodingError{
			Reason: wire.ReasonPayload,
			Detail: fmt.Sprintf("WebSocket message type %d is not binary", messageType),
		}
	}

	return wire.WrapBuffer(data), nil
}

func (sess *session) Peer() account.Account {
	return sess.peer
}

func (sess *session) Kind() account.Kind {
	return account.KindWebSocket
}

func (sess *session) RemoteAddr() net.Addr {
	return sess.conn.RemoteAddr()
}

func (sess *session) Open(ctx context.Context) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sess.Terminated() {
		return nil, sess.Err()
	}
	return sess, nil
}

func (sess *session) Send(frame []byte) error {
	if sess.Terminated() {
		return sess.Err()
	}

	if err := sess.WriteFrame(frame); err != nil {
		sess.fail(err)
		return err
	}
	return nil
}

func (sess *session) Finish() error {
	return nil
}

func (sess *session) Abort() {}

// Close sends a close message before closing the connection.
func (sess *session) Close() error {
	if !sess.Terminate(transport.ErrSessionClosed) {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	_ = sess.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(100*time.Millisecond))

	return sess.conn.Close()
}

func (sess *session) String() string {
	return fmt.Sprintf("wsock://%v(%v)", sess.conn.RemoteAddr(), sess.peer.Short())
}
