// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// session is both a transport.Session and its single, shared Channel.
type session struct {
	*transport.Lifecycle

	conn   net.Conn
	peer   account.Account
	config Config
	pool   *wire.BufferPool

	handler transport.FrameHandler

	reader *bufio.Reader

	// writeMutex serializes complete frames onto the connection.
	writeMutex sync.Mutex
	writer     *bufio.Writer
}

func newSession(conn net.Conn, t *Transport, handler transport.FrameHandler) *session {
	return &session{
		Lifecycle: transport.NewLifecycle(),
		conn:      conn,
		config:    t.config,
		pool:      t.pool,
		handler:   handler,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
	}
}

// handshake runs one side of the Hello exchange within the handshake timeout.
func (sess *session) handshake(f func(transport.FrameConn) (account.Account, error)) error {
	if err := sess.conn.SetDeadline(time.Now().Add(sess.config.HandshakeTimeout)); err != nil {
		return err
	}

	peer, err := f(sess)
	if err != nil {
		return err
	}
	sess.peer = peer

	return sess.conn.SetDeadline(time.Time{})
}

// start the reader and keepalive goroutines after a successful handshake.
func (sess *session) start() {
	go sess.readLoop()
	go sess.keepaliveLoop()
}

func (sess *session) readLoop() {
	for {
		buf, err := transport.ReadFrame(sess.reader, sess.pool, sess.config.MaxFrameSize)
		if err != nil {
			sess.fail(err)
			return
		}

		sess.handler(sess, sess, buf)
	}
}

func (sess *session) keepaliveLoop() {
	if sess.config.KeepaliveInterval <= 0 {
		return
	}

	ticker := time.NewTicker(sess.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return

		case <-ticker.C:
			sess.writeMutex.Lock()
			err := transport.WriteKeepalive(sess.writer)
			sess.writeMutex.Unlock()

			if err != nil {
				log.WithFields(log.Fields{
					"session": sess,
					"error":   err,
				}).Warn("Stream session's keepalive errored")

				sess.fail(err)
				return
			}
		}
	}
}

// fail terminates the Session due to an error.
func (sess *session) fail(err error) {
	if sess.Terminate(err) {
		log.WithFields(log.Fields{
			"session": sess,
			"error":   err,
		}).Debug("Stream session failed")

		_ = sess.conn.Close()
	}
}

// WriteFrame is used by the handshake.
func (sess *session) WriteFrame(frame []byte) error {
	sess.writeMutex.Lock()
	defer sess.writeMutex.Unlock()

	return transport.WriteFrame(sess.writer, frame)
}

// ReadFrame is used by the handshake.
func (sess *session) ReadFrame() (*wire.Buffer, error) {
	return transport.ReadFrame(sess.reader, sess.pool, sess.config.MaxFrameSize)
}

func (sess *session) Peer() account.Account {
	return sess.peer
}

func (sess *session) Kind() account.Kind {
	return account.KindTCP
}

func (sess *session) RemoteAddr() net.Addr {
	return sess.conn.RemoteAddr()
}

// Open returns the Session itself, as all requests share one stream.
func (sess *session) Open(ctx context.Context) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sess.Terminated() {
		return nil, sess.Err()
	}
	return sess, nil
}

// Send a frame. A failed write terminates the whole Session, as the stream's
// framing is broken afterwards.
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

func (sess *session) Close() error {
	if sess.Terminate(transport.ErrSessionClosed) {
		return sess.conn.Close()
	}
	return nil
}

func (sess *session) String() string {
	return fmt.Sprintf("stcp://%v(%v)", sess.conn.RemoteAddr(), sess.peer.Short())
}
