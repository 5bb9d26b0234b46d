// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lucas-clemente/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/transport/quicl/internal"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

type session struct {
	*transport.Lifecycle

	conn   quic.Connection
	peer   account.Account
	config Config
	pool   *wire.BufferPool

	handler transport.FrameHandler

	control       quic.Stream
	controlReader *bufio.Reader
	controlMutex  sync.Mutex
	controlWriter *bufio.Writer
}

func newSession(conn quic.Connection, t *Transport, handler transport.FrameHandler) *session {
	return &session{
		Lifecycle: transport.NewLifecycle(),
		conn:      conn,
		config:    t.config,
		pool:      t.pool,
		handler:   handler,
	}
}

func (sess *session) setControl(stream quic.Stream) {
	sess.control = stream
	sess.controlReader = bufio.NewReader(stream)
	sess.controlWriter = bufio.NewWriter(stream)
}

func (sess *session) dialHandshake(ctx context.Context, local *account.Identity, remote account.Account) error {
	ctx, cancel := context.WithTimeout(ctx, sess.config.HandshakeTimeout)
	defer cancel()

	stream, err := sess.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("opening control stream: %w", err)
	}
	sess.setControl(stream)

	certAccount, err := internal.PeerAccount(sess.conn)
	if err != nil {
		return transport.NewHandshakeError("invalid peer certificate", err)
	}
	if certAccount != remote {
		return transport.NewHandshakeError(
			fmt.Sprintf("peer certificate belongs to %v instead of %v", certAccount, remote), nil)
	}

	if err := stream.SetDeadline(time.Now().Add(sess.config.HandshakeTimeout)); err != nil {
		return err
	}

	peer, err := transport.DialHandshake(sess, local, remote, account.KindQUIC)
	if err != nil {
		// A refusing listener might close the connection before its answer
		// arrives.
		return internal.ClassifyRemote(err)
	}
	sess.peer = peer

	return stream.SetDeadline(time.Time{})
}

func (sess *session) acceptHandshake(local *account.Identity, auth transport.Authorizer) error {
	ctx, cancel := context.WithTimeout(context.Background(), sess.config.HandshakeTimeout)
	defer cancel()

	// The dialer has to open the control stream within the handshake timeout.
	stream, err := sess.conn.AcceptStream(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return transport.NewHandshakeError("dialer took too long to initiate handshake", err)
		}
		return fmt.Errorf("accepting control stream: %w", err)
	}
	sess.setControl(stream)

	certAccount, err := internal.PeerAccount(sess.conn)
	if err != nil {
		return transport.NewHandshakeError("invalid peer certificate", err)
	}

	// The announced Account must match the certificate, before asking the
	// Authorizer.
	matchingAuth := func(remote account.Account) error {
		if remote != certAccount {
			return fmt.Errorf("hello announced %v, certificate belongs to %v", remote, certAccount)
		}
		if auth != nil {
			return auth(remote)
		}
		return nil
	}

	if err := stream.SetDeadline(time.Now().Add(sess.config.HandshakeTimeout)); err != nil {
		return err
	}

	peer, err := transport.AcceptHandshake(sess, local, account.KindQUIC, matchingAuth)
	if err != nil {
		return err
	}
	sess.peer = peer

	return stream.SetDeadline(time.Time{})
}

// start serving inbound streams and the control stream.
func (sess *session) start() {
	go sess.acceptStreams()
	go sess.controlLoop()
}

func (sess *session) acceptStreams() {
	for {
		stream, err := sess.conn.AcceptStream(context.Background())
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.WithFields(log.Fields{
					"session": sess,
					"error":   err,
				}).Debug("Multiplexed session's peer timed out")
			}

			sess.fail(internal.ClassifyRemote(err))
			return
		}

		go sess.handleStream(&channel{stream: stream})
	}
}

// handleStream reads the single frame of a stream and passes it on.
func (sess *session) handleStream(ch *channel) {
	reader := bufio.NewReader(ch.stream)

	buf, err := transport.ReadFrame(reader, sess.pool, sess.config.MaxFrameSize)
	if err != nil {
		if !ch.aborted() && !sess.Terminated() {
			log.WithFields(log.Fields{
				"session": sess,
				"stream":  ch.stream.StreamID(),
				"error":   err,
			}).Debug("Multiplexed session failed to read a stream's frame")
		}

		ch.stream.CancelRead(internal.StreamTransmissionError)
		return
	}

	sess.handler(sess, ch, buf)

	// Exactly one frame is allowed per stream, followed by its end.
	_ = ch.stream.SetReadDeadline(time.Now().Add(sess.config.HandshakeTimeout))
	if _, err := reader.Peek(1); !errors.Is(err, io.EOF) {
		ch.stream.CancelRead(internal.StreamProtocolError)
	}
}

func (sess *session) controlLoop() {
	for {
		buf, err := sess.ReadFrame()
		if err != nil {
			// The connection's end is reported by acceptStreams.
			return
		}

		v, decErr := wire.DecodeBuffer(buf)
		if decErr != nil {
			buf.Release()
			sess.fail(decErr)
			return
		}

		op := v.Opcode()
		buf.Release()

		switch op {
		case wire.OpGoAway:
			log.WithField("session", sess).Debug("Multiplexed session's peer is going away")
			sess.fail(transport.ErrGoAway)
			return

		default:
			log.WithFields(log.Fields{
				"session": sess,
				"opcode":  op,
			}).Debug("Multiplexed session ignores unknown control frame")
		}
	}
}

func (sess *session) fail(err error) {
	if sess.Terminate(err) {
		log.WithFields(log.Fields{
			"session": sess,
			"error":   err,
		}).Debug("Multiplexed session failed")

		_ = sess.conn.CloseWithError(internal.CloseCode(err), "session failed")
	}
}

// WriteFrame onto the control stream.
func (sess *session) WriteFrame(frame []byte) error {
	sess.controlMutex.Lock()
	defer sess.controlMutex.Unlock()

	return transport.WriteFrame(sess.controlWriter, frame)
}

// ReadFrame from the control stream.
func (sess *session) ReadFrame() (*wire.Buffer, error) {
	return transport.ReadFrame(sess.controlReader, sess.pool, sess.config.MaxFrameSize)
}

func (sess *session) Peer() account.Account {
	return sess.peer
}

func (sess *session) Kind() account.Kind {
	return account.KindQUIC
}

func (sess *session) RemoteAddr() net.Addr {
	return sess.conn.RemoteAddr()
}

// Open a new stream for one request. Its response is read by a dedicated
// goroutine and passed to the handler.
func (sess *session) Open(ctx context.Context) (transport.Channel, error) {
	if sess.Terminated() {
		return nil, sess.Err()
	}

	stream, err := sess.conn.OpenStreamSync(ctx)
	if err != nil {
		if sess.Terminated() {
			return nil, sess.Err()
		}
		return nil, err
	}

	ch := &channel{stream: stream}
	go sess.handleStream(ch)

	return ch, nil
}

// Close announces the shutdown on the control stream and closes the
// connection.
func (sess *session) Close() error {
	if !sess.Terminate(transport.ErrSessionClosed) {
		return nil
	}

	if frame, err := wire.Encode(wire.NewEnvelope(wire.OpGoAway, 0, nil)); err == nil && sess.control != nil {
		_ = sess.control.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		_ = sess.WriteFrame(frame)
	}

	return sess.conn.CloseWithError(internal.ApplicationShutdown, "session closed")
}

func (sess *session) String() string {
	return fmt.Sprintf("quicl://%v(%v)", sess.conn.RemoteAddr(), sess.peer.Short())
}

// channel is one request's stream.
type channel struct {
	stream quic.Stream

	abortMutex sync.Mutex
	isAborted  bool
}

func (ch *channel) Send(frame []byte) error {
	if err := transport.WriteFrame(bufio.NewWriter(ch.stream), frame); err != nil {
		ch.stream.CancelWrite(internal.StreamTransmissionError)
		return err
	}
	return nil
}

// Finish closes the stream's sending direction.
func (ch *channel) Finish() error {
	return ch.stream.Close()
}

// Abort resets both directions of the stream.
func (ch *channel) Abort() {
	ch.abortMutex.Lock()
	ch.isAborted = true
	ch.abortMutex.Unlock()

	ch.stream.CancelRead(internal.StreamAborted)
	ch.stream.CancelWrite(internal.StreamAborted)
}

func (ch *channel) aborted() bool {
	ch.abortMutex.Lock()
	defer ch.abortMutex.Unlock()

	return ch.isAborted
}
