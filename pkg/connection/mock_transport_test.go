// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

var errRefused = errors.New("mock connection refused")

// mockTransport creates in-memory Sessions whose peer echoes each request,
// unless it is silenced.
type mockTransport struct {
	kind account.Kind

	mutex     sync.Mutex
	dials     int
	failDials int
	fatal     error
	silent    bool
	sessions  []*mockSession
}

func newMockTransport(kind account.Kind) *mockTransport {
	return &mockTransport{kind: kind}
}

func (mt *mockTransport) Kind() account.Kind {
	return mt.kind
}

func (mt *mockTransport) Dial(ctx context.Context, _ account.Address, _ *account.Identity, remote account.Account, handler transport.FrameHandler) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	mt.dials++
	if mt.fatal != nil {
		return nil, mt.fatal
	}
	if mt.failDials > 0 {
		mt.failDials--
		return nil, errRefused
	}

	sess := &mockSession{
		Lifecycle: transport.NewLifecycle(),
		mt:        mt,
		peer:      remote,
		handler:   handler,
	}
	mt.sessions = append(mt.sessions, sess)
	return sess, nil
}

func (mt *mockTransport) Listen(string, *account.Identity, transport.FrameHandler, transport.Authorizer) (transport.Acceptor, error) {
	return nil, errors.New("mock transport cannot listen")
}

func (mt *mockTransport) setSilent(silent bool) {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	mt.silent = silent
}

func (mt *mockTransport) setFailDials(n int) {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	mt.failDials = n
}

func (mt *mockTransport) dialCount() int {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	return mt.dials
}

func (mt *mockTransport) lastSession() *mockSession {
	mt.mutex.Lock()
	defer mt.mutex.Unlock()

	if len(mt.sessions) == 0 {
		return nil
	}
	return mt.sessions[len(mt.sessions)-1]
}

// mockSession is a Session with a single, shared Channel.
type mockSession struct {
	*transport.Lifecycle

	mt      *mockTransport
	peer    account.Account
	handler transport.FrameHandler
}

func (sess *mockSession) Peer() account.Account {
	return sess.peer
}

func (sess *mockSession) Kind() account.Kind {
	return sess.mt.kind
}

func (sess *mockSession) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv6loopback, Port: 1}
}

func (sess *mockSession) Open(context.Context) (transport.Channel, error) {
	if sess.Terminated() {
		return nil, sess.Err()
	}
	return sess, nil
}

func (sess *mockSession) Send(frame []byte) error {
	if sess.Terminated() {
		return sess.Err()
	}

	sess.mt.mutex.Lock()
	silent := sess.mt.silent
	sess.mt.mutex.Unlock()

	if silent {
		return nil
	}

	v, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	resp, err := wire.Encode(wire.NewEnvelope(v.Opcode(), v.CorrelationID(), v.Payload()))
	if err != nil {
		return err
	}

	go sess.deliver(resp)
	return nil
}

// deliver a frame as if the peer had sent it.
func (sess *mockSession) deliver(frame []byte) {
	if !sess.Terminated() {
		sess.handler(sess, sess, wire.WrapBuffer(frame))
	}
}

// sever the Session as if the network failed.
func (sess *mockSession) sever(err error) {
	sess.Terminate(err)
}

func (sess *mockSession) Finish() error {
	return nil
}

func (sess *mockSession) Abort() {}

func (sess *mockSession) Close() error {
	sess.Terminate(transport.ErrSessionClosed)
	return nil
}
