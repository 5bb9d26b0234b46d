// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// link is one Session of a Connection together with the requests sent over
// it. A reconnect creates a new link, as responses can only arrive on the
// Session their request was sent on.
type link struct {
	session transport.Session
	pending *pendingTable

	mutex     sync.Mutex
	violation error
}

// violate ends the link due to a peer's protocol violation.
func (l *link) violate(sess transport.Session, err error) {
	l.mutex.Lock()
	if l.violation == nil {
		l.violation = err
	}
	l.mutex.Unlock()

	_ = sess.Close()
}

// err explains the link's end.
func (l *link) err() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.violation != nil {
		return l.violation
	}
	return l.session.Err()
}

// Connection is a pooled, logical link to one remote Account over one Kind of
// transport. It survives the loss of its Session by reconnecting, while its
// in-flight requests are failed.
type Connection struct {
	manager   *Manager
	remote    account.Account
	addr      account.Address
	transport transport.Transport

	ctx    context.Context
	cancel context.CancelFunc

	// nextID hands out correlation ids, starting at one. Zero is reserved.
	nextID atomic.Uint64

	mutex     sync.Mutex
	state     State
	link      *link
	changed   chan struct{}
	reason    error
	holders   int
	idleTimer *time.Timer
}

func newConnection(manager *Manager, remote account.Account, addr account.Address, t transport.Transport) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		manager:   manager,
		remote:    remote,
		addr:      addr,
		transport: t,
		ctx:       ctx,
		cancel:    cancel,
		state:     Disconnected,
		changed:   make(chan struct{}),
	}
}

func (c *Connection) log() *log.Entry {
	return log.WithFields(log.Fields{
		"remote":  c.remote.Short(),
		"address": c.addr,
	})
}

// setState must be called with the mutex held. All waiters are woken up.
func (c *Connection) setState(state State) {
	from := c.state
	c.state = state

	close(c.changed)
	c.changed = make(chan struct{})

	c.manager.metrics.transition(c.addr.Kind, from, state)

	c.log().WithFields(log.Fields{
		"from": from,
		"to":   state,
	}).Debug("Connection changed its state")
}

// Remote Account of this Connection.
func (c *Connection) Remote() account.Account {
	return c.remote
}

// Address this Connection dials.
func (c *Connection) Address() account.Address {
	return c.addr
}

// Kind of this Connection's transport.
func (c *Connection) Kind() account.Kind {
	return c.addr.Kind
}

// State of this Connection.
func (c *Connection) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state
}

// Pending is the number of requests waiting for their response.
func (c *Connection) Pending() int {
	c.mutex.Lock()
	l := c.link
	c.mutex.Unlock()

	if l == nil {
		return 0
	}
	return l.pending.len()
}

func (c *Connection) String() string {
	return fmt.Sprintf("%v@%v", c.remote.Short(), c.addr)
}

// dial a new Session, bound by the DialTimeout.
func (c *Connection) dial() (*link, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.manager.config.DialTimeout)
	defer cancel()

	l := &link{pending: newPendingTable()}
	sess, err := c.transport.Dial(ctx, c.addr, c.manager.identity, c.remote,
		func(sess transport.Session, _ transport.Channel, buf *wire.Buffer) {
			c.handleFrame(l, sess, buf)
		})
	if err != nil {
		return nil, err
	}

	l.session = sess
	return l, nil
}

// handleFrame routes a response to its waiting request by correlation id.
func (c *Connection) handleFrame(l *link, sess transport.Session, buf *wire.Buffer) {
	v, err := wire.DecodeBuffer(buf)
	if err != nil {
		buf.Release()

		c.log().WithError(err).Warn("Connection received a malformed frame, closing its session")
		l.violate(sess, err)
		return
	}

	id := v.CorrelationID()
	if !l.pending.complete(id, result{buf: buf, view: v}) {
		c.log().WithFields(log.Fields{
			"correlation id": id,
			"opcode":         v.Opcode(),
		}).Debug("Connection discards a response without pending request")

		buf.Release()
	}
}

// establish the initial Session, called once after the Connection was
// created in the Handshaking state.
func (c *Connection) establish() {
	l, err := c.dial()
	if err != nil {
		c.log().WithError(err).Info("Connection failed to establish")

		_ = c.terminate(lost(err))
		return
	}

	c.mutex.Lock()
	if c.state == Closed {
		c.mutex.Unlock()
		_ = l.session.Close()
		return
	}
	c.link = l
	c.setState(Established)
	c.mutex.Unlock()

	c.log().Info("Connection established")
	c.manager.publish(Status{Connection: c, Type: StatusAppeared})

	go c.watch(l)
}

// watch a link until its Session ends. Afterwards, its pending requests are
// failed and the Connection tries to reconnect, if the error allows it.
func (c *Connection) watch(l *link) {
	<-l.session.Done()

	cause := l.err()
	if n := l.pending.failAll(lost(cause)); n > 0 {
		c.log().WithFields(log.Fields{
			"pending": n,
			"error":   cause,
		}).Info("Connection failed pending requests of its lost session")
	}

	c.mutex.Lock()
	if c.state == Closed {
		c.mutex.Unlock()
		return
	}

	if !transport.IsRecoverable(cause) || c.manager.config.Backoff.MaxAttempts <= 0 {
		c.mutex.Unlock()

		c.log().WithError(cause).Info("Connection's session ended irrecoverably")
		_ = c.terminate(lost(cause))
		return
	}

	c.link = nil
	c.setState(Degraded)
	c.mutex.Unlock()

	c.log().WithError(cause).Warn("Connection lost its session, reconnecting")
	c.manager.publish(Status{Connection: c, Type: StatusDegraded, Err: cause})

	c.reconnect(cause)
}

// reconnect a Degraded Connection with exponential backoff.
func (c *Connection) reconnect(cause error) {
	backoff := c.manager.config.Backoff

	for attempt := 1; attempt <= backoff.MaxAttempts; attempt++ {
		timer := time.NewTimer(backoff.Delay(attempt))
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}

		l, err := c.dial()
		c.manager.metrics.reconnect(c.addr.Kind, err)

		if err == nil {
			c.mutex.Lock()
			if c.state == Closed {
				c.mutex.Unlock()
				_ = l.session.Close()
				return
			}
			c.link = l
			c.setState(Established)
			c.mutex.Unlock()

			c.log().WithField("attempt", attempt).Info("Connection reestablished")
			c.manager.publish(Status{Connection: c, Type: StatusReestablished})

			go c.watch(l)
			return
		}

		c.log().WithFields(log.Fields{
			"attempt": attempt,
			"error":   err,
		}).Debug("Connection's reconnect attempt failed")

		cause = err
		if !transport.IsRecoverable(err) {
			break
		}
	}

	c.log().WithError(cause).Warn("Connection gave up reconnecting")
	_ = c.terminate(lost(cause))
}

// terminate the Connection: it becomes Closed, is evicted from the pool and
// fails all pending requests. The reason is reported to later callers.
func (c *Connection) terminate(reason error) error {
	c.mutex.Lock()
	l, ok := c.closeLocked(reason)
	c.mutex.Unlock()

	if !ok {
		return nil
	}
	return c.teardown(l, reason)
}

// closeLocked moves the Connection into the Closed state and returns its last
// link. The mutex must be held. It reports false if it was already Closed.
func (c *Connection) closeLocked(reason error) (*link, bool) {
	if c.state == Closed {
		return nil, false
	}

	c.reason = reason
	l := c.link
	c.link = nil
	c.setState(Closed)
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	return l, true
}

// teardown a Closed Connection's last link outside of the mutex.
func (c *Connection) teardown(l *link, reason error) error {
	c.cancel()

	var err error
	if l != nil {
		l.pending.failAll(lost(reason))
		err = l.session.Close()
	}

	c.manager.evict(c)
	c.manager.publish(Status{Connection: c, Type: StatusLost, Err: reason})

	return err
}

// ready waits until the Connection is Established or Closed.
func (c *Connection) ready(ctx context.Context) (*link, error) {
	for {
		c.mutex.Lock()
		state, l, reason, changed := c.state, c.link, c.reason, c.changed
		c.mutex.Unlock()

		switch state {
		case Established:
			return l, nil
		case Closed:
			return nil, reason
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// hold registers another holder. The mutex must be held.
func (c *Connection) hold() {
	c.holders++

	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// tryHold registers another holder, unless the Connection is Closed.
func (c *Connection) tryHold() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == Closed {
		return false
	}
	c.hold()
	return true
}

// unhold drops a holder and starts the idle timeout for the last one.
func (c *Connection) unhold() {
	c.mutex.Lock()
	c.holders--
	if c.holders > 0 || c.state == Closed {
		c.mutex.Unlock()
		return
	}

	idle := c.manager.config.IdleTimeout(c.addr.Kind)
	if idle <= 0 {
		l, _ := c.closeLocked(ErrIdle)
		c.mutex.Unlock()

		c.log().Debug("Closing released connection")
		_ = c.teardown(l, ErrIdle)
		return
	}

	c.idleTimer = time.AfterFunc(idle, c.expire)
	c.mutex.Unlock()
}

// expire closes the Connection if it is still unused. Checking and closing
// happen under the same lock, so pick cannot hold it in between.
func (c *Connection) expire() {
	c.mutex.Lock()
	if c.holders > 0 || c.state == Closed {
		c.mutex.Unlock()
		return
	}
	l, _ := c.closeLocked(ErrIdle)
	c.mutex.Unlock()

	c.log().Debug("Closing idle connection")
	_ = c.teardown(l, ErrIdle)
}

func (c *Connection) load() (holders int, state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.holders, c.state
}

// Begin a request by waiting for an Established Session and allocating a
// correlation id with a pending slot.
func (c *Connection) Begin(ctx context.Context) (*Request, error) {
	l, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	slot, err := l.pending.insert(id)
	if err != nil {
		return nil, err
	}

	return &Request{
		ID:   id,
		conn: c,
		link: l,
		slot: slot,
	}, nil
}

// Request is one in-flight request on a Connection. Its outcome is received
// by exactly one call to Wait.
type Request struct {
	ID uint64

	conn *Connection
	link *link
	slot <-chan result
	ch   transport.Channel
}

// Send the request Envelope, stamped with the Request's correlation id. On
// failure, the Request is finished and must not be waited for.
func (r *Request) Send(ctx context.Context, env wire.Envelope) error {
	env.CorrelationID = r.ID

	frame, err := wire.Encode(env)
	if err != nil {
		r.link.pending.remove(r.ID)
		return err
	}

	ch, err := r.link.session.Open(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	r.ch = ch

	if err := ch.Send(frame); err != nil {
		ch.Abort()
		return r.fail(ctx, err)
	}
	if err := ch.Finish(); err != nil {
		ch.Abort()
		return r.fail(ctx, err)
	}
	return nil
}

func (r *Request) fail(ctx context.Context, err error) error {
	r.link.pending.remove(r.ID)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return lost(err)
}

// Wait for the response. On success, the caller owns the returned Buffer and
// its View. If the context ends first, the slot is removed, the Channel is
// aborted and a late response will be discarded.
func (r *Request) Wait(ctx context.Context) (*wire.Buffer, wire.View, error) {
	select {
	case res := <-r.slot:
		return res.buf, res.view, res.err

	case <-ctx.Done():
		if r.link.pending.remove(r.ID) {
			if r.ch != nil {
				r.ch.Abort()
			}
			return nil, wire.View{}, ctx.Err()
		}

		// The slot was completed concurrently.
		res := <-r.slot
		return res.buf, res.view, res.err
	}
}

// Connection of this Request.
func (r *Request) Connection() *Connection {
	return r.conn
}
