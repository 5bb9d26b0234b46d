// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package server accepts Sessions from remote Accounts and answers their
// requests by registered handlers.
//
// Each valid request is handled on its own goroutine. Its response carries
// the request's opcode and correlation id. Requests without a handler, refused
// senders, failing and panicking handlers are answered by error responses;
// they never end the Session. Only malformed frames do, as the stream's
// integrity is lost.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// HandlerFunc answers a request's payload. The payload is borrowed and must
// not be retained after returning. A returned *wire.RemoteError is sent as
// it is, other errors as an opaque CodeHandlerFailure.
type HandlerFunc func(ctx context.Context, sender account.Account, payload []byte) ([]byte, error)

// Config of a Server.
type Config struct {
	// Authorizer checks remote Accounts, both at the handshake and for each
	// request. Nil allows everyone.
	Authorizer transport.Authorizer

	// HandlerTimeout bounds each handler's context. Zero disables it.
	HandlerTimeout time.Duration

	// Registerer for the Server's metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Server dispatches requests to handlers.
type Server struct {
	identity  *account.Identity
	transport transport.Transport
	config    Config
	metrics   *metrics

	handlersMutex sync.RWMutex
	handlers      map[wire.Opcode]HandlerFunc

	ctx    context.Context
	cancel context.CancelFunc

	mutex     sync.Mutex
	acceptors []transport.Acceptor
	sessions  map[transport.Session]struct{}
	closed    bool
}

// New Server answering as the Identity through the Transport.
func New(identity *account.Identity, t transport.Transport, config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		identity:  identity,
		transport: t,
		config:    config,
		metrics:   newMetrics(config.Registerer),
		handlers:  make(map[wire.Opcode]HandlerFunc),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[transport.Session]struct{}),
	}
}

// Account of this Server.
func (s *Server) Account() account.Account {
	return s.identity.Account()
}

// Handle registers a handler for an application opcode, replacing a former
// one.
func (s *Server) Handle(op wire.Opcode, h HandlerFunc) error {
	if !op.IsApplication() {
		return fmt.Errorf("opcode %v is outside the application range", op)
	}

	s.handle(op, h)
	return nil
}

func (s *Server) handle(op wire.Opcode, h HandlerFunc) {
	s.handlersMutex.Lock()
	defer s.handlersMutex.Unlock()

	s.handlers[op] = h
}

func (s *Server) lookup(op wire.Opcode) HandlerFunc {
	s.handlersMutex.RLock()
	defer s.handlersMutex.RUnlock()

	return s.handlers[op]
}

// Listen on an address and accept Sessions in the background. The bound
// address is returned.
func (s *Server) Listen(address string) (net.Addr, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, transport.ErrSessionClosed
	}

	acc, err := s.transport.Listen(address, s.identity, s.handleFrame, s.config.Authorizer)
	if err != nil {
		return nil, err
	}
	s.acceptors = append(s.acceptors, acc)

	go s.acceptLoop(acc)
	return acc.Addr(), nil
}

// Serve on an address until the context ends, then Close.
func (s *Server) Serve(ctx context.Context, address string) error {
	if _, err := s.Listen(address); err != nil {
		return err
	}

	<-ctx.Done()
	return s.Close()
}

func (s *Server) acceptLoop(acc transport.Acceptor) {
	for {
		sess, err := acc.Accept(s.ctx)
		if err != nil {
			log.WithFields(log.Fields{
				"address": acc.Addr(),
				"reason":  err,
			}).Debug("Server stops accepting")
			return
		}

		s.mutex.Lock()
		if s.closed {
			s.mutex.Unlock()
			_ = sess.Close()
			return
		}
		s.sessions[sess] = struct{}{}
		s.mutex.Unlock()

		s.metrics.sessions.WithLabelValues(string(sess.Kind())).Inc()

		log.WithFields(log.Fields{
			"peer": sess.Peer().Short(),
			"kind": sess.Kind(),
		}).Info("Server accepted session")

		go s.watchSession(sess)
	}
}

func (s *Server) watchSession(sess transport.Session) {
	<-sess.Done()

	s.mutex.Lock()
	delete(s.sessions, sess)
	s.mutex.Unlock()

	s.metrics.sessions.WithLabelValues(string(sess.Kind())).Dec()

	log.WithFields(log.Fields{
		"peer":   sess.Peer().Short(),
		"reason": sess.Err(),
	}).Info("Server's session ended")
}

// handleFrame validates an inbound frame before dispatching it. It is called
// by the transport's reader and must return quickly.
func (s *Server) handleFrame(sess transport.Session, ch transport.Channel, buf *wire.Buffer) {
	v, err := wire.DecodeBuffer(buf)
	if err != nil {
		buf.Release()

		log.WithFields(log.Fields{
			"peer":  sess.Peer().Short(),
			"error": err,
		}).Warn("Server received a malformed frame, closing session")

		_ = sess.Close()
		return
	}

	if v.Opcode().IsError() {
		log.WithFields(log.Fields{
			"peer":   sess.Peer().Short(),
			"opcode": v.Opcode(),
		}).Debug("Server ignores an error response")

		buf.Release()
		return
	}

	go s.dispatch(sess, ch, buf, v)
}

// dispatch a request to its handler and send the response. The Buffer is
// released after the response was written.
func (s *Server) dispatch(sess transport.Session, ch transport.Channel, buf *wire.Buffer, v wire.View) {
	defer buf.Release()

	start := time.Now()
	resp, outcome := s.invoke(sess.Peer(), v)
	s.metrics.request(sess.Kind(), outcome, time.Since(start))

	frame, err := wire.Encode(resp)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":   sess.Peer().Short(),
			"opcode": v.Opcode(),
			"error":  err,
		}).Warn("Server failed to encode a handler's response")

		frame, _ = wire.Encode(wire.ErrorResponse(v.Opcode(), v.CorrelationID(),
			&wire.RemoteError{Code: wire.CodeHandlerFailure}))
	}

	if err := ch.Send(frame); err != nil {
		log.WithFields(log.Fields{
			"peer":           sess.Peer().Short(),
			"correlation id": v.CorrelationID(),
			"error":          err,
		}).Debug("Server failed to send a response")

		ch.Abort()
		return
	}
	_ = ch.Finish()
}

// invoke the handler for a request and build its response Envelope.
func (s *Server) invoke(sender account.Account, v wire.View) (resp wire.Envelope, outcome string) {
	op, id := v.Opcode(), v.CorrelationID()

	logger := log.WithFields(log.Fields{
		"sender":         sender.Short(),
		"opcode":         op,
		"correlation id": id,
	})

	if s.config.Authorizer != nil {
		if err := s.config.Authorizer(sender); err != nil {
			logger.WithError(err).Info("Server refuses request")
			return wire.ErrorResponse(op, id, &wire.RemoteError{Code: wire.CodeUnauthorized, Message: err.Error()}), outcomeUnauthorized
		}
	}

	h := s.lookup(op)
	if h == nil {
		logger.Debug("Server received request for unknown opcode")
		return wire.ErrorResponse(op, id, &wire.RemoteError{Code: wire.CodeUnknownOpcode, Message: op.String()}), outcomeUnknown
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(log.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Server's handler panicked")

			resp = wire.ErrorResponse(op, id, &wire.RemoteError{Code: wire.CodeHandlerPanic})
			outcome = outcomePanic
		}
	}()

	ctx, cancel := s.handlerContext()
	defer cancel()

	payload, err := h(ctx, sender, v.Payload())
	if err != nil {
		var remoteErr *wire.RemoteError
		if errors.As(err, &remoteErr) {
			return wire.ErrorResponse(op, id, remoteErr), outcomeRemoteError
		}

		logger.WithError(err).Warn("Server's handler failed")
		return wire.ErrorResponse(op, id, &wire.RemoteError{Code: wire.CodeHandlerFailure}), outcomeFailure
	}

	return wire.NewEnvelope(op, id, payload), outcomeOK
}

func (s *Server) handlerContext() (context.Context, context.CancelFunc) {
	if s.config.HandlerTimeout > 0 {
		return context.WithTimeout(s.ctx, s.config.HandlerTimeout)
	}
	return context.WithCancel(s.ctx)
}

// Close all listeners and Sessions. Running handlers' contexts are canceled;
// their responses are dropped.
func (s *Server) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true

	acceptors := s.acceptors
	sessions := make([]transport.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mutex.Unlock()

	log.WithFields(log.Fields{
		"listeners": len(acceptors),
		"sessions":  len(sessions),
	}).Info("Closing server")

	var err error
	for _, acc := range acceptors {
		if closeErr := acc.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}
	for _, sess := range sessions {
		if closeErr := sess.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	s.cancel()
	return err
}
