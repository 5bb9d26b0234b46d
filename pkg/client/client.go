// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package client sends requests to remote Accounts and waits for their
// responses.
//
// A Call resolves the receiver's Address, acquires a pooled Connection, sends
// the request Envelope with a fresh correlation id and waits for the matching
// response, the Connection's loss or a timeout, whatever comes first. A sent
// request is never resent automatically.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/connection"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// ErrTimeout is returned if no response arrived in time. It matches
// context.DeadlineExceeded.
var ErrTimeout = fmt.Errorf("call timed out: %w", context.DeadlineExceeded)

// Config of a Client.
type Config struct {
	// Kind of transport used for receivers without an explicit Address.
	Kind account.Kind

	// CallTimeout bounds each call, unless the context ends earlier. Zero
	// disables the timeout.
	CallTimeout time.Duration

	// MaxPayload limits outgoing payloads.
	MaxPayload uint64
}

// DefaultConfig of a Client.
func DefaultConfig() Config {
	return Config{
		Kind:        account.KindTCP,
		CallTimeout: 30 * time.Second,
		MaxPayload:  wire.MaxPayload,
	}
}

// Client calls remote Accounts through a Manager's Connections.
type Client struct {
	manager  *connection.Manager
	resolver Resolver
	config   Config
}

// New Client. The Resolver might be nil, requiring explicit Addresses.
func New(manager *connection.Manager, resolver Resolver, config Config) *Client {
	if config.MaxPayload == 0 || config.MaxPayload > wire.MaxPayload {
		config.MaxPayload = wire.MaxPayload
	}

	return &Client{
		manager:  manager,
		resolver: resolver,
		config:   config,
	}
}

// Account of this Client.
func (c *Client) Account() account.Account {
	return c.manager.Identity().Account()
}

// Call the receiver with a request and return the response's payload, now
// owned by the caller. An error response is returned as *wire.RemoteError.
func (c *Client) Call(ctx context.Context, receiver account.Account, opcode wire.Opcode, payload []byte) ([]byte, error) {
	addr, err := c.ResolveAddress(ctx, receiver)
	if err != nil {
		return nil, err
	}
	return c.CallAt(ctx, receiver, addr, opcode, payload)
}

// CallAt calls the receiver at an explicit Address.
func (c *Client) CallAt(ctx context.Context, receiver account.Account, addr account.Address, opcode wire.Opcode, payload []byte) ([]byte, error) {
	buf, v, err := c.roundTrip(ctx, receiver, addr, wire.NewEnvelope(opcode, 0, payload))
	if err != nil {
		return nil, err
	}

	// The frame is taken out of the pool instead of copying its payload.
	p := v.Payload()
	buf.Detach()
	return p, nil
}

// CallEnvelope sends a complete request Envelope and returns the response
// Envelope, including its sender and receiver.
func (c *Client) CallEnvelope(ctx context.Context, addr account.Address, env wire.Envelope) (wire.Envelope, error) {
	buf, v, err := c.roundTrip(ctx, env.Receiver, addr, env)
	if err != nil {
		return wire.Envelope{}, err
	}
	defer buf.Release()

	return v.Envelope(env.Receiver, c.Account()), nil
}

func (c *Client) roundTrip(ctx context.Context, receiver account.Account, addr account.Address, env wire.Envelope) (*wire.Buffer, wire.View, error) {
	if l := uint64(len(env.Payload)); l > c.config.MaxPayload {
		return nil, wire.View{}, &wire.EncodingError{PayloadLen: l, Limit: c.config.MaxPayload}
	}

	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	buf, v, err := c.exchange(ctx, receiver, addr, env)
	c.observe(addr.Kind, start, err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}

		log.WithFields(log.Fields{
			"receiver": receiver.Short(),
			"opcode":   env.Opcode,
			"error":    err,
		}).Debug("Call failed")
		return nil, wire.View{}, err
	}

	return buf, v, nil
}

// exchange a request and its response over an acquired Connection.
func (c *Client) exchange(ctx context.Context, receiver account.Account, addr account.Address, env wire.Envelope) (*wire.Buffer, wire.View, error) {
	handle, err := c.manager.Acquire(ctx, receiver, addr)
	if err != nil {
		return nil, wire.View{}, err
	}
	defer handle.Release()

	req, err := handle.Connection().Begin(ctx)
	if err != nil {
		return nil, wire.View{}, err
	}

	if err := req.Send(ctx, env); err != nil {
		return nil, wire.View{}, err
	}

	buf, v, err := req.Wait(ctx)
	if err != nil {
		return nil, wire.View{}, err
	}

	if op := v.Opcode(); op.IsError() {
		remoteErr, parseErr := wire.ParseRemoteError(v.Payload())
		buf.Release()

		if parseErr != nil {
			return nil, wire.View{}, parseErr
		}
		return nil, wire.View{}, remoteErr
	} else if op != env.Opcode {
		buf.Release()
		return nil, wire.View{}, &wire.DecodingError{
			Reason: wire.ReasonPayload,
			Detail: fmt.Sprintf("response opcode %v does not match request %v", op, env.Opcode),
		}
	}

	return buf, v, nil
}

func (c *Client) observe(kind account.Kind, start time.Time, err error) {
	var remoteErr *wire.RemoteError

	outcome := "ok"
	switch {
	case err == nil:
	case errors.As(err, &remoteErr):
		outcome = "remote_error"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case errors.Is(err, connection.ErrConnectionLost):
		outcome = "connection_lost"
	default:
		outcome = "error"
	}

	c.manager.Metrics().ObserveCall(kind, outcome, time.Since(start))
}
