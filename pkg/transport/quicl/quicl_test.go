// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

type response struct {
	id      uint64
	payload string
}

func mustIdentity(t *testing.T) *account.Identity {
	id, err := account.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func echoHandler(_ transport.Session, ch transport.Channel, buf *wire.Buffer) {
	defer buf.Release()

	v, err := wire.DecodeBuffer(buf)
	if err != nil {
		return
	}

	frame, err := wire.Encode(wire.NewEnvelope(v.Opcode(), v.CorrelationID(), v.Payload()))
	if err != nil {
		return
	}
	_ = ch.Send(frame)
	_ = ch.Finish()
}

func collectHandler(respCh chan<- response) transport.FrameHandler {
	return func(_ transport.Session, _ transport.Channel, buf *wire.Buffer) {
		defer buf.Release()

		v, err := wire.DecodeBuffer(buf)
		if err != nil {
			return
		}
		respCh <- response{v.CorrelationID(), string(v.Payload())}
	}
}

func listen(t *testing.T, server *account.Identity, auth transport.Authorizer) (transport.Acceptor, chan transport.Session) {
	acc, err := New(DefaultConfig()).Listen("127.0.0.1:0", server, echoHandler, auth)
	if err != nil {
		t.Fatal(err)
	}

	sessCh := make(chan transport.Session, 16)
	go func() {
		for {
			sess, err := acc.Accept(context.Background())
			if err != nil {
				return
			}
			sessCh <- sess
		}
	}()

	return acc, sessCh
}

func serverAddress(t *testing.T, acc transport.Acceptor) account.Address {
	addr, err := account.NewAddress(account.KindQUIC, acc.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestMultiplexedRequests(t *testing.T) {
	const requests = 100

	server, client := mustIdentity(t), mustIdentity(t)
	acc, _ := listen(t, server, nil)
	defer acc.Close()

	respCh := make(chan response, requests)
	sess, err := New(DefaultConfig()).Dial(context.Background(), serverAddress(t, acc), client, server.Account(), collectHandler(respCh))
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, requests)

	for i := 1; i <= requests; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()

			ch, err := sess.Open(context.Background())
			if err != nil {
				errCh <- err
				return
			}

			frame, _ := wire.Encode(wire.NewEnvelope(0x0001, id, []byte(fmt.Sprintf("request %d", id))))
			if err := ch.Send(frame); err != nil {
				errCh <- err
				return
			}
			if err := ch.Finish(); err != nil {
				errCh <- err
			}
		}(uint64(i))
	}
	wg.Wait()

	select {
	case err := <-errCh:
		t.Fatal(err)
	default:
	}

	seen := make(map[uint64]bool)
	for i := 0; i < requests; i++ {
		select {
		case resp := <-respCh:
			if expected := fmt.Sprintf("request %d", resp.id); resp.payload != expected {
				t.Fatalf("Response %d carries %q, expected %q", resp.id, resp.payload, expected)
			}
			if seen[resp.id] {
				t.Fatalf("Response %d was received twice", resp.id)
			}
			seen[resp.id] = true

		case <-time.After(10 * time.Second):
			t.Fatalf("Received only %d of %d responses", i, requests)
		}
	}
}

func TestMultiplexedAccountMismatch(t *testing.T) {
	server, client := mustIdentity(t), mustIdentity(t)
	acc, _ := listen(t, server, nil)
	defer acc.Close()

	someoneElse := mustIdentity(t).Account()
	_, err := New(DefaultConfig()).Dial(context.Background(), serverAddress(t, acc), client, someoneElse, collectHandler(nil))

	var handshakeErr *transport.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("Expected a HandshakeError, got %v", err)
	}
	if transport.IsRecoverable(err) {
		t.Fatal("Account mismatch is considered recoverable")
	}
}

func TestMultiplexedUnauthorized(t *testing.T) {
	server, client := mustIdentity(t), mustIdentity(t)
	acc, _ := listen(t, server, func(remote account.Account) error {
		return fmt.Errorf("%v is not welcome", remote.Short())
	})
	defer acc.Close()

	_, err := New(DefaultConfig()).Dial(context.Background(), serverAddress(t, acc), client, server.Account(), collectHandler(nil))

	var handshakeErr *transport.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("Expected a HandshakeError, got %v", err)
	}
}

func TestMultiplexedGoAway(t *testing.T) {
	server, client := mustIdentity(t), mustIdentity(t)
	acc, sessCh := listen(t, server, nil)
	defer acc.Close()

	sess, err := New(DefaultConfig()).Dial(context.Background(), serverAddress(t, acc), client, server.Account(), collectHandler(nil))
	if err != nil {
		t.Fatal(err)
	}

	var serverSess transport.Session
	select {
	case serverSess = <-sessCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not accept the session")
	}

	if serverSess.Peer() != client.Account() {
		t.Fatalf("Server learned %v, expected %v", serverSess.Peer(), client.Account())
	}

	if err := serverSess.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sess.Done():
		if !transport.IsRecoverable(sess.Err()) {
			t.Fatalf("Peer's shutdown should be recoverable, got %v", sess.Err())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Client session did not notice the shutdown")
	}
}
