// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/client"
	"github.com/acctwire/acctwire-go/pkg/connection"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/transport/quicl"
	"github.com/acctwire/acctwire-go/pkg/transport/stcp"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

const (
	opEcho  wire.Opcode = 0x0001
	opFail  wire.Opcode = 0x0002
	opPanic wire.Opcode = 0x0003
	opBlock wire.Opcode = 0x0004
)

type fixture struct {
	server   *Server
	serverID *account.Identity
	addr     account.Address

	manager *connection.Manager
	client  *client.Client
}

func mustIdentity(t *testing.T) *account.Identity {
	id, err := account.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func echo(_ context.Context, _ account.Account, payload []byte) ([]byte, error) {
	return payload, nil
}

func setup(t *testing.T, tr transport.Transport, config Config) *fixture {
	f := &fixture{serverID: mustIdentity(t)}

	f.server = New(f.serverID, tr, config)
	if err := f.server.Handle(opEcho, echo); err != nil {
		t.Fatal(err)
	}

	netAddr, err := f.server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if f.addr, err = account.NewAddress(tr.Kind(), netAddr.String()); err != nil {
		t.Fatal(err)
	}

	connConfig := connection.DefaultConfig()
	connConfig.Backoff = connection.Backoff{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    40 * time.Millisecond,
		MaxAttempts: 3,
	}
	f.manager = connection.NewManager(mustIdentity(t), transport.NewRegistry(tr), connConfig, nil)

	clientConfig := client.DefaultConfig()
	clientConfig.Kind = tr.Kind()
	clientConfig.CallTimeout = 5 * time.Second
	f.client = client.New(f.manager, nil, clientConfig)

	t.Cleanup(func() {
		_ = f.manager.Close()
		_ = f.server.Close()
	})
	return f
}

func (f *fixture) call(op wire.Opcode, payload string) (string, error) {
	resp, err := f.client.CallAt(context.Background(), f.serverID.Account(), f.addr, op, []byte(payload))
	return string(resp), err
}

func TestEchoCorrelationID(t *testing.T) {
	tr := stcp.New(stcp.DefaultConfig())
	f := setup(t, tr, Config{})

	respCh := make(chan wire.Envelope, 1)
	sess, err := tr.Dial(context.Background(), f.addr, mustIdentity(t), f.serverID.Account(),
		func(_ transport.Session, _ transport.Channel, buf *wire.Buffer) {
			defer buf.Release()

			if v, err := wire.DecodeBuffer(buf); err == nil {
				respCh <- v.Envelope(account.Zero, account.Zero)
			}
		})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	ch, err := sess.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	frame, _ := wire.Encode(wire.NewEnvelope(opEcho, 7, []byte("ping")))
	if err := ch.Send(frame); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-respCh:
		if env.Opcode != opEcho || env.CorrelationID != 7 || string(env.Payload) != "ping" {
			t.Fatalf("Unexpected response: opcode %v, correlation id %d, payload %q",
				env.Opcode, env.CorrelationID, env.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No response arrived")
	}
}

func TestUnknownOpcode(t *testing.T) {
	f := setup(t, stcp.New(stcp.DefaultConfig()), Config{})

	if _, err := f.call(99, "anybody?"); !errors.Is(err, wire.ErrUnknownOpcode) {
		t.Fatalf("Unknown opcode yields %v", err)
	}

	conns := f.manager.Connections()
	if len(conns) != 1 {
		t.Fatalf("Pool holds %d connections", len(conns))
	} else if state := conns[0].State(); state != connection.Established {
		t.Fatalf("Connection is %v after an unknown opcode", state)
	}

	if resp, err := f.call(opEcho, "still there"); err != nil || resp != "still there" {
		t.Fatalf("Echo after unknown opcode: %q, %v", resp, err)
	}
}

func TestHandlerErrors(t *testing.T) {
	f := setup(t, stcp.New(stcp.DefaultConfig()), Config{})

	appErr := &wire.RemoteError{Code: wire.CodeApplication + 1, Message: "insufficient funds"}
	if err := f.server.Handle(opFail, func(_ context.Context, _ account.Account, payload []byte) ([]byte, error) {
		if string(payload) == "app" {
			return nil, fmt.Errorf("wrapped: %w", appErr)
		}
		return nil, errors.New("database is on fire")
	}); err != nil {
		t.Fatal(err)
	}

	var remoteErr *wire.RemoteError
	if _, err := f.call(opFail, "internal"); !errors.As(err, &remoteErr) || remoteErr.Code != wire.CodeHandlerFailure {
		t.Fatalf("Internal failure yields %v", err)
	} else if remoteErr.Message != "" {
		t.Fatalf("Internal failure leaked %q", remoteErr.Message)
	}

	if _, err := f.call(opFail, "app"); !errors.As(err, &remoteErr) || remoteErr.Code != appErr.Code {
		t.Fatalf("Application error yields %v", err)
	} else if remoteErr.Message != appErr.Message {
		t.Fatalf("Application error's message is %q", remoteErr.Message)
	}
}

func TestHandlerPanic(t *testing.T) {
	f := setup(t, stcp.New(stcp.DefaultConfig()), Config{})

	if err := f.server.Handle(opPanic, func(context.Context, account.Account, []byte) ([]byte, error) {
		panic("oh no")
	}); err != nil {
		t.Fatal(err)
	}

	var remoteErr *wire.RemoteError
	if _, err := f.call(opPanic, ""); !errors.As(err, &remoteErr) || remoteErr.Code != wire.CodeHandlerPanic {
		t.Fatalf("Panicking handler yields %v", err)
	}

	if resp, err := f.call(opEcho, "survived"); err != nil || resp != "survived" {
		t.Fatalf("Echo after panic: %q, %v", resp, err)
	}
}

func TestHandleRejectsSystemOpcodes(t *testing.T) {
	s := New(mustIdentity(t), stcp.New(stcp.DefaultConfig()), Config{})

	for _, op := range []wire.Opcode{0, wire.OpHello, wire.OpBookResolve, opEcho | wire.ErrorFlag} {
		if err := s.Handle(op, echo); err == nil {
			t.Fatalf("Registering %v succeeded", op)
		}
	}
}

func concurrentCalls(t *testing.T, f *fixture, calls int) {
	var wg sync.WaitGroup
	errCh := make(chan error, calls)

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			payload := fmt.Sprintf("call %d", i)
			if resp, err := f.call(opEcho, payload); err != nil {
				errCh <- err
			} else if resp != payload {
				errCh <- fmt.Errorf("sent %q, received %q", payload, resp)
			}
		}(i)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		t.Fatal(err)
	default:
	}
}

func TestPipelinedStreamCalls(t *testing.T) {
	f := setup(t, stcp.New(stcp.DefaultConfig()), Config{})
	concurrentCalls(t, f, 100)
}

func TestMultiplexedCalls(t *testing.T) {
	f := setup(t, quicl.New(quicl.DefaultConfig()), Config{})
	concurrentCalls(t, f, 100)
}

func TestSeverFailsPendingCall(t *testing.T) {
	f := setup(t, stcp.New(stcp.DefaultConfig()), Config{})

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	if err := f.server.Handle(opBlock, func(context.Context, account.Account, []byte) ([]byte, error) {
		close(entered)
		<-release
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error)
	go func() {
		_, err := f.call(opBlock, "")
		errCh <- err
	}()

	<-entered
	if err := f.server.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, connection.ErrConnectionLost) {
			t.Fatalf("Severed call yields %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Severed call did not resolve")
	}
}

func TestAuthorizer(t *testing.T) {
	var (
		mutex   sync.Mutex
		refused = make(map[account.Account]bool)
	)
	auth := func(remote account.Account) error {
		mutex.Lock()
		defer mutex.Unlock()

		if refused[remote] {
			return fmt.Errorf("%v is refused", remote.Short())
		}
		return nil
	}

	f := setup(t, stcp.New(stcp.DefaultConfig()), Config{Authorizer: auth})

	if _, err := f.call(opEcho, "welcome"); err != nil {
		t.Fatal(err)
	}

	// Refusing an already connected Account affects its following requests.
	mutex.Lock()
	refused[f.client.Account()] = true
	mutex.Unlock()

	if _, err := f.call(opEcho, "still welcome?"); !errors.Is(err, wire.ErrUnauthorized) {
		t.Fatalf("Refused request yields %v", err)
	}

	// A new Account is refused at the handshake.
	other := connection.NewManager(mustIdentity(t), transport.NewRegistry(stcp.New(stcp.DefaultConfig())), connection.DefaultConfig(), nil)
	defer other.Close()

	mutex.Lock()
	refused[other.Identity().Account()] = true
	mutex.Unlock()

	otherClient := client.New(other, nil, client.DefaultConfig())
	_, err := otherClient.CallAt(context.Background(), f.serverID.Account(), f.addr, opEcho, nil)

	var handshakeErr *transport.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("Refused handshake yields %v", err)
	}
}

func TestBuiltinsAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := setup(t, stcp.New(stcp.DefaultConfig()), Config{Registerer: reg})
	f.server.AttachBuiltins()

	if resp, err := f.call(OpSink, "gone"); err != nil || resp != "" {
		t.Fatalf("Sink answered %q, %v", resp, err)
	}
	if _, err := f.call(99, ""); !errors.Is(err, wire.ErrUnknownOpcode) {
		t.Fatalf("Unknown opcode yields %v", err)
	}

	if n := testutil.ToFloat64(f.server.metrics.requests.WithLabelValues("tcp", outcomeOK)); n != 1 {
		t.Fatalf("Counted %v successful requests", n)
	}
	if n := testutil.ToFloat64(f.server.metrics.requests.WithLabelValues("tcp", outcomeUnknown)); n != 1 {
		t.Fatalf("Counted %v unknown requests", n)
	}

	// The session is counted once the acceptor handed it over.
	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(f.server.metrics.sessions.WithLabelValues("tcp")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Session was not counted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
