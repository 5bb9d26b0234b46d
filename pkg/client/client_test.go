// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/book"
	"github.com/acctwire/acctwire-go/pkg/connection"
	"github.com/acctwire/acctwire-go/pkg/server"
	"github.com/acctwire/acctwire-go/pkg/transport"
	"github.com/acctwire/acctwire-go/pkg/transport/stcp"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

const (
	opEcho  wire.Opcode = 0x0001
	opStall wire.Opcode = 0x0002
)

type peer struct {
	identity *account.Identity
	server   *server.Server
	addr     account.Address
	book     *book.Book
}

func mustIdentity(t *testing.T) *account.Identity {
	id, err := account.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func openBook(t *testing.T) *book.Book {
	b, err := book.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// startPeer runs a Server answering opEcho and stalling on opStall until the
// test ends.
func startPeer(t *testing.T, identity *account.Identity) *peer {
	stall := make(chan struct{})

	p := &peer{
		identity: identity,
		server:   server.New(identity, stcp.New(stcp.DefaultConfig()), server.Config{}),
		book:     openBook(t),
	}
	p.server.AttachBook(p.book)

	_ = p.server.Handle(opEcho, func(_ context.Context, _ account.Account, payload []byte) ([]byte, error) {
		return payload, nil
	})
	_ = p.server.Handle(opStall, func(ctx context.Context, _ account.Account, _ []byte) ([]byte, error) {
		select {
		case <-stall:
		case <-ctx.Done():
		}
		return nil, nil
	})

	netAddr, err := p.server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if p.addr, err = account.NewAddress(account.KindTCP, netAddr.String()); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		close(stall)
		_ = p.server.Close()
	})
	return p
}

func newClient(t *testing.T, identity *account.Identity, resolver Resolver, config Config) (*Client, *connection.Manager) {
	m := connection.NewManager(identity, transport.NewRegistry(stcp.New(stcp.DefaultConfig())), connection.DefaultConfig(), nil)
	t.Cleanup(func() { _ = m.Close() })

	return New(m, resolver, config), m
}

func TestCallTimeout(t *testing.T) {
	p := startPeer(t, mustIdentity(t))

	config := DefaultConfig()
	config.CallTimeout = 100 * time.Millisecond
	c, m := newClient(t, mustIdentity(t), nil, config)

	start := time.Now()
	_, err := c.CallAt(context.Background(), p.identity.Account(), p.addr, opStall, nil)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stalled call yields %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Timeout took %v", elapsed)
	}

	// The Connection survives the timeout.
	if resp, err := c.CallAt(context.Background(), p.identity.Account(), p.addr, opEcho, []byte("ping")); err != nil {
		t.Fatal(err)
	} else if string(resp) != "ping" {
		t.Fatalf("Echo returned %q", resp)
	}
	if n := len(m.Connections()); n != 1 {
		t.Fatalf("Pool holds %d connections", n)
	}
}

func TestCallContextCancel(t *testing.T) {
	p := startPeer(t, mustIdentity(t))
	c, _ := newClient(t, mustIdentity(t), nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	if _, err := c.CallAt(ctx, p.identity.Account(), p.addr, opStall, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Canceled call yields %v", err)
	}
}

func TestOversizedPayload(t *testing.T) {
	p := startPeer(t, mustIdentity(t))

	config := DefaultConfig()
	config.MaxPayload = 16
	c, m := newClient(t, mustIdentity(t), nil, config)

	_, err := c.CallAt(context.Background(), p.identity.Account(), p.addr, opEcho, make([]byte, 17))

	var encErr *wire.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("Oversized payload yields %v", err)
	}
	if n := len(m.Connections()); n != 0 {
		t.Fatalf("Oversized payload dialed, pool holds %d connections", n)
	}
}

func TestCallEnvelope(t *testing.T) {
	p := startPeer(t, mustIdentity(t))
	c, _ := newClient(t, mustIdentity(t), nil, DefaultConfig())

	req := wire.NewEnvelope(opEcho, 0, []byte("envelope"))
	req.Receiver = p.identity.Account()

	resp, err := c.CallEnvelope(context.Background(), p.addr, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Sender != p.identity.Account() || resp.Receiver != c.Account() {
		t.Fatalf("Response from %v to %v", resp.Sender.Short(), resp.Receiver.Short())
	}
	if resp.Opcode != opEcho || string(resp.Payload) != "envelope" {
		t.Fatalf("Unexpected response %v: %q", resp.Opcode, resp.Payload)
	}
}

func TestCallWithoutAddress(t *testing.T) {
	c, _ := newClient(t, mustIdentity(t), nil, DefaultConfig())

	if _, err := c.Call(context.Background(), mustIdentity(t).Account(), opEcho, nil); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("Call without resolver yields %v", err)
	}

	// Neither known locally nor by a primary.
	c, _ = newClient(t, mustIdentity(t), openBook(t), DefaultConfig())
	if _, err := c.Call(context.Background(), mustIdentity(t).Account(), opEcho, nil); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("Call without primary yields %v", err)
	}
}

// freeAddress of a port nobody listens on anymore.
func freeAddress(t *testing.T) account.Address {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	hostport := ln.Addr().String()
	_ = ln.Close()

	addr, err := account.NewAddress(account.KindTCP, hostport)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestCallUnreachable(t *testing.T) {
	c, m := newClient(t, mustIdentity(t), nil, DefaultConfig())

	_, err := c.CallAt(context.Background(), mustIdentity(t).Account(), freeAddress(t), opEcho, []byte("ping"))
	if !errors.Is(err, connection.ErrConnectionLost) {
		t.Fatalf("Call to an unreachable peer yields %v", err)
	}
	if n := len(m.Connections()); n != 0 {
		t.Fatalf("Pool holds %d connections", n)
	}
}

func TestResolveAtPrimary(t *testing.T) {
	primary := startPeer(t, mustIdentity(t))
	target := startPeer(t, mustIdentity(t))

	if err := primary.book.SetPrimary(primary.identity.Account(), primary.addr); err != nil {
		t.Fatal(err)
	}
	if err := primary.book.SetAddress(target.identity.Account(), target.addr); err != nil {
		t.Fatal(err)
	}

	local := openBook(t)
	if err := local.SetPrimary(primary.identity.Account(), primary.addr); err != nil {
		t.Fatal(err)
	}

	c, _ := newClient(t, mustIdentity(t), local, DefaultConfig())

	resp, err := c.Call(context.Background(), target.identity.Account(), opEcho, []byte("found you"))
	if err != nil {
		t.Fatal(err)
	} else if string(resp) != "found you" {
		t.Fatalf("Echo returned %q", resp)
	}

	if cached, err := local.Address(target.identity.Account(), account.KindTCP); err != nil {
		t.Fatalf("Resolved address was not cached: %v", err)
	} else if cached != target.addr {
		t.Fatalf("Cached %v, expected %v", cached, target.addr)
	}

	// The primary does not know this one.
	if _, err := c.Call(context.Background(), mustIdentity(t).Account(), opEcho, nil); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("Unknown account yields %v", err)
	}
}

func TestPublishAddress(t *testing.T) {
	primary := startPeer(t, mustIdentity(t))
	if err := primary.book.SetPrimary(primary.identity.Account(), primary.addr); err != nil {
		t.Fatal(err)
	}

	acc := mustIdentity(t).Account()
	addr, _ := account.NewAddress(account.KindTCP, "192.0.2.3:7700")

	// Some other Account knowing the primary.
	other := openBook(t)
	if err := other.SetPrimary(primary.identity.Account(), primary.addr); err != nil {
		t.Fatal(err)
	}
	c, _ := newClient(t, mustIdentity(t), other, DefaultConfig())
	if err := c.PublishAddress(context.Background(), acc, addr); !errors.Is(err, ErrNotRoot) {
		t.Fatalf("Publishing as non-root yields %v", err)
	}

	// The primary itself, using its own book.
	root, _ := newClient(t, primary.identity, primary.book, DefaultConfig())
	if err := root.PublishAddress(context.Background(), acc, addr); err != nil {
		t.Fatal(err)
	}

	if stored, err := primary.book.Address(acc, account.KindTCP); err != nil {
		t.Fatal(err)
	} else if stored != addr {
		t.Fatalf("Stored %v, expected %v", stored, addr)
	}
}
