// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package book

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

func openBook(t *testing.T) *Book {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func randomAccount(t *testing.T) account.Account {
	id, err := account.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	return id.Account()
}

func mustAddress(t *testing.T, s string) account.Address {
	addr, err := account.ParseAddress(s)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestBookAddresses(t *testing.T) {
	b := openBook(t)
	acc := randomAccount(t)

	if _, err := b.Address(acc, account.KindTCP); !errors.Is(err, wire.ErrNotFound) {
		t.Fatalf("Unknown account yields %v", err)
	}

	tcpAddr := mustAddress(t, "tcp://127.0.0.1:7700")
	quicAddr := mustAddress(t, "quic://127.0.0.1:7701")

	for _, addr := range []account.Address{tcpAddr, quicAddr} {
		if err := b.SetAddress(acc, addr); err != nil {
			t.Fatal(err)
		}
	}

	if addr, err := b.Address(acc, account.KindTCP); err != nil {
		t.Fatal(err)
	} else if addr != tcpAddr {
		t.Fatalf("Book returned %v, expected %v", addr, tcpAddr)
	}

	moved := mustAddress(t, "tcp://192.0.2.1:7700")
	if err := b.SetAddress(acc, moved); err != nil {
		t.Fatal(err)
	}
	if addr, err := b.Address(acc, account.KindTCP); err != nil {
		t.Fatal(err)
	} else if addr != moved {
		t.Fatalf("Book returned %v after update, expected %v", addr, moved)
	}

	if err := b.DeleteAddress(acc, account.KindTCP); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Address(acc, account.KindTCP); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Deleted address yields %v", err)
	}
	if addr, err := b.Address(acc, account.KindQUIC); err != nil || addr != quicAddr {
		t.Fatalf("Deleting one kind affected another: %v, %v", addr, err)
	}
}

func TestBookPrimary(t *testing.T) {
	b := openBook(t)

	if _, _, err := b.Primary(account.KindTCP); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Missing primary yields %v", err)
	}

	primary, other := randomAccount(t), randomAccount(t)
	primaryAddr := mustAddress(t, "tcp://127.0.0.1:7700")

	if err := b.SetPrimary(primary, primaryAddr); err != nil {
		t.Fatal(err)
	}
	if err := b.SetAddress(other, mustAddress(t, "tcp://127.0.0.1:7800")); err != nil {
		t.Fatal(err)
	}

	if acc, addr, err := b.Primary(account.KindTCP); err != nil {
		t.Fatal(err)
	} else if acc != primary || addr != primaryAddr {
		t.Fatalf("Primary is %v at %v", acc, addr)
	}

	entries, err := b.Entries()
	if err != nil {
		t.Fatal(err)
	} else if len(entries) != 2 {
		t.Fatalf("Book holds %d entries", len(entries))
	}
	for _, e := range entries {
		if e.Primary != (e.Account == primary) {
			t.Fatalf("Entry %v has wrong primary flag", e.Account)
		}
	}

	if err := b.DeletePrimary(account.KindTCP); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Primary(account.KindTCP); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Deleted primary yields %v", err)
	}
}

func writePeers(t *testing.T, filename string, peers ...Peer) {
	content := ""
	for _, p := range peers {
		content += fmt.Sprintf("[[peer]]\naccount = %q\naddress = %q\nprimary = %t\n\n", p.Account, p.Address, p.Primary)
	}

	if err := os.WriteFile(filename, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestBookImportFile(t *testing.T) {
	b := openBook(t)
	filename := filepath.Join(t.TempDir(), "peers.toml")

	primary := Peer{Account: randomAccount(t), Address: mustAddress(t, "quic://127.0.0.1:7701"), Primary: true}
	peer := Peer{Account: randomAccount(t), Address: mustAddress(t, "ws://127.0.0.1:7702")}
	writePeers(t, filename, primary, peer)

	if err := b.ImportFile(filename); err != nil {
		t.Fatal(err)
	}

	if acc, _, err := b.Primary(account.KindQUIC); err != nil || acc != primary.Account {
		t.Fatalf("Imported primary is %v, %v", acc, err)
	}
	if addr, err := b.Address(peer.Account, account.KindWebSocket); err != nil || addr != peer.Address {
		t.Fatalf("Imported address is %v, %v", addr, err)
	}
}

func TestLoadPeersRejectsIncomplete(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "peers.toml")
	content := fmt.Sprintf("[[peer]]\naccount = %q\n", randomAccount(t))
	if err := os.WriteFile(filename, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPeers(filename); err == nil {
		t.Fatal("Peer without address was accepted")
	}
}

func TestBookWatch(t *testing.T) {
	b := openBook(t)
	filename := filepath.Join(t.TempDir(), "peers.toml")

	first := Peer{Account: randomAccount(t), Address: mustAddress(t, "tcp://127.0.0.1:7700")}
	writePeers(t, filename, first)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Watch(ctx, filename); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Address(first.Account, account.KindTCP); err != nil {
		t.Fatalf("Initial import failed: %v", err)
	}

	second := Peer{Account: randomAccount(t), Address: mustAddress(t, "tcp://127.0.0.1:7800")}
	writePeers(t, filename, first, second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if addr, err := b.Address(second.Account, account.KindTCP); err == nil && addr == second.Address {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("Changed peers file was not imported: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMessages(t *testing.T) {
	q := Query{Account: randomAccount(t), Kind: account.KindQUIC}
	payload, err := Marshal(&q)
	if err != nil {
		t.Fatal(err)
	}

	var q2 Query
	if err := Unmarshal(payload, &q2); err != nil {
		t.Fatal(err)
	} else if q2 != q {
		t.Fatalf("Query changed from %v to %v", q, q2)
	}

	var rec Record
	if err := Unmarshal(payload, &rec); !errors.Is(err, &wire.RemoteError{Code: wire.CodeBadRequest}) {
		t.Fatalf("Malformed record yields %v", err)
	}
}
