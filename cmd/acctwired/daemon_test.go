// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/admin"
	"github.com/acctwire/acctwire-go/pkg/client"
	"github.com/acctwire/acctwire-go/pkg/config"
	"github.com/acctwire/acctwire-go/pkg/connection"
	"github.com/acctwire/acctwire-go/pkg/server"
)

func startDaemon(t *testing.T) *daemon {
	dir := t.TempDir()

	conf, err := config.Parse(fmt.Sprintf(`
[core]
identity = %q
book = %q

[[listen]]
kind = "tcp"
address = "127.0.0.1:0"

[[listen]]
kind = "quic"
address = "127.0.0.1:0"

[admin]
listen = "127.0.0.1:0"
`, filepath.Join(dir, "node.key"), filepath.Join(dir, "book")))
	if err != nil {
		t.Fatal(err)
	}

	d, err := newDaemon(conf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemon(t *testing.T) {
	d := startDaemon(t)

	if len(d.addresses) != 2 {
		t.Fatalf("Daemon listens on %v", d.addresses)
	}

	callerID, err := account.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	conf := &config.Config{}
	m := connection.NewManager(callerID, conf.Registry(), conf.ConnectionConfig(), nil)
	defer m.Close()
	c := client.New(m, nil, conf.ClientConfig())

	for _, addr := range d.addresses {
		resp, err := c.CallAt(context.Background(), d.identity.Account(), addr, server.OpEcho, []byte(addr.String()))
		if err != nil {
			t.Fatalf("Echo over %v failed: %v", addr, err)
		} else if string(resp) != addr.String() {
			t.Fatalf("Echo over %v returned %q", addr, resp)
		}
	}

	// Register the caller through the admin endpoint.
	adminURL := fmt.Sprintf("http://%v", d.adminAddr)
	callerAddr, _ := account.ParseAddress("tcp://192.0.2.9:7700")
	body := fmt.Sprintf(`{"address": %q}`, callerAddr)

	req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/book/%v", adminURL, callerID.Account()), strings.NewReader(body))
	if resp, err := http.DefaultClient.Do(req); err != nil {
		t.Fatal(err)
	} else if resp.StatusCode != http.StatusOK {
		t.Fatalf("Admin PUT returned %d", resp.StatusCode)
	} else {
		_ = resp.Body.Close()
	}

	if stored, err := d.book.Address(callerID.Account(), account.KindTCP); err != nil {
		t.Fatal(err)
	} else if stored != callerAddr {
		t.Fatalf("Book stores %v", stored)
	}

	resp, err := http.Get(adminURL + "/book")
	if err != nil {
		t.Fatal(err)
	}
	var entries []admin.EntryMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if len(entries) != 1 {
		t.Fatalf("Admin lists %v", entries)
	}

	resp, err = http.Get(adminURL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	metrics, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(metrics), "acctwire_server_requests_total") {
		t.Fatalf("Metrics miss the server's requests:\n%s", metrics)
	}
}

func TestDaemonRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()

	conf, err := config.Parse(fmt.Sprintf(`
[core]
identity = %q
book = %q
`, filepath.Join(dir, "node.key"), filepath.Join(dir, "book")))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := newDaemon(conf); err == nil {
		t.Fatal("Daemon without listeners started")
	}
}
