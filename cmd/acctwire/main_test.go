// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/server"
	"github.com/acctwire/acctwire-go/pkg/transport/stcp"
)

// execute the CLI with fresh flags and return its output.
func execute(t *testing.T, args ...string) (string, error) {
	bookPrimary, bookKind = false, string(account.KindTCP)
	callAddress, callOpcode, callHex, callStdin = "", "1", false, false
	benchAddress, benchSaveDir = "", ""
	accountForce = false

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	dir := t.TempDir()
	filename := filepath.Join(dir, "acctwire.toml")

	data := fmt.Sprintf("[core]\nidentity = %q\nbook = %q\n\n[logging]\nlevel = \"warn\"\n",
		filepath.Join(dir, "cli.key"), filepath.Join(dir, "book"))
	if err := os.WriteFile(filename, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	return filename
}

func startServer(t *testing.T) (*account.Identity, account.Address) {
	id, err := account.GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}

	srv := server.New(id, stcp.New(stcp.DefaultConfig()), server.Config{})
	srv.AttachBuiltins()
	t.Cleanup(func() { _ = srv.Close() })

	netAddr, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr, err := account.NewAddress(account.KindTCP, netAddr.String())
	if err != nil {
		t.Fatal(err)
	}
	return id, addr
}

func TestAccountCommands(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "new.key")

	out, err := execute(t, "account", "new", filename)
	if err != nil {
		t.Fatal(err)
	}
	acc, err := account.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "account", "new", filename); err == nil {
		t.Fatal("Overwriting an identity without --force succeeded")
	}

	id, err := account.LoadIdentity(filename)
	if err != nil {
		t.Fatal(err)
	} else if id.Account() != acc {
		t.Fatalf("Stored identity belongs to %v, printed %v", id.Account(), acc)
	}
}

func TestBookCommands(t *testing.T) {
	config := writeConfig(t)
	id, addr := startServer(t)

	if _, err := execute(t, "-c", config, "book", "set", "--primary", id.Account().String(), addr.String()); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "-c", config, "book", "get")
	if err != nil {
		t.Fatal(err)
	} else if !strings.Contains(out, id.Account().String()) || !strings.Contains(out, addr.String()) {
		t.Fatalf("Primary printed as:\n%s", out)
	}

	out, err = execute(t, "-c", config, "book", "list")
	if err != nil {
		t.Fatal(err)
	} else if !strings.Contains(out, "true") {
		t.Fatalf("Listing misses the primary:\n%s", out)
	}

	if _, err := execute(t, "-c", config, "book", "get", "--kind", "quic", id.Account().String()); err == nil {
		t.Fatal("Getting an unknown kind's address succeeded")
	}

	if _, err := execute(t, "-c", config, "book", "delete"); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "-c", config, "book", "get"); err == nil {
		t.Fatal("Deleted primary is still present")
	}
}

func TestCallCommand(t *testing.T) {
	config := writeConfig(t)
	id, addr := startServer(t)

	out, err := execute(t, "-c", config, "call", "--address", addr.String(), id.Account().String(), "hello")
	if err != nil {
		t.Fatal(err)
	} else if out != "hello" {
		t.Fatalf("Echo printed %q", out)
	}

	// Resolved through the book this time.
	if _, err := execute(t, "-c", config, "book", "set", id.Account().String(), addr.String()); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "-c", config, "call", "--hex", id.Account().String(), "cafe")
	if err != nil {
		t.Fatal(err)
	} else if strings.TrimSpace(out) != "cafe" {
		t.Fatalf("Hex echo printed %q", out)
	}

	if _, err := execute(t, "-c", config, "call", "--opcode", "0x7f10", id.Account().String()); err == nil {
		t.Fatal("Calling a system opcode succeeded")
	}
}

func TestBenchCommand(t *testing.T) {
	config := writeConfig(t)
	id, addr := startServer(t)
	saveDir := t.TempDir()

	_, err := execute(t, "-c", config, "bench", "--address", addr.String(),
		"--size", "1024", "--iterations", "20", "--threads", "4", "--save-dir", saveDir,
		id.Account().String())
	if err != nil {
		t.Fatal(err)
	}

	files, err := filepath.Glob(filepath.Join(saveDir, "benchmark-acctwire-tcp-*.json"))
	if err != nil {
		t.Fatal(err)
	} else if len(files) != 1 {
		t.Fatalf("Saved results: %v", files)
	}

	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var results benchResults
	if err := json.NewDecoder(f).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if results.Inputs.Iterations != 20 || results.Inputs.Threads != 4 || results.Outputs.IOPS <= 0 {
		t.Fatalf("Unexpected results: %+v", results)
	}
}

func TestSaveBenchResultsFilename(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))

	filename, err := saveBenchResults(dir, started, benchResults{Inputs: benchInputs{Protocol: "quic"}})
	if err != nil {
		t.Fatal(err)
	}

	if base := filepath.Base(filename); base != "benchmark-acctwire-quic-20260304T040607Z.json" {
		t.Fatalf("Results were saved as %s", base)
	} else if strings.ContainsAny(base, `:\/`) {
		t.Fatalf("Results file name %s contains reserved characters", base)
	}
	if _, err := os.Stat(filename); err != nil {
		t.Fatal(err)
	}
}

func TestBenchOutputs(t *testing.T) {
	out := newBenchOutputs(benchInputs{Size: 1000, Iterations: 50}, 2*time.Second)

	if out.ElapsedTimeS != 2 || out.IOPS != 25 || out.SpeedBps != 200000 {
		t.Fatalf("Unexpected outputs: %+v", out)
	}
}
