// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package book

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// Peer is a static entry of a peers file:
//
//	[[peer]]
//	account = "8bE5...Qy"
//	address = "tcp://198.51.100.7:7700"
//	primary = true
type Peer struct {
	Account account.Account `toml:"account"`
	Address account.Address `toml:"address"`
	Primary bool            `toml:"primary"`
}

type peersFile struct {
	Peers []Peer `toml:"peer"`
}

// LoadPeers reads a TOML peers file.
func LoadPeers(filename string) ([]Peer, error) {
	var pf peersFile
	if _, err := toml.DecodeFile(filename, &pf); err != nil {
		return nil, err
	}

	for i, p := range pf.Peers {
		if p.Account.IsZero() {
			return nil, fmt.Errorf("peer %d misses its account", i)
		} else if p.Address.IsZero() {
			return nil, fmt.Errorf("peer %v misses its address", p.Account.Short())
		}
	}
	return pf.Peers, nil
}

// Import Peers into the Book. All Peers are tried, errors are collected.
func (b *Book) Import(peers []Peer) (err error) {
	for _, p := range peers {
		var setErr error
		if p.Primary {
			setErr = b.SetPrimary(p.Account, p.Address)
		} else {
			setErr = b.SetAddress(p.Account, p.Address)
		}

		if setErr != nil {
			err = multierror.Append(err, fmt.Errorf("importing %v: %w", p.Account.Short(), setErr))
		}
	}
	return
}

// ImportFile reads and imports a peers file.
func (b *Book) ImportFile(filename string) error {
	peers, err := LoadPeers(filename)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"file":  filename,
		"peers": len(peers),
	}).Info("Book imports peers file")

	return b.Import(peers)
}

// Watch a peers file and import it on each change until the context ends.
// The file is imported once at the start.
func (b *Book) Watch(ctx context.Context, filename string) error {
	if err := b.ImportFile(filename); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Editors often replace files instead of writing them, so the directory
	// is watched.
	if err := watcher.Add(filepath.Dir(filename)); err != nil {
		_ = watcher.Close()
		return err
	}

	go b.watch(ctx, watcher, filepath.Clean(filename))
	return nil
}

func (b *Book) watch(ctx context.Context, watcher *fsnotify.Watcher, filename string) {
	defer func() { _ = watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if filepath.Clean(e.Name) != filename || e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if err := b.ImportFile(filename); err != nil {
				log.WithFields(log.Fields{
					"file":  filename,
					"error": err,
				}).Warn("Book failed to import changed peers file")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
			return
		}
	}
}
