// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package book provides a persistent address book, mapping Accounts to their
// Addresses, one per Kind. Additionally, one primary Account per Kind can be
// configured, which is asked for unknown Accounts' Addresses.
package book

import (
	"os"
	"path"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

const dirBadger string = "db"

// ErrNotFound is returned for unknown Accounts or Kinds without a primary. It
// matches wire.ErrNotFound, also after being sent as an error response.
var ErrNotFound = &wire.RemoteError{Code: wire.CodeNotFound, Message: "no such address"}

// addressItem is the stored form of an Address.
type addressItem struct {
	Key     string `badgerhold:"key"`
	Account string `badgerholdIndex:"Account"`
	Kind    string
	Host    string
	Port    uint16
	Updated time.Time
}

func addressKey(acc account.Account, kind account.Kind) string {
	return string(kind) + "/" + acc.String()
}

func newAddressItem(acc account.Account, addr account.Address) addressItem {
	return addressItem{
		Key:     addressKey(acc, addr.Kind),
		Account: acc.String(),
		Kind:    string(addr.Kind),
		Host:    addr.Host,
		Port:    addr.Port,
		Updated: time.Now(),
	}
}

func (item addressItem) entry() (e Entry, err error) {
	if e.Account, err = account.Parse(item.Account); err != nil {
		return
	}
	e.Address = account.Address{Kind: account.Kind(item.Kind), Host: item.Host, Port: item.Port}
	return
}

// primaryItem names the primary Account of a Kind.
type primaryItem struct {
	Kind    string `badgerhold:"key"`
	Account string
}

// Entry of the address book.
type Entry struct {
	Account account.Account
	Address account.Address
	Primary bool
}

// Book is a persistent address book.
type Book struct {
	bh *badgerhold.Store

	// mutex serializes read-modify-write operations.
	mutex sync.Mutex
}

// Open a new or existing Book in the given directory.
func Open(dir string) (b *Book, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<26 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		b = &Book{bh: bh}
	}
	return
}

// Close the Book. It must not be used afterwards.
func (b *Book) Close() error {
	return b.bh.Close()
}

// Address of an Account for a Kind.
func (b *Book) Address(acc account.Account, kind account.Kind) (account.Address, error) {
	var item addressItem
	if err := b.bh.Get(addressKey(acc, kind), &item); err == badgerhold.ErrNotFound {
		return account.Address{}, ErrNotFound
	} else if err != nil {
		return account.Address{}, err
	}

	return account.Address{Kind: kind, Host: item.Host, Port: item.Port}, nil
}

// SetAddress of an Account, replacing a former Address of the same Kind.
func (b *Book) SetAddress(acc account.Account, addr account.Address) error {
	log.WithFields(log.Fields{
		"account": acc.Short(),
		"address": addr,
	}).Debug("Book stores address")

	return b.bh.Upsert(addressKey(acc, addr.Kind), newAddressItem(acc, addr))
}

// DeleteAddress of an Account for a Kind. If this Account is the Kind's
// primary, it remains the primary without an Address.
func (b *Book) DeleteAddress(acc account.Account, kind account.Kind) error {
	if err := b.bh.Delete(addressKey(acc, kind), addressItem{}); err == badgerhold.ErrNotFound {
		return ErrNotFound
	} else {
		return err
	}
}

// Primary Account of a Kind and its Address.
func (b *Book) Primary(kind account.Kind) (acc account.Account, addr account.Address, err error) {
	var item primaryItem
	if err = b.bh.Get(string(kind), &item); err == badgerhold.ErrNotFound {
		err = ErrNotFound
		return
	} else if err != nil {
		return
	}

	if acc, err = account.Parse(item.Account); err != nil {
		return
	}
	addr, err = b.Address(acc, kind)
	return
}

// SetPrimary sets the primary Account for the Address's Kind and stores its
// Address.
func (b *Book) SetPrimary(acc account.Account, addr account.Address) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err := b.SetAddress(acc, addr); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"account": acc.Short(),
		"kind":    addr.Kind,
	}).Info("Book sets primary account")

	return b.bh.Upsert(string(addr.Kind), primaryItem{Kind: string(addr.Kind), Account: acc.String()})
}

// DeletePrimary of a Kind. The Address stays.
func (b *Book) DeletePrimary(kind account.Kind) error {
	if err := b.bh.Delete(string(kind), primaryItem{}); err == badgerhold.ErrNotFound {
		return ErrNotFound
	} else {
		return err
	}
}

// Entries of the Book, sorted by Kind and Account.
func (b *Book) Entries() ([]Entry, error) {
	var items []addressItem
	if err := b.bh.Find(&items, nil); err != nil {
		return nil, err
	}

	var primaries []primaryItem
	if err := b.bh.Find(&primaries, nil); err != nil {
		return nil, err
	}
	isPrimary := make(map[string]bool)
	for _, p := range primaries {
		isPrimary[p.Kind+"/"+p.Account] = true
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		e, err := item.entry()
		if err != nil {
			log.WithFields(log.Fields{
				"key":   item.Key,
				"error": err,
			}).Warn("Book skips malformed entry")
			continue
		}
		e.Primary = isPrimary[item.Key]
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Address.Kind != entries[j].Address.Kind {
			return entries[i].Address.Kind < entries[j].Address.Kind
		}
		return entries[i].Account.String() < entries[j].Account.String()
	})
	return entries, nil
}
