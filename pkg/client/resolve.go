// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtn7/cboring"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/book"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

var (
	// ErrNoAddress is returned if a receiver's Address is neither known
	// locally nor by the primary Account.
	ErrNoAddress = errors.New("no address known")

	// ErrNotRoot is returned when publishing an Address without being the
	// primary Account.
	ErrNotRoot = errors.New("only the primary account may publish addresses")
)

// Resolver looks up Addresses, e.g., a book.Book.
type Resolver interface {
	Address(acc account.Account, kind account.Kind) (account.Address, error)
	SetAddress(acc account.Account, addr account.Address) error
	Primary(kind account.Kind) (account.Account, account.Address, error)
}

// ResolveAddress of an Account for the configured Kind. Unknown Accounts are
// looked up at the primary Account and cached.
func (c *Client) ResolveAddress(ctx context.Context, acc account.Account) (account.Address, error) {
	kind := c.config.Kind

	if c.resolver == nil {
		return account.Address{}, fmt.Errorf("%w for %v", ErrNoAddress, acc.Short())
	}

	addr, err := c.resolver.Address(acc, kind)
	if err == nil {
		return addr, nil
	} else if !errors.Is(err, wire.ErrNotFound) {
		return account.Address{}, err
	}

	primary, primaryAddr, err := c.resolver.Primary(kind)
	if errors.Is(err, wire.ErrNotFound) || primary == acc {
		return account.Address{}, fmt.Errorf("%w for %v", ErrNoAddress, acc.Short())
	} else if err != nil {
		return account.Address{}, err
	}

	var rec book.Record
	if err := c.query(ctx, primary, primaryAddr, wire.OpBookResolve, &book.Query{Account: acc, Kind: kind}, &rec); err != nil {
		if errors.Is(err, wire.ErrNotFound) {
			return account.Address{}, fmt.Errorf("%w for %v", ErrNoAddress, acc.Short())
		}
		return account.Address{}, fmt.Errorf("resolving %v at primary %v: %w", acc.Short(), primary.Short(), err)
	}

	log.WithFields(log.Fields{
		"account": acc.Short(),
		"address": rec.Address,
		"primary": primary.Short(),
	}).Debug("Resolved address at primary")

	if err := c.resolver.SetAddress(acc, rec.Address); err != nil {
		log.WithError(err).Warn("Failed to cache resolved address")
	}
	return rec.Address, nil
}

// RemotePrimary asks a remote Account for its primary Account of a Kind.
func (c *Client) RemotePrimary(ctx context.Context, remote account.Account, addr account.Address, kind account.Kind) (rec book.Record, err error) {
	err = c.query(ctx, remote, addr, wire.OpBookPrimary, &book.Query{Kind: kind}, &rec)
	return
}

// PublishAddress of an Account at the primary Account of the Address's Kind.
// This is only allowed if the local Account is the primary.
func (c *Client) PublishAddress(ctx context.Context, acc account.Account, addr account.Address) error {
	if c.resolver == nil {
		return fmt.Errorf("%w for the primary", ErrNoAddress)
	}

	primary, primaryAddr, err := c.resolver.Primary(addr.Kind)
	if err != nil {
		return err
	} else if primary != c.Account() {
		return ErrNotRoot
	}

	payload, err := book.Marshal(&book.Record{Account: acc, Address: addr})
	if err != nil {
		return err
	}

	_, err = c.CallAt(ctx, primary, primaryAddr, wire.OpBookUpdate, payload)
	return err
}

func (c *Client) query(ctx context.Context, remote account.Account, addr account.Address, op wire.Opcode, req, resp cboring.CborMarshaler) error {
	payload, err := book.Marshal(req)
	if err != nil {
		return err
	}

	respPayload, err := c.CallAt(ctx, remote, addr, op, payload)
	if err != nil {
		return err
	}
	return book.Unmarshal(respPayload, resp)
}
