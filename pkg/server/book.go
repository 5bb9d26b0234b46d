// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/book"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// AttachBook answers address book requests from the Book. Updates are only
// accepted from the Server's own Account.
func (s *Server) AttachBook(b *book.Book) {
	s.handle(wire.OpBookResolve, func(_ context.Context, _ account.Account, payload []byte) ([]byte, error) {
		var q book.Query
		if err := book.Unmarshal(payload, &q); err != nil {
			return nil, err
		}

		addr, err := b.Address(q.Account, q.Kind)
		if err != nil {
			return nil, err
		}
		return book.Marshal(&book.Record{Account: q.Account, Address: addr})
	})

	s.handle(wire.OpBookPrimary, func(_ context.Context, _ account.Account, payload []byte) ([]byte, error) {
		var q book.Query
		if err := book.Unmarshal(payload, &q); err != nil {
			return nil, err
		}

		acc, addr, err := b.Primary(q.Kind)
		if err != nil {
			return nil, err
		}
		return book.Marshal(&book.Record{Account: acc, Address: addr})
	})

	s.handle(wire.OpBookUpdate, func(_ context.Context, sender account.Account, payload []byte) ([]byte, error) {
		if sender != s.Account() {
			return nil, &wire.RemoteError{Code: wire.CodeUnauthorized, Message: "only the primary account may update addresses"}
		}

		var rec book.Record
		if err := book.Unmarshal(payload, &rec); err != nil {
			return nil, err
		}

		log.WithFields(log.Fields{
			"account": rec.Account.Short(),
			"address": rec.Address,
		}).Info("Server updates address book")

		return nil, b.SetAddress(rec.Account, rec.Address)
	})
}
