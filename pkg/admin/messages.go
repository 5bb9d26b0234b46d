// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package admin

import (
	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/book"
)

// EntryMessage describes one address book entry as JSON.
type EntryMessage struct {
	Account account.Account `json:"account"`
	Address account.Address `json:"address"`
	Primary bool            `json:"primary"`
}

func newEntryMessage(e book.Entry) EntryMessage {
	return EntryMessage{Account: e.Account, Address: e.Address, Primary: e.Primary}
}

// SetRequest describes a JSON to be PUT to /book/{account}.
type SetRequest struct {
	Address account.Address `json:"address"`
	Primary bool            `json:"primary"`
}

// ErrorResponse describes a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
