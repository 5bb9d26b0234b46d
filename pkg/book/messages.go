// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package book

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// Query asks for an Account's Address of a Kind, payload of OpBookResolve. For
// OpBookPrimary, the Account stays zero.
type Query struct {
	Account account.Account
	Kind    account.Kind
}

func (q *Query) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.Marshal(&q.Account, w); err != nil {
		return err
	}
	return cboring.WriteTextString(string(q.Kind), w)
}

func (q *Query) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	if err := cboring.Unmarshal(&q.Account, r); err != nil {
		return err
	}

	kind, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}
	q.Kind, err = account.ParseKind(kind)
	return err
}

// Record of an Account and its Address. It answers OpBookResolve and
// OpBookPrimary and is the payload of OpBookUpdate.
type Record struct {
	Account account.Account
	Address account.Address
}

func (rec *Record) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.Marshal(&rec.Account, w); err != nil {
		return err
	}
	return cboring.Marshal(&rec.Address, w)
}

func (rec *Record) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("wrong array length: %d instead of 2", l)
	}

	if err := cboring.Unmarshal(&rec.Account, r); err != nil {
		return err
	}
	return cboring.Unmarshal(&rec.Address, r)
}

// Marshal a message into a payload.
func Marshal(msg cboring.CborMarshaler) ([]byte, error) {
	buff := new(bytes.Buffer)
	if err := cboring.Marshal(msg, buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// Unmarshal a payload into a message. Malformed payloads are reported as a
// RemoteError with CodeBadRequest, ready to be sent back.
func Unmarshal(payload []byte, msg cboring.CborMarshaler) error {
	if err := cboring.Unmarshal(msg, bytes.NewReader(payload)); err != nil {
		return &wire.RemoteError{Code: wire.CodeBadRequest, Message: err.Error()}
	}
	return nil
}
