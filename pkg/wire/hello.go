// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// Agent is announced within each Hello.
const Agent = "acctwire-go/1"

// Hello is the handshake payload, introducing a peer's Account.
type Hello struct {
	Account account.Account
	Kind    account.Kind
	Agent   string
}

// MarshalCbor writes the Hello as a CBOR array.
func (h *Hello) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.Marshal(&h.Account, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(string(h.Kind), w); err != nil {
		return err
	}
	return cboring.WriteTextString(h.Agent, w)
}

// UnmarshalCbor reads a Hello written by MarshalCbor.
func (h *Hello) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if err := cboring.Unmarshal(&h.Account, r); err != nil {
		return err
	}

	if kind, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		h.Kind = account.Kind(kind)
	}

	if agent, err := cboring.ReadTextString(r); err != nil {
		return err
	} else {
		h.Agent = agent
	}

	return nil
}

// HelloEnvelope creates a handshake Envelope.
func HelloEnvelope(h Hello) (Envelope, error) {
	buff := new(bytes.Buffer)
	if err := cboring.Marshal(&h, buff); err != nil {
		return Envelope{}, err
	}
	return NewEnvelope(OpHello, 0, buff.Bytes()), nil
}

// ParseHello reads a Hello from a handshake View. An error response yields
// its *RemoteError.
func ParseHello(v View) (h Hello, err error) {
	switch op := v.Opcode(); {
	case op == OpHello|ErrorFlag:
		if remoteErr, parseErr := ParseRemoteError(v.Payload()); parseErr != nil {
			err = parseErr
		} else {
			err = remoteErr
		}
		return

	case op != OpHello:
		err = &DecodingError{Reason: ReasonPayload, Detail: fmt.Sprintf("expected hello, got %v", op)}
		return
	}

	if cborErr := cboring.Unmarshal(&h, bytes.NewReader(v.Payload())); cborErr != nil {
		err = &DecodingError{Reason: ReasonPayload, Detail: cborErr.Error()}
	}
	return
}
