// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package account describes the identities and network addresses of the
// peers taking part in an acctwire exchange.
//
// An Account is the durable identity of a process, derived from an ed25519
// public key. It is independent of where the process currently runs: an
// Address record maps an Account to a reachable endpoint and might change at
// any time without changing the Account.
package account

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/mr-tron/base58"
)

// Size of an Account in bytes.
const Size = ed25519.PublicKeySize

// Account is the opaque, fixed-size identifier of a peer. Two Accounts are
// equal if and only if their bytes are equal, which makes the type usable as
// a map key.
type Account [Size]byte

// Zero is the unset Account.
var Zero Account

// FromPublicKey creates an Account for an ed25519 public key.
func FromPublicKey(pub ed25519.PublicKey) (acc Account, err error) {
	if len(pub) != Size {
		err = fmt.Errorf("public key has %d bytes instead of %d", len(pub), Size)
		return
	}

	copy(acc[:], pub)
	return
}

// FromBytes creates an Account from its raw representation.
func FromBytes(b []byte) (acc Account, err error) {
	if len(b) != Size {
		err = fmt.Errorf("account has %d bytes instead of %d", len(b), Size)
		return
	}

	copy(acc[:], b)
	return
}

// Parse an Account from its base58 text representation.
func Parse(s string) (acc Account, err error) {
	b, decErr := base58.Decode(s)
	if decErr != nil {
		err = fmt.Errorf("account %q is not base58: %w", s, decErr)
		return
	}

	return FromBytes(b)
}

// MustParse parses an Account and panics on failure.
func MustParse(s string) Account {
	acc, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return acc
}

// IsZero reports whether this Account is unset.
func (acc Account) IsZero() bool {
	return acc == Zero
}

// PublicKey returns the ed25519 public key of this Account.
func (acc Account) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(acc[:])
}

// Equal reports whether both Accounts are bitwise identical.
func (acc Account) Equal(other Account) bool {
	return bytes.Equal(acc[:], other[:])
}

func (acc Account) String() string {
	return base58.Encode(acc[:])
}

// Short returns an abbreviated text representation, used in logs.
func (acc Account) Short() string {
	s := acc.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// MarshalText implements encoding.TextMarshaler for TOML and JSON.
func (acc Account) MarshalText() ([]byte, error) {
	return []byte(acc.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML and JSON.
func (acc *Account) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*acc = parsed
	return nil
}

// MarshalCbor writes the Account as a CBOR byte string.
func (acc *Account) MarshalCbor(w io.Writer) error {
	return cboring.WriteByteString(acc[:], w)
}

// UnmarshalCbor reads an Account from a CBOR byte string.
func (acc *Account) UnmarshalCbor(r io.Reader) error {
	b, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}

	parsed, err := FromBytes(b)
	if err != nil {
		return err
	}

	*acc = parsed
	return nil
}
