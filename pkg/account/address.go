// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package account

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/dtn7/cboring"
)

// Kind names a transport backend.
type Kind string

const (
	// KindTCP is the ordered stream backend, pipelining requests over one TCP
	// connection.
	KindTCP Kind = "tcp"

	// KindQUIC is the multiplexed backend, opening a QUIC stream per request.
	KindQUIC Kind = "quic"

	// KindWebSocket is a stream backend for restricted environments which are
	// only able to speak WebSocket.
	KindWebSocket Kind = "ws"
)

// ParseKind checks a Kind's name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindTCP, KindQUIC, KindWebSocket:
		return k, nil
	default:
		return "", fmt.Errorf("unknown transport kind %q", s)
	}
}

// Multiplexed reports whether this Kind runs one sub-stream per request.
func (k Kind) Multiplexed() bool {
	return k == KindQUIC
}

func (k Kind) String() string {
	return string(k)
}

// UnmarshalText parses a Kind, e.g., from a configuration file.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}

	*k = kind
	return nil
}

// Address describes how to reach an Account. Addresses are mutable metadata,
// they are not part of an Account's identity.
type Address struct {
	Kind Kind
	Host string
	Port uint16
}

// NewAddress creates an Address for a "host:port" string.
func NewAddress(kind Kind, hostport string) (addr Address, err error) {
	host, portStr, splitErr := net.SplitHostPort(hostport)
	if splitErr != nil {
		err = splitErr
		return
	}

	port, portErr := strconv.ParseUint(portStr, 10, 16)
	if portErr != nil {
		err = fmt.Errorf("invalid port %q: %w", portStr, portErr)
		return
	}

	addr = Address{Kind: kind, Host: host, Port: uint16(port)}
	return
}

// ParseAddress parses an Address in its "kind://host:port" notation.
func ParseAddress(s string) (Address, error) {
	parts := strings.SplitN(s, "://", 2)
	if len(parts) != 2 {
		return Address{}, fmt.Errorf("address %q misses a kind prefix, e.g., quic://", s)
	}

	kind, err := ParseKind(parts[0])
	if err != nil {
		return Address{}, err
	}
	return NewAddress(kind, parts[1])
}

// IsZero reports whether this Address is unset.
func (addr Address) IsZero() bool {
	return addr == Address{}
}

// HostPort returns the "host:port" part, as used by net.Dial.
func (addr Address) HostPort() string {
	return net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port)))
}

func (addr Address) String() string {
	return fmt.Sprintf("%s://%s", addr.Kind, addr.HostPort())
}

// MarshalText implements encoding.TextMarshaler.
func (addr Address) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (addr *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}

	*addr = parsed
	return nil
}

// MarshalCbor writes the Address as a CBOR array of kind, host and port.
func (addr *Address) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(string(addr.Kind), w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(addr.Host, w); err != nil {
		return err
	}
	return cboring.WriteUInt(uint64(addr.Port), w)
}

// UnmarshalCbor reads an Address written by MarshalCbor.
func (addr *Address) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	kindStr, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}
	kind, err := ParseKind(kindStr)
	if err != nil {
		return err
	}

	host, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}

	port, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	} else if port > 0xFFFF {
		return fmt.Errorf("port %d is out of range", port)
	}

	*addr = Address{Kind: kind, Host: host, Port: uint16(port)}
	return nil
}
