// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux
// +build !linux

package stcp

import (
	"context"
	"net"
	"time"
)

// This file implements a Dialer for operating systems next to Linux. The other
// file additionally sets specific socket options for a faster detection of
// dead peers.

// dial a new TCP connection with a configured timeout and keepalive.
func dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 5 * time.Second,
	}
	return dialer.DialContext(ctx, "tcp", address)
}
