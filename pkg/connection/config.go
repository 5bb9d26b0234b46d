// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

import (
	"math"
	"time"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// maxDuration saturates doubled delays instead of overflowing.
const maxDuration = time.Duration(math.MaxInt64)

// Backoff configures reconnection attempts of a Degraded Connection. The
// n-th attempt waits BaseDelay * 2^(n-1), capped at MaxDelay.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxAttempts before a Connection is given up. Zero means no attempts.
	MaxAttempts int
}

// Delay before the given attempt, starting at one.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			delay = maxDuration
			break
		}
		delay *= 2
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			return b.MaxDelay
		}
	}

	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// Window is the accumulated time of all attempts' delays, i.e., the longest
// time a Connection might be Degraded, excluding dialing.
func (b Backoff) Window() (window time.Duration) {
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		delay := b.Delay(attempt)
		if window > maxDuration-delay {
			return maxDuration
		}
		window += delay
	}
	return
}

// Config of a Manager.
type Config struct {
	// MaxConnsPerPeer limits the parallel Connections per remote Account and
	// Kind. A new Connection is only opened if all others are crowded.
	MaxConnsPerPeer int

	// MaxHoldersPerConn is the number of Handles after which a Connection
	// counts as crowded.
	MaxHoldersPerConn int

	// StreamIdleTimeout keeps unused stream Connections open for reuse.
	StreamIdleTimeout time.Duration

	// MultiplexedIdleTimeout keeps unused multiplexed Connections open. Zero
	// closes them immediately, as they are cheap to reopen.
	MultiplexedIdleTimeout time.Duration

	// DialTimeout bounds each establishment attempt, including the handshake.
	DialTimeout time.Duration

	Backoff Backoff

	// StatusBuffer is the capacity of the Status channel.
	StatusBuffer int
}

// DefaultConfig for a Manager.
func DefaultConfig() Config {
	return Config{
		MaxConnsPerPeer:        4,
		MaxHoldersPerConn:      64,
		StreamIdleTimeout:      30 * time.Second,
		MultiplexedIdleTimeout: 0,
		DialTimeout:            10 * time.Second,
		Backoff: Backoff{
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			MaxAttempts: 5,
		},
		StatusBuffer: 100,
	}
}

// IdleTimeout of a released Connection of this Kind.
func (config Config) IdleTimeout(kind account.Kind) time.Duration {
	if kind.Multiplexed() {
		return config.MultiplexedIdleTimeout
	}
	return config.StreamIdleTimeout
}
