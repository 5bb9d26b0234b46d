// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

// State of a Connection.
//
//	Disconnected -> Handshaking -> Established <-> Degraded
//	                     |              |             |
//	                     +--------------+-------------+--> Closed
type State uint

const (
	Disconnected State = iota
	Handshaking
	Established
	Degraded
	Closed
)

func (state State) String() string {
	switch state {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
