// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

import (
	"fmt"
)

// StatusType indicates the kind of a Status.
type StatusType uint

const (
	_ StatusType = iota

	// StatusAppeared shows a newly Established Connection.
	StatusAppeared

	// StatusDegraded shows a Connection whose Session was lost and which is now
	// trying to reconnect. Its Err is the Session's error.
	StatusDegraded

	// StatusReestablished shows a Degraded Connection being Established again.
	StatusReestablished

	// StatusLost shows a Connection being Closed and evicted. Its Err names the
	// reason.
	StatusLost
)

func (st StatusType) String() string {
	switch st {
	case StatusAppeared:
		return "Connection Appeared"
	case StatusDegraded:
		return "Connection Degraded"
	case StatusReestablished:
		return "Connection Reestablished"
	case StatusLost:
		return "Connection Lost"
	default:
		return "Unknown Type"
	}
}

// Status allows transmission of information about Connections from a
// Manager.
type Status struct {
	Connection *Connection
	Type       StatusType
	Err        error
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%v from %v: %v", s.Type, s.Connection, s.Err)
	}
	return fmt.Sprintf("%v from %v", s.Type, s.Connection)
}
