// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

import (
	"errors"
)

var (
	// ErrConnectionLost is matched by all errors of requests whose Connection
	// or Session ended before their response arrived.
	ErrConnectionLost = errors.New("connection lost")

	// ErrManagerClosed is returned after the Manager was closed.
	ErrManagerClosed = errors.New("connection manager closed")

	// ErrIdle is the reason for closing an unused Connection.
	ErrIdle = errors.New("connection idle")
)

// LostError reports a lost Connection together with its cause. It matches
// ErrConnectionLost for errors.Is.
type LostError struct {
	Cause error
}

func lost(cause error) error {
	if errors.Is(cause, ErrConnectionLost) {
		return cause
	}
	return &LostError{Cause: cause}
}

func (err *LostError) Error() string {
	if err.Cause == nil {
		return ErrConnectionLost.Error()
	}
	return ErrConnectionLost.Error() + ": " + err.Cause.Error()
}

func (err *LostError) Is(target error) bool {
	return target == ErrConnectionLost
}

func (err *LostError) Unwrap() error {
	return err.Cause
}
