// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"sync"
)

// Lifecycle tracks the end of a Session. Backends embed it to implement the
// Session's Done and Err methods; the first call to Terminate wins.
type Lifecycle struct {
	once sync.Once
	done chan struct{}

	mutex sync.Mutex
	err   error
}

// NewLifecycle for a running Session.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{done: make(chan struct{})}
}

// Terminate the Session with a cause. It returns true for the first call.
func (lc *Lifecycle) Terminate(err error) (first bool) {
	lc.once.Do(func() {
		if err == nil {
			err = ErrSessionClosed
		}

		lc.mutex.Lock()
		lc.err = err
		lc.mutex.Unlock()

		close(lc.done)
		first = true
	})
	return
}

// Done is closed after Terminate.
func (lc *Lifecycle) Done() <-chan struct{} {
	return lc.done
}

// Err returns the cause passed to Terminate, or nil while running.
func (lc *Lifecycle) Err() error {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()

	return lc.err
}

// Terminated reports whether Terminate was called.
func (lc *Lifecycle) Terminated() bool {
	select {
	case <-lc.done:
		return true
	default:
		return false
	}
}
