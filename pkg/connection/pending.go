// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package connection

import (
	"sync"

	"github.com/acctwire/acctwire-go/pkg/wire"
)

// result completes one slot: either with a received response or an error.
type result struct {
	buf  *wire.Buffer
	view wire.View
	err  error
}

// pendingTable maps correlation ids of in-flight requests to their slots.
// Each slot is removed exactly once, by whoever gets there first: the
// response, the waiting caller giving up, or the Session's end failing all.
//
// A pendingTable lives as long as one Session. After failAll, no further
// slots are accepted.
type pendingTable struct {
	mutex sync.Mutex
	slots map[uint64]chan result
	err   error
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[uint64]chan result)}
}

// insert a new slot for an id. The returned channel receives exactly one
// result, unless the slot is removed.
func (pt *pendingTable) insert(id uint64) (<-chan result, error) {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	if pt.err != nil {
		return nil, pt.err
	}

	slot := make(chan result, 1)
	pt.slots[id] = slot
	return slot, nil
}

// complete the slot for an id. False is returned for unknown ids, e.g., for
// late responses.
func (pt *pendingTable) complete(id uint64, res result) bool {
	pt.mutex.Lock()
	slot, ok := pt.slots[id]
	delete(pt.slots, id)
	pt.mutex.Unlock()

	if ok {
		slot <- res
	}
	return ok
}

// remove a slot without completing it.
func (pt *pendingTable) remove(id uint64) bool {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	_, ok := pt.slots[id]
	delete(pt.slots, id)
	return ok
}

// failAll completes all remaining slots with an error and refuses new ones.
// The number of failed slots is returned.
func (pt *pendingTable) failAll(err error) int {
	pt.mutex.Lock()
	slots := pt.slots
	pt.slots = make(map[uint64]chan result)
	if pt.err == nil {
		pt.err = err
	}
	pt.mutex.Unlock()

	for _, slot := range slots {
		slot <- result{err: err}
	}
	return len(slots)
}

func (pt *pendingTable) len() int {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()

	return len(pt.slots)
}
