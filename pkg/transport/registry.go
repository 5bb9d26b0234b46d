// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sort"
	"sync"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// Registry maps each Kind to its Transport. The backend to be used is picked
// at runtime, based on configuration or an Address's Kind.
type Registry struct {
	mutex      sync.RWMutex
	transports map[account.Kind]Transport
}

// NewRegistry creates an empty Registry.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: make(map[account.Kind]Transport)}
	for _, t := range transports {
		r.Register(t)
	}
	return r
}

// Register a Transport, replacing a former one of the same Kind.
func (r *Registry) Register(t Transport) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.transports[t.Kind()] = t
}

// Lookup the Transport for a Kind.
func (r *Registry) Lookup(kind account.Kind) (Transport, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if t, ok := r.transports[kind]; ok {
		return t, nil
	}
	return nil, &UnknownKindError{Kind: kind}
}

// Kinds lists all registered Kinds, sorted by name.
func (r *Registry) Kinds() []account.Kind {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	kinds := make([]account.Kind, 0, len(r.transports))
	for kind := range r.transports {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// UnknownKindError is returned for an unregistered Kind.
type UnknownKindError struct {
	Kind account.Kind
}

func (err *UnknownKindError) Error() string {
	return fmt.Sprintf("no transport registered for kind %q", err.Kind)
}
