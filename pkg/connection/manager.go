// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package connection pools Connections to remote Accounts and keeps them
// alive.
//
// A Manager hands out Handles to shared Connections. Each Connection dials
// its Session through the transport registered for its Address's Kind and
// tracks the requests sent over it by their correlation ids. If a Session is
// lost due to a recoverable error, the Connection becomes Degraded, fails its
// in-flight requests with ErrConnectionLost and reconnects with exponential
// backoff. New requests wait for the reconnect. A Connection that cannot be
// reestablished is Closed and evicted from the pool.
//
// Changes are reported as Status on the Manager's Channel, which may be read
// but does not have to be.
package connection

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/transport"
)

type poolKey struct {
	remote account.Account
	kind   account.Kind
}

// Manager is the process-wide pool of Connections. It must be created by
// NewManager and drained by Close.
type Manager struct {
	identity *account.Identity
	registry *transport.Registry
	config   Config
	metrics  *Metrics

	mutex  sync.Mutex
	pool   map[poolKey][]*Connection
	closed bool

	statusMutex  sync.Mutex
	statusClosed bool
	statusCh     chan Status
}

// NewManager creates a Manager dialing as the local Identity through the
// registered transports. Metrics are registered on reg, which might be nil.
func NewManager(identity *account.Identity, registry *transport.Registry, config Config, reg prometheus.Registerer) *Manager {
	return &Manager{
		identity: identity,
		registry: registry,
		config:   config,
		metrics:  NewMetrics(reg),
		pool:     make(map[poolKey][]*Connection),
		statusCh: make(chan Status, config.StatusBuffer),
	}
}

// Identity of the local Account.
func (m *Manager) Identity() *account.Identity {
	return m.identity
}

// Metrics of this Manager.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Channel of Status reports. Reports are dropped if the buffer is full. The
// channel is closed by Close.
func (m *Manager) Channel() <-chan Status {
	return m.statusCh
}

// Acquire a Handle to a Connection to the remote Account at the Address.
// A pooled Connection is shared, unless all are crowded; then, a new one is
// created. The call returns once the Connection is Established, or with the
// error of its failed establishment.
func (m *Manager) Acquire(ctx context.Context, remote account.Account, addr account.Address) (*Handle, error) {
	t, err := m.registry.Lookup(addr.Kind)
	if err != nil {
		return nil, err
	}

	conn, created, err := m.pick(remote, addr, t)
	if err != nil {
		return nil, err
	}

	if created {
		go conn.establish()
	}

	if _, err := conn.ready(ctx); err != nil {
		conn.unhold()
		return nil, err
	}

	return &Handle{conn: conn}, nil
}

// pick a pooled Connection with the fewest holders or create a new one,
// already holding it.
func (m *Manager) pick(remote account.Account, addr account.Address, t transport.Transport) (*Connection, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, false, ErrManagerClosed
	}

	key := poolKey{remote: remote, kind: addr.Kind}

	var (
		best        *Connection
		bestHolders int
		live        int
	)
	for _, conn := range m.pool[key] {
		holders, state := conn.load()
		if state == Closed {
			continue
		}

		live++
		if best == nil || holders < bestHolders {
			best, bestHolders = conn, holders
		}
	}

	if best != nil && (bestHolders < m.config.MaxHoldersPerConn || live >= m.config.MaxConnsPerPeer) && best.tryHold() {
		return best, false, nil
	}

	conn := newConnection(m, remote, addr, t)
	conn.mutex.Lock()
	conn.hold()
	conn.setState(Handshaking)
	conn.mutex.Unlock()

	m.pool[key] = append(m.pool[key], conn)

	log.WithFields(log.Fields{
		"remote":      remote.Short(),
		"address":     addr,
		"connections": len(m.pool[key]),
	}).Debug("Connection manager creates a new connection")

	return conn, true, nil
}

// evict a Connection from the pool.
func (m *Manager) evict(conn *Connection) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := poolKey{remote: conn.remote, kind: conn.addr.Kind}
	conns := m.pool[key]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(conns) == 0 {
		delete(m.pool, key)
	} else {
		m.pool[key] = conns
	}
}

func (m *Manager) publish(status Status) {
	m.statusMutex.Lock()
	defer m.statusMutex.Unlock()

	if m.statusClosed {
		return
	}

	select {
	case m.statusCh <- status:
	default:
		log.WithField("status", status).Debug("Connection manager drops status, channel is full")
	}
}

// Connections currently pooled, skipping Closed ones awaiting their eviction.
func (m *Manager) Connections() (conns []*Connection) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, cs := range m.pool {
		for _, conn := range cs {
			if _, state := conn.load(); state != Closed {
				conns = append(conns, conn)
			}
		}
	}
	return
}

// Close all Connections, failing their pending requests. Afterwards, Acquire
// fails with ErrManagerClosed.
func (m *Manager) Close() error {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return nil
	}
	m.closed = true

	var conns []*Connection
	for _, cs := range m.pool {
		conns = append(conns, cs...)
	}
	m.mutex.Unlock()

	log.WithField("connections", len(conns)).Info("Closing connection manager")

	var err error
	for _, conn := range conns {
		if closeErr := conn.terminate(lost(ErrManagerClosed)); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	m.statusMutex.Lock()
	m.statusClosed = true
	close(m.statusCh)
	m.statusMutex.Unlock()

	return err
}

// Handle is one holder's reference to a shared Connection.
type Handle struct {
	conn *Connection
	once sync.Once
}

// Connection behind this Handle.
func (h *Handle) Connection() *Connection {
	return h.conn
}

// Release the Handle. Releasing the last Handle of a Connection starts its
// idle timeout. Release is idempotent.
func (h *Handle) Release() {
	h.once.Do(h.conn.unhold)
}
